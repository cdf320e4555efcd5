// Package models contains the database model definitions for the settings
// snapshot and the bank assignments of both media channels.
package models

import (
	"time"
)

// Setting is a key-value record. The mixer snapshot is stored as JSON under
// a single key.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }

// BankAssignment is the content of one bank on one channel. For shader
// banks Locator holds the full source text.
// Table: bank_assignments
type BankAssignment struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Channel   string    `gorm:"column:channel;uniqueIndex:idx_bank_slot"`
	BankIndex int       `gorm:"column:bank_index;uniqueIndex:idx_bank_slot"`
	Kind      string    `gorm:"column:kind"`
	Locator   string    `gorm:"column:locator"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (BankAssignment) TableName() string { return "bank_assignments" }

// All returns every model for AutoMigrate.
func All() []any {
	return []any{&Setting{}, &BankAssignment{}}
}
