// Package repositories provides gorm data access for settings and bank
// assignments.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/vizmix-go/internal/database/models"
)

// SettingRepository handles setting data access.
type SettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// FindByKey returns a setting by key, or nil if there is none.
func (r *SettingRepository) FindByKey(ctx context.Context, key string) (*models.Setting, error) {
	var setting models.Setting
	result := r.db.WithContext(ctx).First(&setting, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &setting, nil
}

// Upsert creates or updates a setting by key.
func (r *SettingRepository) Upsert(ctx context.Context, key, value string) (*models.Setting, error) {
	existing, err := r.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		setting := models.Setting{
			ID:    cuid.New(),
			Key:   key,
			Value: value,
		}
		if err := r.db.WithContext(ctx).Create(&setting).Error; err != nil {
			return nil, err
		}
		return &setting, nil
	}

	existing.Value = value
	if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

// SaveJSON stores v as the JSON value of key.
func (r *SettingRepository) SaveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	_, err = r.Upsert(ctx, key, string(data))
	return err
}

// LoadJSON decodes the value of key into dst. It reports false when the key
// does not exist.
func (r *SettingRepository) LoadJSON(ctx context.Context, key string, dst any) (bool, error) {
	setting, err := r.FindByKey(ctx, key)
	if err != nil || setting == nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(setting.Value), dst); err != nil {
		return false, fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return true, nil
}

// Delete deletes a setting by key.
func (r *SettingRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Delete(&models.Setting{}, "key = ?", key).Error
}
