package repositories

import (
	"context"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"

	"github.com/bbernstein/vizmix-go/internal/database/models"
)

// BankRepository handles bank assignment data access.
type BankRepository struct {
	db *gorm.DB
}

// NewBankRepository creates a new BankRepository.
func NewBankRepository(db *gorm.DB) *BankRepository {
	return &BankRepository{db: db}
}

// FindByChannel returns a channel's assignments ordered by bank index.
func (r *BankRepository) FindByChannel(ctx context.Context, channel string) ([]models.BankAssignment, error) {
	var banks []models.BankAssignment
	result := r.db.WithContext(ctx).
		Where("channel = ?", channel).
		Order("bank_index ASC").
		Find(&banks)
	return banks, result.Error
}

// ReplaceChannel deletes a channel's assignments and stores banks in their
// place. IDs are assigned to rows that have none.
func (r *BankRepository) ReplaceChannel(ctx context.Context, channel string, banks []models.BankAssignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel = ?", channel).Delete(&models.BankAssignment{}).Error; err != nil {
			return err
		}
		if len(banks) == 0 {
			return nil
		}
		for i := range banks {
			banks[i].Channel = channel
			if banks[i].ID == "" {
				banks[i].ID = cuid.New()
			}
		}
		return tx.Create(&banks).Error
	})
}

// DeleteAll removes every assignment.
func (r *BankRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&models.BankAssignment{}).Error
}
