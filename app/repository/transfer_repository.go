package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
)

// transferRepository implements the TransferRepository interface
type transferRepository struct {
	db *gorm.DB
}

// NewTransferRepository creates a new transfer ledger repository instance
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

// Create writes a new ledger row, normally in status initiated
func (r *transferRepository) Create(transfer *models.Transfer) error {
	return r.db.Create(transfer).Error
}

// GetByID retrieves a ledger row
func (r *transferRepository) GetByID(id uint) (*models.Transfer, error) {
	var transfer models.Transfer
	err := r.db.First(&transfer, id).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// MarkCompleted sets the terminal completed state. The guard on the current
// status makes a second terminal write a detectable no-op.
func (r *transferRepository) MarkCompleted(id uint, targetProductID uint) error {
	now := time.Now()
	result := r.db.Model(&models.Transfer{}).
		Where("id = ? AND status = ?", id, models.TransferStatusInitiated).
		Updates(map[string]interface{}{
			"status":            models.TransferStatusCompleted,
			"target_product_id": targetProductID,
			"completed_at":      &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// MarkFailed sets the terminal failed state with the given error message
func (r *transferRepository) MarkFailed(id uint, errorMessage string) error {
	now := time.Now()
	result := r.db.Model(&models.Transfer{}).
		Where("id = ? AND status = ?", id, models.TransferStatusInitiated).
		Updates(map[string]interface{}{
			"status":        models.TransferStatusFailed,
			"error_message": errorMessage,
			"completed_at":  &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyTerminal
	}
	return nil
}

// GetStats aggregates ledger counts by status
func (r *transferRepository) GetStats() (*models.TransferStats, error) {
	stats := &models.TransferStats{}
	if err := r.db.Model(&models.Transfer{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&models.Transfer{}).Where("status = ?", models.TransferStatusCompleted).Count(&stats.Successful).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&models.Transfer{}).Where("status = ?", models.TransferStatusFailed).Count(&stats.Failed).Error; err != nil {
		return nil, err
	}
	if err := r.db.Model(&models.Transfer{}).Where("status = ?", models.TransferStatusInitiated).Count(&stats.Pending).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// DeleteOlderThan prunes ledger rows past the retention cutoff
func (r *transferRepository) DeleteOlderThan(olderThan time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", olderThan).Delete(&models.Transfer{})
	return result.RowsAffected, result.Error
}
