package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
)

// securityLogRepository implements the SecurityLogRepository interface
type securityLogRepository struct {
	db *gorm.DB
}

// NewSecurityLogRepository creates a new security log repository instance
func NewSecurityLogRepository(db *gorm.DB) SecurityLogRepository {
	return &securityLogRepository{db: db}
}

// Create appends a security event
func (r *securityLogRepository) Create(entry *models.SecurityLog) error {
	return r.db.Create(entry).Error
}

// CountByIPSince counts events recorded for an IP after the cutoff
func (r *securityLogRepository) CountByIPSince(ip string, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.SecurityLog{}).
		Where("ip_address = ? AND created_at >= ?", ip, since).
		Count(&count).Error
	return count, err
}

// ListRecent returns the newest events first
func (r *securityLogRepository) ListRecent(limit int) ([]models.SecurityLog, error) {
	var entries []models.SecurityLog
	err := r.db.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Prune drops events older than the cutoff, then trims the table down to
// maxRows by deleting the oldest surplus rows.
func (r *securityLogRepository) Prune(olderThan time.Time, maxRows int) (int64, error) {
	result := r.db.Where("created_at < ?", olderThan).Delete(&models.SecurityLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	removed := result.RowsAffected

	var count int64
	if err := r.db.Model(&models.SecurityLog{}).Count(&count).Error; err != nil {
		return removed, err
	}
	if maxRows > 0 && count > int64(maxRows) {
		var ids []uint
		if err := r.db.Model(&models.SecurityLog{}).
			Order("created_at ASC").
			Limit(int(count)-maxRows).
			Pluck("id", &ids).Error; err != nil {
			return removed, err
		}
		trim := r.db.Where("id IN ?", ids).Delete(&models.SecurityLog{})
		if trim.Error != nil {
			return removed, trim.Error
		}
		removed += trim.RowsAffected
	}
	return removed, nil
}
