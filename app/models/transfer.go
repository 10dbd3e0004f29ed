package models

import (
	"time"
)

// Transfer ledger statuses. A row starts as initiated and receives exactly one
// terminal update, completed or failed.
const (
	TransferStatusInitiated = "initiated"
	TransferStatusCompleted = "completed"
	TransferStatusFailed    = "failed"
)

// Transfer is one row per outbound transfer attempt.
type Transfer struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SourceProductID uint       `gorm:"index;not null" json:"source_product_id"`
	TargetProductID uint       `gorm:"default:0" json:"target_product_id,omitempty"`
	SourceSite      string     `gorm:"type:varchar(255)" json:"source_site"`
	TargetSite      string     `gorm:"type:varchar(255)" json:"target_site"`
	Status          string     `gorm:"type:varchar(20);default:initiated;index" json:"status"`
	Payload         JSON       `gorm:"type:json" json:"payload,omitempty"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	CompletedAt     *time.Time `gorm:"type:datetime" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// IsTerminal reports whether the ledger row already received its final state.
func (t *Transfer) IsTerminal() bool {
	return t.Status == TransferStatusCompleted || t.Status == TransferStatusFailed
}

// TransferStats aggregates ledger counts for the statistics endpoint.
type TransferStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Pending    int64 `json:"pending"`
}
