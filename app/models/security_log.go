package models

import (
	"time"
)

// Security event types recorded by the request gate.
const (
	SecurityEventFailedAuth        = "failed_auth"
	SecurityEventInvalidSignature  = "invalid_signature"
	SecurityEventReplayRejected    = "replay_rejected"
	SecurityEventRateLimitExceeded = "rate_limit_exceeded"
	SecurityEventIPBlocked         = "ip_blocked"
	SecurityEventIPBanned          = "ip_banned"
)

// SecurityLog is an append-only record of rejected or suspicious requests.
// Old rows are pruned by the cleanup sweep (30 days, 1000 rows max).
type SecurityLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EventType string    `gorm:"type:varchar(50);index;not null" json:"event_type"`
	IPAddress string    `gorm:"type:varchar(45);index" json:"ip_address"`
	UserAgent string    `gorm:"type:varchar(512)" json:"user_agent"`
	Details   JSON      `gorm:"type:json" json:"details,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
