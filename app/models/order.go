package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
)

// Order is created at checkout from a cart. Provenance metadata is copied from
// the cart lines so source sites can be notified after completion.
type Order struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	CartToken     string         `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;index" json:"cart_token"`
	Status        string         `gorm:"type:varchar(20);default:pending;index" json:"status"`
	Total         float64        `gorm:"type:decimal(12,4)" json:"total"`
	CustomerEmail string         `gorm:"type:varchar(255)" json:"customer_email,omitempty"`
	Items         []OrderItem    `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CompletedAt   *time.Time     `gorm:"type:datetime" json:"completed_at,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// OrderItem is a purchased line. Transferred lines keep the pinned original
// price and the source site reference for stock/completion notifications.
type OrderItem struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	OrderID           uint      `gorm:"index;not null" json:"order_id"`
	ProductID         uint      `gorm:"index;not null" json:"product_id"`
	Quantity          int       `gorm:"not null" json:"quantity"`
	ItemTotal         float64   `gorm:"type:decimal(12,4)" json:"item_total"`
	Transferred       bool      `gorm:"default:false" json:"transferred"`
	SourceSite        string    `gorm:"type:varchar(255)" json:"source_site,omitempty"`
	OriginalPrice     float64   `gorm:"type:decimal(12,4)" json:"original_price"`
	OriginalProductID uint      `gorm:"default:0" json:"original_product_id,omitempty"`
	TransferMeta      JSON      `gorm:"type:json" json:"transfer_meta,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}
