package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cart is a per-shopper cart identified by an opaque token. The token travels
// in the redirect URL after a transfer so the browser can pick the cart up.
type Cart struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Token     string         `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"token"`
	Items     []CartItem     `gorm:"foreignKey:CartID" json:"items,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate generates the cart token if not set
func (c *Cart) BeforeCreate(tx *gorm.DB) error {
	if c.Token == "" {
		c.Token = uuid.New().String()
	}
	return nil
}

// CartItem is a single cart line. Transferred lines carry provenance metadata
// and their effective price is always the original source price.
type CartItem struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	CartID        uint    `gorm:"index;not null" json:"cart_id"`
	ItemKey       string  `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"item_key"`
	ProductID     uint    `gorm:"index;not null" json:"product_id"`
	Product       Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Quantity      int     `gorm:"not null" json:"quantity"`
	VariationID   uint    `gorm:"default:0" json:"variation_id"`
	VariationData JSON    `gorm:"type:json" json:"variation_data,omitempty"`
	// transfer provenance
	Transferred       bool      `gorm:"default:false" json:"transferred"`
	SourceSite        string    `gorm:"type:varchar(255)" json:"source_site,omitempty"`
	OriginalPrice     float64   `gorm:"type:decimal(12,4)" json:"original_price"`
	OriginalProductID uint      `gorm:"default:0" json:"original_product_id,omitempty"`
	TransferMeta      JSON      `gorm:"type:json" json:"transfer_meta,omitempty"`
	TransferredAt     time.Time `gorm:"type:datetime" json:"transferred_at,omitempty"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate generates the cart item key if not set
func (i *CartItem) BeforeCreate(tx *gorm.DB) error {
	if i.ItemKey == "" {
		i.ItemKey = uuid.New().String()
	}
	return nil
}

// EffectivePrice returns the price used for total calculation. Transferred
// lines are pinned to the source site's original price.
func (i *CartItem) EffectivePrice() float64 {
	if i.Transferred {
		return i.OriginalPrice
	}
	return i.Product.Price
}

// LineTotal returns quantity times the effective price.
func (i *CartItem) LineTotal() float64 {
	return i.EffectivePrice() * float64(i.Quantity)
}
