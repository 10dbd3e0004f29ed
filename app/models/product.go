package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// JSON is a helper type for storing JSON documents in the database
type JSON json.RawMessage

// Value implements the driver.Valuer interface
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = JSON("{}")
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("invalid scan source")
	}
	*j = JSON(bytes)
	return nil
}

// MarshalJSON implements the json.Marshaler interface
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = JSON(data)
	return nil
}

// Product status and visibility values mirror the catalog states used on the
// wire: transferred products are published but hidden from browsing.
const (
	ProductStatusPublish = "publish"
	ProductStatusDraft   = "draft"

	CatalogVisibilityVisible = "visible"
	CatalogVisibilityHidden  = "hidden"

	ProductTypeSimple    = "simple"
	ProductTypeVariable  = "variable"
	ProductTypeVariation = "variation"
)

type Product struct {
	ID                uint    `gorm:"primaryKey" json:"id"`
	SKU               string  `gorm:"type:varchar(100);index" json:"sku"`
	Name              string  `gorm:"type:varchar(255);not null" json:"name"`
	Description       string  `gorm:"type:text" json:"description"`
	ShortDescription  string  `gorm:"type:text" json:"short_description"`
	Price             float64 `gorm:"type:decimal(12,4)" json:"price"`
	RegularPrice      float64 `gorm:"type:decimal(12,4)" json:"regular_price"`
	SalePrice         float64 `gorm:"type:decimal(12,4)" json:"sale_price"`
	Weight            float64 `gorm:"type:decimal(10,3)" json:"weight"`
	Length            float64 `gorm:"type:decimal(10,3)" json:"length"`
	Width             float64 `gorm:"type:decimal(10,3)" json:"width"`
	Height            float64 `gorm:"type:decimal(10,3)" json:"height"`
	Type              string  `gorm:"type:varchar(20);default:simple" json:"type"`
	ParentID          uint    `gorm:"default:0;index" json:"parent_id,omitempty"`
	Status            string  `gorm:"type:varchar(20);default:publish" json:"status"`
	CatalogVisibility string  `gorm:"type:varchar(20);default:visible" json:"catalog_visibility"`
	Virtual           bool    `gorm:"default:false" json:"virtual"`
	ManageStock       bool    `gorm:"default:false" json:"manage_stock"`
	StockQuantity     int     `gorm:"default:0" json:"stock_quantity"`
	// transfer provenance
	Transferred     bool       `gorm:"default:false;index" json:"transferred"`
	SourceSite      string     `gorm:"type:varchar(255)" json:"source_site,omitempty"`
	SourceProductID uint       `gorm:"default:0" json:"source_product_id,omitempty"`
	TransferredAt   *time.Time `gorm:"type:datetime" json:"transferred_at,omitempty"`
	MetaData        JSON       `gorm:"type:json" json:"meta_data,omitempty"`
	Attributes      JSON       `gorm:"type:json" json:"attributes,omitempty"`
	// relations
	Images     []ProductImage `gorm:"foreignKey:ProductID" json:"images,omitempty"`
	Categories []Category     `gorm:"many2many:product_categories;" json:"categories,omitempty"`
	Tags       []Tag          `gorm:"many2many:product_tags;" json:"tags,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsPurchasable reports whether the product can be added to a cart.
// Mirrors the catalog rule: a product must be published and have a price.
func (p *Product) IsPurchasable() bool {
	return p.Status == ProductStatusPublish && p.Price > 0
}

// ProductImage stores a downloaded catalog image. Position 0 is the featured
// image, the rest is the gallery in stored order.
type ProductImage struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProductID     uint      `gorm:"index;not null" json:"product_id"`
	SourceImageID uint      `gorm:"default:0" json:"source_image_id"`
	URL           string    `gorm:"type:varchar(2048);not null" json:"url"`
	Alt           string    `gorm:"type:varchar(255)" json:"alt"`
	Title         string    `gorm:"type:varchar(255)" json:"title"`
	Caption       string    `gorm:"type:text" json:"caption"`
	Position      int       `gorm:"default:0" json:"position"`
	Width         int       `gorm:"default:0" json:"width"`
	Height        int       `gorm:"default:0" json:"height"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Category is a taxonomy term assigned to products by display name.
type Category struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Tag is a taxonomy term assigned to products by display name.
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
