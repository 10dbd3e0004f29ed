// Package collector assembles outbound transfer payloads from the local
// catalog. It is strictly read-only: nothing here mutates products or carts.
package collector

import (
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

// Request identifies what the shopper wants transferred. CartToken is the
// shopper's cart token on the target site from an earlier transfer, if any.
type Request struct {
	ProductID     uint              `json:"product_id" validate:"required"`
	VariationID   uint              `json:"variation_id"`
	Quantity      int               `json:"quantity" validate:"required,min=1"`
	VariationData map[string]string `json:"variation_data"`
	CartToken     string            `json:"cart_token"`
}

// Collector builds transfer payloads from catalog data.
type Collector struct {
	products repository.ProductRepository
}

// New creates a collector over the given product repository.
func New(products repository.ProductRepository) *Collector {
	return &Collector{products: products}
}

// Collect loads the product (and variation, when given) and assembles the
// wire payload. Variation fields override the parent's, with fallback to the
// parent for anything the variation leaves unset.
func (c *Collector) Collect(req Request) (*transfer.TransferPayload, error) {
	if req.Quantity <= 0 {
		return nil, transfer.NewError(transfer.KindValidation, "quantity must be greater than zero")
	}

	product, err := c.products.GetByID(req.ProductID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, transfer.NewError(transfer.KindValidation, "product not found")
		}
		return nil, transfer.WrapError(transfer.KindValidation, "failed to load product", err)
	}

	if product.Type == models.ProductTypeVariable && req.VariationID == 0 {
		return nil, transfer.NewError(transfer.KindValidation, "variation must be selected for a variable product")
	}

	var variation *models.Product
	if req.VariationID != 0 {
		variation, err = c.products.GetByID(req.VariationID)
		if err != nil {
			return nil, transfer.NewError(transfer.KindValidation, "variation not found")
		}
		if variation.ParentID != product.ID {
			return nil, transfer.NewError(transfer.KindValidation, "variation does not belong to the product")
		}
	}

	payload := &transfer.TransferPayload{
		OriginalProductID: product.ID,
		VariationID:       req.VariationID,
		SKU:               pickString(variation, product, func(p *models.Product) string { return p.SKU }),
		Name:              product.Name,
		Description:       product.Description,
		ShortDescription:  product.ShortDescription,
		Price:             pickFloat(variation, product, func(p *models.Product) float64 { return p.Price }),
		RegularPrice:      pickFloat(variation, product, func(p *models.Product) float64 { return p.RegularPrice }),
		SalePrice:         pickFloat(variation, product, func(p *models.Product) float64 { return p.SalePrice }),
		Quantity:          req.Quantity,
		Weight:            pickFloat(variation, product, func(p *models.Product) float64 { return p.Weight }),
		Dimensions: transfer.Dimensions{
			Length: pickFloat(variation, product, func(p *models.Product) float64 { return p.Length }),
			Width:  pickFloat(variation, product, func(p *models.Product) float64 { return p.Width }),
			Height: pickFloat(variation, product, func(p *models.Product) float64 { return p.Height }),
		},
		VariationData: req.VariationData,
		MetaData:      publicMeta(product.MetaData),
		Images:        collectImages(product.Images),
		Categories:    categoryNames(product.Categories),
		Tags:          tagNames(product.Tags),
		Attributes:    parseAttributes(product.Attributes),
	}

	return payload, nil
}

// pickString returns the variation's value when non-empty, the parent's
// otherwise.
func pickString(variation, parent *models.Product, get func(*models.Product) string) string {
	if variation != nil {
		if v := get(variation); v != "" {
			return v
		}
	}
	return get(parent)
}

func pickFloat(variation, parent *models.Product, get func(*models.Product) float64) float64 {
	if variation != nil {
		if v := get(variation); v != 0 {
			return v
		}
	}
	return get(parent)
}

// publicMeta decodes stored metadata and drops private keys. Keys with a
// leading underscore are internal and never leave the site.
func publicMeta(raw models.JSON) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	public := make(map[string]interface{}, len(meta))
	for key, value := range meta {
		if strings.HasPrefix(key, "_") {
			continue
		}
		public[key] = value
	}
	if len(public) == 0 {
		return nil
	}
	return public
}

// collectImages keeps stored order: position 0 is the featured image, the
// gallery follows.
func collectImages(images []models.ProductImage) []transfer.PayloadImage {
	if len(images) == 0 {
		return nil
	}
	out := make([]transfer.PayloadImage, 0, len(images))
	for _, img := range images {
		out = append(out, transfer.PayloadImage{
			ID:      img.ID,
			URL:     img.URL,
			Alt:     img.Alt,
			Title:   img.Title,
			Caption: img.Caption,
		})
	}
	return out
}

func categoryNames(categories []models.Category) []string {
	if len(categories) == 0 {
		return nil
	}
	names := make([]string, 0, len(categories))
	for _, c := range categories {
		names = append(names, c.Name)
	}
	return names
}

func tagNames(tags []models.Tag) []string {
	if len(tags) == 0 {
		return nil
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}

func parseAttributes(raw models.JSON) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	var attrs map[string][]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
