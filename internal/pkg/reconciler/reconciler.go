// Package reconciler materializes incoming transfer payloads into the local
// catalog and cart. It is the write side of the receive endpoint.
package reconciler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/imagefetch"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

// ProbeFunc resolves image dimensions for a URL. Swappable in tests.
type ProbeFunc func(url string) (*imagefetch.Info, error)

// Reconciler applies transfer payloads against the catalog and cart stores.
type Reconciler struct {
	products repository.ProductRepository
	carts    repository.CartRepository
	baseURL  string
	probe    ProbeFunc
}

// Outcome is returned to the source site after a successful reconciliation.
type Outcome struct {
	ProductID   uint
	CartItemKey string
	RedirectURL string
	CartCount   int
	CartTotal   float64
}

// New creates a reconciler. baseURL is this site's public base URL, used to
// build the cart redirect.
func New(products repository.ProductRepository, carts repository.CartRepository, baseURL string) *Reconciler {
	return &Reconciler{
		products: products,
		carts:    carts,
		baseURL:  strings.TrimRight(baseURL, "/"),
		probe:    imagefetch.Probe,
	}
}

// WithProbe overrides the image probe. Used by tests.
func (r *Reconciler) WithProbe(probe ProbeFunc) *Reconciler {
	r.probe = probe
	return r
}

// Reconcile finds or creates the product for the payload, clears the cart
// identified by cartToken and adds a single line with the pinned source
// price. Running it twice with the same payload yields one product and one
// cart line.
func (r *Reconciler) Reconcile(payload *transfer.TransferPayload, cartToken string) (*Outcome, error) {
	product, err := r.findOrCreateProduct(payload)
	if err != nil {
		return nil, err
	}

	cart, err := r.carts.GetOrCreateByToken(cartToken)
	if err != nil {
		return nil, transfer.WrapError(transfer.KindReconciliation, "failed to open cart", err)
	}

	// one transferred line per cart, always
	if err := r.carts.ClearItems(cart.ID); err != nil {
		return nil, transfer.WrapError(transfer.KindReconciliation, "failed to clear cart", err)
	}

	item, err := r.buildCartItem(cart.ID, product.ID, payload)
	if err != nil {
		return nil, err
	}
	if err := r.carts.AddItem(item); err != nil {
		return nil, transfer.WrapError(transfer.KindRejected, "could not add product to cart", err)
	}

	return &Outcome{
		ProductID:   product.ID,
		CartItemKey: item.ItemKey,
		RedirectURL: fmt.Sprintf("%s/cart/%s", r.baseURL, cart.Token),
		CartCount:   1,
		CartTotal:   payload.Price * float64(payload.Quantity),
	}, nil
}

// findOrCreateProduct resolves the payload to a local product. The SKU is the
// natural key; a payload without SKU always creates a fresh product.
func (r *Reconciler) findOrCreateProduct(payload *transfer.TransferPayload) (*models.Product, error) {
	if payload.SKU != "" {
		product, err := r.products.GetBySKU(payload.SKU)
		if err == nil {
			return r.ensurePurchasable(product)
		}
		if err != gorm.ErrRecordNotFound {
			return nil, transfer.WrapError(transfer.KindReconciliation, "failed to look up product", err)
		}
	}
	return r.createProduct(payload)
}

// ensurePurchasable force-publishes a known product so the cart add cannot
// fail on visibility.
func (r *Reconciler) ensurePurchasable(product *models.Product) (*models.Product, error) {
	if product.IsPurchasable() {
		return product, nil
	}
	product.Status = models.ProductStatusPublish
	if product.Price == 0 {
		product.Price = product.RegularPrice
	}
	if err := r.products.Update(product); err != nil {
		return nil, transfer.WrapError(transfer.KindReconciliation, "failed to publish product", err)
	}
	return product, nil
}

func (r *Reconciler) createProduct(payload *transfer.TransferPayload) (*models.Product, error) {
	now := time.Now()
	product := &models.Product{
		SKU:               payload.SKU,
		Name:              payload.Name,
		Description:       payload.Description,
		ShortDescription:  payload.ShortDescription,
		Price:             payload.Price,
		RegularPrice:      payload.RegularPrice,
		SalePrice:         payload.SalePrice,
		Weight:            payload.Weight,
		Length:            payload.Dimensions.Length,
		Width:             payload.Dimensions.Width,
		Height:            payload.Dimensions.Height,
		Type:              models.ProductTypeSimple,
		Status:            models.ProductStatusPublish,
		CatalogVisibility: models.CatalogVisibilityHidden,
		Virtual:           true,
		Transferred:       true,
		SourceSite:        payload.SourceSite,
		SourceProductID:   payload.OriginalProductID,
		TransferredAt:     &now,
	}
	if payload.Price == 0 {
		product.Price = payload.RegularPrice
	}
	if meta, err := json.Marshal(payload.MetaData); err == nil && payload.MetaData != nil {
		product.MetaData = models.JSON(meta)
	}
	if attrs, err := json.Marshal(payload.Attributes); err == nil && payload.Attributes != nil {
		product.Attributes = models.JSON(attrs)
	}

	if err := r.products.Create(product); err != nil {
		return nil, transfer.WrapError(transfer.KindReconciliation, "failed to create product", err)
	}

	if err := r.assignTerms(product, payload); err != nil {
		return nil, err
	}
	r.attachImages(product, payload.Images)

	return product, nil
}

func (r *Reconciler) assignTerms(product *models.Product, payload *transfer.TransferPayload) error {
	categories := make([]models.Category, 0, len(payload.Categories))
	for _, name := range payload.Categories {
		category, err := r.products.FindOrCreateCategory(name)
		if err != nil {
			return transfer.WrapError(transfer.KindReconciliation, "failed to resolve category", err)
		}
		categories = append(categories, *category)
	}

	tags := make([]models.Tag, 0, len(payload.Tags))
	for _, name := range payload.Tags {
		tag, err := r.products.FindOrCreateTag(name)
		if err != nil {
			return transfer.WrapError(transfer.KindReconciliation, "failed to resolve tag", err)
		}
		tags = append(tags, *tag)
	}

	if len(categories) == 0 && len(tags) == 0 {
		return nil
	}
	if err := r.products.ReplaceTerms(product, categories, tags); err != nil {
		return transfer.WrapError(transfer.KindReconciliation, "failed to assign terms", err)
	}
	return nil
}

// attachImages stores image records in payload order, position 0 being the
// featured image. Download or decode failures are logged and skipped.
func (r *Reconciler) attachImages(product *models.Product, images []transfer.PayloadImage) {
	for i, img := range images {
		record := &models.ProductImage{
			ProductID:     product.ID,
			SourceImageID: img.ID,
			URL:           img.URL,
			Alt:           img.Alt,
			Title:         img.Title,
			Caption:       img.Caption,
			Position:      i,
		}
		if info, err := r.probe(img.URL); err != nil {
			log.Warnf("[Reconciler] image probe failed for %s: %v", img.URL, err)
		} else {
			record.Width = info.Width
			record.Height = info.Height
		}
		if err := r.products.AddImage(record); err != nil {
			log.Warnf("[Reconciler] failed to store image for product %d: %v", product.ID, err)
		}
	}
}

func (r *Reconciler) buildCartItem(cartID, productID uint, payload *transfer.TransferPayload) (*models.CartItem, error) {
	item := &models.CartItem{
		CartID:            cartID,
		ProductID:         productID,
		Quantity:          payload.Quantity,
		VariationID:       payload.VariationID,
		Transferred:       true,
		SourceSite:        payload.SourceSite,
		OriginalPrice:     payload.Price,
		OriginalProductID: payload.OriginalProductID,
		TransferredAt:     time.Now(),
	}
	if len(payload.VariationData) > 0 {
		data, err := json.Marshal(payload.VariationData)
		if err != nil {
			return nil, transfer.WrapError(transfer.KindReconciliation, "failed to encode variation data", err)
		}
		item.VariationData = models.JSON(data)
	}
	if len(payload.MetaData) > 0 {
		meta, err := json.Marshal(payload.MetaData)
		if err != nil {
			return nil, transfer.WrapError(transfer.KindReconciliation, "failed to encode transfer meta", err)
		}
		item.TransferMeta = models.JSON(meta)
	}
	return item, nil
}
