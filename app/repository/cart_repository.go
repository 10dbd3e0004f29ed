package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
)

// cartRepository implements the CartRepository interface
type cartRepository struct {
	db *gorm.DB
}

// NewCartRepository creates a new cart repository instance
func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

// GetOrCreateByToken loads the cart for a token, creating it when absent.
// An empty token creates a fresh cart with a generated token.
func (r *cartRepository) GetOrCreateByToken(token string) (*models.Cart, error) {
	var cart models.Cart
	if token != "" {
		err := r.db.Preload("Items").Where("token = ?", token).First(&cart).Error
		if err == nil {
			return &cart, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
		cart.Token = token
	}
	if err := r.db.Create(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetByToken loads a cart with items and their products preloaded
func (r *cartRepository) GetByToken(token string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.Preload("Items.Product").Where("token = ?", token).First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// ClearItems removes every line from a cart
func (r *cartRepository) ClearItems(cartID uint) error {
	return r.db.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
}

// AddItem appends a line to a cart
func (r *cartRepository) AddItem(item *models.CartItem) error {
	return r.db.Create(item).Error
}

// RemoveItem deletes one line by its item key and returns the removed line
// so callers can notify the source site.
func (r *cartRepository) RemoveItem(cartID uint, itemKey string) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.Where("cart_id = ? AND item_key = ?", cartID, itemKey).First(&item).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.Delete(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Delete destroys a cart and its lines
func (r *cartRepository) Delete(cartID uint) error {
	if err := r.db.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return err
	}
	return r.db.Delete(&models.Cart{}, cartID).Error
}

// DeleteAbandoned removes carts not updated since the cutoff
func (r *cartRepository) DeleteAbandoned(olderThan time.Time) (int64, error) {
	var carts []models.Cart
	if err := r.db.Where("updated_at < ?", olderThan).Find(&carts).Error; err != nil {
		return 0, err
	}
	var removed int64
	for _, cart := range carts {
		if err := r.Delete(cart.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
