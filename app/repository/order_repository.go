package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates a new order with its items
func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByID retrieves an order with its items preloaded
func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.Preload("Items").First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkCompleted transitions an order to completed
func (r *orderRepository) MarkCompleted(id uint) error {
	now := time.Now()
	return r.db.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.OrderStatusCompleted,
		"completed_at": &now,
	}).Error
}

// CountCompleted returns the number of completed orders
func (r *orderRepository) CountCompleted() (int64, error) {
	var count int64
	err := r.db.Model(&models.Order{}).Where("status = ?", models.OrderStatusCompleted).Count(&count).Error
	return count, err
}

// TotalRevenue sums totals over completed orders
func (r *orderRepository) TotalRevenue() (float64, error) {
	var revenue float64
	err := r.db.Model(&models.Order{}).
		Where("status = ?", models.OrderStatusCompleted).
		Select("COALESCE(SUM(total), 0)").
		Scan(&revenue).Error
	return revenue, err
}

// HasItemsForProduct reports whether any order references the product.
// Used by the cleanup sweep before deleting orphaned transferred products.
func (r *orderRepository) HasItemsForProduct(productID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.OrderItem{}).Where("product_id = ?", productID).Count(&count).Error
	return count > 0, err
}
