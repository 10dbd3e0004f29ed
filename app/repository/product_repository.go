package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
)

// productRepository implements the ProductRepository interface
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new product repository instance
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create creates a new product
func (r *productRepository) Create(product *models.Product) error {
	return r.db.Create(product).Error
}

// GetByID retrieves a product by ID with images and terms preloaded
func (r *productRepository) GetByID(id uint) (*models.Product, error) {
	var product models.Product
	err := r.db.Preload("Images", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).Preload("Categories").Preload("Tags").First(&product, id).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetBySKU retrieves a product by its SKU, the natural key for
// cross-site reconciliation. Returns gorm.ErrRecordNotFound when absent.
func (r *productRepository) GetBySKU(sku string) (*models.Product, error) {
	var product models.Product
	err := r.db.Where("sku = ?", sku).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// Update saves changes to an existing product
func (r *productRepository) Update(product *models.Product) error {
	return r.db.Save(product).Error
}

// Delete removes a product
func (r *productRepository) Delete(id uint) error {
	return r.db.Delete(&models.Product{}, id).Error
}

// AddImage attaches a stored image record to a product
func (r *productRepository) AddImage(image *models.ProductImage) error {
	return r.db.Create(image).Error
}

// FindOrCreateCategory resolves a category term by display name
func (r *productRepository) FindOrCreateCategory(name string) (*models.Category, error) {
	var category models.Category
	err := r.db.Where("name = ?", name).FirstOrCreate(&category, models.Category{Name: name}).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

// FindOrCreateTag resolves a tag term by display name
func (r *productRepository) FindOrCreateTag(name string) (*models.Tag, error) {
	var tag models.Tag
	err := r.db.Where("name = ?", name).FirstOrCreate(&tag, models.Tag{Name: name}).Error
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// ReplaceTerms replaces the category and tag assignments of a product
func (r *productRepository) ReplaceTerms(product *models.Product, categories []models.Category, tags []models.Tag) error {
	if err := r.db.Model(product).Association("Categories").Replace(categories); err != nil {
		return err
	}
	return r.db.Model(product).Association("Tags").Replace(tags)
}

// DecrementStock lowers the stock quantity, floored at zero. Products that
// do not manage stock are left untouched.
func (r *productRepository) DecrementStock(id uint, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	return r.db.Model(&models.Product{}).
		Where("id = ? AND manage_stock = ?", id, true).
		Update("stock_quantity", gorm.Expr("GREATEST(stock_quantity - ?, 0)", quantity)).Error
}

// DeleteOrphanedTransferred removes transferred products older than the given
// cutoff that no order item references. Used by the cleanup sweep.
func (r *productRepository) DeleteOrphanedTransferred(olderThan time.Time) (int64, error) {
	result := r.db.Where("transferred = ? AND created_at < ?", true, olderThan).
		Where("id NOT IN (?)", r.db.Model(&models.OrderItem{}).Select("product_id")).
		Delete(&models.Product{})
	return result.RowsAffected, result.Error
}

// Count returns the total number of products
func (r *productRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Product{}).Count(&count).Error
	return count, err
}
