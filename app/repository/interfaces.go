package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
)

// ErrAlreadyTerminal is returned when a second terminal update is attempted
// on a transfer ledger row.
var ErrAlreadyTerminal = errors.New("transfer already in terminal state")

// ProductRepository defines the interface for catalog database operations
type ProductRepository interface {
	Create(product *models.Product) error
	GetByID(id uint) (*models.Product, error)
	GetBySKU(sku string) (*models.Product, error)
	Update(product *models.Product) error
	Delete(id uint) error
	AddImage(image *models.ProductImage) error
	FindOrCreateCategory(name string) (*models.Category, error)
	FindOrCreateTag(name string) (*models.Tag, error)
	ReplaceTerms(product *models.Product, categories []models.Category, tags []models.Tag) error
	DecrementStock(id uint, quantity int) error
	DeleteOrphanedTransferred(olderThan time.Time) (int64, error)
	Count() (int64, error)
}

// CartRepository defines the interface for cart database operations
type CartRepository interface {
	GetOrCreateByToken(token string) (*models.Cart, error)
	GetByToken(token string) (*models.Cart, error)
	ClearItems(cartID uint) error
	AddItem(item *models.CartItem) error
	RemoveItem(cartID uint, itemKey string) (*models.CartItem, error)
	Delete(cartID uint) error
	DeleteAbandoned(olderThan time.Time) (int64, error)
}

// OrderRepository defines the interface for order database operations
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	MarkCompleted(id uint) error
	CountCompleted() (int64, error)
	TotalRevenue() (float64, error)
	HasItemsForProduct(productID uint) (bool, error)
}

// TransferRepository defines the interface for the transfer ledger
type TransferRepository interface {
	Create(transfer *models.Transfer) error
	GetByID(id uint) (*models.Transfer, error)
	MarkCompleted(id uint, targetProductID uint) error
	MarkFailed(id uint, errorMessage string) error
	GetStats() (*models.TransferStats, error)
	DeleteOlderThan(olderThan time.Time) (int64, error)
}

// SecurityLogRepository defines the interface for the security event log
type SecurityLogRepository interface {
	Create(entry *models.SecurityLog) error
	CountByIPSince(ip string, since time.Time) (int64, error)
	ListRecent(limit int) ([]models.SecurityLog, error)
	Prune(olderThan time.Time, maxRows int) (int64, error)
}

// SettingRepository defines the interface for transfer settings
type SettingRepository interface {
	Get() (*models.TransferSettings, error)
	Save(settings *models.TransferSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
	EnsureEncryptionKey() (string, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Product     ProductRepository
	Cart        CartRepository
	Order       OrderRepository
	Transfer    TransferRepository
	SecurityLog SecurityLogRepository
	Setting     SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Product:     NewProductRepository(db),
		Cart:        NewCartRepository(db),
		Order:       NewOrderRepository(db),
		Transfer:    NewTransferRepository(db),
		SecurityLog: NewSecurityLogRepository(db),
		Setting:     NewSettingRepository(db),
	}
}
