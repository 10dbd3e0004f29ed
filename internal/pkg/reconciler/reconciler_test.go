package reconciler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/internal/pkg/imagefetch"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

type fakeProducts struct {
	products map[uint]*models.Product
	images   []*models.ProductImage
	nextID   uint
	terms    map[uint][]string
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{products: make(map[uint]*models.Product), terms: make(map[uint][]string)}
}

func (f *fakeProducts) Create(p *models.Product) error {
	f.nextID++
	p.ID = f.nextID
	f.products[p.ID] = p
	return nil
}

func (f *fakeProducts) GetByID(id uint) (*models.Product, error) {
	if p, ok := f.products[id]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProducts) GetBySKU(sku string) (*models.Product, error) {
	for _, p := range f.products {
		if p.SKU == sku {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeProducts) Update(p *models.Product) error {
	f.products[p.ID] = p
	return nil
}

func (f *fakeProducts) Delete(id uint) error {
	delete(f.products, id)
	return nil
}

func (f *fakeProducts) AddImage(img *models.ProductImage) error {
	f.images = append(f.images, img)
	return nil
}

func (f *fakeProducts) FindOrCreateCategory(name string) (*models.Category, error) {
	return &models.Category{ID: uint(len(name)), Name: name}, nil
}

func (f *fakeProducts) FindOrCreateTag(name string) (*models.Tag, error) {
	return &models.Tag{ID: uint(len(name)), Name: name}, nil
}

func (f *fakeProducts) ReplaceTerms(p *models.Product, categories []models.Category, tags []models.Tag) error {
	var names []string
	for _, c := range categories {
		names = append(names, "cat:"+c.Name)
	}
	for _, tg := range tags {
		names = append(names, "tag:"+tg.Name)
	}
	f.terms[p.ID] = names
	return nil
}

func (f *fakeProducts) DecrementStock(id uint, quantity int) error         { return nil }
func (f *fakeProducts) DeleteOrphanedTransferred(time.Time) (int64, error) { return 0, nil }
func (f *fakeProducts) Count() (int64, error)                              { return int64(len(f.products)), nil }

type fakeCarts struct {
	carts   map[string]*models.Cart
	nextID  uint
	nextKey int
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: make(map[string]*models.Cart)}
}

func (f *fakeCarts) GetOrCreateByToken(token string) (*models.Cart, error) {
	if token != "" {
		if cart, ok := f.carts[token]; ok {
			return cart, nil
		}
	} else {
		token = fmt.Sprintf("token-%d", len(f.carts)+1)
	}
	f.nextID++
	cart := &models.Cart{ID: f.nextID, Token: token}
	f.carts[token] = cart
	return cart, nil
}

func (f *fakeCarts) GetByToken(token string) (*models.Cart, error) {
	if cart, ok := f.carts[token]; ok {
		return cart, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCarts) ClearItems(cartID uint) error {
	for _, cart := range f.carts {
		if cart.ID == cartID {
			cart.Items = nil
		}
	}
	return nil
}

func (f *fakeCarts) AddItem(item *models.CartItem) error {
	f.nextKey++
	if item.ItemKey == "" {
		item.ItemKey = fmt.Sprintf("key-%d", f.nextKey)
	}
	for _, cart := range f.carts {
		if cart.ID == item.CartID {
			cart.Items = append(cart.Items, *item)
			return nil
		}
	}
	return errors.New("cart not found")
}

func (f *fakeCarts) RemoveItem(cartID uint, itemKey string) (*models.CartItem, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCarts) Delete(cartID uint) error { return nil }

func (f *fakeCarts) DeleteAbandoned(time.Time) (int64, error) { return 0, nil }

func testPayload() *transfer.TransferPayload {
	return &transfer.TransferPayload{
		OriginalProductID: 42,
		SKU:               "WIDGET-1",
		Name:              "Widget",
		Description:       "A widget",
		Price:             19.99,
		RegularPrice:      24.99,
		Quantity:          2,
		Categories:        []string{"Gadgets"},
		Tags:              []string{"sale"},
		SourceSite:        "https://source.example",
		Timestamp:         time.Now().Unix(),
	}
}

func newTestReconciler(products *fakeProducts, carts *fakeCarts) *Reconciler {
	return New(products, carts, "https://target.example").WithProbe(func(string) (*imagefetch.Info, error) {
		return &imagefetch.Info{Width: 800, Height: 600}, nil
	})
}

func TestReconcileCreatesHiddenPublishedProduct(t *testing.T) {
	products := newFakeProducts()
	carts := newFakeCarts()
	rec := newTestReconciler(products, carts)

	outcome, err := rec.Reconcile(testPayload(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, err := products.GetBySKU("WIDGET-1")
	if err != nil {
		t.Fatalf("product not created: %v", err)
	}
	if product.Status != models.ProductStatusPublish {
		t.Fatalf("expected published product, got %q", product.Status)
	}
	if product.CatalogVisibility != models.CatalogVisibilityHidden {
		t.Fatalf("expected hidden product, got %q", product.CatalogVisibility)
	}
	if !product.Virtual || !product.Transferred {
		t.Fatal("expected virtual transferred product")
	}
	if product.SourceSite != "https://source.example" || product.SourceProductID != 42 {
		t.Fatalf("provenance missing: %+v", product)
	}

	if outcome.ProductID != product.ID {
		t.Fatalf("outcome product id %d, want %d", outcome.ProductID, product.ID)
	}
	if !strings.HasPrefix(outcome.RedirectURL, "https://target.example/cart/") {
		t.Fatalf("unexpected redirect %q", outcome.RedirectURL)
	}
	if terms := products.terms[product.ID]; len(terms) != 2 {
		t.Fatalf("expected category and tag assignment, got %v", terms)
	}
}

func TestReconcileIsIdempotentBySKU(t *testing.T) {
	products := newFakeProducts()
	carts := newFakeCarts()
	rec := newTestReconciler(products, carts)

	first, err := rec.Reconcile(testPayload(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := rec.Reconcile(testPayload(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(products.products) != 1 {
		t.Fatalf("expected one product, got %d", len(products.products))
	}
	if first.ProductID != second.ProductID {
		t.Fatalf("product ids differ: %d vs %d", first.ProductID, second.ProductID)
	}
}

func TestReconcileClearsCartBeforeAdd(t *testing.T) {
	products := newFakeProducts()
	carts := newFakeCarts()
	rec := newTestReconciler(products, carts)

	cart, _ := carts.GetOrCreateByToken("existing")
	carts.AddItem(&models.CartItem{CartID: cart.ID, ProductID: 99, Quantity: 5})

	if _, err := rec.Reconcile(testPayload(), "existing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cart.Items) != 1 {
		t.Fatalf("expected exactly one cart line, got %d", len(cart.Items))
	}
	if cart.Items[0].ProductID == 99 {
		t.Fatal("stale line survived the transfer")
	}
}

func TestReconcilePinsOriginalPrice(t *testing.T) {
	products := newFakeProducts()
	carts := newFakeCarts()
	rec := newTestReconciler(products, carts)

	outcome, err := rec.Reconcile(testPayload(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if outcome.CartTotal != 19.99*2 {
		t.Fatalf("cart total %v, want %v", outcome.CartTotal, 19.99*2)
	}

	cart := carts.carts[strings.TrimPrefix(outcome.RedirectURL, "https://target.example/cart/")]
	if cart == nil {
		t.Fatal("cart not found")
	}
	item := cart.Items[0]
	if !item.Transferred || item.OriginalPrice != 19.99 {
		t.Fatalf("price not pinned: %+v", item)
	}
	if item.LineTotal() != 39.98 {
		t.Fatalf("line total %v, want 39.98", item.LineTotal())
	}
}

func TestReconcileForcePublishesExistingProduct(t *testing.T) {
	products := newFakeProducts()
	carts := newFakeCarts()
	rec := newTestReconciler(products, carts)

	products.Create(&models.Product{SKU: "WIDGET-1", Name: "Widget", Status: models.ProductStatusDraft, RegularPrice: 24.99})

	if _, err := rec.Reconcile(testPayload(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	product, _ := products.GetBySKU("WIDGET-1")
	if product.Status != models.ProductStatusPublish {
		t.Fatalf("expected force-publish, got %q", product.Status)
	}
	if product.Price == 0 {
		t.Fatal("expected price backfill from regular price")
	}
}

func TestReconcileImageFailureIsNotFatal(t *testing.T) {
	products := newFakeProducts()
	carts := newFakeCarts()
	rec := New(products, carts, "https://target.example").WithProbe(func(string) (*imagefetch.Info, error) {
		return nil, errors.New("connection refused")
	})

	payload := testPayload()
	payload.Images = []transfer.PayloadImage{
		{ID: 1, URL: "https://source.example/a.jpg"},
		{ID: 2, URL: "https://source.example/b.jpg"},
	}

	if _, err := rec.Reconcile(payload, ""); err != nil {
		t.Fatalf("image failures must not abort the transfer: %v", err)
	}

	if len(products.images) != 2 {
		t.Fatalf("expected both image records, got %d", len(products.images))
	}
	if products.images[0].Position != 0 || products.images[1].Position != 1 {
		t.Fatal("image order not preserved")
	}
}
