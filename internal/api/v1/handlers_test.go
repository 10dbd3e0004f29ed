package apiv1

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/imagefetch"
	"github.com/cartbridge/cartbridge/internal/pkg/reconciler"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type fakeProducts struct {
	products map[uint]*models.Product
	nextID   uint
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{products: make(map[uint]*models.Product)}
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

func (f *fakeProducts) Update(p *models.Product) error      { f.products[p.ID] = p; return nil }
func (f *fakeProducts) Delete(id uint) error                { delete(f.products, id); return nil }
func (f *fakeProducts) AddImage(*models.ProductImage) error { return nil }
func (f *fakeProducts) FindOrCreateCategory(n string) (*models.Category, error) {
	return &models.Category{Name: n}, nil
}
func (f *fakeProducts) FindOrCreateTag(n string) (*models.Tag, error) {
	return &models.Tag{Name: n}, nil
}
func (f *fakeProducts) ReplaceTerms(*models.Product, []models.Category, []models.Tag) error {
	return nil
}

func (f *fakeProducts) DecrementStock(id uint, quantity int) error {
	if p, ok := f.products[id]; ok && p.ManageStock {
		p.StockQuantity -= quantity
		if p.StockQuantity < 0 {
			p.StockQuantity = 0
		}
	}
	return nil
}

func (f *fakeProducts) DeleteOrphanedTransferred(time.Time) (int64, error) { return 0, nil }
func (f *fakeProducts) Count() (int64, error)                              { return 0, nil }

type fakeCarts struct {
	carts  map[string]*models.Cart
	nextID uint
}

func newFakeCarts() *fakeCarts { return &fakeCarts{carts: make(map[string]*models.Cart)} }

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
	if item.ItemKey == "" {
		item.ItemKey = fmt.Sprintf("key-%d", item.CartID)
	}
	for _, cart := range f.carts {
		if cart.ID == item.CartID {
			cart.Items = append(cart.Items, *item)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeCarts) RemoveItem(uint, string) (*models.CartItem, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeCarts) Delete(uint) error                        { return nil }
func (f *fakeCarts) DeleteAbandoned(time.Time) (int64, error) { return 0, nil }

type fakeLogs struct {
	entries []*models.SecurityLog
}

func (f *fakeLogs) Create(e *models.SecurityLog) error {
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeLogs) CountByIPSince(string, time.Time) (int64, error) { return 0, nil }
func (f *fakeLogs) ListRecent(int) ([]models.SecurityLog, error)    { return nil, nil }
func (f *fakeLogs) Prune(time.Time, int) (int64, error)             { return 0, nil }

type testEnv struct {
	app      *fiber.App
	products *fakeProducts
	carts    *fakeCarts
	logs     *fakeLogs
}

func newTestEnv() *testEnv {
	products := newFakeProducts()
	carts := newFakeCarts()
	logs := &fakeLogs{}

	settings := &models.TransferSettings{
		Enabled:       true,
		EncryptionKey: testKey,
		SSLVerify:     true,
		RateLimit:     100,
		BanDuration:   3600,
	}

	rec := reconciler.New(products, carts, "https://target.example").WithProbe(func(string) (*imagefetch.Info, error) {
		return &imagefetch.Info{Width: 100, Height: 100}, nil
	})

	repos := &repository.Repositories{Product: products, Cart: carts, SecurityLog: logs}
	server := NewAPIServer(rec, repos, func() *models.TransferSettings { return settings }, nil, "https://target.example")

	app := fiber.New()
	RegisterHandlers(app.Group(transfer.APIBase), server)

	return &testEnv{app: app, products: products, carts: carts, logs: logs}
}

func signedEnvelope(t *testing.T, payload transfer.TransferPayload, ts int64) []byte {
	t.Helper()
	canonical, err := payload.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	envelope := transfer.Envelope{
		Payload:   payload,
		Timestamp: ts,
		Signature: transfer.Sign(canonical, ts, testKey),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func postReceive(t *testing.T, env *testEnv, body []byte, withAuth bool) (fiber.Map, int) {
	t.Helper()
	req := httptest.NewRequest("POST", transfer.APIBase+"/receive-product", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if withAuth {
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("key:secret")))
	}
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var out fiber.Map
	json.Unmarshal(data, &out)
	return out, resp.StatusCode
}

func productPayload() transfer.TransferPayload {
	return transfer.TransferPayload{
		OriginalProductID: 42,
		SKU:               "WIDGET-1",
		Name:              "Widget",
		Price:             19.99,
		Quantity:          2,
		SourceSite:        "https://source.example",
		Timestamp:         time.Now().Unix(),
	}
}

func TestReceiveProductSuccess(t *testing.T) {
	env := newTestEnv()
	payload := productPayload()
	body := signedEnvelope(t, payload, payload.Timestamp)

	out, status := postReceive(t, env, body, true)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, out["success"])

	data := out["data"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(data["redirect_url"].(string), "https://target.example/cart/"))
	assert.Equal(t, float64(2*19.99), data["cart_total"])

	if _, err := env.products.GetBySKU("WIDGET-1"); err != nil {
		t.Fatal("product was not reconciled")
	}
}

func TestReceiveProductReusesCartFromTokenHeader(t *testing.T) {
	env := newTestEnv()
	payload := productPayload()
	body := signedEnvelope(t, payload, payload.Timestamp)

	req := httptest.NewRequest("POST", transfer.APIBase+"/receive-product", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("key:secret")))

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var token string
	for tok := range env.carts.carts {
		token = tok
	}

	// repeat transfer into the same cart: contents replaced, not appended
	second := productPayload()
	second.SKU = "WIDGET-2"
	second.Timestamp = time.Now().Unix()
	req = httptest.NewRequest("POST", transfer.APIBase+"/receive-product", bytes.NewReader(signedEnvelope(t, second, second.Timestamp)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("key:secret")))
	req.Header.Set("X-Cart-Token", token)

	resp, err = env.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	if len(env.carts.carts) != 1 {
		t.Fatalf("expected the cart to be reused, got %d carts", len(env.carts.carts))
	}
	cart := env.carts.carts[token]
	if len(cart.Items) != 1 {
		t.Fatalf("expected one line after repeat transfer, got %d", len(cart.Items))
	}
}

func TestReceiveProductRequiresCredentials(t *testing.T) {
	env := newTestEnv()
	payload := productPayload()
	body := signedEnvelope(t, payload, payload.Timestamp)

	_, status := postReceive(t, env, body, false)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	if len(env.logs.entries) == 0 || env.logs.entries[0].EventType != models.SecurityEventFailedAuth {
		t.Fatal("expected failed auth security log")
	}
}

func TestReceiveProductRejectsMalformedEnvelope(t *testing.T) {
	env := newTestEnv()

	_, status := postReceive(t, env, []byte("not json at all"), true)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestReceiveProductRejectsStaleTimestamp(t *testing.T) {
	env := newTestEnv()
	payload := productPayload()
	stale := time.Now().Add(-10 * time.Minute).Unix()
	payload.Timestamp = stale
	body := signedEnvelope(t, payload, stale)

	_, status := postReceive(t, env, body, true)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	var sawReplay bool
	for _, e := range env.logs.entries {
		if e.EventType == models.SecurityEventReplayRejected {
			sawReplay = true
		}
	}
	assert.True(t, sawReplay, "expected replay rejection log")
}

func TestReceiveProductRejectsTamperedPayload(t *testing.T) {
	env := newTestEnv()
	payload := productPayload()
	body := signedEnvelope(t, payload, payload.Timestamp)

	// raise the price after signing
	var envelope transfer.Envelope
	json.Unmarshal(body, &envelope)
	envelope.Payload.Price = 0.01
	tampered, _ := json.Marshal(envelope)

	_, status := postReceive(t, env, tampered, true)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	var sawInvalid bool
	for _, e := range env.logs.entries {
		if e.EventType == models.SecurityEventInvalidSignature {
			sawInvalid = true
		}
	}
	assert.True(t, sawInvalid, "expected invalid signature log")
}

func TestTestConnectionEndpoint(t *testing.T) {
	env := newTestEnv()

	resp, err := env.app.Test(httptest.NewRequest("GET", transfer.APIBase+"/test-connection", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "https://target.example", out["site"])
	assert.Equal(t, transfer.Version, out["version"])
}

func TestGetCartEndpoint(t *testing.T) {
	env := newTestEnv()
	cart, _ := env.carts.GetOrCreateByToken("known-token")
	env.carts.AddItem(&models.CartItem{
		CartID:        cart.ID,
		ProductID:     1,
		Quantity:      2,
		Transferred:   true,
		OriginalPrice: 19.99,
	})

	resp, err := env.app.Test(httptest.NewRequest("GET", transfer.APIBase+"/cart/known-token", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	assert.Equal(t, float64(39.98), out["total"])

	resp, _ = env.app.Test(httptest.NewRequest("GET", transfer.APIBase+"/cart/unknown", nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestUpdateStockFloorsAtZero(t *testing.T) {
	env := newTestEnv()
	env.products.Create(&models.Product{Name: "Widget", ManageStock: true, StockQuantity: 3})

	body, _ := json.Marshal(map[string]interface{}{"product_id": 1, "quantity_sold": 10, "order_id": 4})
	req := httptest.NewRequest("POST", transfer.APIBase+"/update-stock", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	product, _ := env.products.GetByID(1)
	assert.Equal(t, 0, product.StockQuantity)
}

func TestItemRemovedAcknowledges(t *testing.T) {
	env := newTestEnv()

	body, _ := json.Marshal(map[string]interface{}{"product_id": 5, "quantity": 1})
	req := httptest.NewRequest("POST", transfer.APIBase+"/item-removed", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
