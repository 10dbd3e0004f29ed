// Package apiv1 implements the server side of the transfer protocol: the
// endpoints a source site calls on /cross-site-cart/v1.
package apiv1

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/events"
	"github.com/cartbridge/cartbridge/internal/pkg/reconciler"
	"github.com/cartbridge/cartbridge/internal/pkg/security"
	"github.com/cartbridge/cartbridge/internal/pkg/statistics"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

// APIServer holds the receive-side collaborators.
type APIServer struct {
	reconciler *reconciler.Reconciler
	products   repository.ProductRepository
	carts      repository.CartRepository
	logs       repository.SecurityLogRepository
	settings   transfer.SettingsFunc
	bus        *events.Bus
	siteURL    string
}

// NewAPIServer creates a new API server instance
func NewAPIServer(rec *reconciler.Reconciler, repos *repository.Repositories, settings transfer.SettingsFunc, bus *events.Bus, siteURL string) *APIServer {
	return &APIServer{
		reconciler: rec,
		products:   repos.Product,
		carts:      repos.Cart,
		logs:       repos.SecurityLog,
		settings:   settings,
		bus:        bus,
		siteURL:    strings.TrimRight(siteURL, "/"),
	}
}

// RegisterHandlers attaches the protocol routes to the given group.
func RegisterHandlers(api fiber.Router, s *APIServer) {
	api.Post("/receive-product", s.PostReceiveProduct)
	api.Get("/test-connection", s.GetTestConnection)
	api.Get("/cart/:token", s.GetCart)
	api.Post("/update-stock", s.PostUpdateStock)
	api.Post("/order-completed", s.PostOrderCompleted)
	api.Post("/item-removed", s.PostItemRemoved)
}

// PostReceiveProduct is the main transfer endpoint. Checks run in protocol
// order: credentials, envelope shape, timestamp freshness, signature, then
// reconciliation. Reconciliation failures come back as structured JSON, never
// as a bare transport error.
func (s *APIServer) PostReceiveProduct(c *fiber.Ctx) error {
	if !hasBasicCredentials(c) {
		s.logEvent(c, models.SecurityEventFailedAuth, map[string]interface{}{"reason": "missing or malformed credentials"})
		return fail(c, fiber.StatusUnauthorized, "authentication required")
	}

	var envelope transfer.Envelope
	if err := json.Unmarshal(c.Body(), &envelope); err != nil {
		return fail(c, fiber.StatusBadRequest, "malformed transfer envelope")
	}

	if !transfer.Fresh(envelope.Timestamp, time.Now()) {
		s.logEvent(c, models.SecurityEventReplayRejected, map[string]interface{}{"timestamp": envelope.Timestamp})
		return fail(c, fiber.StatusUnauthorized, "transfer request expired")
	}

	key := ""
	if cfg := s.settings(); cfg != nil {
		key = cfg.GetEncryptionKey()
	}
	canonical, err := envelope.Payload.Canonical()
	if err != nil || key == "" || !transfer.Verify(canonical, envelope.Timestamp, key, envelope.Signature) {
		s.logEvent(c, models.SecurityEventInvalidSignature, map[string]interface{}{"source": envelope.Payload.SourceSite})
		return fail(c, fiber.StatusUnauthorized, "invalid transfer signature")
	}

	if err := envelope.Payload.Validate(); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	outcome, err := s.reconcile(&envelope.Payload, c.Get("X-Cart-Token"))
	if err != nil {
		log.Errorf("[API] reconciliation failed for %s: %v", envelope.Payload.SourceSite, err)
		status := fiber.StatusInternalServerError
		if transfer.IsKind(err, transfer.KindRejected) {
			status = fiber.StatusConflict
		}
		return fail(c, status, "product could not be added to the cart")
	}

	return c.Status(fiber.StatusOK).JSON(transfer.ReceiveResponse{
		Success: true,
		Message: "product transferred",
		Data: &transfer.ReceiveResponseData{
			ProductID:   outcome.ProductID,
			CartItemKey: outcome.CartItemKey,
			RedirectURL: outcome.RedirectURL,
			CartCount:   outcome.CartCount,
			CartTotal:   outcome.CartTotal,
		},
	})
}

// reconcile shields the endpoint from panics in the write path.
func (s *APIServer) reconcile(payload *transfer.TransferPayload, cartToken string) (outcome *reconciler.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[API] reconciliation panicked: %v", r)
			outcome = nil
			err = transfer.NewError(transfer.KindReconciliation, "reconciliation aborted")
		}
	}()
	return s.reconciler.Reconcile(payload, cartToken)
}

// GetTestConnection reports site identity for connectivity probes. No auth:
// it exposes nothing beyond what the site already serves publicly.
func (s *APIServer) GetTestConnection(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":     true,
		"site":        s.siteURL,
		"version":     transfer.Version,
		"server_time": time.Now().Unix(),
	})
}

// GetCart returns the cart contents and totals for a token.
func (s *APIServer) GetCart(c *fiber.Ctx) error {
	cart, err := s.carts.GetByToken(c.Params("token"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return fail(c, fiber.StatusNotFound, "cart not found")
		}
		log.Errorf("[API] cart lookup failed: %v", err)
		return fail(c, fiber.StatusInternalServerError, "cart unavailable")
	}

	items := make([]fiber.Map, 0, len(cart.Items))
	var total float64
	for _, item := range cart.Items {
		total += item.LineTotal()
		items = append(items, fiber.Map{
			"item_key":    item.ItemKey,
			"product_id":  item.ProductID,
			"name":        item.Product.Name,
			"quantity":    item.Quantity,
			"price":       item.EffectivePrice(),
			"line_total":  item.LineTotal(),
			"transferred": item.Transferred,
			"source_site": item.SourceSite,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"token":   cart.Token,
		"items":   items,
		"count":   len(items),
		"total":   total,
	})
}

type stockNotification struct {
	ProductID    uint `json:"product_id"`
	QuantitySold int  `json:"quantity_sold"`
	OrderID      uint `json:"order_id"`
}

// PostUpdateStock decrements local stock after a remote sale. The floor at
// zero lives in the repository.
func (s *APIServer) PostUpdateStock(c *fiber.Ctx) error {
	var n stockNotification
	if err := c.BodyParser(&n); err != nil || n.ProductID == 0 {
		return fail(c, fiber.StatusBadRequest, "invalid stock notification")
	}

	if err := s.products.DecrementStock(n.ProductID, n.QuantitySold); err != nil {
		log.Errorf("[API] stock update failed for product %d: %v", n.ProductID, err)
		return fail(c, fiber.StatusInternalServerError, "stock update failed")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

type orderNotification struct {
	ProductID     uint    `json:"product_id"`
	Quantity      int     `json:"quantity"`
	OrderID       uint    `json:"order_id"`
	ItemTotal     float64 `json:"item_total"`
	CustomerEmail string  `json:"customer_email"`
}

// PostOrderCompleted records a completed remote order for a product this
// site transferred out.
func (s *APIServer) PostOrderCompleted(c *fiber.Ctx) error {
	var n orderNotification
	if err := c.BodyParser(&n); err != nil || n.ProductID == 0 {
		return fail(c, fiber.StatusBadRequest, "invalid order notification")
	}

	statistics.RecordRemoteOrder(n.ItemTotal)
	if s.bus != nil {
		s.bus.Publish(events.OrderCompletedNotification, &n)
	}
	log.Infof("[API] remote order %d completed: product %d x%d, item total %.2f", n.OrderID, n.ProductID, n.Quantity, n.ItemTotal)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

type itemNotification struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

// PostItemRemoved acknowledges that a transferred line was dropped from a
// remote cart. Log-only.
func (s *APIServer) PostItemRemoved(c *fiber.Ctx) error {
	var n itemNotification
	if err := c.BodyParser(&n); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid notification")
	}

	log.Infof("[API] transferred item removed from remote cart: product %d x%d", n.ProductID, n.Quantity)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

// hasBasicCredentials accepts any well-formed non-empty key/secret pair.
// Identity is proven by the payload signature; the Basic header only filters
// out anonymous scanners.
func hasBasicCredentials(c *fiber.Ctx) bool {
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, "Basic ") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	return found && user != "" && pass != ""
}

func (s *APIServer) logEvent(c *fiber.Ctx, eventType string, details map[string]interface{}) {
	entry := &models.SecurityLog{
		EventType: eventType,
		IPAddress: security.ClientIP(c),
		UserAgent: c.Get("User-Agent"),
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = models.JSON(data)
		}
	}
	if err := s.logs.Create(entry); err != nil {
		log.Errorf("[API] failed to write security log: %v", err)
	}
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
