// Package controllers holds the shopper-facing HTTP handlers: starting a
// transfer, viewing the cart and checking out.
package controllers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/collector"
	"github.com/cartbridge/cartbridge/internal/pkg/relay"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

// TransferController wires the shopper endpoints to the transfer pipeline.
type TransferController struct {
	collector *collector.Collector
	client    *transfer.Client
	carts     repository.CartRepository
	orders    repository.OrderRepository
	relay     *relay.Relay
	validate  *validator.Validate
}

// NewTransferController creates the controller.
func NewTransferController(col *collector.Collector, client *transfer.Client, carts repository.CartRepository, orders repository.OrderRepository, rel *relay.Relay) *TransferController {
	return &TransferController{
		collector: col,
		client:    client,
		carts:     carts,
		orders:    orders,
		relay:     rel,
		validate:  validator.New(),
	}
}

// HandleTransfer starts an outbound transfer. Internal failure detail goes to
// the ledger and the logs; the shopper only sees a generic retry message.
func (tc *TransferController) HandleTransfer(c *fiber.Ctx) error {
	var req collector.Request
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request")
	}
	if err := tc.validate.Struct(req); err != nil {
		return fail(c, fiber.StatusBadRequest, "product and quantity are required")
	}

	payload, err := tc.collector.Collect(req)
	if err != nil {
		log.Warnf("[Transfer] payload collection failed for product %d: %v", req.ProductID, err)
		if transfer.IsKind(err, transfer.KindValidation) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		return fail(c, fiber.StatusInternalServerError, "transfer failed, please try again")
	}

	result, err := tc.client.Transfer(payload, req.CartToken)
	if err != nil {
		log.Errorf("[Transfer] transfer failed for product %d: %v", req.ProductID, err)
		if transfer.IsKind(err, transfer.KindValidation) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		return fail(c, fiber.StatusBadGateway, "transfer failed, please try again")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":      true,
		"redirect_url": result.RedirectURL,
		"ssl_warning":  result.SSLWarning,
	})
}

// HandleTestConnection probes the configured target site.
func (tc *TransferController) HandleTestConnection(c *fiber.Ctx) error {
	result, err := tc.client.TestConnection()
	if err != nil {
		log.Warnf("[Transfer] connection test failed: %v", err)
		return fail(c, fiber.StatusBadGateway, "connection test failed")
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

// HandleGetCart shows the cart for a token.
func (tc *TransferController) HandleGetCart(c *fiber.Ctx) error {
	cart, err := tc.carts.GetByToken(c.Params("token"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return fail(c, fiber.StatusNotFound, "cart not found")
		}
		log.Errorf("[Cart] lookup failed: %v", err)
		return fail(c, fiber.StatusInternalServerError, "cart unavailable")
	}

	items := make([]fiber.Map, 0, len(cart.Items))
	var total float64
	for _, item := range cart.Items {
		total += item.LineTotal()
		items = append(items, fiber.Map{
			"item_key":   item.ItemKey,
			"product_id": item.ProductID,
			"name":       item.Product.Name,
			"quantity":   item.Quantity,
			"price":      item.EffectivePrice(),
			"line_total": item.LineTotal(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"token":   cart.Token,
		"items":   items,
		"total":   total,
	})
}

// HandleRemoveCartItem drops one line and notifies the source site when the
// line came from a transfer.
func (tc *TransferController) HandleRemoveCartItem(c *fiber.Ctx) error {
	cart, err := tc.carts.GetByToken(c.Params("token"))
	if err != nil {
		return fail(c, fiber.StatusNotFound, "cart not found")
	}

	item, err := tc.carts.RemoveItem(cart.ID, c.Params("key"))
	if err != nil {
		return fail(c, fiber.StatusNotFound, "cart item not found")
	}
	if item.Transferred {
		go tc.relay.ItemRemoved(item)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

type checkoutRequest struct {
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
}

// HandleCheckout converts the cart into a completed order, destroys the cart
// and notifies the source sites. Payment processing is out of scope, so the
// order completes immediately.
func (tc *TransferController) HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "invalid request")
		}
		if err := tc.validate.Struct(req); err != nil {
			return fail(c, fiber.StatusBadRequest, "invalid customer email")
		}
	}

	cart, err := tc.carts.GetByToken(c.Params("token"))
	if err != nil {
		return fail(c, fiber.StatusNotFound, "cart not found")
	}
	if len(cart.Items) == 0 {
		return fail(c, fiber.StatusBadRequest, "cart is empty")
	}

	now := time.Now()
	order := &models.Order{
		CartToken:     cart.Token,
		Status:        models.OrderStatusCompleted,
		CustomerEmail: req.CustomerEmail,
		CompletedAt:   &now,
	}
	for _, item := range cart.Items {
		order.Total += item.LineTotal()
		order.Items = append(order.Items, models.OrderItem{
			ProductID:         item.ProductID,
			Quantity:          item.Quantity,
			ItemTotal:         item.LineTotal(),
			Transferred:       item.Transferred,
			SourceSite:        item.SourceSite,
			OriginalPrice:     item.OriginalPrice,
			OriginalProductID: item.OriginalProductID,
			TransferMeta:      item.TransferMeta,
		})
	}

	if err := tc.orders.Create(order); err != nil {
		log.Errorf("[Checkout] order creation failed for cart %s: %v", cart.Token, err)
		return fail(c, fiber.StatusInternalServerError, "checkout failed")
	}

	if err := tc.carts.Delete(cart.ID); err != nil {
		log.Errorf("[Checkout] cart cleanup failed for cart %s: %v", cart.Token, err)
	}

	go tc.relay.OrderCompleted(order)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":  true,
		"order_id": order.ID,
		"total":    order.Total,
	})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}
