// Package relay notifies source sites about events concerning products they
// transferred here: completed orders, stock to decrement, removed cart lines.
// Notifications are best-effort; failures are logged and never propagated.
package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

const notifyTimeout = 15 * time.Second

// Relay sends signed notifications back to source sites.
type Relay struct {
	settings   transfer.SettingsFunc
	httpClient *http.Client
}

// New creates a relay.
func New(settings transfer.SettingsFunc) *Relay {
	return &Relay{
		settings:   settings,
		httpClient: &http.Client{Timeout: notifyTimeout},
	}
}

// OrderCompleted notifies every source site involved in the order. For each
// transferred line it posts a stock decrement followed by an order-completed
// notification. Call it from a goroutine; it only logs failures.
func (r *Relay) OrderCompleted(order *models.Order) {
	for _, item := range order.Items {
		if !item.Transferred || item.SourceSite == "" {
			continue
		}
		r.notify(item.SourceSite, "/update-stock", map[string]interface{}{
			"product_id":    item.OriginalProductID,
			"quantity_sold": item.Quantity,
			"order_id":      order.ID,
		})
		r.notify(item.SourceSite, "/order-completed", map[string]interface{}{
			"product_id":     item.OriginalProductID,
			"quantity":       item.Quantity,
			"order_id":       order.ID,
			"item_total":     item.ItemTotal,
			"customer_email": order.CustomerEmail,
		})
	}
}

// ItemRemoved tells the source site that a transferred cart line was removed
// before checkout.
func (r *Relay) ItemRemoved(item *models.CartItem) {
	if !item.Transferred || item.SourceSite == "" {
		return
	}
	r.notify(item.SourceSite, "/item-removed", map[string]interface{}{
		"product_id": item.OriginalProductID,
		"quantity":   item.Quantity,
	})
}

// notify posts one signed JSON notification. The receiving site runs the same
// gate as ours, so the request carries Basic auth plus timestamp and body
// signature headers.
func (r *Relay) notify(sourceSite, path string, payload map[string]interface{}) {
	s := r.settings()
	if s == nil {
		return
	}
	key := s.GetEncryptionKey()
	if key == "" {
		log.Warnf("[Relay] skipping notification %s: no encryption key configured", path)
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[Relay] failed to encode notification %s: %v", path, err)
		return
	}

	url := strings.TrimRight(sourceSite, "/") + transfer.APIBase + path
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Errorf("[Relay] failed to build notification %s: %v", url, err)
		return
	}

	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CartBridge/"+transfer.Version)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", transfer.Sign(body, ts, key))
	if apiKey, apiSecret := s.GetCredentials(); apiKey != "" {
		req.SetBasicAuth(apiKey, apiSecret)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Warnf("[Relay] notification %s failed: %v", url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warnf("[Relay] notification %s returned status %d", url, resp.StatusCode)
	}
}
