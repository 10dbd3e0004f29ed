package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type capturedRequest struct {
	path      string
	body      map[string]interface{}
	signature string
	timestamp string
	auth      string
}

type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newRecordingServer() *recordingServer {
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		json.Unmarshal(data, &body)

		rs.mu.Lock()
		rs.requests = append(rs.requests, capturedRequest{
			path:      r.URL.Path,
			body:      body,
			signature: r.Header.Get("X-Signature"),
			timestamp: r.Header.Get("X-Timestamp"),
			auth:      r.Header.Get("Authorization"),
		})
		rs.mu.Unlock()

		w.Write([]byte(`{"success":true}`))
	}))
	return rs
}

func (rs *recordingServer) captured() []capturedRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]capturedRequest(nil), rs.requests...)
}

func relaySettings() transfer.SettingsFunc {
	s := &models.TransferSettings{
		Enabled:       true,
		APIKey:        "key",
		APISecret:     "secret",
		EncryptionKey: testKey,
		SSLVerify:     true,
		RateLimit:     100,
		BanDuration:   3600,
	}
	return func() *models.TransferSettings { return s }
}

func TestOrderCompletedNotifiesSourceSite(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	r := New(relaySettings())
	r.OrderCompleted(&models.Order{
		ID:            9,
		CustomerEmail: "shopper@example.com",
		Items: []models.OrderItem{
			{
				ProductID:         1,
				OriginalProductID: 42,
				Quantity:          2,
				ItemTotal:         39.98,
				Transferred:       true,
				SourceSite:        server.URL,
			},
			{ProductID: 2, Quantity: 1},
		},
	})

	requests := server.captured()
	if len(requests) != 2 {
		t.Fatalf("expected 2 notifications for the transferred line, got %d", len(requests))
	}

	stock := requests[0]
	if stock.path != transfer.APIBase+"/update-stock" {
		t.Fatalf("unexpected first path %q", stock.path)
	}
	if stock.body["product_id"] != float64(42) || stock.body["quantity_sold"] != float64(2) {
		t.Fatalf("unexpected stock body: %v", stock.body)
	}
	if stock.body["order_id"] != float64(9) {
		t.Fatalf("stock notification missing order id: %v", stock.body)
	}

	completed := requests[1]
	if completed.path != transfer.APIBase+"/order-completed" {
		t.Fatalf("unexpected second path %q", completed.path)
	}
	if completed.body["order_id"] != float64(9) || completed.body["item_total"] != float64(39.98) {
		t.Fatalf("unexpected order body: %v", completed.body)
	}
	if completed.body["customer_email"] != "shopper@example.com" {
		t.Fatalf("customer email not carried: %v", completed.body)
	}
}

func TestNotificationsAreSigned(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	r := New(relaySettings())
	r.ItemRemoved(&models.CartItem{
		OriginalProductID: 42,
		Quantity:          1,
		Transferred:       true,
		SourceSite:        server.URL,
	})

	requests := server.captured()
	if len(requests) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(requests))
	}

	req := requests[0]
	if req.auth == "" {
		t.Fatal("expected basic auth header")
	}
	ts, err := strconv.ParseInt(req.timestamp, 10, 64)
	if err != nil {
		t.Fatalf("bad timestamp header %q", req.timestamp)
	}
	if !transfer.Fresh(ts, time.Now()) {
		t.Fatal("timestamp not fresh")
	}

	body, _ := json.Marshal(map[string]interface{}{
		"product_id": float64(42),
		"quantity":   float64(1),
	})
	if req.signature != transfer.Sign(body, ts, testKey) {
		t.Fatal("body signature does not verify")
	}
}

func TestItemRemovedSkipsLocalLines(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	r := New(relaySettings())
	r.ItemRemoved(&models.CartItem{ProductID: 1, Quantity: 1, SourceSite: server.URL})
	r.ItemRemoved(&models.CartItem{ProductID: 2, Quantity: 1, Transferred: true})

	if got := server.captured(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %d", len(got))
	}
}

func TestNotificationSkippedWithoutKey(t *testing.T) {
	server := newRecordingServer()
	defer server.Close()

	s := &models.TransferSettings{Enabled: true, APIKey: "key", APISecret: "secret"}
	r := New(func() *models.TransferSettings { return s })
	r.ItemRemoved(&models.CartItem{
		OriginalProductID: 42,
		Quantity:          1,
		Transferred:       true,
		SourceSite:        server.URL,
	})

	if got := server.captured(); len(got) != 0 {
		t.Fatalf("unsigned notification must not be sent, got %d", len(got))
	}
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	r := New(relaySettings())

	// nothing listens on this port; the relay must not panic or block
	r.ItemRemoved(&models.CartItem{
		OriginalProductID: 42,
		Quantity:          1,
		Transferred:       true,
		SourceSite:        "http://127.0.0.1:1",
	})
}
