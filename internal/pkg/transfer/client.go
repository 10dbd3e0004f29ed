package transfer

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/events"
)

const (
	// Version identifies the transfer protocol implementation on the wire.
	Version   = "1.0.0"
	userAgent = "CartBridge/" + Version

	// APIBase is the route prefix shared by both sites.
	APIBase = "/cross-site-cart/v1"

	transferTimeout = 30 * time.Second
	testTimeout     = 15 * time.Second
)

// SettingsFunc yields the current transfer settings. Injected so tests can
// swap configuration without a database.
type SettingsFunc func() *models.TransferSettings

// Result is the outcome of a successful outbound transfer.
type Result struct {
	TransferID  uint    `json:"transfer_id"`
	ProductID   uint    `json:"product_id"`
	CartItemKey string  `json:"cart_item_key"`
	RedirectURL string  `json:"redirect_url"`
	CartCount   int     `json:"cart_count"`
	CartTotal   float64 `json:"cart_total"`
	SSLWarning  bool    `json:"ssl_warning,omitempty"`
}

// TestConnectionResult is the outcome of a connectivity probe.
type TestConnectionResult struct {
	Success    bool   `json:"success"`
	Site       string `json:"site"`
	Version    string `json:"version"`
	ServerTime int64  `json:"server_time"`
	SSLWarning bool   `json:"ssl_warning,omitempty"`
}

// Client sends signed product transfers to the configured target site.
type Client struct {
	ledger     repository.TransferRepository
	bus        *events.Bus
	settings   SettingsFunc
	sourceSite string
}

// NewClient creates a transfer client. sourceSite is this deployment's public
// base URL and is stamped into every payload.
func NewClient(ledger repository.TransferRepository, bus *events.Bus, settings SettingsFunc, sourceSite string) *Client {
	return &Client{
		ledger:     ledger,
		bus:        bus,
		settings:   settings,
		sourceSite: strings.TrimRight(sourceSite, "/"),
	}
}

// Transfer validates the payload and configuration, records a ledger row,
// POSTs the signed envelope to the target and resolves the ledger row into
// exactly one terminal state. cartToken is the shopper's existing cart token
// on the target site, empty for a fresh cart; passing it makes the target
// replace that cart's contents instead of opening a new one.
func (c *Client) Transfer(payload *TransferPayload, cartToken string) (*Result, error) {
	s := c.settings()
	if s == nil || !s.IsEnabled() {
		return nil, NewError(KindValidation, "transfers are disabled")
	}
	target := s.GetTargetURL()
	if target == "" {
		return nil, NewError(KindValidation, "no target site configured")
	}
	apiKey, apiSecret := s.GetCredentials()
	if apiKey == "" || apiSecret == "" {
		return nil, NewError(KindValidation, "API credentials are not configured")
	}
	encryptionKey := s.GetEncryptionKey()
	if encryptionKey == "" {
		return nil, NewError(KindValidation, "encryption key is not configured")
	}

	payload.SourceSite = c.sourceSite
	if payload.Timestamp == 0 {
		payload.Timestamp = time.Now().Unix()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	canonical, err := payload.Canonical()
	if err != nil {
		return nil, WrapError(KindValidation, "failed to encode payload", err)
	}

	row := &models.Transfer{
		SourceProductID: payload.OriginalProductID,
		SourceSite:      c.sourceSite,
		TargetSite:      target,
		Status:          models.TransferStatusInitiated,
		Payload:         models.JSON(canonical),
	}
	if err := c.ledger.Create(row); err != nil {
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}
	c.publish(events.TransferInitiated, row)

	envelope := Envelope{
		Payload:   *payload,
		Timestamp: payload.Timestamp,
		Signature: Sign(canonical, payload.Timestamp, encryptionKey),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, c.fail(row, WrapError(KindValidation, "failed to encode envelope", err))
	}

	headerTS := time.Now().Unix()
	headers := map[string]string{
		"Content-Type":       "application/json",
		"User-Agent":         userAgent,
		"X-Source-Site":      c.sourceSite,
		"X-Transfer-Version": Version,
		"X-Timestamp":        strconv.FormatInt(headerTS, 10),
		"X-Signature":        Sign(body, headerTS, encryptionKey),
	}
	if cartToken != "" {
		headers["X-Cart-Token"] = cartToken
	}

	resp, sslWarning, err := c.do(http.MethodPost, target+APIBase+"/receive-product", body, headers, apiKey, apiSecret, transferTimeout, s.VerifySSL())
	if err != nil {
		return nil, c.fail(row, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(row, WrapError(KindProtocol, "failed to read response", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(row, ProtocolError(fmt.Sprintf("target returned status %d", resp.StatusCode), respBody))
	}

	var rr ReceiveResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, c.fail(row, ProtocolError("target returned malformed JSON", respBody))
	}
	if !rr.Success || rr.Data == nil {
		msg := rr.Message
		if msg == "" {
			msg = "target rejected the transfer"
		}
		return nil, c.fail(row, NewError(KindRejected, msg))
	}

	if err := c.ledger.MarkCompleted(row.ID, rr.Data.ProductID); err != nil {
		log.Errorf("[Transfer] ledger completion update failed for transfer %d: %v", row.ID, err)
	}
	row.Status = models.TransferStatusCompleted
	row.TargetProductID = rr.Data.ProductID
	c.publish(events.TransferCompleted, row)

	if sslWarning {
		log.Warnf("[Transfer] transfer %d completed after insecure TLS fallback", row.ID)
	}

	return &Result{
		TransferID:  row.ID,
		ProductID:   rr.Data.ProductID,
		CartItemKey: rr.Data.CartItemKey,
		RedirectURL: rr.Data.RedirectURL,
		CartCount:   rr.Data.CartCount,
		CartTotal:   rr.Data.CartTotal,
		SSLWarning:  sslWarning,
	}, nil
}

// TestConnection probes the target's test-connection endpoint.
func (c *Client) TestConnection() (*TestConnectionResult, error) {
	s := c.settings()
	if s == nil || s.GetTargetURL() == "" {
		return nil, NewError(KindValidation, "no target site configured")
	}

	headers := map[string]string{"User-Agent": userAgent}
	resp, sslWarning, err := c.do(http.MethodGet, s.GetTargetURL()+APIBase+"/test-connection", nil, headers, "", "", testTimeout, s.VerifySSL())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(KindProtocol, "failed to read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ProtocolError(fmt.Sprintf("target returned status %d", resp.StatusCode), respBody)
	}

	var result TestConnectionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, ProtocolError("target returned malformed JSON", respBody)
	}
	result.SSLWarning = sslWarning
	return &result, nil
}

// do performs the request with TLS verification enabled. On a certificate
// error it retries exactly once without verification, but only when the
// operator has disabled strict verification in the settings.
func (c *Client) do(method, url string, body []byte, headers map[string]string, apiKey, apiSecret string, timeout time.Duration, verifySSL bool) (*http.Response, bool, error) {
	send := func(insecure bool) (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, url, reader)
		if err != nil {
			return nil, WrapError(KindValidation, "failed to build request", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if apiKey != "" {
			req.SetBasicAuth(apiKey, apiSecret)
		}
		return newHTTPClient(timeout, insecure).Do(req)
	}

	resp, err := send(false)
	if err == nil {
		return resp, false, nil
	}

	if isTimeout(err) {
		return nil, false, WrapError(KindNetworkTimeout, "request timed out", err)
	}
	if !isTLSError(err) {
		return nil, false, WrapError(KindProtocol, "request failed", err)
	}
	if verifySSL {
		return nil, false, WrapError(KindTLS, "certificate verification failed", err)
	}

	log.Warnf("[Transfer] TLS verification failed for %s, retrying without verification", url)
	resp, err = send(true)
	if err != nil {
		if isTimeout(err) {
			return nil, false, WrapError(KindNetworkTimeout, "request timed out", err)
		}
		return nil, false, WrapError(KindTLS, "request failed after TLS fallback", err)
	}
	return resp, true, nil
}

func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	transport := &http.Transport{}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// tlsErrorKeywords match the certificate failure modes seen from Go's TLS
// stack and from proxies that terminate the connection with an error page.
var tlsErrorKeywords = []string{
	"tls:",
	"x509:",
	"certificate",
	"SSL",
}

func isTLSError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, kw := range tlsErrorKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}

func (c *Client) publish(name events.Name, row *models.Transfer) {
	if c.bus != nil {
		c.bus.Publish(name, row)
	}
}

// fail records the terminal failed state and returns the original error.
func (c *Client) fail(row *models.Transfer, err error) error {
	if lerr := c.ledger.MarkFailed(row.ID, err.Error()); lerr != nil && lerr != repository.ErrAlreadyTerminal {
		log.Errorf("[Transfer] ledger failure update failed for transfer %d: %v", row.ID, lerr)
	}
	row.Status = models.TransferStatusFailed
	row.ErrorMessage = err.Error()
	c.publish(events.TransferFailed, row)
	return err
}
