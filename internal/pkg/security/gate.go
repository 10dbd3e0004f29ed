// Package security implements the per-request gate protecting the transfer
// API: ban checks, IP allow-listing, rate limiting and request signature
// verification, with every rejection recorded in the security log.
package security

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/cache"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

const (
	banKeyPrefix       = "cartbridge:ban:"
	rateLimitKeyPrefix = "cartbridge:ratelimit:"
	rateLimitWindow    = time.Hour
	failureWindow      = time.Hour
	banThreshold       = 10
)

// Store is the counter/flag backend for bans and rate limiting. Production
// uses Redis via the cache package; tests use an in-memory implementation.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, expiration time.Duration) error
	Incr(key string, expiration time.Duration) (int64, error)
	Delete(key string) error
}

// cacheStore adapts the package-level cache helpers to the Store interface.
type cacheStore struct{}

func (cacheStore) Get(key string) (string, error) { return cache.Get(key) }
func (cacheStore) Set(key string, value interface{}, expiration time.Duration) error {
	return cache.Set(key, value, expiration)
}
func (cacheStore) Incr(key string, expiration time.Duration) (int64, error) {
	return cache.Incr(key, expiration)
}
func (cacheStore) Delete(key string) error { return cache.Delete(key) }

// Gate is the request gate for the transfer API group.
type Gate struct {
	store    Store
	logs     repository.SecurityLogRepository
	settings transfer.SettingsFunc
}

// NewGate creates a gate backed by the Redis cache.
func NewGate(logs repository.SecurityLogRepository, settings transfer.SettingsFunc) *Gate {
	return &Gate{store: cacheStore{}, logs: logs, settings: settings}
}

// NewGateWithStore creates a gate over an explicit store. Used by tests.
func NewGateWithStore(store Store, logs repository.SecurityLogRepository, settings transfer.SettingsFunc) *Gate {
	return &Gate{store: store, logs: logs, settings: settings}
}

// Middleware returns the fiber handler enforcing the gate. Checks run in
// fixed order: ban, allow-list, rate limit, then signature for mutating
// requests. The first failing check rejects the request.
func (g *Gate) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := ClientIP(c)
		s := g.settings()

		if g.isBanned(ip) {
			g.record(c, ip, models.SecurityEventIPBlocked, map[string]interface{}{"reason": "banned"})
			return reject(c, fiber.StatusForbidden, "access denied")
		}

		if s != nil {
			if allowed := s.GetAllowedIPs(); len(allowed) > 0 && !contains(allowed, ip) {
				g.record(c, ip, models.SecurityEventIPBlocked, map[string]interface{}{"reason": "not in allow-list"})
				g.registerFailure(c, ip)
				return reject(c, fiber.StatusForbidden, "access denied")
			}
		}

		limit := 100
		if s != nil {
			limit = s.GetRateLimit()
		}
		count, err := g.store.Incr(rateLimitKeyPrefix+ip, rateLimitWindow)
		if err != nil {
			log.Errorf("[Security] rate limit counter failed for %s: %v", ip, err)
		} else if count > int64(limit) {
			g.record(c, ip, models.SecurityEventRateLimitExceeded, map[string]interface{}{"count": count, "limit": limit})
			g.registerFailure(c, ip)
			return reject(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		}

		if isMutating(c.Method()) {
			if ok, resp := g.verifySignature(c, ip); !ok {
				return resp
			}
		}

		return c.Next()
	}
}

// verifySignature checks X-Timestamp freshness before the X-Signature HMAC
// over the raw body. Replays are rejected even with a valid signature.
func (g *Gate) verifySignature(c *fiber.Ctx, ip string) (bool, error) {
	s := g.settings()
	key := ""
	if s != nil {
		key = s.GetEncryptionKey()
	}
	if key == "" {
		g.record(c, ip, models.SecurityEventFailedAuth, map[string]interface{}{"reason": "no encryption key configured"})
		return false, reject(c, fiber.StatusUnauthorized, "signature verification unavailable")
	}

	tsHeader := c.Get("X-Timestamp")
	signature := c.Get("X-Signature")
	if tsHeader == "" || signature == "" {
		g.record(c, ip, models.SecurityEventInvalidSignature, map[string]interface{}{"reason": "missing signature headers"})
		g.registerFailure(c, ip)
		return false, reject(c, fiber.StatusUnauthorized, "missing signature")
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil || !transfer.Fresh(ts, time.Now()) {
		g.record(c, ip, models.SecurityEventReplayRejected, map[string]interface{}{"timestamp": tsHeader})
		g.registerFailure(c, ip)
		return false, reject(c, fiber.StatusUnauthorized, "request expired")
	}

	if !transfer.Verify(c.Body(), ts, key, signature) {
		g.record(c, ip, models.SecurityEventInvalidSignature, map[string]interface{}{"reason": "signature mismatch"})
		g.registerFailure(c, ip)
		return false, reject(c, fiber.StatusUnauthorized, "invalid signature")
	}

	return true, nil
}

func (g *Gate) isBanned(ip string) bool {
	val, err := g.store.Get(banKeyPrefix + ip)
	return err == nil && val != ""
}

// registerFailure counts gate rejections per IP and issues a temporary ban
// once the threshold is crossed within the failure window.
func (g *Gate) registerFailure(c *fiber.Ctx, ip string) {
	count, err := g.logs.CountByIPSince(ip, time.Now().Add(-failureWindow))
	if err != nil {
		log.Errorf("[Security] failure count lookup failed for %s: %v", ip, err)
		return
	}
	if count < banThreshold {
		return
	}

	banDuration := 3600
	if s := g.settings(); s != nil {
		banDuration = s.GetBanDuration()
	}
	if err := g.store.Set(banKeyPrefix+ip, "1", time.Duration(banDuration)*time.Second); err != nil {
		log.Errorf("[Security] failed to ban %s: %v", ip, err)
		return
	}
	g.record(c, ip, models.SecurityEventIPBanned, map[string]interface{}{
		"failures":     count,
		"ban_duration": banDuration,
	})
	log.Warnf("[Security] banned %s for %ds after %d failures", ip, banDuration, count)
}

// record appends a security log row. Logging failures must not affect the
// request, they are only reported.
func (g *Gate) record(c *fiber.Ctx, ip, eventType string, details map[string]interface{}) {
	entry := &models.SecurityLog{
		EventType: eventType,
		IPAddress: ip,
		UserAgent: c.Get("User-Agent"),
	}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = models.JSON(data)
		}
	}
	if err := g.logs.Create(entry); err != nil {
		log.Errorf("[Security] failed to write security log: %v", err)
	}
}

func reject(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		return true
	}
	return false
}
