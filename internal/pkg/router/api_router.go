package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	apiv1 "github.com/cartbridge/cartbridge/internal/api/v1"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/env"
	"github.com/cartbridge/cartbridge/internal/pkg/events"
	"github.com/cartbridge/cartbridge/internal/pkg/reconciler"
	"github.com/cartbridge/cartbridge/internal/pkg/security"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

type ApiRouter struct {
}

// InstallRouter mounts the transfer protocol under /cross-site-cart/v1.
// A coarse Redis-backed limiter runs before the gate, which enforces the
// configurable per-IP budget, bans and request signatures.
func (h ApiRouter) InstallRouter(app *fiber.App) {
	repos := repository.GetGlobalRepositories()
	siteURL := env.GetEnv("APP_URL", "http://localhost:4000")

	gate := security.NewGate(repos.SecurityLog, models.GetTransferSettings)

	api := app.Group(transfer.APIBase, limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
		KeyGenerator: func(c *fiber.Ctx) string {
			return security.ClientIP(c)
		},
	}), gate.Middleware())

	rec := reconciler.New(repos.Product, repos.Cart, siteURL)
	apiServer := apiv1.NewAPIServer(rec, repos, models.GetTransferSettings, events.Default(), siteURL)
	apiv1.RegisterHandlers(api, apiServer)
}

func newLimiterStorage() *redisstorage.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		Database: 1,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
