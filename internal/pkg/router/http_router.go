package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cartbridge/cartbridge/app/controllers"
	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/app/repository"
	"github.com/cartbridge/cartbridge/internal/pkg/collector"
	"github.com/cartbridge/cartbridge/internal/pkg/env"
	"github.com/cartbridge/cartbridge/internal/pkg/events"
	"github.com/cartbridge/cartbridge/internal/pkg/relay"
	"github.com/cartbridge/cartbridge/internal/pkg/statistics"
	"github.com/cartbridge/cartbridge/internal/pkg/transfer"
)

type HttpRouter struct {
}

// InstallRouter mounts the shopper-facing routes.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	repos := repository.GetGlobalRepositories()
	siteURL := env.GetEnv("APP_URL", "http://localhost:4000")

	col := collector.New(repos.Product)
	client := transfer.NewClient(repos.Transfer, events.Default(), models.GetTransferSettings, siteURL)
	rel := relay.New(models.GetTransferSettings)
	tc := controllers.NewTransferController(col, client, repos.Cart, repos.Order, rel)

	app.Post("/transfer", tc.HandleTransfer)
	app.Get("/transfer/test-connection", tc.HandleTestConnection)
	app.Get("/cart/:token", tc.HandleGetCart)
	app.Delete("/cart/:token/items/:key", tc.HandleRemoveCartItem)
	app.Post("/checkout/:token", tc.HandleCheckout)

	app.Get("/stats", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(statistics.GetStatisticsData())
	})
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
