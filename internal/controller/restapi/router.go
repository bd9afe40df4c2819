package restapi

import (
	"net/http"

	"github.com/andreyxaxa/Event-Queue/config"
	v1 "github.com/andreyxaxa/Event-Queue/internal/controller/restapi/v1"
	"github.com/andreyxaxa/Event-Queue/internal/controller/restapi/v1/response"
	"github.com/andreyxaxa/Event-Queue/internal/usecase"
	"github.com/andreyxaxa/Event-Queue/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// @title Event queue
// @version 1.0.0
// @host localhost:8080
// @BasePath /v1
func NewRouter(app *fiber.App, cfg *config.Config, q usecase.Queue, p v1.PoolView, metrics http.Handler, l logger.Interface) {
	app.Use(recover.New())

	// Probes
	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		healthy := p != nil && p.HealthCheck()
		if !healthy {
			return ctx.Status(http.StatusServiceUnavailable).JSON(response.Health{Healthy: false})
		}
		return ctx.JSON(response.Health{Healthy: true})
	})

	// Prometheus
	if cfg.Metrics.Enabled && metrics != nil {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(metrics))
	}

	// Routers
	apiV1Group := app.Group("/v1")
	{
		v1.NewEventRoutes(apiV1Group, q, p, l)
	}
}
