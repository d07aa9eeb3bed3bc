package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"

	"github.com/simpix/formalization/config"
	v1 "github.com/simpix/formalization/internal/controller/restapi/v1"
	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/pkg/logger"
)

// @title Credit proposal formalization
// @version 1.0.0
// @host localhost:8080
// @BasePath /v1
func NewRouter(app *fiber.App, cfg *config.Config, proposals usecase.ProposalUseCase, jobs usecase.JobsUseCase, l logger.Interface) {
	// Swagger
	if cfg.Swagger.Enabled {
		app.Get("/swagger/*", swagger.HandlerDefault)
	}

	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.SendString("ok")
	})

	secrets := v1.WebhookSecrets{
		"clicksign": []byte(cfg.Webhook.ClickSignSecret),
		"inter":     []byte(cfg.Webhook.InterSecret),
	}

	// Routers
	apiV1Group := app.Group("/v1")
	{
		v1.NewFormalizationRoutes(apiV1Group, proposals, jobs, secrets, cfg.Webhook.MaxSkew, l)
	}
}
