package v1

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/simpix/formalization/internal/controller/restapi/v1/response"
	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/pkg/logger"
)

// WebhookSecrets maps a provider path segment to its shared HMAC secret.
type WebhookSecrets map[string][]byte

type V1 struct {
	proposals usecase.ProposalUseCase
	jobs      usecase.JobsUseCase
	logger    logger.Interface

	secrets WebhookSecrets
	maxSkew time.Duration
}

func errorResponse(ctx *fiber.Ctx, code int, msg string) error {
	return ctx.Status(code).JSON(response.Error{Error: msg})
}

func internalError(ctx *fiber.Ctx) error {
	return errorResponse(ctx, http.StatusInternalServerError, "internal problems")
}
