package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/simpix/formalization/internal/controller/restapi/v1/response"
	"github.com/simpix/formalization/internal/controller/restapi/v1/validate"
	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/types/errs"
)

var webhookSources = map[string]entity.EventSource{
	"clicksign": entity.SourceSignatureProvider,
	"inter":     entity.SourceBankingProvider,
}

// @Summary  	Ingest provider webhook
// @Description Authenticates and stores one provider notification, then applies it to the proposal
// @Tags 		webhooks
// @Accept 		json
// @Produce 	json
// @Param 		provider path string true "Provider" Enums(clicksign, inter)
// @Param 		X-Webhook-Signature header string true "hex HMAC-SHA256 of <timestamp>.<body>"
// @Param 		X-Webhook-Timestamp header string true "unix timestamp the signature covers"
// @Success 	200 {object} response.WebhookAck
// @Failure 	400 {object} response.Error "Malformed payload"
// @Failure 	401 {object} response.Error "Bad signature or stale timestamp"
// @Failure 	404 {object} response.Error "Unknown provider"
// @Failure 	413 {object} response.Error "Payload too large"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/webhooks/{provider} [post]
func (r *V1) ingestWebhook(ctx *fiber.Ctx) error {
	provider := ctx.Params("provider")

	source, ok := webhookSources[provider]
	if !ok {
		return errorResponse(ctx, http.StatusNotFound, "unknown provider")
	}

	secret, ok := r.secrets[provider]
	if !ok {
		r.logger.Error("no webhook secret configured for "+provider, "restapi - v1 - ingestWebhook")

		return internalError(ctx)
	}

	body := ctx.Body()
	if len(body) == 0 {
		return errorResponse(ctx, http.StatusBadRequest, "empty body")
	}
	if len(body) > validate.MaxBodySize {
		return errorResponse(ctx, http.StatusRequestEntityTooLarge, "payload too large")
	}

	err := validate.Signature(
		secret,
		ctx.Get(validate.TimestampHeader),
		body,
		ctx.Get(validate.SignatureHeader),
		time.Now(),
		r.maxSkew,
	)
	if err != nil {
		// No detail in the response, an attacker probing signatures learns
		// nothing from the distinction.
		return errorResponse(ctx, http.StatusUnauthorized, "unauthorized")
	}

	eventID, err := r.proposals.Ingest(ctx.UserContext(), source, entity.OriginWebhook, body)
	if err != nil {
		if errors.Is(err, errs.ErrMalformedPayload) {
			r.logger.Warn("malformed %s webhook rejected: %v", provider, err)

			return errorResponse(ctx, http.StatusBadRequest, "malformed payload")
		}
		r.logger.Error(err, "restapi - v1 - ingestWebhook")

		return internalError(ctx)
	}

	return ctx.Status(http.StatusOK).JSON(response.WebhookAck{EventID: eventID.String()})
}
