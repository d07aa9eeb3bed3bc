package v1

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/pkg/logger"
)

func NewFormalizationRoutes(
	apiV1Group fiber.Router,
	proposals usecase.ProposalUseCase,
	jobs usecase.JobsUseCase,
	secrets WebhookSecrets,
	maxSkew time.Duration,
	l logger.Interface,
) {
	r := &V1{
		proposals: proposals,
		jobs:      jobs,
		logger:    l,
		secrets:   secrets,
		maxSkew:   maxSkew,
	}

	{
		// Webhooks
		apiV1Group.Post("/webhooks/:provider", r.ingestWebhook)

		// Proposals
		apiV1Group.Post("/proposals", r.createProposal)
		apiV1Group.Get("/proposals/:id", r.getProposal)
		apiV1Group.Post("/proposals/:id/document-ready", r.documentReady)
		apiV1Group.Post("/proposals/:id/revert-pendency", r.revertPendency)
		apiV1Group.Post("/proposals/:id/cancel", r.cancelProposal)

		// Jobs
		apiV1Group.Get("/jobs/counts", r.jobCounts)
		apiV1Group.Get("/jobs/:id", r.getJob)
	}
}
