package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/controller/restapi/v1/response"
	"github.com/simpix/formalization/internal/dto"
	"github.com/simpix/formalization/pkg/types/errs"
)

// @Summary  	Register proposal for formalization
// @Description Stores an approved proposal with its repayment schedule and starts the lifecycle
// @Tags 		proposals
// @Accept 		json
// @Produce 	json
// @Param 		request body dto.CreateProposalRequest true "Signer, payer and schedule"
// @Success 	201 {object} response.CreateProposal
// @Failure 	400 {object} response.Error "Validation failed"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/proposals [post]
func (r *V1) createProposal(ctx *fiber.Ctx) error {
	var req dto.CreateProposalRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	proposal, err := r.proposals.CreateForFormalization(ctx.UserContext(), req)
	if err != nil {
		if errors.Is(err, errs.ErrMalformedPayload) {
			return errorResponse(ctx, http.StatusBadRequest, err.Error())
		}
		r.logger.Error(err, "restapi - v1 - createProposal")

		return internalError(ctx)
	}

	resp := response.CreateProposal{
		ProposalID: proposal.ID.String(),
		Status:     string(proposal.Status),
		Schedule:   len(req.Schedule),
		CreatedAt:  proposal.CreatedAt.Format(time.RFC3339),
	}

	return ctx.Status(http.StatusCreated).JSON(resp)
}

// @Summary  	Get proposal
// @Description Returns the proposal with its installments, transition history and reachable statuses
// @Tags 		proposals
// @Produce 	json
// @Param 		id path string true "Proposal ID(uuid)"
// @Success 	200 {object} dto.ProposalView
// @Failure 	400 {object} response.Error "Invalid ID"
// @Failure 	404 {object} response.Error "Proposal not found"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/proposals/{id} [get]
func (r *V1) getProposal(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	view, err := r.proposals.Get(ctx.UserContext(), id)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return errorResponse(ctx, http.StatusNotFound, "proposal not found")
		}
		r.logger.Error(err, "restapi - v1 - getProposal")

		return internalError(ctx)
	}

	return ctx.Status(http.StatusOK).JSON(view)
}

type documentReadyRequest struct {
	DocumentKey string `json:"document_key"`
}

// @Summary  	Mark agreement document as generated
// @Description Attaches the stored agreement document and moves the proposal towards signature dispatch
// @Tags 		proposals
// @Accept 		json
// @Param 		id path string true "Proposal ID(uuid)"
// @Param 		request body documentReadyRequest true "Object-storage key of the generated document"
// @Success 	204 "Applied"
// @Failure 	400 {object} response.Error "Invalid ID or missing document"
// @Failure 	404 {object} response.Error "Proposal not found"
// @Failure 	409 {object} response.Error "Transition not allowed from current status"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/proposals/{id}/document-ready [post]
func (r *V1) documentReady(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	var req documentReadyRequest
	if err = ctx.BodyParser(&req); err != nil || req.DocumentKey == "" {
		return errorResponse(ctx, http.StatusBadRequest, "document_key is required")
	}

	return r.applyOperation(ctx, func() error {
		return r.proposals.DocumentReady(ctx.UserContext(), id, req.DocumentKey)
	}, "restapi - v1 - documentReady")
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// @Summary  	Revert a provider pendency
// @Description Operator action, returns a proposal stuck on a provider-side pendency to the document stage
// @Tags 		proposals
// @Accept 		json
// @Param 		id path string true "Proposal ID(uuid)"
// @Param 		request body reasonRequest true "Operator note for the audit trail"
// @Success 	204 "Applied"
// @Failure 	400 {object} response.Error "Invalid ID or missing reason"
// @Failure 	404 {object} response.Error "Proposal not found"
// @Failure 	409 {object} response.Error "Transition not allowed from current status"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/proposals/{id}/revert-pendency [post]
func (r *V1) revertPendency(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	var req reasonRequest
	if err = ctx.BodyParser(&req); err != nil || req.Reason == "" {
		return errorResponse(ctx, http.StatusBadRequest, "reason is required")
	}

	return r.applyOperation(ctx, func() error {
		return r.proposals.RevertPendency(ctx.UserContext(), id, req.Reason)
	}, "restapi - v1 - revertPendency")
}

// @Summary  	Cancel proposal
// @Description Operator action, cancels a proposal from any non-terminal status
// @Tags 		proposals
// @Accept 		json
// @Param 		id path string true "Proposal ID(uuid)"
// @Param 		request body reasonRequest true "Operator note for the audit trail"
// @Success 	204 "Cancelled"
// @Failure 	400 {object} response.Error "Invalid ID or missing reason"
// @Failure 	404 {object} response.Error "Proposal not found"
// @Failure 	409 {object} response.Error "Proposal already terminal"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/proposals/{id}/cancel [post]
func (r *V1) cancelProposal(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	var req reasonRequest
	if err = ctx.BodyParser(&req); err != nil || req.Reason == "" {
		return errorResponse(ctx, http.StatusBadRequest, "reason is required")
	}

	return r.applyOperation(ctx, func() error {
		return r.proposals.Cancel(ctx.UserContext(), id, req.Reason)
	}, "restapi - v1 - cancelProposal")
}

func (r *V1) applyOperation(ctx *fiber.Ctx, op func() error, logCtx string) error {
	err := op()
	switch {
	case err == nil:
		return ctx.SendStatus(http.StatusNoContent)
	case errors.Is(err, errs.ErrRecordNotFound):
		return errorResponse(ctx, http.StatusNotFound, "proposal not found")
	case errors.Is(err, errs.ErrInvalidTransition):
		return errorResponse(ctx, http.StatusConflict, "transition not allowed from current status")
	case errors.Is(err, errs.ErrMalformedPayload):
		return errorResponse(ctx, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error(err, logCtx)

		return internalError(ctx)
	}
}
