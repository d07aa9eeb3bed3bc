package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/dto"
	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/types/errs"
)

// CreateForFormalization registers an approved proposal together with its
// repayment schedule. The proposal enters the pipeline waiting for its
// agreement document.
func (uc *ProposalUseCase) CreateForFormalization(ctx context.Context, req dto.CreateProposalRequest) (*entity.Proposal, error) {
	if req.SignerName == "" || req.SignerEmail == "" {
		return nil, fmt.Errorf("ProposalUseCase - CreateForFormalization: signer name and email required: %w", errs.ErrMalformedPayload)
	}
	if err := validateSchedule(req.Schedule); err != nil {
		return nil, fmt.Errorf("ProposalUseCase - CreateForFormalization: %w", err)
	}

	now := time.Now()

	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = now.AddDate(0, 0, 30)
	}

	proposal := &entity.Proposal{
		ID:                uuid.New(),
		Status:            entity.StatusApproved,
		SignerName:        req.SignerName,
		SignerEmail:       req.SignerEmail,
		PayerTaxID:        req.PayerTaxID,
		SignatureDeadline: deadline,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	installments := make([]*entity.Installment, 0, len(req.Schedule))
	for _, item := range req.Schedule {
		installments = append(installments, &entity.Installment{
			ID:          uuid.New(),
			ProposalID:  proposal.ID,
			Number:      item.Number,
			DueDate:     item.DueDate,
			AmountCents: item.AmountCents,
			Status:      entity.InstallmentPending,
		})
	}

	err := uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := uc.proposalRepo.Create(ctx, proposal); err != nil {
			return fmt.Errorf("uc.proposalRepo.Create: %w", err)
		}
		if err := uc.installmentRepo.CreateBatch(ctx, installments); err != nil {
			return fmt.Errorf("uc.installmentRepo.CreateBatch: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ProposalUseCase - CreateForFormalization: %w", err)
	}

	uc.logger.Info("proposal registered for formalization, id=%s, installments=%d", proposal.ID, len(installments))

	return proposal, nil
}

func validateSchedule(schedule []dto.CreateInstallmentRequest) error {
	if len(schedule) == 0 {
		return fmt.Errorf("empty schedule: %w", errs.ErrMalformedPayload)
	}

	for i, item := range schedule {
		if item.Number != i+1 {
			return fmt.Errorf("schedule numbers must be sequential from 1: %w", errs.ErrMalformedPayload)
		}
		if item.AmountCents <= 0 {
			return fmt.Errorf("installment %d has non-positive amount: %w", item.Number, errs.ErrMalformedPayload)
		}
		if item.DueDate.IsZero() {
			return fmt.Errorf("installment %d has no due date: %w", item.Number, errs.ErrMalformedPayload)
		}
	}

	return nil
}

// DocumentReady records the generated agreement document and moves the
// proposal into the signature pipeline. The key must already exist in object
// storage.
func (uc *ProposalUseCase) DocumentReady(ctx context.Context, proposalID uuid.UUID, documentKey string) error {
	ok, err := uc.documentRepo.Exists(ctx, documentKey)
	if err != nil {
		return fmt.Errorf("ProposalUseCase - DocumentReady - uc.documentRepo.Exists: %w", err)
	}
	if !ok {
		return fmt.Errorf("ProposalUseCase - DocumentReady: document %s not in storage: %w", documentKey, errs.ErrRecordNotFound)
	}

	ev := entity.DomainEvent{
		Kind:       entity.EventDocumentReady,
		Source:     entity.SourceInternal,
		Origin:     entity.OriginSystem,
		OccurredAt: time.Now(),
	}

	err = uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		proposal, err := uc.proposalRepo.GetByIDForUpdate(ctx, proposalID)
		if err != nil {
			return fmt.Errorf("uc.proposalRepo.GetByIDForUpdate: %w", err)
		}

		if err := uc.proposalRepo.SetDocumentKey(ctx, proposalID, documentKey); err != nil {
			return fmt.Errorf("uc.proposalRepo.SetDocumentKey: %w", err)
		}

		_, applyErr := uc.applyLocked(ctx, proposal, ev, nil)
		return applyErr
	})
	if err != nil {
		return fmt.Errorf("ProposalUseCase - DocumentReady: %w", err)
	}

	return nil
}

// RevertPendency pulls a proposal out of the signature wait when review
// found a problem with the generated document. Operator-only.
func (uc *ProposalUseCase) RevertPendency(ctx context.Context, proposalID uuid.UUID, reason string) error {
	metadata, _ := json.Marshal(map[string]string{"reason": reason})

	ev := entity.DomainEvent{
		Kind:       entity.EventPendencyReverted,
		Source:     entity.SourceInternal,
		Origin:     entity.OriginManual,
		OccurredAt: time.Now(),
	}

	if err := uc.ApplyInternal(ctx, proposalID, ev, metadata); err != nil {
		return fmt.Errorf("ProposalUseCase - RevertPendency: %w", err)
	}

	uc.logger.Info("pendency opened, proposal=%s, reason=%s", proposalID, reason)

	return nil
}

// Cancel aborts formalization from any non-terminal status.
func (uc *ProposalUseCase) Cancel(ctx context.Context, proposalID uuid.UUID, reason string) error {
	metadata, _ := json.Marshal(map[string]string{"reason": reason})

	ev := entity.DomainEvent{
		Kind:       entity.EventProposalCancelled,
		Source:     entity.SourceInternal,
		Origin:     entity.OriginManual,
		OccurredAt: time.Now(),
	}

	if err := uc.ApplyInternal(ctx, proposalID, ev, metadata); err != nil {
		return fmt.Errorf("ProposalUseCase - Cancel: %w", err)
	}

	return nil
}

// Get assembles the read model: aggregate, schedule and transition history.
func (uc *ProposalUseCase) Get(ctx context.Context, id uuid.UUID) (*dto.ProposalView, error) {
	proposal, err := uc.proposalRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ProposalUseCase - Get - uc.proposalRepo.GetByID: %w", err)
	}

	installments, err := uc.installmentRepo.ListByProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ProposalUseCase - Get - uc.installmentRepo.ListByProposal: %w", err)
	}

	transitions, err := uc.auditRepo.ListByProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ProposalUseCase - Get - uc.auditRepo.ListByProposal: %w", err)
	}

	return &dto.ProposalView{
		Proposal:     proposal,
		Installments: installments,
		Transitions:  transitions,
		NextStatuses: entity.PossibleTransitions(proposal.Status),
	}, nil
}
