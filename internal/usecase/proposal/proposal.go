// Package proposal implements the formalization lifecycle: every status
// change funnels through one transactional applier that claims the triggering
// event, runs the pure transition table and persists the outcome atomically.
package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/dto"
	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/repo"
	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/internal/usecase/normalizer"
	"github.com/simpix/formalization/pkg/logger"
	"github.com/simpix/formalization/pkg/types/errs"
)

type ProposalUseCase struct {
	proposalRepo    repo.ProposalRepo
	installmentRepo repo.InstallmentRepo
	eventRepo       repo.EventRepo
	auditRepo       repo.AuditRepo
	outboxRepo      repo.OutboxRepo
	documentRepo    repo.DocumentRepo
	transactor      repo.Transactor
	jobs            usecase.JobsUseCase

	logger logger.Interface

	topic string
}

func New(
	proposalRepo repo.ProposalRepo,
	installmentRepo repo.InstallmentRepo,
	eventRepo repo.EventRepo,
	jobs usecase.JobsUseCase,
	auditRepo repo.AuditRepo,
	outboxRepo repo.OutboxRepo,
	documentRepo repo.DocumentRepo,
	transactor repo.Transactor,
	l logger.Interface,
	topic string,
) *ProposalUseCase {
	return &ProposalUseCase{
		proposalRepo:    proposalRepo,
		installmentRepo: installmentRepo,
		eventRepo:       eventRepo,
		jobs:            jobs,
		auditRepo:       auditRepo,
		outboxRepo:      outboxRepo,
		documentRepo:    documentRepo,
		transactor:      transactor,
		logger:          l,
		topic:           topic,
	}
}

// Ingest records one provider delivery and applies it. Every delivery gets
// its own immutable row before any processing; duplicates and events the
// state machine rejects are swallowed after recording so the provider sees
// success and stops retrying.
func (uc *ProposalUseCase) Ingest(ctx context.Context, source entity.EventSource, origin entity.EventOrigin, payload []byte) (uuid.UUID, error) {
	n, err := uc.parse(source, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ProposalUseCase - Ingest - uc.parse: %w", err)
	}
	n.Event.Origin = origin

	eventID, _, err := uc.Record(ctx, dto.Observation{
		EventType:  n.EventType,
		ExternalID: n.ExternalID,
		Payload:    payload,
		Event:      n.Event,
	})
	if err != nil {
		return eventID, fmt.Errorf("ProposalUseCase - Ingest: %w", err)
	}

	return eventID, nil
}

// Record stores one observation (webhook delivery or polled provider state)
// and applies it. The idempotency key derives from the normalized kind, so a
// webhook and a poll observing the same provider fact collapse to one
// processed event. Returns whether the aggregate moved.
func (uc *ProposalUseCase) Record(ctx context.Context, obs dto.Observation) (uuid.UUID, bool, error) {
	event := &entity.ExternalEvent{
		ID:         uuid.New(),
		Source:     obs.Event.Source,
		EventType:  obs.EventType,
		ExternalID: obs.ExternalID,
		Origin:     obs.Event.Origin,
		Payload:    obs.Payload,
		IdempotencyKey: entity.IdempotencyKey(
			obs.Event.Source, string(obs.Event.Kind), obs.ExternalID,
		),
		ReceivedAt: time.Now(),
	}
	if len(obs.Payload) > 0 {
		event.PayloadHash = entity.PayloadHash(obs.Payload)
	}

	if err := uc.eventRepo.Create(ctx, event); err != nil {
		return uuid.Nil, false, fmt.Errorf("ProposalUseCase - Record - uc.eventRepo.Create: %w", err)
	}

	var changed bool
	err := uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		var applyErr error
		changed, applyErr = uc.applyExternal(ctx, event, obs.Event)
		return applyErr
	})

	switch {
	case err == nil:
		return event.ID, changed, nil

	case errors.Is(err, errs.ErrDuplicateEvent):
		uc.logger.Info("duplicate delivery ignored, key=%s", event.IdempotencyKey)
		return event.ID, false, nil

	case errors.Is(err, errs.ErrInvalidTransition), errors.Is(err, errs.ErrRecordNotFound):
		// Rolled back: the claim is released and the row stays unprocessed
		// with the conflict reason for operator review.
		if mcErr := uc.eventRepo.MarkConflict(ctx, event.ID, err.Error()); mcErr != nil {
			uc.logger.Error(mcErr, "ProposalUseCase - Record - uc.eventRepo.MarkConflict")
		}
		uc.logger.Warn("conflicting event recorded, id=%s, type=%s: %v", event.ID, event.EventType, err)
		return event.ID, false, nil
	}

	return event.ID, false, fmt.Errorf("ProposalUseCase - Record: %w", err)
}

func (uc *ProposalUseCase) parse(source entity.EventSource, payload []byte) (*normalizer.Notification, error) {
	switch source {
	case entity.SourceSignatureProvider:
		return normalizer.ParseClickSign(payload)
	case entity.SourceBankingProvider:
		return normalizer.ParseInter(payload)
	}

	return nil, fmt.Errorf("unknown source %q: %w", source, errs.ErrMalformedPayload)
}

// applyExternal runs inside one transaction. The claim comes first: if this
// idempotency key already has a processed row the unique index rejects the
// claim and the whole transaction rolls back as a no-op.
func (uc *ProposalUseCase) applyExternal(ctx context.Context, event *entity.ExternalEvent, ev entity.DomainEvent) (bool, error) {
	if err := uc.eventRepo.ClaimProcessed(ctx, event.ID); err != nil {
		return false, fmt.Errorf("uc.eventRepo.ClaimProcessed: %w", err)
	}

	proposalID, err := uc.resolve(ctx, ev)
	if err != nil {
		return false, err
	}

	proposal, err := uc.proposalRepo.GetByIDForUpdate(ctx, proposalID)
	if err != nil {
		return false, fmt.Errorf("uc.proposalRepo.GetByIDForUpdate: %w", err)
	}

	return uc.applyLocked(ctx, proposal, ev, nil)
}

// resolve maps the event's external reference to the aggregate id.
func (uc *ProposalUseCase) resolve(ctx context.Context, ev entity.DomainEvent) (uuid.UUID, error) {
	if ev.IsCollectionLevel() {
		inst, err := uc.installmentRepo.GetByCollectionRef(ctx, ev.CollectionRef)
		if err != nil {
			return uuid.Nil, fmt.Errorf("uc.installmentRepo.GetByCollectionRef(%s): %w", ev.CollectionRef, err)
		}

		return inst.ProposalID, nil
	}

	if ev.EnvelopeKey != "" {
		id, err := uc.proposalRepo.GetIDBySignatureRef(ctx, ev.EnvelopeKey)
		if err != nil {
			return uuid.Nil, fmt.Errorf("uc.proposalRepo.GetIDBySignatureRef(%s): %w", ev.EnvelopeKey, err)
		}

		return id, nil
	}

	return uuid.Nil, fmt.Errorf("event %s has no external reference: %w", ev.Kind, errs.ErrRecordNotFound)
}

// ApplyInternal applies a system- or operator-originated event directly to
// the aggregate, without an external event row.
func (uc *ProposalUseCase) ApplyInternal(ctx context.Context, proposalID uuid.UUID, ev entity.DomainEvent, metadata []byte) error {
	err := uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		proposal, err := uc.proposalRepo.GetByIDForUpdate(ctx, proposalID)
		if err != nil {
			return fmt.Errorf("uc.proposalRepo.GetByIDForUpdate: %w", err)
		}

		_, applyErr := uc.applyLocked(ctx, proposal, ev, metadata)
		return applyErr
	})
	if err != nil {
		return fmt.Errorf("ProposalUseCase - ApplyInternal: %w", err)
	}

	return nil
}

// applyLocked is the single write path for state changes. The caller holds
// the row lock and the transaction.
func (uc *ProposalUseCase) applyLocked(ctx context.Context, proposal *entity.Proposal, ev entity.DomainEvent, metadata []byte) (bool, error) {
	decision, err := entity.Decide(proposal.Status, ev)
	if err != nil {
		return false, err
	}

	if decision.MarkInstallment != "" {
		if err := uc.markInstallment(ctx, ev, decision.MarkInstallment); err != nil {
			return false, err
		}
	}

	next := decision.Next
	if decision.RecomputeCompletion {
		next, err = uc.completionStatus(ctx, proposal)
		if err != nil {
			return false, err
		}
	}

	if next == proposal.Status {
		return decision.MarkInstallment != "", nil
	}

	if err := uc.proposalRepo.UpdateStatus(ctx, proposal.ID, next); err != nil {
		return false, fmt.Errorf("uc.proposalRepo.UpdateStatus: %w", err)
	}

	entry := &entity.AuditLogEntry{
		ID:          uuid.New(),
		ProposalID:  proposal.ID,
		FromStatus:  proposal.Status,
		ToStatus:    next,
		TriggeredBy: ev.Origin,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	if err := uc.auditRepo.Append(ctx, entry); err != nil {
		return false, fmt.Errorf("uc.auditRepo.Append: %w", err)
	}

	if err := uc.publishTransition(ctx, proposal, next, ev); err != nil {
		return false, err
	}

	// The fan-out joins the ambient transaction through ctx, so jobs land
	// atomically with the transition they follow from.
	for _, jobType := range decision.EnqueueJobs {
		if _, err := uc.jobs.Enqueue(ctx, jobType, proposal.ID, nil); err != nil {
			return false, fmt.Errorf("uc.jobs.Enqueue(%s): %w", jobType, err)
		}
	}

	return true, nil
}

func (uc *ProposalUseCase) markInstallment(ctx context.Context, ev entity.DomainEvent, status entity.InstallmentStatus) error {
	inst, err := uc.installmentRepo.GetByCollectionRef(ctx, ev.CollectionRef)
	if err != nil {
		return fmt.Errorf("uc.installmentRepo.GetByCollectionRef: %w", err)
	}

	// A paid installment never regresses to overdue or cancelled.
	if inst.Status == entity.InstallmentPaid && status != entity.InstallmentPaid {
		return nil
	}

	var paidAt *time.Time
	if status == entity.InstallmentPaid {
		paidAt = ev.PaidAt
		if paidAt == nil {
			now := time.Now()
			paidAt = &now
		}
	}

	if err := uc.installmentRepo.SetStatus(ctx, inst.ID, status, paidAt); err != nil {
		return fmt.Errorf("uc.installmentRepo.SetStatus: %w", err)
	}

	return nil
}

// completionStatus decides where a payment leaves the aggregate: fully paid
// when the last open installment settles, payment pending otherwise.
func (uc *ProposalUseCase) completionStatus(ctx context.Context, proposal *entity.Proposal) (entity.Status, error) {
	unpaid, err := uc.installmentRepo.CountUnpaid(ctx, proposal.ID)
	if err != nil {
		return "", fmt.Errorf("uc.installmentRepo.CountUnpaid: %w", err)
	}

	if unpaid == 0 {
		return entity.StatusFullyPaid, nil
	}

	if proposal.Status == entity.StatusCollectionsIssued {
		return entity.StatusPaymentPending, nil
	}

	return proposal.Status, nil
}

func (uc *ProposalUseCase) publishTransition(ctx context.Context, proposal *entity.Proposal, next entity.Status, ev entity.DomainEvent) error {
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	payload, err := json.Marshal(dto.TransitionFact{
		ProposalID: proposal.ID,
		FromStatus: proposal.Status,
		ToStatus:   next,
		EventKind:  ev.Kind,
		Origin:     ev.Origin,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return fmt.Errorf("json.Marshal transition fact: %w", err)
	}

	outboxEvent := &entity.OutboxEvent{
		ID:          uuid.New(),
		AggregateID: proposal.ID,
		Topic:       uc.topic,
		Payload:     payload,
		Status:      entity.OutboxPending,
		CreatedAt:   time.Now(),
	}
	if err := uc.outboxRepo.Create(ctx, outboxEvent); err != nil {
		return fmt.Errorf("uc.outboxRepo.Create: %w", err)
	}

	return nil
}
