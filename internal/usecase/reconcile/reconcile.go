// Package reconcile closes webhook gaps. Proposals stuck in a
// provider-dependent status past a cutoff get their provider state polled;
// observed facts are synthesized into events and pushed through the same
// idempotent applier the webhooks use, so a late webhook after a repair is a
// clean duplicate.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/simpix/formalization/internal/dto"
	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/infrastructure"
	"github.com/simpix/formalization/internal/repo"
	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/internal/usecase/normalizer"
	"github.com/simpix/formalization/pkg/logger"
)

var signatureStatuses = []entity.Status{entity.StatusAwaitingSignature}

var collectionStatuses = []entity.Status{
	entity.StatusCollectionsIssued,
	entity.StatusPaymentPending,
}

type ReconcileUseCase struct {
	proposalRepo    repo.ProposalRepo
	installmentRepo repo.InstallmentRepo
	eventRepo       repo.EventRepo
	signature       infrastructure.SignatureProvider
	banking         infrastructure.BankingProvider
	proposals       usecase.ProposalUseCase

	logger logger.Interface

	batchSize int
	// alertThreshold is the repaired/checked ratio above which a cycle is
	// flagged: that many missed webhooks points at a delivery problem, not
	// at normal loss.
	alertThreshold float64
}

func New(
	proposalRepo repo.ProposalRepo,
	installmentRepo repo.InstallmentRepo,
	eventRepo repo.EventRepo,
	signature infrastructure.SignatureProvider,
	banking infrastructure.BankingProvider,
	proposals usecase.ProposalUseCase,
	l logger.Interface,
	batchSize int,
	alertThreshold float64,
) *ReconcileUseCase {
	return &ReconcileUseCase{
		proposalRepo:    proposalRepo,
		installmentRepo: installmentRepo,
		eventRepo:       eventRepo,
		signature:       signature,
		banking:         banking,
		proposals:       proposals,
		logger:          l,
		batchSize:       batchSize,
		alertThreshold:  alertThreshold,
	}
}

func (uc *ReconcileUseCase) Run(ctx context.Context, olderThan time.Duration) (*dto.ReconcileReport, error) {
	report := &dto.ReconcileReport{StartedAt: time.Now()}
	cutoff := time.Now().Add(-olderThan)

	if err := uc.reconcileSignatures(ctx, cutoff, report); err != nil {
		return nil, fmt.Errorf("ReconcileUseCase - Run - uc.reconcileSignatures: %w", err)
	}
	if err := uc.reconcileCollections(ctx, cutoff, report); err != nil {
		return nil, fmt.Errorf("ReconcileUseCase - Run - uc.reconcileCollections: %w", err)
	}

	conflicts, err := uc.eventRepo.ListConflicts(ctx, uc.batchSize)
	if err != nil {
		report.Errors++
		uc.logger.Error(err, "ReconcileUseCase - Run - uc.eventRepo.ListConflicts")
	} else {
		report.Conflicts = len(conflicts)
	}

	if report.Conflicts > 0 {
		uc.logger.Warn("reconcile found %d conflicting events awaiting operator resolution", report.Conflicts)
	}

	report.Elapsed = time.Since(report.StartedAt).String()

	if report.Checked > 0 {
		ratio := float64(report.Repaired) / float64(report.Checked)
		if ratio > uc.alertThreshold {
			uc.logger.Warn("reconcile repair ratio %.2f over threshold %.2f, checked=%d, repaired=%d: webhook delivery likely degraded",
				ratio, uc.alertThreshold, report.Checked, report.Repaired)
		}
	}

	uc.logger.Info("reconcile cycle done, checked=%d, repaired=%d, errors=%d, elapsed=%s",
		report.Checked, report.Repaired, report.Errors, report.Elapsed)

	return report, nil
}

func (uc *ReconcileUseCase) reconcileSignatures(ctx context.Context, cutoff time.Time, report *dto.ReconcileReport) error {
	stale, err := uc.proposalRepo.SelectStale(ctx, signatureStatuses, cutoff, uc.batchSize)
	if err != nil {
		return fmt.Errorf("uc.proposalRepo.SelectStale: %w", err)
	}

	for _, proposal := range stale {
		if proposal.SignatureRef == nil {
			continue
		}
		report.Checked++

		status, err := uc.signature.EnvelopeStatus(ctx, *proposal.SignatureRef)
		if err != nil {
			report.Errors++
			uc.logger.Error(err, "ReconcileUseCase - reconcileSignatures - uc.signature.EnvelopeStatus")
			continue
		}

		ev := normalizer.FromEnvelopeState(status.Key, status.State, status.UpdatedAt)
		if ev.Kind == entity.EventNoOp {
			continue
		}

		repaired, err := uc.record(ctx, "envelope."+status.State, status.Key, ev, status)
		if err != nil {
			report.Errors++
			continue
		}
		if repaired {
			report.Repaired++
			report.RepairedIDs = append(report.RepairedIDs, proposal.ID)
		}
	}

	return nil
}

func (uc *ReconcileUseCase) reconcileCollections(ctx context.Context, cutoff time.Time, report *dto.ReconcileReport) error {
	stale, err := uc.proposalRepo.SelectStale(ctx, collectionStatuses, cutoff, uc.batchSize)
	if err != nil {
		return fmt.Errorf("uc.proposalRepo.SelectStale: %w", err)
	}

	for _, proposal := range stale {
		installments, err := uc.installmentRepo.ListByProposal(ctx, proposal.ID)
		if err != nil {
			return fmt.Errorf("uc.installmentRepo.ListByProposal: %w", err)
		}

		moved := false
		for _, inst := range installments {
			if inst.CollectionRef == nil || inst.Status == entity.InstallmentPaid {
				continue
			}
			report.Checked++

			status, err := uc.banking.CollectionStatus(ctx, *inst.CollectionRef)
			if err != nil {
				report.Errors++
				uc.logger.Error(err, "ReconcileUseCase - reconcileCollections - uc.banking.CollectionStatus")
				continue
			}

			ev := normalizer.FromCollectionState(status.Ref, status.Situation, status.PaidAmountCents, status.PaidAt, status.PaymentMethod)
			if ev.Kind == entity.EventNoOp {
				continue
			}

			repaired, err := uc.record(ctx, "collection."+status.Situation, status.Ref, ev, status)
			if err != nil {
				report.Errors++
				continue
			}
			if repaired {
				report.Repaired++
				moved = true
			}
		}

		if moved {
			report.RepairedIDs = append(report.RepairedIDs, proposal.ID)
		}
	}

	return nil
}

// record synthesizes an event row from polled state. The payload keeps the
// observed provider answer for the audit trail.
func (uc *ReconcileUseCase) record(ctx context.Context, eventType, externalID string, ev entity.DomainEvent, observed any) (bool, error) {
	payload, err := json.Marshal(observed)
	if err != nil {
		payload = nil
	}

	_, repaired, err := uc.proposals.Record(ctx, dto.Observation{
		EventType:  eventType,
		ExternalID: externalID,
		Payload:    payload,
		Event:      ev,
	})
	if err != nil {
		uc.logger.Error(err, "ReconcileUseCase - record - uc.proposals.Record")
		return false, err
	}

	return repaired, nil
}
