// Package collection handles the payment side of the pipeline: issuing one
// boleto/PIX collection per installment and assembling the booklet. Both
// handlers run from the job queue and tolerate re-execution; issuance resumes
// from the first installment without a provider ref.
package collection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/infrastructure"
	"github.com/simpix/formalization/internal/repo"
	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/pkg/logger"
)

type CollectionUseCase struct {
	proposalRepo    repo.ProposalRepo
	installmentRepo repo.InstallmentRepo
	documentRepo    repo.DocumentRepo
	banking         infrastructure.BankingProvider
	merger          infrastructure.DocumentMerger
	proposals       usecase.ProposalUseCase

	logger logger.Interface
}

func New(
	proposalRepo repo.ProposalRepo,
	installmentRepo repo.InstallmentRepo,
	documentRepo repo.DocumentRepo,
	banking infrastructure.BankingProvider,
	merger infrastructure.DocumentMerger,
	proposals usecase.ProposalUseCase,
	l logger.Interface,
) *CollectionUseCase {
	return &CollectionUseCase{
		proposalRepo:    proposalRepo,
		installmentRepo: installmentRepo,
		documentRepo:    documentRepo,
		banking:         banking,
		merger:          merger,
		proposals:       proposals,
		logger:          l,
	}
}

// IssueCollections creates one collection per installment. Each ref is
// persisted as soon as the provider answers, so a retry after a partial
// failure only issues the remainder.
func (uc *CollectionUseCase) IssueCollections(ctx context.Context, job *entity.Job) error {
	proposal, err := uc.proposalRepo.GetByID(ctx, job.ProposalID)
	if err != nil {
		return fmt.Errorf("CollectionUseCase - IssueCollections - uc.proposalRepo.GetByID: %w", err)
	}

	if proposal.Status != entity.StatusSignatureCompleted {
		uc.logger.Info("issuance skipped, proposal=%s, status=%s", proposal.ID, proposal.Status)
		return nil
	}

	installments, err := uc.installmentRepo.ListByProposal(ctx, proposal.ID)
	if err != nil {
		return fmt.Errorf("CollectionUseCase - IssueCollections - uc.installmentRepo.ListByProposal: %w", err)
	}

	for _, inst := range installments {
		if inst.CollectionRef != nil {
			continue
		}

		ref, err := uc.banking.IssueCollection(ctx, infrastructure.IssueCollectionRequest{
			ProposalID:    proposal.ID,
			InstallmentID: inst.ID,
			Reference:     installmentReference(proposal, inst),
			AmountCents:   inst.AmountCents,
			DueDate:       inst.DueDate,
			PayerName:     proposal.SignerName,
			PayerTaxID:    proposal.PayerTaxID,
		})
		if err != nil {
			return fmt.Errorf("CollectionUseCase - IssueCollections - uc.banking.IssueCollection(%d): %w", inst.Number, err)
		}

		if err := uc.installmentRepo.SetCollectionRef(ctx, inst.ID, ref); err != nil {
			return fmt.Errorf("CollectionUseCase - IssueCollections - uc.installmentRepo.SetCollectionRef: %w", err)
		}

		uc.logger.Info("collection issued, proposal=%s, installment=%d, ref=%s", proposal.ID, inst.Number, ref)
	}

	ev := entity.DomainEvent{
		Kind:       entity.EventCollectionsIssued,
		Source:     entity.SourceInternal,
		Origin:     entity.OriginSystem,
		OccurredAt: time.Now(),
	}
	if err := uc.proposals.ApplyInternal(ctx, proposal.ID, ev, nil); err != nil {
		return fmt.Errorf("CollectionUseCase - IssueCollections - uc.proposals.ApplyInternal: %w", err)
	}

	return nil
}

// installmentReference builds the provider-side reference (seuNumero). The
// provider caps it at 15 characters.
func installmentReference(proposal *entity.Proposal, inst *entity.Installment) string {
	short := strings.ReplaceAll(proposal.ID.String(), "-", "")[:10]
	return fmt.Sprintf("%s-%03d", short, inst.Number)
}

// GenerateBooklet merges every installment's slip into one document. An
// existing booklet short-circuits.
func (uc *CollectionUseCase) GenerateBooklet(ctx context.Context, job *entity.Job) error {
	proposal, err := uc.proposalRepo.GetByID(ctx, job.ProposalID)
	if err != nil {
		return fmt.Errorf("CollectionUseCase - GenerateBooklet - uc.proposalRepo.GetByID: %w", err)
	}

	if proposal.BookletKey != nil {
		ok, err := uc.documentRepo.Exists(ctx, *proposal.BookletKey)
		if err != nil {
			return fmt.Errorf("CollectionUseCase - GenerateBooklet - uc.documentRepo.Exists: %w", err)
		}
		if ok {
			return nil
		}
	}

	installments, err := uc.installmentRepo.ListByProposal(ctx, proposal.ID)
	if err != nil {
		return fmt.Errorf("CollectionUseCase - GenerateBooklet - uc.installmentRepo.ListByProposal: %w", err)
	}

	slips := make([][]byte, 0, len(installments))
	for _, inst := range installments {
		if inst.CollectionRef == nil {
			return fmt.Errorf("CollectionUseCase - GenerateBooklet: installment %d has no collection yet", inst.Number)
		}

		slip, err := uc.banking.CollectionPDF(ctx, *inst.CollectionRef)
		if err != nil {
			return fmt.Errorf("CollectionUseCase - GenerateBooklet - uc.banking.CollectionPDF(%d): %w", inst.Number, err)
		}

		slips = append(slips, slip)
	}

	booklet, err := uc.merger.Merge(ctx, slips)
	if err != nil {
		return fmt.Errorf("CollectionUseCase - GenerateBooklet - uc.merger.Merge: %w", err)
	}

	key := fmt.Sprintf("proposals/%s/carne.pdf", proposal.ID)
	if err := uc.documentRepo.Upload(ctx, key, booklet, "application/pdf"); err != nil {
		return fmt.Errorf("CollectionUseCase - GenerateBooklet - uc.documentRepo.Upload: %w", err)
	}

	if err := uc.proposalRepo.SetBookletKey(ctx, proposal.ID, key); err != nil {
		return fmt.Errorf("CollectionUseCase - GenerateBooklet - uc.proposalRepo.SetBookletKey: %w", err)
	}

	uc.logger.Info("booklet generated, proposal=%s, key=%s, pages=%d", proposal.ID, key, len(slips))

	return nil
}
