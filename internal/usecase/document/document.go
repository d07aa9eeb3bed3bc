// Package document handles the signature side of the pipeline: dispatching
// the agreement for e-signature and archiving the signed artifact. Both
// handlers run from the job queue and tolerate re-execution.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/infrastructure"
	"github.com/simpix/formalization/internal/repo"
	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/pkg/logger"
)

type DocumentUseCase struct {
	proposalRepo repo.ProposalRepo
	documentRepo repo.DocumentRepo
	auditRepo    repo.AuditRepo
	signature    infrastructure.SignatureProvider
	proposals    usecase.ProposalUseCase

	logger logger.Interface
}

func New(
	proposalRepo repo.ProposalRepo,
	documentRepo repo.DocumentRepo,
	auditRepo repo.AuditRepo,
	signature infrastructure.SignatureProvider,
	proposals usecase.ProposalUseCase,
	l logger.Interface,
) *DocumentUseCase {
	return &DocumentUseCase{
		proposalRepo: proposalRepo,
		documentRepo: documentRepo,
		auditRepo:    auditRepo,
		signature:    signature,
		proposals:    proposals,
		logger:       l,
	}
}

// DispatchSignature puts the generated agreement in front of the signer. A
// crash between the provider call and the transition is recovered on retry:
// an existing signature ref skips the provider and only replays the
// transition.
func (uc *DocumentUseCase) DispatchSignature(ctx context.Context, job *entity.Job) error {
	proposal, err := uc.proposalRepo.GetByID(ctx, job.ProposalID)
	if err != nil {
		return fmt.Errorf("DocumentUseCase - DispatchSignature - uc.proposalRepo.GetByID: %w", err)
	}

	if proposal.Status != entity.StatusDocumentGenerated {
		// Already dispatched, or the proposal left the pipeline.
		uc.logger.Info("dispatch skipped, proposal=%s, status=%s", proposal.ID, proposal.Status)
		return nil
	}

	if proposal.SignatureRef == nil {
		if proposal.DocumentKey == nil {
			return fmt.Errorf("DocumentUseCase - DispatchSignature: proposal %s has no document", proposal.ID)
		}

		doc, err := uc.documentRepo.Download(ctx, *proposal.DocumentKey)
		if err != nil {
			return fmt.Errorf("DocumentUseCase - DispatchSignature - uc.documentRepo.Download: %w", err)
		}

		envelopeKey, err := uc.signature.Dispatch(ctx, infrastructure.DispatchRequest{
			ProposalID:   proposal.ID,
			DocumentName: "credit-agreement-" + proposal.ID.String(),
			Document:     doc,
			SignerName:   proposal.SignerName,
			SignerEmail:  proposal.SignerEmail,
			Deadline:     proposal.SignatureDeadline,
		})
		if err != nil {
			return fmt.Errorf("DocumentUseCase - DispatchSignature - uc.signature.Dispatch: %w", err)
		}

		if err := uc.proposalRepo.SetSignatureRef(ctx, proposal.ID, envelopeKey); err != nil {
			return fmt.Errorf("DocumentUseCase - DispatchSignature - uc.proposalRepo.SetSignatureRef: %w", err)
		}

		uc.logger.Info("signature dispatched, proposal=%s, envelope=%s", proposal.ID, envelopeKey)
	}

	ev := entity.DomainEvent{
		Kind:       entity.EventSignatureDispatched,
		Source:     entity.SourceInternal,
		Origin:     entity.OriginSystem,
		OccurredAt: time.Now(),
	}
	if err := uc.proposals.ApplyInternal(ctx, proposal.ID, ev, nil); err != nil {
		return fmt.Errorf("DocumentUseCase - DispatchSignature - uc.proposals.ApplyInternal: %w", err)
	}

	return nil
}

// archiveRecord is the metadata kept with the archived artifact: the storage
// key, the content hash and the provider's signing history.
type archiveRecord struct {
	Key           string                        `json:"key"`
	SHA256        string                        `json:"sha256"`
	SigningEvents []infrastructure.SigningEvent `json:"signing_events"`
}

// DownloadSignedDocument archives the signed agreement together with its
// content hash and the envelope's audit trail. An already archived artifact
// short-circuits without touching the provider.
func (uc *DocumentUseCase) DownloadSignedDocument(ctx context.Context, job *entity.Job) error {
	proposal, err := uc.proposalRepo.GetByID(ctx, job.ProposalID)
	if err != nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - uc.proposalRepo.GetByID: %w", err)
	}

	if proposal.SignedDocumentKey != nil {
		ok, err := uc.documentRepo.Exists(ctx, *proposal.SignedDocumentKey)
		if err != nil {
			return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - uc.documentRepo.Exists: %w", err)
		}
		if ok {
			return nil
		}
	}

	if proposal.SignatureRef == nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument: proposal %s has no signature ref", proposal.ID)
	}

	data, err := uc.signature.DownloadSignedDocument(ctx, *proposal.SignatureRef)
	if err != nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - uc.signature.DownloadSignedDocument: %w", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument: artifact for %s is not a PDF", proposal.ID)
	}

	trail, err := uc.signature.EnvelopeEvents(ctx, *proposal.SignatureRef)
	if err != nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - uc.signature.EnvelopeEvents: %w", err)
	}

	sum := sha256.Sum256(data)
	key := fmt.Sprintf("proposals/%s/signed-ccb.pdf", proposal.ID)

	record := archiveRecord{
		Key:           key,
		SHA256:        hex.EncodeToString(sum[:]),
		SigningEvents: trail,
	}
	metadata, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - json.Marshal: %w", err)
	}

	// Storage first: the proposal only references the artifact once the
	// write is confirmed.
	if err := uc.documentRepo.Upload(ctx, key, data, "application/pdf"); err != nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - uc.documentRepo.Upload: %w", err)
	}

	if err := uc.proposalRepo.SetSignedDocument(ctx, proposal.ID, key, record.SHA256); err != nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - uc.proposalRepo.SetSignedDocument: %w", err)
	}

	entry := &entity.AuditLogEntry{
		ID:          uuid.New(),
		ProposalID:  proposal.ID,
		FromStatus:  proposal.Status,
		ToStatus:    proposal.Status,
		TriggeredBy: entity.OriginSystem,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}
	if err := uc.auditRepo.Append(ctx, entry); err != nil {
		return fmt.Errorf("DocumentUseCase - DownloadSignedDocument - uc.auditRepo.Append: %w", err)
	}

	uc.logger.Info("signed document archived, proposal=%s, key=%s, signing_events=%d", proposal.ID, key, len(trail))

	return nil
}
