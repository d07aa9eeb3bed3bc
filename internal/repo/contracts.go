package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
)

type (
	// Transactor scopes repository calls to one database transaction via the
	// context, see pkg/postgres.
	Transactor interface {
		WithinTransaction(ctx context.Context, f func(ctx context.Context) error) error
	}

	ProposalRepo interface {
		Create(ctx context.Context, proposal *entity.Proposal) error
		GetByID(ctx context.Context, id uuid.UUID) (*entity.Proposal, error)
		// GetByIDForUpdate takes a row-level lock; it must run inside a
		// transaction and serializes concurrent appliers per aggregate.
		GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Proposal, error)
		GetIDBySignatureRef(ctx context.Context, ref string) (uuid.UUID, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status entity.Status) error
		SetDocumentKey(ctx context.Context, id uuid.UUID, key string) error
		SetSignatureRef(ctx context.Context, id uuid.UUID, ref string) error
		SetSignedDocument(ctx context.Context, id uuid.UUID, key, sha256Hex string) error
		SetBookletKey(ctx context.Context, id uuid.UUID, key string) error
		// SelectStale returns proposals sitting in one of the given statuses
		// with updated_at older than the cutoff, oldest first.
		SelectStale(ctx context.Context, statuses []entity.Status, olderThan time.Time, limit int) ([]*entity.Proposal, error)
	}

	InstallmentRepo interface {
		CreateBatch(ctx context.Context, installments []*entity.Installment) error
		ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]*entity.Installment, error)
		GetByCollectionRef(ctx context.Context, ref string) (*entity.Installment, error)
		SetStatus(ctx context.Context, id uuid.UUID, status entity.InstallmentStatus, paidAt *time.Time) error
		SetCollectionRef(ctx context.Context, id uuid.UUID, ref string) error
		CountUnpaid(ctx context.Context, proposalID uuid.UUID) (int, error)
	}

	EventRepo interface {
		Create(ctx context.Context, event *entity.ExternalEvent) error
		GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalEvent, error)
		// ClaimProcessed flips processed=true for the row. The store carries a
		// partial unique index on (idempotency_key) WHERE processed, so a
		// second claim for the same key fails with errs.ErrDuplicateEvent.
		ClaimProcessed(ctx context.Context, id uuid.UUID) error
		MarkConflict(ctx context.Context, id uuid.UUID, reason string) error
		ListConflicts(ctx context.Context, limit int) ([]*entity.ExternalEvent, error)
	}

	JobRepo interface {
		Create(ctx context.Context, job *entity.Job) error
		GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
		// FindPending returns the waiting or active job of this type for the
		// proposal, errs.ErrRecordNotFound when there is none.
		FindPending(ctx context.Context, proposalID uuid.UUID, jobType entity.JobType) (*entity.Job, error)
		// ClaimDue atomically moves up to limit due waiting jobs to active
		// using FOR UPDATE SKIP LOCKED, so concurrent runners never double-claim.
		ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error)
		// RequeueStuck returns active jobs whose attempt started before the
		// cutoff to waiting, recovering work abandoned by a crashed runner.
		RequeueStuck(ctx context.Context, startedBefore time.Time) (int64, error)
		MarkCompleted(ctx context.Context, id uuid.UUID, result []byte) error
		MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
		Reschedule(ctx context.Context, id uuid.UUID, lastError string, nextRunAt time.Time) error
		CountByStatus(ctx context.Context) (map[entity.JobStatus]int, error)
	}

	AuditRepo interface {
		Append(ctx context.Context, entry *entity.AuditLogEntry) error
		ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]*entity.AuditLogEntry, error)
	}

	OutboxRepo interface {
		Create(ctx context.Context, event *entity.OutboxEvent) error
		GetPendingEvents(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxEvent, error)
		MarkAsProcessingBatch(ctx context.Context, ids uuid.UUIDs) error
		MarkAsProcessedBatch(ctx context.Context, ids uuid.UUIDs) error
		IncrementRetryCountBatch(ctx context.Context, ids uuid.UUIDs) error
		MarkMaxRetriesAsFailed(ctx context.Context, maxRetries int) error
		DeleteOldProcessedAndFailed(ctx context.Context) (int64, error)
	}

	// DocumentRepo is the object-storage side of the document pipeline.
	DocumentRepo interface {
		Upload(ctx context.Context, key string, data []byte, contentType string) error
		Download(ctx context.Context, key string) ([]byte, error)
		Exists(ctx context.Context, key string) (bool, error)
	}
)
