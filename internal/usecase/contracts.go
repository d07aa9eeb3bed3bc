package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/dto"
	"github.com/simpix/formalization/internal/entity"
)

type (
	// ProposalUseCase drives the formalization lifecycle: webhook ingestion,
	// internal transitions and the manual operations.
	ProposalUseCase interface {
		// Ingest stores one raw provider notification and applies it to the
		// aggregate. Duplicates and conflicting events return nil so the
		// provider never retries deliveries we have already recorded.
		Ingest(ctx context.Context, source entity.EventSource, origin entity.EventOrigin, payload []byte) (uuid.UUID, error)

		// Record stores one normalized observation and applies it, reporting
		// whether the aggregate moved. The poller uses it for synthesized
		// events.
		Record(ctx context.Context, obs dto.Observation) (uuid.UUID, bool, error)

		// ApplyInternal applies a system- or operator-originated event that
		// has no provider notification behind it.
		ApplyInternal(ctx context.Context, proposalID uuid.UUID, ev entity.DomainEvent, metadata []byte) error

		CreateForFormalization(ctx context.Context, req dto.CreateProposalRequest) (*entity.Proposal, error)
		DocumentReady(ctx context.Context, proposalID uuid.UUID, documentKey string) error
		RevertPendency(ctx context.Context, proposalID uuid.UUID, reason string) error
		Cancel(ctx context.Context, proposalID uuid.UUID, reason string) error

		Get(ctx context.Context, id uuid.UUID) (*dto.ProposalView, error)
	}

	// JobsUseCase is the durable queue surface: producers enqueue, the runner
	// claims and settles, the API exposes status.
	JobsUseCase interface {
		Enqueue(ctx context.Context, jobType entity.JobType, proposalID uuid.UUID, payload []byte) (*entity.Job, error)
		Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
		ClaimDue(ctx context.Context, limit int) ([]*entity.Job, error)
		Complete(ctx context.Context, job *entity.Job, result []byte) error
		// Settle reschedules a failed attempt with exponential backoff, or
		// marks the job failed once the attempt budget is spent.
		Settle(ctx context.Context, job *entity.Job, jobErr error) error
		// RequeueStuck recovers active jobs abandoned by a crashed runner.
		RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error)
		Counts(ctx context.Context) (map[entity.JobStatus]int, error)
	}

	// JobHandler executes one claimed job. Handlers are idempotent.
	JobHandler interface {
		Handle(ctx context.Context, job *entity.Job) error
	}

	// Reconciler closes webhook gaps by polling provider state for proposals
	// that have not moved past a cutoff.
	Reconciler interface {
		Run(ctx context.Context, olderThan time.Duration) (*dto.ReconcileReport, error)
	}
)
