// Package jobs implements the durable work queue on top of the relational
// store. Claiming uses row locks with skip, so any number of runner instances
// can share one queue without double execution.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/repo"
	"github.com/simpix/formalization/pkg/logger"
	"github.com/simpix/formalization/pkg/types/errs"
)

type JobsUseCase struct {
	jobRepo repo.JobRepo

	logger logger.Interface

	maxAttempts int
	backoffBase time.Duration
}

func New(jobRepo repo.JobRepo, l logger.Interface, maxAttempts int, backoffBase time.Duration) *JobsUseCase {
	return &JobsUseCase{
		jobRepo:     jobRepo,
		logger:      l,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// Enqueue creates a job, joining any transaction the ctx carries. One
// pending job per proposal and type: while one is waiting or active, a
// second request returns it instead of queueing a duplicate.
func (uc *JobsUseCase) Enqueue(ctx context.Context, jobType entity.JobType, proposalID uuid.UUID, payload []byte) (*entity.Job, error) {
	switch jobType {
	case entity.JobDispatchSignature, entity.JobDownloadSignedDocument,
		entity.JobIssueCollections, entity.JobGenerateBooklet:
	default:
		return nil, fmt.Errorf("JobsUseCase - Enqueue: %q: %w", jobType, errs.ErrUnknownJobType)
	}

	existing, err := uc.jobRepo.FindPending(ctx, proposalID, jobType)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, errs.ErrRecordNotFound):
		return nil, fmt.Errorf("JobsUseCase - Enqueue - uc.jobRepo.FindPending: %w", err)
	}

	job := &entity.Job{
		ID:          uuid.New(),
		Type:        jobType,
		ProposalID:  proposalID,
		Payload:     payload,
		Status:      entity.JobWaiting,
		MaxAttempts: uc.maxAttempts,
		NextRunAt:   time.Now(),
		CreatedAt:   time.Now(),
	}

	if err := uc.jobRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("JobsUseCase - Enqueue - uc.jobRepo.Create: %w", err)
	}

	return job, nil
}

func (uc *JobsUseCase) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := uc.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("JobsUseCase - Get - uc.jobRepo.GetByID: %w", err)
	}

	return job, nil
}

func (uc *JobsUseCase) ClaimDue(ctx context.Context, limit int) ([]*entity.Job, error) {
	claimed, err := uc.jobRepo.ClaimDue(ctx, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("JobsUseCase - ClaimDue - uc.jobRepo.ClaimDue: %w", err)
	}

	return claimed, nil
}

func (uc *JobsUseCase) Complete(ctx context.Context, job *entity.Job, result []byte) error {
	if err := uc.jobRepo.MarkCompleted(ctx, job.ID, result); err != nil {
		return fmt.Errorf("JobsUseCase - Complete - uc.jobRepo.MarkCompleted: %w", err)
	}

	return nil
}

// Settle decides a failed attempt's fate: a retry slot with exponential
// backoff while the budget lasts, the failed shelf after that.
func (uc *JobsUseCase) Settle(ctx context.Context, job *entity.Job, jobErr error) error {
	attempt := job.Attempts + 1

	if attempt >= job.MaxAttempts {
		uc.logger.Warn("job exhausted, id=%s, type=%s, attempts=%d: %v", job.ID, job.Type, attempt, jobErr)

		if err := uc.jobRepo.MarkFailed(ctx, job.ID, jobErr.Error()); err != nil {
			return fmt.Errorf("JobsUseCase - Settle - uc.jobRepo.MarkFailed: %w", err)
		}

		return nil
	}

	delay := entity.Backoff(uc.backoffBase, attempt)
	uc.logger.Info("job rescheduled, id=%s, type=%s, attempt=%d, delay=%s", job.ID, job.Type, attempt, delay)

	if err := uc.jobRepo.Reschedule(ctx, job.ID, jobErr.Error(), time.Now().Add(delay)); err != nil {
		return fmt.Errorf("JobsUseCase - Settle - uc.jobRepo.Reschedule: %w", err)
	}

	return nil
}

// RequeueStuck returns abandoned active jobs to waiting. An attempt that
// never settled is indistinguishable from a crash, so it does not count
// against the retry budget.
func (uc *JobsUseCase) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := uc.jobRepo.RequeueStuck(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("JobsUseCase - RequeueStuck - uc.jobRepo.RequeueStuck: %w", err)
	}

	if n > 0 {
		uc.logger.Warn("requeued %d stuck jobs older than %s", n, olderThan)
	}

	return int(n), nil
}

func (uc *JobsUseCase) Counts(ctx context.Context) (map[entity.JobStatus]int, error) {
	counts, err := uc.jobRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("JobsUseCase - Counts - uc.jobRepo.CountByStatus: %w", err)
	}

	return counts, nil
}
