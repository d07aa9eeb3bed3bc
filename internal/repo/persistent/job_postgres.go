package persistent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/postgres"
	"github.com/simpix/formalization/pkg/types/errs"
)

const (
	// Table
	jobsTable = "jobs"

	// Columns
	jobIDColumn          = "id"
	jobTypeColumn        = "type"
	jobProposalIDColumn  = "proposal_id"
	jobPayloadColumn     = "payload"
	jobStatusColumn      = "status"
	jobAttemptsColumn    = "attempts"
	jobMaxAttemptsColumn = "max_attempts"
	jobNextRunAtColumn   = "next_run_at"
	jobLastErrorColumn   = "last_error"
	jobResultColumn      = "result"
	jobCreatedAtColumn   = "created_at"
	jobStartedAtColumn   = "started_at"
	jobCompletedAtColumn = "completed_at"
)

var jobColumns = []string{
	jobIDColumn,
	jobTypeColumn,
	jobProposalIDColumn,
	jobPayloadColumn,
	jobStatusColumn,
	jobAttemptsColumn,
	jobMaxAttemptsColumn,
	jobNextRunAtColumn,
	jobLastErrorColumn,
	jobResultColumn,
	jobCreatedAtColumn,
	jobStartedAtColumn,
	jobCompletedAtColumn,
}

type JobRepo struct {
	*postgres.Postgres
}

func NewJobRepo(pg *postgres.Postgres) *JobRepo {
	return &JobRepo{pg}
}

func (r *JobRepo) Create(ctx context.Context, job *entity.Job) error {
	sql, args, err := r.Builder.
		Insert(jobsTable).
		Columns(
			jobIDColumn,
			jobTypeColumn,
			jobProposalIDColumn,
			jobPayloadColumn,
			jobStatusColumn,
			jobAttemptsColumn,
			jobMaxAttemptsColumn,
			jobNextRunAtColumn,
			jobCreatedAtColumn,
		).
		Values(
			job.ID,
			job.Type,
			job.ProposalID,
			job.Payload,
			job.Status,
			job.Attempts,
			job.MaxAttempts,
			job.NextRunAt,
			job.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("JobRepo - Create - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("JobRepo - Create - executor.Exec: %w", err)
	}

	return nil
}

// FindPending looks for a job of this type that is still in flight for the
// proposal. Enqueue uses it to keep one pending job per proposal and type.
func (r *JobRepo) FindPending(ctx context.Context, proposalID uuid.UUID, jobType entity.JobType) (*entity.Job, error) {
	sql, args, err := r.Builder.
		Select(jobColumns...).
		From(jobsTable).
		Where(squirrel.And{
			squirrel.Eq{jobProposalIDColumn: proposalID},
			squirrel.Eq{jobTypeColumn: jobType},
			squirrel.Eq{jobStatusColumn: []entity.JobStatus{entity.JobWaiting, entity.JobActive}},
		}).
		OrderBy(jobCreatedAtColumn + " ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("JobRepo - FindPending - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	job, err := scanJob(executor.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("JobRepo - FindPending: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("JobRepo - FindPending - executor.QueryRow: %w", err)
	}

	return job, nil
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	sql, args, err := r.Builder.
		Select(jobColumns...).
		From(jobsTable).
		Where(squirrel.Eq{jobIDColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("JobRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	job, err := scanJob(executor.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("JobRepo - GetByID: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("JobRepo - GetByID - executor.QueryRow: %w", err)
	}

	return job, nil
}

// ClaimDue marks up to limit due waiting jobs as active and returns them.
// The inner select takes row locks with SKIP LOCKED so concurrent runners
// never claim the same job twice.
func (r *JobRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error) {
	// Built with question placeholders so the outer builder can renumber
	// them together with its own.
	subquery, subargs, err := squirrel.
		Select(jobIDColumn).
		From(jobsTable).
		Where(squirrel.And{
			squirrel.Eq{jobStatusColumn: entity.JobWaiting},
			squirrel.LtOrEq{jobNextRunAtColumn: now},
		}).
		OrderBy(jobNextRunAtColumn + " ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("JobRepo - ClaimDue - r.Builder.ToSql: %w", err)
	}

	sql, args, err := r.Builder.
		Update(jobsTable).
		Set(jobStatusColumn, entity.JobActive).
		Set(jobStartedAtColumn, now).
		Where(squirrel.Expr(jobIDColumn+" IN ("+subquery+")", subargs...)).
		Suffix("RETURNING " + joinColumns(jobColumns)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("JobRepo - ClaimDue - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("JobRepo - ClaimDue - executor.Query: %w", err)
	}
	defer rows.Close()

	jobs := make([]*entity.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("JobRepo - ClaimDue - rows.Scan: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("JobRepo - ClaimDue - rows.Err: %w", err)
	}

	return jobs, nil
}

// RequeueStuck returns abandoned active jobs to the queue. The attempt
// counter is left alone, abandonment is not a handler failure.
func (r *JobRepo) RequeueStuck(ctx context.Context, startedBefore time.Time) (int64, error) {
	sql, args, err := r.Builder.
		Update(jobsTable).
		Set(jobStatusColumn, entity.JobWaiting).
		Set(jobNextRunAtColumn, time.Now()).
		Where(squirrel.And{
			squirrel.Eq{jobStatusColumn: entity.JobActive},
			squirrel.Lt{jobStartedAtColumn: startedBefore},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("JobRepo - RequeueStuck - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("JobRepo - RequeueStuck - executor.Exec: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id uuid.UUID, result []byte) error {
	return r.update(ctx, "MarkCompleted", id, map[string]any{
		jobStatusColumn:      entity.JobCompleted,
		jobResultColumn:      result,
		jobCompletedAtColumn: time.Now(),
	})
}

func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.update(ctx, "MarkFailed", id, map[string]any{
		jobStatusColumn:      entity.JobFailed,
		jobLastErrorColumn:   lastError,
		jobCompletedAtColumn: time.Now(),
	})
}

func (r *JobRepo) Reschedule(ctx context.Context, id uuid.UUID, lastError string, nextRunAt time.Time) error {
	sql, args, err := r.Builder.
		Update(jobsTable).
		Set(jobStatusColumn, entity.JobWaiting).
		Set(jobAttemptsColumn, squirrel.Expr(jobAttemptsColumn+" + 1")).
		Set(jobLastErrorColumn, lastError).
		Set(jobNextRunAtColumn, nextRunAt).
		Where(squirrel.Eq{jobIDColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("JobRepo - Reschedule - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("JobRepo - Reschedule - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("JobRepo - Reschedule: %w", errs.ErrRecordNotFound)
	}

	return nil
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[entity.JobStatus]int, error) {
	sql, args, err := r.Builder.
		Select(jobStatusColumn, "COUNT(*)").
		From(jobsTable).
		GroupBy(jobStatusColumn).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("JobRepo - CountByStatus - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("JobRepo - CountByStatus - executor.Query: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.JobStatus]int)
	for rows.Next() {
		var status entity.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("JobRepo - CountByStatus - rows.Scan: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("JobRepo - CountByStatus - rows.Err: %w", err)
	}

	return counts, nil
}

func (r *JobRepo) update(ctx context.Context, method string, id uuid.UUID, set map[string]any) error {
	builder := r.Builder.Update(jobsTable)
	for column, value := range set {
		builder = builder.Set(column, value)
	}

	sql, args, err := builder.
		Where(squirrel.Eq{jobIDColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("JobRepo - %s - r.Builder.ToSql: %w", method, err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("JobRepo - %s - executor.Exec: %w", method, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("JobRepo - %s: %w", method, errs.ErrRecordNotFound)
	}

	return nil
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var job entity.Job
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.ProposalID,
		&job.Payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.NextRunAt,
		&job.LastError,
		&job.Result,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func joinColumns(columns []string) string {
	out := ""
	for i, column := range columns {
		if i > 0 {
			out += ", "
		}
		out += column
	}

	return out
}
