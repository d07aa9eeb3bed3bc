package persistent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/postgres"
	"github.com/simpix/formalization/pkg/types/errs"
)

const (
	// Table
	eventsTable = "external_events"

	// Columns
	eventIDColumn          = "id"
	eventSourceColumn      = "source"
	eventTypeColumn        = "event_type"
	eventExternalIDColumn  = "external_id"
	eventOriginColumn      = "origin"
	eventPayloadColumn     = "payload"
	eventPayloadHashColumn = "payload_hash"
	eventIdempotencyKey    = "idempotency_key"
	eventProcessedColumn   = "processed"
	eventProcessedAtColumn = "processed_at"
	eventConflictColumn    = "conflict_reason"
	eventReceivedAtColumn  = "received_at"

	// Postgres unique_violation, raised by the partial unique index on
	// (idempotency_key) WHERE processed.
	pgUniqueViolation = "23505"
)

var eventColumns = []string{
	eventIDColumn,
	eventSourceColumn,
	eventTypeColumn,
	eventExternalIDColumn,
	eventOriginColumn,
	eventPayloadColumn,
	eventPayloadHashColumn,
	eventIdempotencyKey,
	eventProcessedColumn,
	eventProcessedAtColumn,
	eventConflictColumn,
	eventReceivedAtColumn,
}

type EventRepo struct {
	*postgres.Postgres
}

func NewEventRepo(pg *postgres.Postgres) *EventRepo {
	return &EventRepo{pg}
}

func (r *EventRepo) Create(ctx context.Context, event *entity.ExternalEvent) error {
	sql, args, err := r.Builder.
		Insert(eventsTable).
		Columns(
			eventIDColumn,
			eventSourceColumn,
			eventTypeColumn,
			eventExternalIDColumn,
			eventOriginColumn,
			eventPayloadColumn,
			eventPayloadHashColumn,
			eventIdempotencyKey,
			eventProcessedColumn,
			eventReceivedAtColumn,
		).
		Values(
			event.ID,
			event.Source,
			event.EventType,
			event.ExternalID,
			event.Origin,
			event.Payload,
			event.PayloadHash,
			event.IdempotencyKey,
			event.Processed,
			event.ReceivedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("EventRepo - Create - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("EventRepo - Create - executor.Exec: %w", err)
	}

	return nil
}

func (r *EventRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExternalEvent, error) {
	sql, args, err := r.Builder.
		Select(eventColumns...).
		From(eventsTable).
		Where(squirrel.Eq{eventIDColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("EventRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var event entity.ExternalEvent
	err = executor.QueryRow(ctx, sql, args...).Scan(
		&event.ID,
		&event.Source,
		&event.EventType,
		&event.ExternalID,
		&event.Origin,
		&event.Payload,
		&event.PayloadHash,
		&event.IdempotencyKey,
		&event.Processed,
		&event.ProcessedAt,
		&event.ConflictReason,
		&event.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("EventRepo - GetByID: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("EventRepo - GetByID - executor.QueryRow: %w", err)
	}

	return &event, nil
}

func (r *EventRepo) ClaimProcessed(ctx context.Context, id uuid.UUID) error {
	sql, args, err := r.Builder.
		Update(eventsTable).
		Set(eventProcessedColumn, true).
		Set(eventProcessedAtColumn, time.Now()).
		Where(squirrel.And{
			squirrel.Eq{eventIDColumn: id},
			squirrel.Eq{eventProcessedColumn: false},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("EventRepo - ClaimProcessed - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("EventRepo - ClaimProcessed: %w", errs.ErrDuplicateEvent)
		}
		return fmt.Errorf("EventRepo - ClaimProcessed - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("EventRepo - ClaimProcessed: %w", errs.ErrRecordNotFound)
	}

	return nil
}

func (r *EventRepo) MarkConflict(ctx context.Context, id uuid.UUID, reason string) error {
	sql, args, err := r.Builder.
		Update(eventsTable).
		Set(eventConflictColumn, reason).
		Where(squirrel.Eq{eventIDColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("EventRepo - MarkConflict - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("EventRepo - MarkConflict - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("EventRepo - MarkConflict: %w", errs.ErrRecordNotFound)
	}

	return nil
}

func (r *EventRepo) ListConflicts(ctx context.Context, limit int) ([]*entity.ExternalEvent, error) {
	sql, args, err := r.Builder.
		Select(eventColumns...).
		From(eventsTable).
		Where(squirrel.And{
			squirrel.Eq{eventProcessedColumn: false},
			squirrel.NotEq{eventConflictColumn: nil},
		}).
		OrderBy(eventReceivedAtColumn + " ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("EventRepo - ListConflicts - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("EventRepo - ListConflicts - executor.Query: %w", err)
	}
	defer rows.Close()

	var events []*entity.ExternalEvent
	for rows.Next() {
		var event entity.ExternalEvent
		err = rows.Scan(
			&event.ID,
			&event.Source,
			&event.EventType,
			&event.ExternalID,
			&event.Origin,
			&event.Payload,
			&event.PayloadHash,
			&event.IdempotencyKey,
			&event.Processed,
			&event.ProcessedAt,
			&event.ConflictReason,
			&event.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("EventRepo - ListConflicts - rows.Scan: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("EventRepo - ListConflicts - rows.Err: %w", err)
	}

	return events, nil
}
