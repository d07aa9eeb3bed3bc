package persistent

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/pkg/postgres"
)

const (
	// Table
	auditTable = "audit_log"

	// Columns
	auditIDColumn         = "id"
	auditProposalIDColumn = "proposal_id"
	auditFromColumn       = "from_status"
	auditToColumn         = "to_status"
	auditTriggeredBy      = "triggered_by"
	auditMetadataColumn   = "metadata"
	auditCreatedAtColumn  = "created_at"
)

// AuditRepo is append-only. Entries are never updated or deleted.
type AuditRepo struct {
	*postgres.Postgres
}

func NewAuditRepo(pg *postgres.Postgres) *AuditRepo {
	return &AuditRepo{pg}
}

func (r *AuditRepo) Append(ctx context.Context, entry *entity.AuditLogEntry) error {
	sql, args, err := r.Builder.
		Insert(auditTable).
		Columns(
			auditIDColumn,
			auditProposalIDColumn,
			auditFromColumn,
			auditToColumn,
			auditTriggeredBy,
			auditMetadataColumn,
			auditCreatedAtColumn,
		).
		Values(
			entry.ID,
			entry.ProposalID,
			entry.FromStatus,
			entry.ToStatus,
			entry.TriggeredBy,
			entry.Metadata,
			entry.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("AuditRepo - Append - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("AuditRepo - Append - executor.Exec: %w", err)
	}

	return nil
}

func (r *AuditRepo) ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]*entity.AuditLogEntry, error) {
	sql, args, err := r.Builder.
		Select(
			auditIDColumn,
			auditProposalIDColumn,
			auditFromColumn,
			auditToColumn,
			auditTriggeredBy,
			auditMetadataColumn,
			auditCreatedAtColumn,
		).
		From(auditTable).
		Where(squirrel.Eq{auditProposalIDColumn: proposalID}).
		OrderBy(auditCreatedAtColumn + " ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("AuditRepo - ListByProposal - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("AuditRepo - ListByProposal - executor.Query: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditLogEntry
	for rows.Next() {
		var entry entity.AuditLogEntry
		err = rows.Scan(
			&entry.ID,
			&entry.ProposalID,
			&entry.FromStatus,
			&entry.ToStatus,
			&entry.TriggeredBy,
			&entry.Metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("AuditRepo - ListByProposal - rows.Scan: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("AuditRepo - ListByProposal - rows.Err: %w", err)
	}

	return entries, nil
}
