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
	proposalsTable = "proposals"

	// Columns
	proposalIDColumn        = "id"
	proposalStatusColumn    = "status"
	proposalSignerName      = "signer_name"
	proposalSignerEmail     = "signer_email"
	proposalPayerTaxID      = "payer_tax_id"
	proposalSigningDeadline = "signature_deadline"
	proposalSignatureRef    = "signature_ref"
	proposalDocumentKey     = "document_key"
	proposalSignedDocKey    = "signed_document_key"
	proposalSignedDocSHA    = "signed_document_sha256"
	proposalBookletKey      = "booklet_key"
	proposalVersionColumn   = "version"
	proposalCreatedAtColumn = "created_at"
	proposalUpdatedAtColumn = "updated_at"
)

var proposalColumns = []string{
	proposalIDColumn,
	proposalStatusColumn,
	proposalSignerName,
	proposalSignerEmail,
	proposalPayerTaxID,
	proposalSigningDeadline,
	proposalSignatureRef,
	proposalDocumentKey,
	proposalSignedDocKey,
	proposalSignedDocSHA,
	proposalBookletKey,
	proposalVersionColumn,
	proposalCreatedAtColumn,
	proposalUpdatedAtColumn,
}

type ProposalRepo struct {
	*postgres.Postgres
}

func NewProposalRepo(pg *postgres.Postgres) *ProposalRepo {
	return &ProposalRepo{pg}
}

func (r *ProposalRepo) Create(ctx context.Context, proposal *entity.Proposal) error {
	sql, args, err := r.Builder.
		Insert(proposalsTable).
		Columns(
			proposalIDColumn,
			proposalStatusColumn,
			proposalSignerName,
			proposalSignerEmail,
			proposalPayerTaxID,
			proposalSigningDeadline,
			proposalDocumentKey,
			proposalVersionColumn,
			proposalCreatedAtColumn,
			proposalUpdatedAtColumn,
		).
		Values(
			proposal.ID,
			proposal.Status,
			proposal.SignerName,
			proposal.SignerEmail,
			proposal.PayerTaxID,
			proposal.SignatureDeadline,
			proposal.DocumentKey,
			proposal.Version,
			proposal.CreatedAt,
			proposal.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("ProposalRepo - Create - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("ProposalRepo - Create - executor.Exec: %w", err)
	}

	return nil
}

func (r *ProposalRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Proposal, error) {
	return r.getOne(ctx, "GetByID", squirrel.Eq{proposalIDColumn: id}, "")
}

func (r *ProposalRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*entity.Proposal, error) {
	return r.getOne(ctx, "GetByIDForUpdate", squirrel.Eq{proposalIDColumn: id}, "FOR UPDATE")
}

func (r *ProposalRepo) GetIDBySignatureRef(ctx context.Context, ref string) (uuid.UUID, error) {
	sql, args, err := r.Builder.
		Select(proposalIDColumn).
		From(proposalsTable).
		Where(squirrel.Eq{proposalSignatureRef: ref}).
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("ProposalRepo - GetIDBySignatureRef - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var id uuid.UUID
	err = executor.QueryRow(ctx, sql, args...).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("ProposalRepo - GetIDBySignatureRef: %w", errs.ErrRecordNotFound)
		}
		return uuid.Nil, fmt.Errorf("ProposalRepo - GetIDBySignatureRef - executor.QueryRow: %w", err)
	}

	return id, nil
}

func (r *ProposalRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.Status) error {
	return r.update(ctx, "UpdateStatus", id, map[string]any{proposalStatusColumn: status})
}

func (r *ProposalRepo) SetDocumentKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.update(ctx, "SetDocumentKey", id, map[string]any{proposalDocumentKey: key})
}

func (r *ProposalRepo) SetSignatureRef(ctx context.Context, id uuid.UUID, ref string) error {
	return r.update(ctx, "SetSignatureRef", id, map[string]any{proposalSignatureRef: ref})
}

func (r *ProposalRepo) SetSignedDocument(ctx context.Context, id uuid.UUID, key, sha256Hex string) error {
	return r.update(ctx, "SetSignedDocument", id, map[string]any{
		proposalSignedDocKey: key,
		proposalSignedDocSHA: sha256Hex,
	})
}

func (r *ProposalRepo) SetBookletKey(ctx context.Context, id uuid.UUID, key string) error {
	return r.update(ctx, "SetBookletKey", id, map[string]any{proposalBookletKey: key})
}

func (r *ProposalRepo) SelectStale(
	ctx context.Context,
	statuses []entity.Status,
	olderThan time.Time,
	limit int,
) ([]*entity.Proposal, error) {
	sql, args, err := r.Builder.
		Select(proposalColumns...).
		From(proposalsTable).
		Where(squirrel.And{
			squirrel.Eq{proposalStatusColumn: statuses},
			squirrel.Lt{proposalUpdatedAtColumn: olderThan},
		}).
		OrderBy(proposalUpdatedAtColumn + " ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ProposalRepo - SelectStale - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ProposalRepo - SelectStale - executor.Query: %w", err)
	}
	defer rows.Close()

	proposals := make([]*entity.Proposal, 0, limit)
	for rows.Next() {
		proposal, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("ProposalRepo - SelectStale - rows.Scan: %w", err)
		}
		proposals = append(proposals, proposal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ProposalRepo - SelectStale - rows.Err: %w", err)
	}

	return proposals, nil
}

func (r *ProposalRepo) getOne(ctx context.Context, method string, where squirrel.Sqlizer, suffix string) (*entity.Proposal, error) {
	builder := r.Builder.
		Select(proposalColumns...).
		From(proposalsTable).
		Where(where)
	if suffix != "" {
		builder = builder.Suffix(suffix)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ProposalRepo - %s - r.Builder.ToSql: %w", method, err)
	}

	executor := r.GetExecutor(ctx)

	proposal, err := scanProposal(executor.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ProposalRepo - %s: %w", method, errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("ProposalRepo - %s - executor.QueryRow: %w", method, err)
	}

	return proposal, nil
}

func (r *ProposalRepo) update(ctx context.Context, method string, id uuid.UUID, set map[string]any) error {
	builder := r.Builder.Update(proposalsTable)
	for column, value := range set {
		builder = builder.Set(column, value)
	}

	sql, args, err := builder.
		Set(proposalUpdatedAtColumn, time.Now()).
		Set(proposalVersionColumn, squirrel.Expr(proposalVersionColumn+" + 1")).
		Where(squirrel.Eq{proposalIDColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("ProposalRepo - %s - r.Builder.ToSql: %w", method, err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("ProposalRepo - %s - executor.Exec: %w", method, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ProposalRepo - %s: %w", method, errs.ErrRecordNotFound)
	}

	return nil
}

func scanProposal(row pgx.Row) (*entity.Proposal, error) {
	var proposal entity.Proposal
	err := row.Scan(
		&proposal.ID,
		&proposal.Status,
		&proposal.SignerName,
		&proposal.SignerEmail,
		&proposal.PayerTaxID,
		&proposal.SignatureDeadline,
		&proposal.SignatureRef,
		&proposal.DocumentKey,
		&proposal.SignedDocumentKey,
		&proposal.SignedDocumentSHA,
		&proposal.BookletKey,
		&proposal.Version,
		&proposal.CreatedAt,
		&proposal.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &proposal, nil
}
