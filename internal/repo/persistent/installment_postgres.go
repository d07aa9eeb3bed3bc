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
	installmentsTable = "installments"

	// Columns
	installmentIDColumn      = "id"
	installmentProposalID    = "proposal_id"
	installmentNumberColumn  = "number"
	installmentDueDateColumn = "due_date"
	installmentAmountColumn  = "amount_cents"
	installmentStatusColumn  = "status"
	installmentCollectionRef = "collection_ref"
	installmentPaidAtColumn  = "paid_at"
)

var installmentColumns = []string{
	installmentIDColumn,
	installmentProposalID,
	installmentNumberColumn,
	installmentDueDateColumn,
	installmentAmountColumn,
	installmentStatusColumn,
	installmentCollectionRef,
	installmentPaidAtColumn,
}

type InstallmentRepo struct {
	*postgres.Postgres
}

func NewInstallmentRepo(pg *postgres.Postgres) *InstallmentRepo {
	return &InstallmentRepo{pg}
}

func (r *InstallmentRepo) CreateBatch(ctx context.Context, installments []*entity.Installment) error {
	if len(installments) == 0 {
		return nil
	}

	builder := r.Builder.
		Insert(installmentsTable).
		Columns(
			installmentIDColumn,
			installmentProposalID,
			installmentNumberColumn,
			installmentDueDateColumn,
			installmentAmountColumn,
			installmentStatusColumn,
		)

	for _, installment := range installments {
		builder = builder.Values(
			installment.ID,
			installment.ProposalID,
			installment.Number,
			installment.DueDate,
			installment.AmountCents,
			installment.Status,
		)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("InstallmentRepo - CreateBatch - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("InstallmentRepo - CreateBatch - executor.Exec: %w", err)
	}

	return nil
}

func (r *InstallmentRepo) ListByProposal(ctx context.Context, proposalID uuid.UUID) ([]*entity.Installment, error) {
	sql, args, err := r.Builder.
		Select(installmentColumns...).
		From(installmentsTable).
		Where(squirrel.Eq{installmentProposalID: proposalID}).
		OrderBy(installmentNumberColumn + " ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("InstallmentRepo - ListByProposal - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("InstallmentRepo - ListByProposal - executor.Query: %w", err)
	}
	defer rows.Close()

	var installments []*entity.Installment
	for rows.Next() {
		installment, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("InstallmentRepo - ListByProposal - rows.Scan: %w", err)
		}
		installments = append(installments, installment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("InstallmentRepo - ListByProposal - rows.Err: %w", err)
	}

	return installments, nil
}

func (r *InstallmentRepo) GetByCollectionRef(ctx context.Context, ref string) (*entity.Installment, error) {
	sql, args, err := r.Builder.
		Select(installmentColumns...).
		From(installmentsTable).
		Where(squirrel.Eq{installmentCollectionRef: ref}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("InstallmentRepo - GetByCollectionRef - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	installment, err := scanInstallment(executor.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("InstallmentRepo - GetByCollectionRef: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("InstallmentRepo - GetByCollectionRef - executor.QueryRow: %w", err)
	}

	return installment, nil
}

func (r *InstallmentRepo) SetStatus(
	ctx context.Context,
	id uuid.UUID,
	status entity.InstallmentStatus,
	paidAt *time.Time,
) error {
	sql, args, err := r.Builder.
		Update(installmentsTable).
		Set(installmentStatusColumn, status).
		Set(installmentPaidAtColumn, paidAt).
		Where(squirrel.Eq{installmentIDColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("InstallmentRepo - SetStatus - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("InstallmentRepo - SetStatus - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("InstallmentRepo - SetStatus: %w", errs.ErrRecordNotFound)
	}

	return nil
}

func (r *InstallmentRepo) SetCollectionRef(ctx context.Context, id uuid.UUID, ref string) error {
	sql, args, err := r.Builder.
		Update(installmentsTable).
		Set(installmentCollectionRef, ref).
		Where(squirrel.Eq{installmentIDColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("InstallmentRepo - SetCollectionRef - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("InstallmentRepo - SetCollectionRef - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("InstallmentRepo - SetCollectionRef: %w", errs.ErrRecordNotFound)
	}

	return nil
}

func (r *InstallmentRepo) CountUnpaid(ctx context.Context, proposalID uuid.UUID) (int, error) {
	sql, args, err := r.Builder.
		Select("COUNT(*)").
		From(installmentsTable).
		Where(squirrel.And{
			squirrel.Eq{installmentProposalID: proposalID},
			squirrel.NotEq{installmentStatusColumn: entity.InstallmentPaid},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("InstallmentRepo - CountUnpaid - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var count int
	err = executor.QueryRow(ctx, sql, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("InstallmentRepo - CountUnpaid - executor.QueryRow: %w", err)
	}

	return count, nil
}

func scanInstallment(row pgx.Row) (*entity.Installment, error) {
	var installment entity.Installment
	err := row.Scan(
		&installment.ID,
		&installment.ProposalID,
		&installment.Number,
		&installment.DueDate,
		&installment.AmountCents,
		&installment.Status,
		&installment.CollectionRef,
		&installment.PaidAt,
	)
	if err != nil {
		return nil, err
	}

	return &installment, nil
}
