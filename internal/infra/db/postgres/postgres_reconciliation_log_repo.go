package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
)

var _ repository.ReconciliationLogRepository = (*reconciliationLogRepo)(nil)

const uniqueViolation = "23505"

type reconciliationLogRepo struct{ pool *pgxpool.Pool }

func NewReconciliationLogRepo(pool *pgxpool.Pool) *reconciliationLogRepo {
	return &reconciliationLogRepo{pool: pool}
}

const reconciliationColumns = `id, payment_id, subject_kind, user_id, flow, state, outcome_kind, reason, attempts, started_at, resolved_at`

func (r *reconciliationLogRepo) Start(ctx context.Context, tx repository.Tx, rec *model.ReconciliationRecord) error {
	const q = `
INSERT INTO payment_reconciliations (id, payment_id, subject_kind, user_id, flow, state, attempts, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := execSQL(ctx, r.pool, tx, q, rec.ID, rec.PaymentID, rec.SubjectKind, rec.UserID, rec.Flow, model.ReconciliationPending, rec.Attempts, rec.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

// Resolve closes a pending row. A row that is already resolved or abandoned
// is left alone and reported as not found.
func (r *reconciliationLogRepo) Resolve(ctx context.Context, tx repository.Tx, id string, o model.Outcome) error {
	const q = `
UPDATE payment_reconciliations
SET state = $2, outcome_kind = $3, reason = $4, status = NULLIF($5, ''), source = $6,
    amount = $7, attempts = $8, resolved_at = $9
WHERE id = $1 AND state = 'pending';`

	resolvedAt := o.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now()
	}
	tag, err := execSQL(ctx, r.pool, tx, q, id, model.ReconciliationResolved, o.Kind, o.Reason, string(o.Status), o.Source, o.Amount, o.Attempts, resolvedAt)
	if err != nil {
		return domain.ErrOperationFailed
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *reconciliationLogRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ReconciliationRecord, error) {
	q := `SELECT ` + reconciliationColumns + ` FROM payment_reconciliations WHERE id = $1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	rec, err := scanReconciliation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return rec, nil
}

func (r *reconciliationLogRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.ReconciliationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + reconciliationColumns + `
FROM payment_reconciliations
WHERE state = 'pending' AND started_at < $1
ORDER BY started_at
LIMIT $2
FOR UPDATE SKIP LOCKED;`
	rows, err := queryRows(ctx, r.pool, tx, q, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ReconciliationRecord
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *reconciliationLogRepo) MarkAbandoned(ctx context.Context, tx repository.Tx, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const q = `
UPDATE payment_reconciliations
SET state = 'abandoned', resolved_at = now()
WHERE id = ANY($1) AND state = 'pending';`
	tag, err := execSQL(ctx, r.pool, tx, q, ids)
	if err != nil {
		return 0, domain.ErrOperationFailed
	}
	return int(tag.RowsAffected()), nil
}

func scanReconciliation(row pgx.Row) (*model.ReconciliationRecord, error) {
	var (
		rec          model.ReconciliationRecord
		kind, state  string
		outcomeKind  *string
		reason       *string
		userID, flow *string
	)
	if err := row.Scan(&rec.ID, &rec.PaymentID, &kind, &userID, &flow, &state, &outcomeKind, &reason, &rec.Attempts, &rec.StartedAt, &rec.ResolvedAt); err != nil {
		return nil, err
	}
	rec.SubjectKind = model.SubjectKind(kind)
	rec.State = model.ReconciliationState(state)
	if userID != nil {
		rec.UserID = *userID
	}
	if flow != nil {
		rec.Flow = *flow
	}
	if outcomeKind != nil {
		k := model.OutcomeKind(*outcomeKind)
		rec.OutcomeKind = &k
	}
	if reason != nil {
		rs := model.OutcomeReason(*reason)
		rec.Reason = &rs
	}
	return &rec, nil
}
