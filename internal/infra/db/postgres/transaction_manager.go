package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// serialization_failure and deadlock_detected: safe to run the whole unit again
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// TxManager runs units of work in a pgx transaction. The callback gets the
// pgx.Tx as a repository.Tx so repositories stay driver-agnostic.
type TxManager struct {
	pool     *pgxpool.Pool
	attempts int
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool, attempts: 3}
}

// WithTx commits when fn returns nil and rolls back otherwise, including on
// panic. Units that lose a serialization race are retried as a whole.
func (m *TxManager) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	var err error
	for i := 0; i < m.attempts; i++ {
		if err = m.runOnce(ctx, opts, fn); !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction gave up after %d attempts: %w", m.attempts, err)
}

func (m *TxManager) runOnce(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(context.Background())
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}

// querier is the subset shared by the pool, a checked-out conn and a tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// getExecutor resolves the handle a repository call runs on; nil means the pool.
func getExecutor(pool *pgxpool.Pool, tx repository.Tx) (querier, error) {
	if tx == nil {
		if pool == nil {
			return nil, domain.ErrInvalidArgument
		}
		return pool, nil
	}
	if q, ok := tx.(querier); ok {
		return q, nil
	}
	return nil, domain.ErrInvalidExecContext
}

func execSQL(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	q, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return q.Exec(ctx, sql, args...)
}

func pickRow(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, sql string, args ...interface{}) (pgx.Row, error) {
	q, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return q.QueryRow(ctx, sql, args...), nil
}

func queryRows(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, sql string, args ...interface{}) (pgx.Rows, error) {
	q, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return q.Query(ctx, sql, args...)
}
