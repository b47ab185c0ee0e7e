package internal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store needs. pgxmock pools satisfy it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

type pgxSession struct {
	pool PgxPool
}

// NewPgxSession wraps a pgx pool. Queries are rebound to $n markers.
func NewPgxSession(pool PgxPool) Session {
	return &pgxSession{pool: pool}
}

func (s *pgxSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, Rebind(PlaceholderDollar, query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgxSession) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return s.pool.Query(ctx, Rebind(PlaceholderDollar, query), args...)
}

func (s *pgxSession) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgxTx{tx: tx}, nil
}

func (s *pgxSession) Close() {
	s.pool.Close()
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, Rebind(PlaceholderDollar, query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgxTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return t.tx.Query(ctx, Rebind(PlaceholderDollar, query), args...)
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
