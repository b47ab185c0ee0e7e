package internal

import (
	"context"
	"database/sql"
	"fmt"
)

type sqlSession struct {
	db    *sql.DB
	style PlaceholderStyle
}

// NewSQLSession wraps a database/sql pool. Queries are rebound to style.
func NewSQLSession(db *sql.DB, style PlaceholderStyle) Session {
	return &sqlSession{db: db, style: style}
}

func (s *sqlSession) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, Rebind(s.style, query), args...)
	return rowsAffected(res, err)
}

func (s *sqlSession) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.db.QueryContext(ctx, Rebind(s.style, query), args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{Rows: rows}, nil
}

func (s *sqlSession) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx, style: s.style}, nil
}

func (s *sqlSession) Close() {
	_ = s.db.Close()
}

type sqlTx struct {
	tx    *sql.Tx
	style PlaceholderStyle
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, Rebind(t.style, query), args...)
	return rowsAffected(res, err)
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, Rebind(t.style, query), args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{Rows: rows}, nil
}

func (t *sqlTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

// sqlRows drops the error of sql.Rows.Close; it is reported again by Err.
type sqlRows struct {
	*sql.Rows
}

func (r *sqlRows) Close() {
	_ = r.Rows.Close()
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows for DDL.
		return 0, nil
	}
	return n, nil
}
