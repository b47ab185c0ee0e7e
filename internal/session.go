package internal

import (
	"context"

	"github.com/lychee-technology/strata"
)

// Querier runs statements written with '?' placeholders; implementations rebind them
// to the placeholder style of their backend.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Session is a connection pool bound to one dialect.
type Session interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// Tx is a unit of work. Callers defer Rollback; its error after Commit is ignored.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows iterates a result set. Close must be called on every path.
type Rows = strata.Rows

// queryCount runs a single-value count query.
func queryCount(ctx context.Context, q Querier, query string, args ...any) (int, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return 0, err
		}
		count, err = scanInt64(raw)
		if err != nil {
			return 0, err
		}
	}
	return int(count), rows.Err()
}
