package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// Delete removes the overview, attribute and binding rows of guids in one transaction.
// History rows are kept. Unknown guids are ignored.
func (s *Store) Delete(ctx context.Context, guids ...string) error {
	guids = dedupe(guids)
	if len(guids) == 0 {
		return nil
	}
	start := time.Now()
	if err := s.deleteRows(ctx, guids); err != nil {
		return strata.NewTransactionError(strata.ErrCodeDeleteFailed, "delete transaction rolled back", err).
			WithDetail("guids", len(guids))
	}
	EmitLatency(ctx, "delete", time.Since(start).Milliseconds())
	zap.S().Debugw("deleted entities", "count", len(guids), "elapsed", time.Since(start))
	return nil
}

func (s *Store) deleteRows(ctx context.Context, guids []string) error {
	tx, err := s.session.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Bindings match on both columns, so each chunk binds its guids twice.
	for _, chunk := range guidChunks(guids, s.maxParams()/2, 0) {
		for _, t := range strata.AttributeTables() {
			if _, err := tx.Exec(ctx, deleteByGuid(t.Name, strata.ColEntityGuid, false, len(chunk)), guidArgs(nil, chunk)...); err != nil {
				return fmt.Errorf("delete from %s: %w", t.Name, err)
			}
		}
		markers := markersFor(len(chunk))
		query := fmt.Sprintf("DELETE FROM %s WHERE ParentEntityGuid IN (%s) OR ChildEntityGuid IN (%s)",
			strata.TableEntityBinding, markers, markers)
		if _, err := tx.Exec(ctx, query, guidArgs(guidArgs(nil, chunk), chunk)...); err != nil {
			return fmt.Errorf("delete bindings: %w", err)
		}
		n, err := tx.Exec(ctx, deleteByGuid(strata.TableEntityOverview, strata.ColEntityGuid, false, len(chunk)), guidArgs(nil, chunk)...)
		if err != nil {
			return fmt.Errorf("delete overview: %w", err)
		}
		EmitRowCount(ctx, strata.TableEntityOverview, n)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}
