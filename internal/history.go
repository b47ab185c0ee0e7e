package internal

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

type attrKey struct {
	guid    string
	fieldID int64
}

// writeHistory records, for every position about to be overwritten or cleared, the
// value currently stored there. Unchanged positions and new positions are not logged.
func (s *Store) writeHistory(ctx context.Context, tx Tx, p *savePlan, now time.Time) error {
	for _, t := range strata.AttributeTables() {
		writes := p.writes[t.Name]
		if len(writes) == 0 {
			continue
		}
		prior, err := s.readPrior(ctx, tx, t, writes)
		if err != nil {
			return err
		}
		var rows [][]any
		for _, w := range writes {
			positions := prior[attrKey{w.guid, w.field.ID}]
			seqs := make([]int32, 0, len(positions))
			for seq := range positions {
				seqs = append(seqs, seq)
			}
			slices.Sort(seqs)
			for _, seq := range seqs {
				old := positions[seq]
				if int(seq) < len(w.values) && storedEqual(old, w.values[seq]) {
					continue
				}
				rows = append(rows, []any{w.guid, w.field.ID, seq, now, historyForm(old)})
			}
		}
		if len(rows) == 0 {
			continue
		}
		columns := append(slices.Clone(historyBaseCols), t.HistoryColumn)
		n, err := execBatches(ctx, tx, s.maxParams(), len(columns), rows, func(chunk [][]any) (string, []any) {
			return s.backend.Insert(strata.TableOldFieldValues, columns, chunk)
		})
		if err != nil {
			return fmt.Errorf("log edits of %s: %w", t.Name, err)
		}
		EmitRowCount(ctx, strata.TableOldFieldValues, n)
	}
	return nil
}

// readPrior returns the stored values of the written fields keyed by instance, field
// and position. Scalar tables report position 0.
func (s *Store) readPrior(ctx context.Context, q Querier, t strata.Table, writes []fieldWrite) (map[attrKey]map[int32]any, error) {
	out := make(map[attrKey]map[int32]any)
	category := strata.ValueCategory(t)
	columns := []string{strata.ColEntityGuid, strata.ColFieldID}
	if t.Array {
		columns = append(columns, strata.ColSequence)
	}
	columns = append(columns, strata.ColValue)

	fieldIDs, guids := groupByField(writes)
	for _, fid := range fieldIDs {
		for _, chunk := range guidChunks(guids[fid], s.maxParams(), 1) {
			query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s IN (%s)",
				strings.Join(columns, ", "), t.Name, strata.ColFieldID, strata.ColEntityGuid, markersFor(len(chunk)))
			if err := s.scanPrior(ctx, q, query, guidArgs([]any{fid}, chunk), t.Array, category, out); err != nil {
				return nil, fmt.Errorf("read prior %s values: %w", t.Name, err)
			}
		}
	}
	return out, nil
}

func (s *Store) scanPrior(ctx context.Context, q Querier, query string, args []any, array bool, category strata.StorageCategory, out map[attrKey]map[int32]any) error {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rawGuid, rawField, rawSeq, rawValue any
		dest := []any{&rawGuid, &rawField}
		if array {
			dest = append(dest, &rawSeq)
		}
		dest = append(dest, &rawValue)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		guid, err := scanString(rawGuid)
		if err != nil {
			return err
		}
		fid, err := scanInt64(rawField)
		if err != nil {
			return err
		}
		var seq int64
		if array {
			if seq, err = scanInt64(rawSeq); err != nil {
				return err
			}
		}
		value, err := decodeStored(category, rawValue)
		if err != nil {
			zap.S().Warnw("prior value not logged", "entityGuid", guid, "fieldId", fid, "error", err)
			continue
		}
		key := attrKey{guid, fid}
		if out[key] == nil {
			out[key] = make(map[int32]any)
		}
		out[key][int32(seq)] = value
	}
	return rows.Err()
}
