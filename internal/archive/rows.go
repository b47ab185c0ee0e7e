package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
)

type historyRow struct {
	guid     string
	fieldID  int64
	seq      int32
	modified time.Time
	values   []any
}

func (r historyRow) args() []any {
	args := make([]any, 0, 4+len(r.values))
	args = append(args, r.guid, r.fieldID, r.seq, r.modified)
	return append(args, r.values...)
}

func historyColumnList() string {
	cols := []string{strata.ColEntityGuid, strata.ColFieldID, strata.ColSequence, "DateOfModification"}
	for _, col := range internal.HistoryColumns {
		cols = append(cols, col.Name)
	}
	return strings.Join(cols, ", ")
}

const historyOrder = "ORDER BY DateOfModification, EntityGuid, FieldId, Sequence"

// selectOlder renders the batch query; its single argument is the cutoff.
func selectOlder(d strata.Dialect, limit int) string {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE DateOfModification < ? %s", historyColumnList(), strata.TableOldFieldValues, historyOrder)
	switch d {
	case strata.DialectOracle:
		return fmt.Sprintf("%s FETCH FIRST %d ROWS ONLY", query, limit)
	case strata.DialectTransactSQL:
		return fmt.Sprintf("%s OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", query, limit)
	}
	return fmt.Sprintf("%s LIMIT %d", query, limit)
}

func selectAt() string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE DateOfModification = ? %s", historyColumnList(), strata.TableOldFieldValues, historyOrder)
}

func deleteWindow(inclusive bool) string {
	op := "<"
	if inclusive {
		op = "<="
	}
	return fmt.Sprintf("DELETE FROM %s WHERE DateOfModification %s ?", strata.TableOldFieldValues, op)
}

func scanHistoryRow(rows internal.Rows) (historyRow, error) {
	raw := make([]any, 4+len(internal.HistoryColumns))
	dest := make([]any, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return historyRow{}, fmt.Errorf("scan history row: %w", err)
	}

	var r historyRow
	head := []struct {
		category strata.StorageCategory
		assign   func(any)
	}{
		{strata.CategoryText, func(v any) { r.guid = v.(string) }},
		{strata.CategoryLong, func(v any) { r.fieldID = v.(int64) }},
		{strata.CategoryInteger, func(v any) { r.seq = v.(int32) }},
		{strata.CategoryDateTime, func(v any) { r.modified = v.(time.Time) }},
	}
	for i, h := range head {
		v, err := internal.DecodeColumn(h.category, raw[i])
		if err != nil {
			return historyRow{}, fmt.Errorf("decode history column %d: %w", i, err)
		}
		if v == nil {
			return historyRow{}, fmt.Errorf("history column %d is null", i)
		}
		h.assign(v)
	}

	r.values = make([]any, len(internal.HistoryColumns))
	for i, col := range internal.HistoryColumns {
		v, err := internal.DecodeColumn(col.Category, raw[4+i])
		if err != nil {
			return historyRow{}, fmt.Errorf("decode %s of %s: %w", col.Name, r.guid, err)
		}
		r.values[i] = v
	}
	return r, nil
}
