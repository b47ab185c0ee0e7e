package internal

import (
	"context"
	"fmt"
	"strings"
)

// execBatches renders rows in chunks that fit the per-statement parameter limit and
// executes them in order. It returns the total number of affected rows.
func execBatches(ctx context.Context, q Querier, maxParams, width int, rows [][]any, render func([][]any) (string, []any)) (int64, error) {
	var total int64
	step := rowsPerStatement(maxParams, width)
	for start := 0; start < len(rows); start += step {
		end := min(start+step, len(rows))
		query, args := render(rows[start:end])
		n, err := q.Exec(ctx, query, args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// guidChunks splits guids into IN lists leaving reserved markers free for the rest of the statement.
func guidChunks(guids []string, maxParams, reserved int) [][]string {
	step := rowsPerStatement(maxParams-reserved, 1)
	var out [][]string
	for start := 0; start < len(guids); start += step {
		out = append(out, guids[start:min(start+step, len(guids))])
	}
	return out
}

func guidArgs(prefix []any, guids []string) []any {
	args := make([]any, 0, len(prefix)+len(guids))
	args = append(args, prefix...)
	for _, g := range guids {
		args = append(args, g)
	}
	return args
}

// deleteByGuid renders DELETE FROM table WHERE [FieldId = ? AND] column IN (...).
func deleteByGuid(table, column string, withField bool, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DELETE FROM %s WHERE ", table)
	if withField {
		sb.WriteString("FieldId = ? AND ")
	}
	fmt.Fprintf(&sb, "%s IN (%s)", column, markersFor(n))
	return sb.String()
}
