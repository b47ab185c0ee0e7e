package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/strata"
)

type oracleDialect struct {
	dialectBase
}

func newOracleDialect(session Querier) *oracleDialect {
	return &oracleDialect{dialectBase{
		dialect: strata.DialectOracle,
		session: session,
		probes: map[ObjectKind]string{
			KindTable:     "SELECT COUNT(*) FROM user_objects WHERE object_type = 'TABLE' AND object_name = ?",
			KindView:      "SELECT COUNT(*) FROM user_objects WHERE object_type = 'VIEW' AND object_name = ?",
			KindProcedure: "SELECT COUNT(*) FROM user_objects WHERE object_type = 'PROCEDURE' AND object_name = ?",
			KindTrigger:   "SELECT COUNT(*) FROM user_objects WHERE object_type = 'TRIGGER' AND object_name = ?",
		},
		columnSQL: "SELECT COUNT(*) FROM user_tab_columns WHERE table_name = ? AND column_name = ?",
		// unquoted identifiers fold to upper case
		fold: strings.ToUpper,
		types: map[strata.StorageCategory]string{
			strata.CategoryText:          "NVARCHAR2(2000)",
			strata.CategoryInteger:       "NUMBER(10)",
			strata.CategoryLong:          "NUMBER(19)",
			strata.CategoryFloat:         "BINARY_FLOAT",
			strata.CategoryDouble:        "BINARY_DOUBLE",
			strata.CategoryBoolean:       "NUMBER(1)",
			strata.CategoryDateTime:      "TIMESTAMP",
			strata.CategoryZonedDateTime: "NUMBER(19)",
			strata.CategoryTime:          "NUMBER(10)",
			strata.CategoryBlob:          "BLOB",
		},
		extra: map[string]string{
			"guid": "NVARCHAR2(96)",
			"name": "NVARCHAR2(256)",
			"id":   "NUMBER(19)",
			"seq":  "NUMBER(10)",
		},
		maxParams: 32767,
	}}
}

func (d *oracleDialect) AddColumnSyntax(table, column string, c strata.StorageCategory) string {
	return fmt.Sprintf("ALTER TABLE %s ADD (%s %s)", table, column, d.ColumnType(c))
}

// BindValue stores booleans as 0/1; the driver has no boolean bind for NUMBER(1).
func (d *oracleDialect) BindValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// Upsert merges a UNION ALL of single-row selects from dual.
func (d *oracleDialect) Upsert(table string, keys, values []string, rows [][]any) (string, []any) {
	columns := concat(keys, values)
	source, args := d.dualSource(columns, rows)

	on := make([]string, len(keys))
	for i, k := range keys {
		on[i] = fmt.Sprintf("d.%s = s.%s", k, k)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s d USING (%s) s ON (%s)", table, source, strings.Join(on, " AND "))
	if len(values) > 0 {
		fmt.Fprintf(&sb, " WHEN MATCHED THEN UPDATE SET %s", assignments(values, "d.%s = s.%s"))
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(columns, ", "), prefixed("s.", columns))
	return sb.String(), args
}

// Insert uses INSERT ALL, Oracle's multi-row insert form.
func (d *oracleDialect) Insert(table string, columns []string, rows [][]any) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT ALL")
	args := make([]any, 0, len(rows)*len(columns))
	for _, r := range rows {
		fmt.Fprintf(&sb, " INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), markersFor(len(columns)))
		for _, v := range r {
			args = append(args, d.BindValue(v))
		}
	}
	sb.WriteString(" SELECT 1 FROM dual")
	return sb.String(), args
}

func (d *oracleDialect) dualSource(columns []string, rows [][]any) (string, []any) {
	selects := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, r := range rows {
		cols := make([]string, len(columns))
		for j, c := range columns {
			cols[j] = "? " + c
			args = append(args, d.BindValue(r[j]))
		}
		selects[i] = "SELECT " + strings.Join(cols, ", ") + " FROM dual"
	}
	return strings.Join(selects, " UNION ALL "), args
}

func (d *oracleDialect) Extras() []SchemaObject {
	return standardExtras()
}

func prefixed(prefix string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = prefix + c
	}
	return strings.Join(parts, ", ")
}
