package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/strata"
)

type tsqlDialect struct {
	dialectBase
}

func newTSQLDialect(session Querier) *tsqlDialect {
	return &tsqlDialect{dialectBase{
		dialect: strata.DialectTransactSQL,
		session: session,
		probes: map[ObjectKind]string{
			KindTable:     "SELECT COUNT(*) FROM sysobjects WHERE name = ? AND xtype = 'U'",
			KindView:      "SELECT COUNT(*) FROM sysobjects WHERE name = ? AND xtype = 'V'",
			KindProcedure: "SELECT COUNT(*) FROM sysobjects WHERE name = ? AND xtype = 'P'",
			KindTrigger:   "SELECT COUNT(*) FROM sysobjects WHERE name = ? AND xtype = 'TR'",
		},
		columnSQL: "SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = ? AND COLUMN_NAME = ?",
		fold:      identity,
		types: map[strata.StorageCategory]string{
			strata.CategoryText:          "NVARCHAR(MAX)",
			strata.CategoryInteger:       "INTEGER",
			strata.CategoryLong:          "BIGINT",
			strata.CategoryFloat:         "REAL",
			strata.CategoryDouble:        "FLOAT",
			strata.CategoryBoolean:       "BIT",
			strata.CategoryDateTime:      "DATETIME2",
			strata.CategoryZonedDateTime: "BIGINT",
			strata.CategoryTime:          "INTEGER",
			strata.CategoryBlob:          "VARBINARY(MAX)",
		},
		extra: map[string]string{
			"guid": "NVARCHAR(96)",
			"name": "NVARCHAR(256)",
			"id":   "BIGINT",
			"seq":  "INTEGER",
		},
		// 2100 is the server limit, one marker is kept spare.
		maxParams: 2099,
	}}
}

func (d *tsqlDialect) AddColumnSyntax(table, column string, c strata.StorageCategory) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s %s", table, column, d.ColumnType(c))
}

// Upsert merges a VALUES row constructor into the target under HOLDLOCK.
func (d *tsqlDialect) Upsert(table string, keys, values []string, rows [][]any) (string, []any) {
	columns := concat(keys, values)
	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s WITH (HOLDLOCK) AS d USING (VALUES ", table)
	args := make([]any, 0, len(rows)*len(columns))
	row := "(" + markersFor(len(columns)) + ")"
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
		for _, v := range r {
			args = append(args, d.BindValue(v))
		}
	}
	on := make([]string, len(keys))
	for i, k := range keys {
		on[i] = fmt.Sprintf("d.%s = s.%s", k, k)
	}
	fmt.Fprintf(&sb, ") AS s (%s) ON %s", strings.Join(columns, ", "), strings.Join(on, " AND "))
	if len(values) > 0 {
		fmt.Fprintf(&sb, " WHEN MATCHED THEN UPDATE SET %s", assignments(values, "d.%s = s.%s"))
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);", strings.Join(columns, ", "), prefixed("s.", columns))
	return sb.String(), args
}

func (d *tsqlDialect) Insert(table string, columns []string, rows [][]any) (string, []any) {
	return valuesInsert("INSERT INTO", table, columns, rows, d.BindValue)
}

// Extras adds the trigger removing bindings of deleted child entities; a second
// cascading foreign key on the binding table would form multiple cascade paths.
func (d *tsqlDialect) Extras() []SchemaObject {
	return append(standardExtras(), SchemaObject{
		Name:     "trigDeleteEntityBinding",
		Symbol:   "cascade-entity-binding",
		Kind:     KindTrigger,
		Template: "cascade_binding_trigger",
	})
}
