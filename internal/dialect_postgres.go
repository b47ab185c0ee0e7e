package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/strata"
)

type postgresDialect struct {
	dialectBase
}

func newPostgresDialect(session Querier) *postgresDialect {
	return &postgresDialect{dialectBase{
		dialect: strata.DialectPostgres,
		session: session,
		probes: map[ObjectKind]string{
			KindTable:     "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?",
			KindView:      "SELECT COUNT(*) FROM information_schema.views WHERE table_schema = current_schema() AND table_name = ?",
			KindProcedure: "SELECT COUNT(*) FROM information_schema.routines WHERE routine_schema = current_schema() AND routine_name = ?",
			KindTrigger:   "SELECT COUNT(*) FROM information_schema.triggers WHERE trigger_schema = current_schema() AND trigger_name = ?",
		},
		columnSQL: "SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ? AND column_name = ?",
		// unquoted identifiers fold to lower case
		fold: strings.ToLower,
		types: map[strata.StorageCategory]string{
			strata.CategoryText:          "TEXT",
			strata.CategoryInteger:       "INTEGER",
			strata.CategoryLong:          "BIGINT",
			strata.CategoryFloat:         "REAL",
			strata.CategoryDouble:        "DOUBLE PRECISION",
			strata.CategoryBoolean:       "BOOLEAN",
			strata.CategoryDateTime:      "TIMESTAMP",
			strata.CategoryZonedDateTime: "BIGINT",
			strata.CategoryTime:          "INTEGER",
			strata.CategoryBlob:          "BYTEA",
		},
		extra: map[string]string{
			"guid": "VARCHAR(96)",
			"name": "VARCHAR(256)",
			"id":   "BIGINT",
			"seq":  "INTEGER",
		},
		maxParams: 65535,
	}}
}

func (d *postgresDialect) Upsert(table string, keys, values []string, rows [][]any) (string, []any) {
	query, args := valuesInsert("INSERT INTO", table, concat(keys, values), rows, d.BindValue)
	if len(values) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", query, strings.Join(keys, ", ")), args
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", query, strings.Join(keys, ", "), assignments(values, "%s = EXCLUDED.%s")), args
}

func (d *postgresDialect) Insert(table string, columns []string, rows [][]any) (string, []any) {
	return valuesInsert("INSERT INTO", table, columns, rows, d.BindValue)
}

func (d *postgresDialect) Extras() []SchemaObject {
	return standardExtras()
}
