package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/strata"
)

type sqliteDialect struct {
	dialectBase
}

func newSQLiteDialect(session Querier) *sqliteDialect {
	return &sqliteDialect{dialectBase{
		dialect: strata.DialectSQLite,
		session: session,
		probes: map[ObjectKind]string{
			KindTable:   "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
			KindView:    "SELECT COUNT(*) FROM sqlite_master WHERE type = 'view' AND name = ?",
			KindTrigger: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'trigger' AND name = ?",
		},
		columnSQL: "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?",
		fold:      identity,
		types: map[strata.StorageCategory]string{
			strata.CategoryText:          "TEXT",
			strata.CategoryInteger:       "INTEGER",
			strata.CategoryLong:          "BIGINT",
			strata.CategoryFloat:         "REAL",
			strata.CategoryDouble:        "DOUBLE",
			strata.CategoryBoolean:       "BOOLEAN",
			strata.CategoryDateTime:      "TIMESTAMP",
			strata.CategoryZonedDateTime: "BIGINT",
			strata.CategoryTime:          "INTEGER",
			strata.CategoryBlob:          "BLOB",
		},
		extra: map[string]string{
			"guid": "VARCHAR(96)",
			"name": "VARCHAR(256)",
			"id":   "BIGINT",
			"seq":  "INTEGER",
		},
		maxParams: 32766,
	}}
}

// Upsert uses INSERT OR REPLACE, except on the overview: replacing a row there
// deletes it first and the foreign keys would cascade into the attribute tables.
func (d *sqliteDialect) Upsert(table string, keys, values []string, rows [][]any) (string, []any) {
	if len(values) == 0 {
		return valuesInsert("INSERT OR IGNORE INTO", table, keys, rows, d.BindValue)
	}
	if table == strata.TableEntityOverview {
		query, args := valuesInsert("INSERT INTO", table, concat(keys, values), rows, d.BindValue)
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", query, strings.Join(keys, ", "), assignments(values, "%s = excluded.%s")), args
	}
	return valuesInsert("INSERT OR REPLACE INTO", table, concat(keys, values), rows, d.BindValue)
}

func (d *sqliteDialect) Insert(table string, columns []string, rows [][]any) (string, []any) {
	return valuesInsert("INSERT INTO", table, columns, rows, d.BindValue)
}

// Extras is empty: SQLite has no stored procedures.
func (d *sqliteDialect) Extras() []SchemaObject {
	return nil
}
