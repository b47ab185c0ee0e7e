package internal

import (
	"fmt"

	"github.com/lychee-technology/strata"
)

type mysqlDialect struct {
	dialectBase
}

func newMySQLDialect(session Querier) *mysqlDialect {
	return &mysqlDialect{dialectBase{
		dialect: strata.DialectMySQL,
		session: session,
		probes: map[ObjectKind]string{
			KindTable:     "SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' AND TABLE_NAME = ?",
			KindView:      "SELECT COUNT(*) FROM information_schema.VIEWS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?",
			KindProcedure: "SELECT COUNT(*) FROM information_schema.ROUTINES WHERE ROUTINE_SCHEMA = DATABASE() AND ROUTINE_TYPE = 'PROCEDURE' AND ROUTINE_NAME = ?",
			KindTrigger:   "SELECT COUNT(*) FROM information_schema.TRIGGERS WHERE TRIGGER_SCHEMA = DATABASE() AND TRIGGER_NAME = ?",
		},
		columnSQL: "SELECT COUNT(*) FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?",
		fold:      identity,
		types: map[strata.StorageCategory]string{
			strata.CategoryText:          "TEXT",
			strata.CategoryInteger:       "INT",
			strata.CategoryLong:          "BIGINT",
			strata.CategoryFloat:         "FLOAT",
			strata.CategoryDouble:        "DOUBLE",
			strata.CategoryBoolean:       "BOOLEAN",
			strata.CategoryDateTime:      "DATETIME(3)",
			strata.CategoryZonedDateTime: "BIGINT",
			strata.CategoryTime:          "INT",
			strata.CategoryBlob:          "LONGBLOB",
		},
		extra: map[string]string{
			"guid": "VARCHAR(96)",
			"name": "VARCHAR(256)",
			"id":   "BIGINT",
			"seq":  "INT",
		},
		maxParams: 65535,
	}}
}

func (d *mysqlDialect) Upsert(table string, keys, values []string, rows [][]any) (string, []any) {
	if len(values) == 0 {
		return valuesInsert("INSERT IGNORE INTO", table, keys, rows, d.BindValue)
	}
	query, args := valuesInsert("INSERT INTO", table, concat(keys, values), rows, d.BindValue)
	return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", query, assignments(values, "%s = VALUES(%s)")), args
}

func (d *mysqlDialect) Insert(table string, columns []string, rows [][]any) (string, []any) {
	return valuesInsert("INSERT INTO", table, columns, rows, d.BindValue)
}

func (d *mysqlDialect) Extras() []SchemaObject {
	return standardExtras()
}
