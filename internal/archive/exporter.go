package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"go.uber.org/zap"
)

const stagingTable = "history_archive"

// duckExporter stages history rows in DuckDB and writes them out as Parquet.
type duckExporter struct {
	db *sql.DB
}

// newDuckExporter opens a DuckDB database and creates the staging table.
func newDuckExporter(ctx context.Context, cfg strata.ArchiveConfig) (*duckExporter, error) {
	db, err := sql.Open("duckdb", cfg.DuckDBPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var pragmas []string
	if cfg.DuckDBMemoryMB > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%dMB'", cfg.DuckDBMemoryMB))
	}
	if cfg.DuckDBThreads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", cfg.DuckDBThreads))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx2, p); err != nil {
			zap.S().Warnw("duckdb pragma failed", "pragma", p, "error", err)
		}
	}

	if _, err := db.ExecContext(ctx2, stagingDDL()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create staging table: %w", err)
	}
	return &duckExporter{db: db}, nil
}

func stagingDDL() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE OR REPLACE TABLE %s (EntityGuid VARCHAR NOT NULL, FieldId BIGINT NOT NULL, Sequence INTEGER NOT NULL, DateOfModification TIMESTAMP NOT NULL", stagingTable)
	for _, col := range internal.HistoryColumns {
		fmt.Fprintf(&sb, ", %s %s", col.Name, duckType(col.Category))
	}
	sb.WriteString(")")
	return sb.String()
}

func duckType(c strata.StorageCategory) string {
	switch c {
	case strata.CategoryInteger:
		return "INTEGER"
	case strata.CategoryLong:
		return "BIGINT"
	case strata.CategoryFloat:
		return "FLOAT"
	case strata.CategoryDouble:
		return "DOUBLE"
	case strata.CategoryDateTime:
		return "TIMESTAMP"
	case strata.CategoryBlob:
		return "BLOB"
	}
	return "VARCHAR"
}

// stage replaces the staging table contents with rows.
func (e *duckExporter) stage(ctx context.Context, rows []historyRow) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin staging: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+stagingTable); err != nil {
		return fmt.Errorf("clear staging table: %w", err)
	}
	width := 4 + len(internal.HistoryColumns)
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", stagingTable, strings.TrimSuffix(strings.Repeat("?, ", width), ", ")))
	if err != nil {
		return fmt.Errorf("prepare staging insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.args()...); err != nil {
			return fmt.Errorf("stage history row %s/%d: %w", r.guid, r.fieldID, err)
		}
	}
	return tx.Commit()
}

// writeParquet copies the staging table to a local Parquet file.
func (e *duckExporter) writeParquet(ctx context.Context, path string) error {
	escaped := strings.ReplaceAll(path, "'", "''")
	query := fmt.Sprintf("COPY %s TO '%s' (FORMAT PARQUET, COMPRESSION 'ZSTD')", stagingTable, escaped)
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("duckdb copy exec: %w", err)
	}
	return nil
}

func (e *duckExporter) close() error {
	return e.db.Close()
}
