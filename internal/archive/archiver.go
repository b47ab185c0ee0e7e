// Package archive moves aged field history out of the store into Parquet files on S3.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"go.uber.org/zap"
)

// lockKey identifies the archiver's Postgres advisory lock.
const lockKey int64 = 0x5354524154410001

// Uploader is the subset of manager.Uploader the archiver needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Result summarizes one archival run.
type Result struct {
	Batches int
	Rows    int
	Keys    []string
}

// Archiver exports history rows older than the configured age and prunes them.
type Archiver struct {
	cfg      strata.ArchiveConfig
	dialect  strata.Dialect
	source   internal.Session
	exporter *duckExporter
	uploader Uploader
	nowFunc  func() time.Time
}

// New opens the DuckDB staging database for an archiver over source.
func New(ctx context.Context, cfg strata.ArchiveConfig, dialect strata.Dialect, source internal.Session, uploader Uploader) (*Archiver, error) {
	if cfg.S3Bucket == "" {
		return nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, "archive.s3Bucket is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, strata.NewConfigurationError(strata.ErrCodeInvalidDefinition, "archive.batchSize must be greater than 0")
	}
	exporter, err := newDuckExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Archiver{
		cfg:      cfg,
		dialect:  dialect,
		source:   source,
		exporter: exporter,
		uploader: uploader,
		nowFunc:  time.Now,
	}, nil
}

// Close releases the staging database. The source session is owned by the caller.
func (a *Archiver) Close() error {
	return a.exporter.close()
}

// Run archives batches until no history older than the cutoff is left. A dry run
// exports and uploads the first batch without deleting it.
func (a *Archiver) Run(ctx context.Context, dryRun bool) (*Result, error) {
	now := a.nowFunc().UTC()
	cutoff := now.Add(-a.cfg.OlderThan)
	result := &Result{}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key, n, done, err := a.runBatch(ctx, now, cutoff, dryRun)
		if err != nil {
			return result, err
		}
		if n > 0 {
			result.Batches++
			result.Rows += n
			result.Keys = append(result.Keys, key)
		}
		if done {
			break
		}
	}
	zap.S().Infow("history archive finished", "dialect", a.dialect, "batches", result.Batches, "rows", result.Rows, "cutoff", cutoff, "dry_run", dryRun)
	return result, nil
}

// window is the range of DateOfModification a batch covers.
type window struct {
	boundary  time.Time
	inclusive bool
}

func (a *Archiver) runBatch(ctx context.Context, now, cutoff time.Time, dryRun bool) (string, int, bool, error) {
	tx, err := a.source.Begin(ctx)
	if err != nil {
		return "", 0, false, err
	}
	defer tx.Rollback(ctx)

	if a.dialect == strata.DialectPostgres {
		locked, err := tryLock(ctx, tx)
		if err != nil {
			return "", 0, false, fmt.Errorf("acquire archive lock: %w", err)
		}
		if !locked {
			zap.S().Infow("archive lock not acquired, skipping")
			return "", 0, true, nil
		}
	}

	rows, err := a.selectRows(ctx, tx, selectOlder(a.dialect, a.cfg.BatchSize), cutoff)
	if err != nil {
		return "", 0, false, err
	}
	if len(rows) == 0 {
		return "", 0, true, nil
	}

	full := len(rows) == a.cfg.BatchSize
	w := window{boundary: cutoff}
	if full {
		last := rows[len(rows)-1].modified
		trimmed := rows
		for len(trimmed) > 0 && trimmed[len(trimmed)-1].modified.Equal(last) {
			trimmed = trimmed[:len(trimmed)-1]
		}
		if len(trimmed) > 0 {
			rows, w = trimmed, window{boundary: last}
		} else {
			// every row of the batch shares one instant; take all of them
			rows, err = a.selectRows(ctx, tx, selectAt(), last)
			if err != nil {
				return "", 0, false, err
			}
			w = window{boundary: last, inclusive: true}
		}
	}

	key, err := a.export(ctx, now, rows)
	if err != nil {
		return "", 0, false, err
	}
	if dryRun {
		zap.S().Infow("dry-run: history left in place", "rows", len(rows), "key", key)
		return key, len(rows), true, nil
	}

	deleted, err := tx.Exec(ctx, deleteWindow(w.inclusive), w.boundary)
	if err != nil {
		return "", 0, false, fmt.Errorf("prune archived history: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", 0, false, fmt.Errorf("commit archive batch: %w", err)
	}
	internal.EmitRowCount(ctx, strata.TableOldFieldValues, deleted)
	zap.S().Infow("history batch archived", "rows", len(rows), "deleted", deleted, "key", key)
	return key, len(rows), !full, nil
}

func (a *Archiver) export(ctx context.Context, now time.Time, rows []historyRow) (string, error) {
	if err := a.exporter.stage(ctx, rows); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(a.cfg.WorkDir, "history-*.parquet")
	if err != nil {
		return "", fmt.Errorf("create parquet file: %w", err)
	}
	local := f.Name()
	_ = f.Close()
	defer os.Remove(local)

	if err := a.exporter.writeParquet(ctx, local); err != nil {
		return "", err
	}

	body, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open parquet file: %w", err)
	}
	defer body.Close()

	key := path.Join(strings.TrimSuffix(a.cfg.S3Prefix, "/"), "history", string(a.dialect), now.Format("2006/01/02"), uuid.Must(uuid.NewV7()).String()+".parquet")
	if _, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/vnd.apache.parquet"),
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func (a *Archiver) selectRows(ctx context.Context, q internal.Querier, query string, at time.Time) ([]historyRow, error) {
	rows, err := q.Query(ctx, query, at)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var out []historyRow
	for rows.Next() {
		r, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func tryLock(ctx context.Context, q internal.Querier) (bool, error) {
	rows, err := q.Query(ctx, "SELECT pg_try_advisory_xact_lock(?)", lockKey)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	locked := false
	if rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return false, err
		}
		locked, _ = raw.(bool)
	}
	return locked, rows.Err()
}
