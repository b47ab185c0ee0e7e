package internal

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

//go:embed templates/*.sql.tmpl
var templateFS embed.FS

// DefinitionSource supplies replacement definition templates for a dialect.
// Blocks it defines override the embedded blocks of the same name.
type DefinitionSource interface {
	Fetch(ctx context.Context, dialect strata.Dialect) ([]byte, bool, error)
}

// DefinitionLoader resolves the DDL and procedure text of schema objects.
type DefinitionLoader struct {
	backend DialectBackend
	tpl     *template.Template
}

// NewDefinitionLoader parses the embedded definitions of backend's dialect and
// applies overrides from source. A failing source is logged and ignored.
func NewDefinitionLoader(ctx context.Context, backend DialectBackend, source DefinitionSource) (*DefinitionLoader, error) {
	name := templateFile(backend.Dialect())
	raw, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, strata.NewStoreError(strata.ErrorTypeConfiguration, strata.ErrCodeDefinitionNotFound, "no definitions for dialect").
			WithDetail("dialect", string(backend.Dialect())).WithCause(err)
	}
	tpl, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse definitions %s: %w", name, err)
	}

	if source != nil {
		override, ok, err := source.Fetch(ctx, backend.Dialect())
		switch {
		case err != nil:
			zap.S().Warnw("definition override unavailable, using embedded definitions", "dialect", backend.Dialect(), "error", err)
		case ok:
			if _, err := tpl.Parse(string(override)); err != nil {
				return nil, fmt.Errorf("parse definition override for %s: %w", backend.Dialect(), err)
			}
			zap.S().Infow("applied definition override", "dialect", backend.Dialect(), "bytes", len(override))
		}
	}
	return &DefinitionLoader{backend: backend, tpl: tpl}, nil
}

// Statements renders the definition of obj and splits it on GO separator lines.
func (l *DefinitionLoader) Statements(obj SchemaObject) ([]string, error) {
	block := l.tpl.Lookup(obj.Template)
	if block == nil {
		return nil, strata.NewStoreError(strata.ErrorTypeBootstrap, strata.ErrCodeDefinitionNotFound, "definition block not found").
			WithObject(obj.Name).WithDetail("template", obj.Template)
	}
	var buf bytes.Buffer
	if err := block.Execute(&buf, dataFor(l.backend, obj)); err != nil {
		return nil, fmt.Errorf("render definition %s: %w", obj.Template, err)
	}
	return splitBatches(buf.String()), nil
}

// splitBatches separates statements on lines consisting of GO.
func splitBatches(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.EqualFold(strings.TrimSpace(line), "GO") {
			flush()
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return out
}

func templateFile(d strata.Dialect) string {
	return string(d) + ".sql.tmpl"
}

// S3DefinitionSource downloads <prefix>/<dialect>.sql.tmpl from a bucket. A missing
// object is not an error. Repeated failures open the breaker and skip the download.
type S3DefinitionSource struct {
	downloader *manager.Downloader
	bucket     string
	prefix     string
	breaker    *CircuitBreaker
}

// NewS3DefinitionSource builds a source over client. breaker may be nil.
func NewS3DefinitionSource(client manager.DownloadAPIClient, bucket, prefix string, breaker *CircuitBreaker) *S3DefinitionSource {
	return &S3DefinitionSource{
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.Concurrency = 1
		}),
		bucket:  bucket,
		prefix:  prefix,
		breaker: breaker,
	}
}

func (s *S3DefinitionSource) Fetch(ctx context.Context, dialect strata.Dialect) ([]byte, bool, error) {
	key := path.Join(s.prefix, templateFile(dialect))
	if s.breaker.IsOpen() {
		zap.S().Debugw("definition source breaker open, skipping download", "bucket", s.bucket, "key", key)
		return nil, false, nil
	}

	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			s.breaker.RecordSuccess()
			return nil, false, nil
		}
		s.breaker.RecordFailure()
		return nil, false, fmt.Errorf("download %s/%s: %w", s.bucket, key, err)
	}
	s.breaker.RecordSuccess()
	return buf.Bytes(), true, nil
}
