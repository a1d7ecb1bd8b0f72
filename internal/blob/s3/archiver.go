package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perparb/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// maxArchiveRows bounds one archive run; a larger backlog drains over
	// later runs.
	maxArchiveRows = 50000
)

// ExecutionArchiveStore is the part of the execution journal the archiver
// needs.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ExecutionResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver. Old execution results are written
// to S3 as JSON lines and removed from the journal only after the upload
// succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	store     ExecutionArchiveStore
	audit     domain.AuditStore
	partSize  int64
	logger    *slog.Logger
	batchSize int
}

// NewArchiver creates an archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, store ExecutionArchiveStore, audit domain.AuditStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		store:     store,
		audit:     audit,
		partSize:  minPartSize,
		logger:    logger.With(slog.String("component", "archiver")),
		batchSize: maxArchiveRows,
	}
}

// ArchiveExecutions moves results started before the cutoff to
// archive/executions/YYYY/MM/DD/<from>_<to>.jsonl and returns how many were
// archived.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.store.ListBefore(ctx, before, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	first, last := results[0].StartedAt, results[len(results)-1].StartedAt
	path := archivePath("executions", first, last)
	if int64(len(buf)) > a.partSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	// A full batch may stop in the middle of rows sharing the last
	// timestamp; those stay and are archived again next run.
	cutoff := before
	if len(results) == a.batchSize {
		cutoff = last
	}
	deleted, err := a.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions delete: %w", err)
	}
	count := int64(len(results))

	a.logger.Info("executions archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.executions", map[string]any{
			"path":    path,
			"count":   count,
			"deleted": deleted,
			"before":  before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
		}
	}
	return count, nil
}

// Run archives everything older than retention once per interval until ctx
// is done.
func (a *ArchiveImpl) Run(ctx context.Context, retention, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.ArchiveExecutions(ctx, time.Now().UTC().Add(-retention)); err != nil && ctx.Err() == nil {
			a.logger.Warn("archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func archivePath(category string, first, last time.Time) string {
	first, last = first.UTC(), last.UTC()
	return fmt.Sprintf("archive/%s/%s/%s_%s.jsonl",
		category, first.Format("2006/01/02"),
		first.Format("20060102T150405Z"), last.Format("20060102T150405Z"))
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
