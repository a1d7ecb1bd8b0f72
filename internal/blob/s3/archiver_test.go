package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/perparb/internal/domain"
)

type fakeWriter struct {
	objects map[string][]byte
	err     error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeStore struct {
	rows     []domain.ExecutionResult
	deletedB []time.Time
}

func (s *fakeStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.ExecutionResult, error) {
	var out []domain.ExecutionResult
	for _, r := range s.rows {
		if r.StartedAt.Before(before) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deletedB = append(s.deletedB, before)
	var kept []domain.ExecutionResult
	var n int64
	for _, r := range s.rows {
		if r.StartedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return n, nil
}

type fakeAudit struct{ events []string }

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func rowsAt(times ...time.Time) []domain.ExecutionResult {
	var out []domain.ExecutionResult
	for i, t := range times {
		out = append(out, domain.ExecutionResult{ID: string(rune('a' + i)), StartedAt: t, State: domain.ExecDone})
	}
	return out
}

func TestArchiveExecutionsUploadsThenDeletes(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: rowsAt(base, base.Add(time.Hour), base.Add(48*time.Hour))}
	writer := &fakeWriter{objects: map[string][]byte{}}
	audit := &fakeAudit{}
	a := NewArchiver(writer, store, audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveExecutions(context.Background(), base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 2 || len(store.rows) != 1 {
		t.Fatalf("archived %d, %d rows left", n, len(store.rows))
	}
	data, ok := writer.objects["archive/executions/2026/03/01/20260301T120000Z_20260301T130000Z.jsonl"]
	if !ok {
		t.Fatalf("unexpected objects %v", writer.objects)
	}
	if lines := bytes.Count(data, []byte("\n")); lines != 2 {
		t.Fatalf("expected 2 JSON lines, got %d", lines)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.executions" {
		t.Fatalf("audit %v", audit.events)
	}
}

func TestArchiveExecutionsKeepsRowsWhenUploadFails(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: rowsAt(base)}
	writer := &fakeWriter{objects: map[string][]byte{}, err: errors.New("s3 down")}
	a := NewArchiver(writer, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.ArchiveExecutions(context.Background(), base.Add(time.Hour)); err == nil || !strings.Contains(err.Error(), "s3 down") {
		t.Fatalf("expected upload error, got %v", err)
	}
	if len(store.rows) != 1 || len(store.deletedB) != 0 {
		t.Fatal("rows must not be deleted after a failed upload")
	}
}

func TestArchiveExecutionsFullBatchStopsAtLastTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: rowsAt(base, base.Add(time.Minute), base.Add(2*time.Minute))}
	writer := &fakeWriter{objects: map[string][]byte{}}
	a := NewArchiver(writer, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.batchSize = 2

	if _, err := a.ArchiveExecutions(context.Background(), base.Add(time.Hour)); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(store.deletedB) != 1 || !store.deletedB[0].Equal(base.Add(time.Minute)) {
		t.Fatalf("expected cutoff at last archived row, got %v", store.deletedB)
	}
	if len(store.rows) != 2 {
		t.Fatalf("expected 2 rows left, got %d", len(store.rows))
	}
}
