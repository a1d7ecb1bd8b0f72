package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/perparb/internal/domain"
	"github.com/alanyoungcy/perparb/internal/executor"
	"github.com/alanyoungcy/perparb/internal/server/handler"
	"github.com/alanyoungcy/perparb/internal/server/middleware"
	"github.com/alanyoungcy/perparb/internal/server/ws"
	"github.com/alanyoungcy/perparb/internal/strategy"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeStore struct {
	results map[string]domain.ExecutionResult
}

func (s *fakeStore) Create(_ context.Context, res domain.ExecutionResult) error {
	s.results[res.IntentID] = res
	return nil
}

func (s *fakeStore) GetByIntentID(_ context.Context, id string) (domain.ExecutionResult, error) {
	res, ok := s.results[id]
	if !ok {
		return domain.ExecutionResult{}, domain.ErrNotFound
	}
	return res, nil
}

func (s *fakeStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	var out []domain.ExecutionResult
	for _, r := range s.results {
		out = append(out, r)
	}
	return out[:min(len(out), opts.Limit)], nil
}

func (s *fakeStore) ListBefore(context.Context, time.Time, int) ([]domain.ExecutionResult, error) {
	return nil, nil
}

func (s *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeStats struct{}

func (fakeStats) Stats() executor.Stats { return executor.Stats{Done: 3, Failed: 1} }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type denyAll struct{}

func (denyAll) Allow(context.Context, string) (bool, error) { return false, nil }

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(ctx context.Context, _ string) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-b.ch:
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func newTestServer(t *testing.T, apiKey string, healthy bool, limiter bool, hub *ws.Hub) *Server {
	t.Helper()
	deps := map[string]handler.Pinger{
		"postgres": pingFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		}),
	}
	store := &fakeStore{results: map[string]domain.ExecutionResult{
		"intent-1": {ID: "exec-1", IntentID: "intent-1", Strategy: "funding", State: domain.ExecDone},
	}}
	h := Handlers{
		Health:     handler.NewHealthHandler(deps, discard()),
		Status:     handler.NewStatusHandler("funding", true, strategy.NewRegistry(discard()), fakeStats{}),
		Executions: handler.NewExecutionHandler(store, nil, discard()),
		Hub:        hub,
	}
	var lim middleware.Limiter
	if limiter {
		lim = denyAll{}
	}
	return NewServer(Config{APIKey: apiKey}, h, lim, discard())
}

func do(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t, "secret", true, false, nil)
	if rec := do(t, s, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", rec.Code)
	}
	if rec := do(t, s, "/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token: got %d", rec.Code)
	}
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	s := newTestServer(t, "", false, false, nil)
	rec := do(t, s, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["postgres"] == "ok" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestStatusReportsModeAndStats(t *testing.T) {
	s := newTestServer(t, "secret", true, false, nil)
	rec := do(t, s, "/status", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body struct {
		Mode       string         `json:"mode"`
		DryRun     bool           `json:"dry_run"`
		Executions executor.Stats `json:"executions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != "funding" || !body.DryRun || body.Executions.Done != 3 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestExecutionLookup(t *testing.T) {
	s := newTestServer(t, "", true, false, nil)
	if rec := do(t, s, "/executions/intent-1", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "exec-1") {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, "/executions/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing: got %d", rec.Code)
	}
	if rec := do(t, s, "/executions?limit=10", ""); rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	if rec := do(t, s, "/audit", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("audit without store: got %d", rec.Code)
	}
}

func TestRateLimitRejects(t *testing.T) {
	s := newTestServer(t, "", true, true, nil)
	if rec := do(t, s, "/status", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestHubForwardsBusMessages(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte)}
	hub := ws.NewHub(bus, []string{strategy.CycleChannel}, discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(newTestServer(t, "", true, false, hub).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for hub.ClientCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	bus.ch <- []byte(`{"strategy":"funding"}`)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env ws.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Channel != strategy.CycleChannel || !strings.Contains(string(env.Data), "funding") {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
