package notify

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
)

type recordingSender struct {
	name string
	err  error
	sent []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.sent = append(s.sent, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"partial_failure"}, quietLogger())

	_ = n.Notify(context.Background(), "trade_executed", "ignored", "")
	_ = n.Notify(context.Background(), "partial_failure", "unhedged", "")
	_ = n.NotifyAll(context.Background(), "always", "")

	if strings.Join(s.sent, ",") != "unhedged,always" {
		t.Fatalf("unexpected deliveries %v", s.sent)
	}
}

func TestNotifierDeliversDespiteFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), "partial_failure", "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped sender error, got %v", err)
	}
	if len(good.sent) != 1 {
		t.Fatal("remaining senders must still be called")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Partial failure", "leg B failed"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/bottok/sendMessage" || got["chat_id"] != "42" || !strings.Contains(got["text"], "*Partial failure*") {
		t.Fatalf("unexpected request %s %v", path, got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTelegramErrorHidesToken(t *testing.T) {
	s := NewTelegramSender("secret-token", "42")
	s.apiBase = "http://127.0.0.1:1"
	err := s.Send(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected dial error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("token leaked in %q", err)
	}
}

type fakePublisher struct {
	channel string
	payload []byte
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.channel, p.payload = channel, payload
	return nil
}

func TestBusSender(t *testing.T) {
	p := &fakePublisher{}
	if err := NewBusSender(p, "").Send(context.Background(), "Partial failure", "details"); err != nil {
		t.Fatalf("send: %v", err)
	}
	var a Alert
	if err := json.Unmarshal(p.payload, &a); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.channel != AlertChannel || a.Title != "Partial failure" || a.At.IsZero() {
		t.Fatalf("unexpected alert %s %+v", p.channel, a)
	}
}
