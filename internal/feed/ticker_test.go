package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func TestTickerFeedRecordsLatestQuote(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subscribed <- cmd.Market
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"channel":"ticker","market":"SOL-PERP","type":"update","data":{"bid":99.9,"ask":100.1,"last":100}}`))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	f := NewTickerFeed("ws"+strings.TrimPrefix(srv.URL, "http"), "cex", []string{"SOL-PERP"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	if m := <-subscribed; m != "SOL-PERP" {
		t.Fatalf("unexpected subscription %q", m)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if q, ok := f.Latest("SOL-PERP"); ok {
			if !q.Bid.Decimal.Equal(decimal.RequireFromString("99.9")) || q.VenueID != "cex" {
				t.Fatalf("unexpected quote %+v", q)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no quote received")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestHandleMessageDropsCrossedBook(t *testing.T) {
	f := NewTickerFeed("", "cex", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.handleMessage([]byte(`{"channel":"ticker","market":"SOL-PERP","type":"update","data":{"bid":99,"ask":100}}`))
	if _, ok := f.Latest("SOL-PERP"); !ok {
		t.Fatal("expected a quote")
	}
	f.handleMessage([]byte(`{"channel":"ticker","market":"SOL-PERP","type":"update","data":{"bid":101,"ask":100}}`))
	if _, ok := f.Latest("SOL-PERP"); ok {
		t.Fatal("crossed book must clear the quote")
	}
	f.handleMessage([]byte(`not json`))
}
