package cex

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

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/crypto"
	"github.com/alanyoungcy/perparb/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, domain.VenueSpec{ID: "cex", QuoteStyle: domain.QuoteTopOfBook, LotSize: d("0.01")},
		&crypto.HMACAuth{Key: "k", Secret: "s"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeResult(w http.ResponseWriter, v any) {
	raw, _ := json.Marshal(v)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "result": json.RawMessage(raw)})
}

func TestGetTopOfBook(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/SOL-PERP" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get(crypto.HeaderSignature) == "" || r.Header.Get(crypto.HeaderKey) != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"result":{"name":"SOL-PERP","bid":99.9,"ask":100.1,"price":100}}`)
	})

	q, err := c.GetTopOfBook(context.Background(), "SOL-PERP")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Bid.Decimal.Equal(d("99.9")) || !q.Ask.Decimal.Equal(d("100.1")) || !q.Mark.Decimal.Equal(d("100")) {
		t.Fatalf("unexpected quote %+v", q)
	}
	if q.VenueID != "cex" {
		t.Fatalf("unexpected venue %s", q.VenueID)
	}
}

func TestGetTopOfBookOneSided(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"result":{"name":"SOL-PERP","bid":null,"ask":100.1}}`)
	})
	if _, err := c.GetTopOfBook(context.Background(), "SOL-PERP"); !errors.Is(err, domain.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

type staticFeed struct{ q domain.VenueQuote }

func (f staticFeed) Latest(string) (domain.VenueQuote, bool) { return f.q, true }

func TestGetTopOfBookPrefersFreshFeed(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"success":true,"result":{"name":"SOL-PERP","bid":1,"ask":2}}`)
	})
	fresh := domain.VenueQuote{Bid: domain.Price(d("99")), Ask: domain.Price(d("101")), ObservedAt: time.Now()}
	c.SetQuoteFeed(staticFeed{fresh}, time.Second)
	q, err := c.GetTopOfBook(context.Background(), "SOL-PERP")
	if err != nil || !q.Bid.Decimal.Equal(d("99")) || calls != 0 {
		t.Fatalf("expected streamed quote, got %+v err=%v calls=%d", q, err, calls)
	}

	stale := fresh
	stale.ObservedAt = time.Now().Add(-time.Minute)
	c.SetQuoteFeed(staticFeed{stale}, time.Second)
	q, err = c.GetTopOfBook(context.Background(), "SOL-PERP")
	if err != nil || !q.Bid.Decimal.Equal(d("1")) || calls != 1 {
		t.Fatalf("stale stream must fall back to REST, got %+v err=%v calls=%d", q, err, calls)
	}
}

func TestGetPosition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, []APIPosition{
			{Future: "BTC-PERP", NetSize: d("1"), Cost: d("30000")},
			{Future: "SOL-PERP", NetSize: d("-5"), Cost: d("-500")},
		})
	})
	p, err := c.GetPosition(context.Background(), "SOL-PERP")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if !p.SignedSize.Equal(d("-5")) || !p.NotionalUSD.Equal(d("-500")) {
		t.Fatalf("unexpected position %+v", p)
	}
	flat, _ := c.GetPosition(context.Background(), "ETH-PERP")
	if !flat.IsFlat() {
		t.Fatal("missing market must be flat")
	}
}

func TestPlaceLimitOrder(t *testing.T) {
	var got APIOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeResult(w, APIOrder{ID: 42, ClientID: got.ClientID, Status: "closed", Size: got.Size, FilledSize: got.Size})
	})

	h, err := c.PlaceLimitOrder(context.Background(), domain.OrderSpec{
		Instrument: "SOL-PERP", Direction: domain.Short, Price: d("99"), Quantity: d("3"),
		ReduceOnly: true, ClientOrderID: "intent-a",
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if h.Status != domain.OrderConfirmed || h.OrderID != "42" || !h.FilledQty.Equal(d("3")) {
		t.Fatalf("unexpected handle %+v", h)
	}
	if got.Side != "sell" || !got.ReduceOnly || !got.IOC || got.ClientID != "intent-a" || got.Type != "limit" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestPlaceLimitOrderServerErrorIsAmbiguous(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusBadGateway)
		case strings.HasPrefix(r.URL.Path, "/orders/by_client_id/"):
			writeResult(w, APIOrder{ID: 7, ClientID: "intent-a", Status: "closed", Size: d("1"), FilledSize: d("1")})
		}
	})

	_, err := c.PlaceLimitOrder(context.Background(), domain.OrderSpec{
		Instrument: "SOL-PERP", Direction: domain.Long, Price: d("100"), Quantity: d("1"), ClientOrderID: "intent-a",
	})
	if !errors.Is(err, domain.ErrAmbiguousSubmission) {
		t.Fatalf("expected ErrAmbiguousSubmission, got %v", err)
	}

	h, err := c.ResolveOrder(context.Background(), "SOL-PERP", "intent-a")
	if err != nil || h.Status != domain.OrderConfirmed {
		t.Fatalf("resolve: %+v %v", h, err)
	}
}

func TestPlaceLimitOrderRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"error":"Not enough balances"}`)
	})
	_, err := c.PlaceLimitOrder(context.Background(), domain.OrderSpec{
		Instrument: "SOL-PERP", Direction: domain.Long, Price: d("100"), Quantity: d("1"), ClientOrderID: "x",
	})
	if !errors.Is(err, domain.ErrSubmissionFailed) || errors.Is(err, domain.ErrAmbiguousSubmission) {
		t.Fatalf("expected a definite failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "Not enough balances") {
		t.Fatalf("expected exchange message in error, got %v", err)
	}
}

func TestOrderStatusMapping(t *testing.T) {
	cases := []struct {
		status string
		filled string
		want   domain.OrderStatus
	}{
		{"closed", "1", domain.OrderConfirmed},
		{"closed", "0", domain.OrderRejected},
		{"open", "0", domain.OrderPending},
		{"new", "0", domain.OrderPending},
		{"weird", "0", domain.OrderUnknown},
	}
	for _, tc := range cases {
		h := APIOrder{Status: tc.status, FilledSize: d(tc.filled)}.ToDomainHandle()
		if h.Status != tc.want {
			t.Fatalf("%s/%s: got %s, want %s", tc.status, tc.filled, h.Status, tc.want)
		}
	}
}

func TestGetFundingRate(t *testing.T) {
	next := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, APIFutureStats{NextFundingRate: d("0.0001"), NextFundingTime: next})
	})
	fr, err := c.GetFundingRate(context.Background(), "SOL-PERP")
	if err != nil {
		t.Fatalf("funding: %v", err)
	}
	if !fr.HourlyPct.Equal(d("0.01")) || !fr.NextFundingAt.Equal(next) {
		t.Fatalf("unexpected funding %+v", fr)
	}
}
