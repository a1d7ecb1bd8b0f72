// Package feed streams top-of-book quotes from an exchange websocket and
// keeps the latest quote per market in memory.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

const (
	writeWait = 10 * time.Second
	// readWait must exceed pingPeriod; the server answers every ping.
	readWait   = 60 * time.Second
	pingPeriod = 15 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// command is a client to server message.
type command struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	Market  string `json:"market,omitempty"`
}

// tickerMessage is a server to client message.
type tickerMessage struct {
	Channel string `json:"channel"`
	Market  string `json:"market"`
	Type    string `json:"type"` // "subscribed", "update", "pong", "error"
	Msg     string `json:"msg"`
	Data    struct {
		Bid  decimal.NullDecimal `json:"bid"`
		Ask  decimal.NullDecimal `json:"ask"`
		Last decimal.NullDecimal `json:"last"`
		Time float64             `json:"time"`
	} `json:"data"`
}

// TickerFeed subscribes to the ticker channel of each market and records
// the latest quote. It reconnects with exponential backoff.
type TickerFeed struct {
	wsURL   string
	venueID string
	markets []string
	logger  *slog.Logger

	mu     sync.RWMutex
	latest map[string]domain.VenueQuote
}

// NewTickerFeed creates a feed for markets on the venue behind wsURL.
func NewTickerFeed(wsURL, venueID string, markets []string, logger *slog.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:   wsURL,
		venueID: venueID,
		markets: markets,
		logger:  logger.With(slog.String("component", "ticker_feed"), slog.String("venue", venueID)),
		latest:  make(map[string]domain.VenueQuote),
	}
}

// Latest returns the last streamed quote for market.
func (f *TickerFeed) Latest(market string) (domain.VenueQuote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.latest[market]
	return q, ok
}

// Run streams until ctx is cancelled.
func (f *TickerFeed) Run(ctx context.Context) error {
	if len(f.markets) == 0 {
		f.logger.Info("no markets to subscribe, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		started := time.Now()
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// A connection that lived a while resets the backoff.
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("ticker stream disconnected, reconnecting",
			slog.Any("error", err),
			slog.Duration("backoff", delay),
		)
		f.forgetAll()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (f *TickerFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	send := func(c command) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(c)
	}

	for _, m := range f.markets {
		if err := send(command{Op: "subscribe", Channel: "ticker", Market: m}); err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", m, err)
		}
	}
	f.logger.Info("ticker stream connected", slog.Any("markets", f.markets))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		// Unblocks ReadMessage.
		_ = conn.Close()
	}()
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-t.C:
				if err := send(command{Op: "ping"}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %w", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(raw)
	}
}

func (f *TickerFeed) handleMessage(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "update", "partial":
		if msg.Channel != "ticker" || msg.Market == "" {
			return
		}
		q := domain.VenueQuote{
			VenueID:    f.venueID,
			Instrument: msg.Market,
			Bid:        msg.Data.Bid,
			Ask:        msg.Data.Ask,
			Mark:       msg.Data.Last,
			ObservedAt: time.Now(),
		}
		if q.Validate() != nil || !q.Bid.Valid || !q.Ask.Valid {
			// A crossed or one-sided book is not usable; forget the old one.
			f.forget(msg.Market)
			return
		}
		f.mu.Lock()
		f.latest[msg.Market] = q
		f.mu.Unlock()
	case "error":
		f.logger.Warn("ticker stream error", slog.String("market", msg.Market), slog.String("msg", msg.Msg))
	}
}

func (f *TickerFeed) forget(market string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.latest, market)
}

func (f *TickerFeed) forgetAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.latest)
}
