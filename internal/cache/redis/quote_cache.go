package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each quote is
// stored at "perparb:quote:{venue}:{instrument}" with fields bid, ask, mark
// and ts (Unix nanoseconds). An absent side is stored as an empty string.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache. Entries expire after ttl; zero keeps
// them forever.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(venueID, instrument string) string {
	return keyPrefix + "quote:" + venueID + ":" + instrument
}

// SetQuote stores the latest quote for its venue and instrument.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.VenueQuote) error {
	key := quoteKey(q.VenueID, q.Instrument)
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeQuote(q))
	if qc.ttl > 0 {
		pipe.Expire(ctx, key, qc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s/%s: %w", q.VenueID, q.Instrument, err)
	}
	return nil
}

// GetQuote returns the cached quote. It returns domain.ErrNotFound when
// nothing is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, venueID, instrument string) (domain.VenueQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(venueID, instrument)).Result()
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("redis: get quote %s/%s: %w", venueID, instrument, err)
	}
	if len(vals) == 0 {
		return domain.VenueQuote{}, fmt.Errorf("redis: quote %s/%s: %w", venueID, instrument, domain.ErrNotFound)
	}
	q, err := decodeQuote(vals)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("redis: decode quote %s/%s: %w", venueID, instrument, err)
	}
	q.VenueID = venueID
	q.Instrument = instrument
	return q, nil
}

func encodeQuote(q domain.VenueQuote) map[string]any {
	return map[string]any{
		"bid":  nullString(q.Bid),
		"ask":  nullString(q.Ask),
		"mark": nullString(q.Mark),
		"ts":   strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
}

func decodeQuote(vals map[string]string) (domain.VenueQuote, error) {
	var q domain.VenueQuote
	var err error
	if q.Bid, err = parseNull(vals["bid"]); err != nil {
		return q, fmt.Errorf("bid: %w", err)
	}
	if q.Ask, err = parseNull(vals["ask"]); err != nil {
		return q, fmt.Errorf("ask: %w", err)
	}
	if q.Mark, err = parseNull(vals["mark"]); err != nil {
		return q, fmt.Errorf("mark: %w", err)
	}
	if ts := vals["ts"]; ts != "" {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return q, fmt.Errorf("ts: %w", err)
		}
		q.ObservedAt = time.Unix(0, n)
	}
	return q, nil
}

func nullString(n decimal.NullDecimal) string {
	if !n.Valid {
		return ""
	}
	return n.Decimal.String()
}

func parseNull(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
