// Package cex is the REST adapter for an order-book perpetuals exchange.
// Requests are HMAC signed; top of book can come from a websocket feed.
package cex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/crypto"
	"github.com/alanyoungcy/perparb/internal/domain"
)

// QuoteFeed supplies streamed quotes. Latest reports false when it has no
// quote for the market.
type QuoteFeed interface {
	Latest(market string) (domain.VenueQuote, bool)
}

// Limiter throttles requests per key across processes.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Client is the exchange adapter. It implements domain.VenueAdapter,
// domain.OrderResolver and domain.FundingSource.
type Client struct {
	baseURL    string
	spec       domain.VenueSpec
	auth       *crypto.HMACAuth
	httpClient *http.Client
	logger     *slog.Logger

	feed        QuoteFeed
	maxQuoteAge time.Duration
	limiter     Limiter
}

// NewClient creates an exchange client. baseURL is the API root, e.g.
// "https://exchange.example.com/api".
func NewClient(baseURL string, spec domain.VenueSpec, auth *crypto.HMACAuth, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		spec:    spec,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "cex"), slog.String("venue", spec.ID)),
	}
}

// SetQuoteFeed makes GetTopOfBook prefer streamed quotes younger than
// maxAge. Older quotes fall back to REST.
func (c *Client) SetQuoteFeed(f QuoteFeed, maxAge time.Duration) {
	c.feed = f
	c.maxQuoteAge = maxAge
}

// SetRateLimiter makes every request wait for limiter first.
func (c *Client) SetRateLimiter(l Limiter) { c.limiter = l }

// Spec implements domain.VenueAdapter.
func (c *Client) Spec() domain.VenueSpec { return c.spec }

// GetTopOfBook implements domain.QuoteSource.
func (c *Client) GetTopOfBook(ctx context.Context, instrument string) (domain.VenueQuote, error) {
	if c.feed != nil {
		if q, ok := c.feed.Latest(instrument); ok && (c.maxQuoteAge <= 0 || time.Since(q.ObservedAt) <= c.maxQuoteAge) {
			return q, nil
		}
	}

	var m APIMarket
	if err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(instrument), nil, &m); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.VenueQuote{}, fmt.Errorf("cex: market %s: %w", instrument, domain.ErrQuoteUnavailable)
		}
		return domain.VenueQuote{}, fmt.Errorf("cex: get market %s: %w", instrument, err)
	}
	q := m.ToDomainQuote(c.spec.ID)
	q.Instrument = instrument
	if !q.Bid.Valid || !q.Ask.Valid {
		return domain.VenueQuote{}, fmt.Errorf("cex: market %s has no two-sided book: %w", instrument, domain.ErrQuoteUnavailable)
	}
	return q, nil
}

// GetPosition implements domain.PositionSource. A market with no entry is
// flat.
func (c *Client) GetPosition(ctx context.Context, instrument string) (domain.Position, error) {
	var positions []APIPosition
	if err := c.do(ctx, http.MethodGet, "/positions", nil, &positions); err != nil {
		return domain.Position{}, fmt.Errorf("cex: get positions: %w", err)
	}
	pos := domain.Position{VenueID: c.spec.ID, Instrument: instrument}
	for _, p := range positions {
		if p.Future != instrument {
			continue
		}
		pos.SignedSize = p.NetSize
		pos.NotionalUSD = p.Cost
		if pos.NotionalUSD.IsZero() {
			pos.NotionalUSD = p.NetSize.Mul(p.EntryPrice)
		}
		break
	}
	return pos, nil
}

// PlaceLimitOrder implements domain.OrderSink. Orders are immediate or
// cancel. A transport failure after the request was sent returns
// domain.ErrAmbiguousSubmission: the order may exist.
func (c *Client) PlaceLimitOrder(ctx context.Context, spec domain.OrderSpec) (domain.OrderHandle, error) {
	side := "buy"
	if spec.Direction == domain.Short {
		side = "sell"
	}
	req := APIOrderRequest{
		Market:     spec.Instrument,
		Side:       side,
		Price:      spec.Price,
		Type:       "limit",
		Size:       spec.Quantity,
		ReduceOnly: spec.ReduceOnly,
		IOC:        true,
		ClientID:   spec.ClientOrderID,
	}
	var o APIOrder
	if err := c.do(ctx, http.MethodPost, "/orders", req, &o); err != nil {
		if isAmbiguous(err) {
			return domain.OrderHandle{ClientOrderID: spec.ClientOrderID, Status: domain.OrderUnknown},
				fmt.Errorf("cex: place order %s: %w: %w", spec.ClientOrderID, domain.ErrAmbiguousSubmission, err)
		}
		return domain.OrderHandle{}, fmt.Errorf("cex: place order %s: %w", spec.ClientOrderID, err)
	}
	h := o.ToDomainHandle()
	c.logger.Info("order placed",
		slog.String("event", "order_placed"),
		slog.String("client_order_id", spec.ClientOrderID),
		slog.String("side", side),
		slog.String("size", spec.Quantity.String()),
		slog.String("price", spec.Price.String()),
		slog.String("status", string(h.Status)),
	)
	return h, nil
}

// ResolveOrder implements domain.OrderResolver.
func (c *Client) ResolveOrder(ctx context.Context, _ string, clientOrderID string) (domain.OrderHandle, error) {
	var o APIOrder
	if err := c.do(ctx, http.MethodGet, "/orders/by_client_id/"+url.PathEscape(clientOrderID), nil, &o); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("cex: resolve order %s: %w", clientOrderID, err)
	}
	return o.ToDomainHandle(), nil
}

// GetFundingRate implements domain.FundingSource.
func (c *Client) GetFundingRate(ctx context.Context, instrument string) (domain.FundingRate, error) {
	var s APIFutureStats
	if err := c.do(ctx, http.MethodGet, "/futures/"+url.PathEscape(instrument)+"/stats", nil, &s); err != nil {
		return domain.FundingRate{}, fmt.Errorf("cex: funding stats %s: %w", instrument, err)
	}
	return domain.FundingRate{
		VenueID:       c.spec.ID,
		Instrument:    instrument,
		HourlyPct:     s.NextFundingRate.Mul(decimal.NewFromInt(100)),
		NextFundingAt: s.NextFundingTime,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do sends a signed request and decodes the result field of the envelope
// into out.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "cex:"+c.spec.ID); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
	}
	var bodyReader io.Reader
	var bodyStr string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(b)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, req.URL.RequestURI(), bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: fmt.Errorf("read response: %w", err)}
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	env := envelope[json.RawMessage]{}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", domain.ErrSubmissionFailed, env.Error)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// transportError means the request may or may not have reached the
// exchange.
type transportError struct{ err error }

func (e *transportError) Error() string { return "http request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// serverError is a 5xx response.
type serverError struct {
	status int
	body   string
}

func (e *serverError) Error() string { return fmt.Sprintf("HTTP %d: %s", e.status, e.body) }

func isAmbiguous(err error) bool {
	var te *transportError
	var se *serverError
	var ne net.Error
	return errors.As(err, &te) || errors.As(err, &se) || (errors.As(err, &ne) && ne.Timeout())
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var env envelope[json.RawMessage]
	msg := string(body)
	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		msg = env.Error
	}
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode >= 500:
		return &serverError{status: statusCode, body: msg}
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrSubmissionFailed, statusCode, msg)
	}
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
