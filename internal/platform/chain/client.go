// Package chain is the adapter for an on-chain AMM perpetuals market. Orders
// are signed locally and submitted through a transaction relayer, either one
// by one or as an all-or-nothing bundle.
package chain

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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/crypto"
	"github.com/alanyoungcy/perparb/internal/domain"
)

// Program is the instruction program name of relayer orders.
const Program = "perp-relayer"

// bundleTTL bounds how long the relayer may try to land a bundle.
const bundleTTL = 30 * time.Second

var hoursPerDay = decimal.NewFromInt(24)

// Client implements domain.VenueAdapter, domain.OrderResolver,
// domain.InstructionBuilder, domain.TxSubmitter, domain.TxResolver,
// domain.FundingSource and domain.BalanceChecker.
type Client struct {
	baseURL     string
	spec        domain.VenueSpec
	marketIndex uint64
	signer      *crypto.Signer
	httpClient  *http.Client
	logger      *slog.Logger

	nonce      atomic.Uint64
	limiter    Limiter
	minBalance decimal.Decimal
}

// Limiter throttles relayer requests per key across processes.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// NewClient creates a relayer client for one market.
func NewClient(baseURL string, spec domain.VenueSpec, marketIndex uint64, signer *crypto.Signer, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:     baseURL,
		spec:        spec,
		marketIndex: marketIndex,
		signer:      signer,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger: logger.With(
			slog.String("component", "chain"),
			slog.String("venue", spec.ID),
			slog.String("signer", signer.Address().Hex()),
		),
	}
	c.nonce.Store(uint64(time.Now().UnixMilli()))
	return c
}

// SetRateLimiter makes every relayer request wait for limiter first.
func (c *Client) SetRateLimiter(l Limiter) { c.limiter = l }

// SetMinBalance sets the fee balance floor checked by CheckBalance. Zero
// disables the check.
func (c *Client) SetMinBalance(min decimal.Decimal) { c.minBalance = min }

// CheckBalance implements domain.BalanceChecker.
func (c *Client) CheckBalance(ctx context.Context) error {
	if !c.minBalance.IsPositive() {
		return nil
	}
	var b APIBalance
	if err := c.do(ctx, http.MethodGet, "/accounts/"+c.signer.Address().Hex()+"/balance", nil, &b); err != nil {
		return fmt.Errorf("chain: balance: %w", err)
	}
	if b.Native.LessThan(c.minBalance) {
		return fmt.Errorf("chain: balance %s below %s: %w", b.Native, c.minBalance, domain.ErrInsufficientBalance)
	}
	return nil
}

// Spec implements domain.VenueAdapter.
func (c *Client) Spec() domain.VenueSpec { return c.spec }

func (c *Client) marketPath() string {
	return "/markets/" + strconv.FormatUint(c.marketIndex, 10)
}

func (c *Client) marketState(ctx context.Context) (APIMarketState, error) {
	var m APIMarketState
	if err := c.do(ctx, http.MethodGet, c.marketPath(), nil, &m); err != nil {
		return APIMarketState{}, err
	}
	return m, nil
}

// GetTopOfBook implements domain.QuoteSource. The quote carries the AMM
// curve so slippage can be priced against it.
func (c *Client) GetTopOfBook(ctx context.Context, instrument string) (domain.VenueQuote, error) {
	m, err := c.marketState(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.VenueQuote{}, fmt.Errorf("chain: market %d: %w", c.marketIndex, domain.ErrQuoteUnavailable)
		}
		return domain.VenueQuote{}, fmt.Errorf("chain: market state %d: %w", c.marketIndex, err)
	}
	q := m.ToDomainQuote(c.spec.ID, instrument)
	if q.Curve == nil {
		return domain.VenueQuote{}, fmt.Errorf("chain: market %d is paused or empty: %w", c.marketIndex, domain.ErrQuoteUnavailable)
	}
	return q, nil
}

// GetPosition implements domain.PositionSource.
func (c *Client) GetPosition(ctx context.Context, instrument string) (domain.Position, error) {
	var p APIPosition
	path := "/accounts/" + c.signer.Address().Hex() + "/positions/" + strconv.FormatUint(c.marketIndex, 10)
	err := c.do(ctx, http.MethodGet, path, nil, &p)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Position{VenueID: c.spec.ID, Instrument: instrument}, nil
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("chain: get position: %w", err)
	}
	return domain.Position{
		VenueID:     c.spec.ID,
		Instrument:  instrument,
		SignedSize:  p.BaseAssetAmount,
		NotionalUSD: p.QuoteAssetAmount,
	}, nil
}

// PlaceLimitOrder implements domain.OrderSink. The order is signed and sent
// to the relayer on its own.
func (c *Client) PlaceLimitOrder(ctx context.Context, spec domain.OrderSpec) (domain.OrderHandle, error) {
	signed, err := c.sign(spec)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("chain: place order %s: %w", spec.ClientOrderID, err)
	}
	var o APIOrder
	if err := c.do(ctx, http.MethodPost, "/orders", signed, &o); err != nil {
		if isAmbiguous(err) {
			return domain.OrderHandle{ClientOrderID: spec.ClientOrderID, Status: domain.OrderUnknown},
				fmt.Errorf("chain: place order %s: %w: %w", spec.ClientOrderID, domain.ErrAmbiguousSubmission, err)
		}
		return domain.OrderHandle{}, fmt.Errorf("chain: place order %s: %w", spec.ClientOrderID, err)
	}
	h := o.ToDomainHandle()
	c.logger.Info("order placed",
		slog.String("event", "order_placed"),
		slog.String("client_order_id", spec.ClientOrderID),
		slog.String("direction", string(spec.Direction)),
		slog.String("size", spec.Quantity.String()),
		slog.String("price", spec.Price.String()),
		slog.String("status", string(h.Status)),
	)
	return h, nil
}

// ResolveOrder implements domain.OrderResolver.
func (c *Client) ResolveOrder(ctx context.Context, _ string, clientOrderID string) (domain.OrderHandle, error) {
	var o APIOrder
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(clientOrderID), nil, &o); err != nil {
		return domain.OrderHandle{}, fmt.Errorf("chain: resolve order %s: %w", clientOrderID, err)
	}
	return o.ToDomainHandle(), nil
}

// BuildInstruction implements domain.InstructionBuilder. The instruction
// data is the JSON encoded signed order.
func (c *Client) BuildInstruction(_ context.Context, spec domain.OrderSpec) (domain.Instruction, error) {
	signed, err := c.sign(spec)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("chain: build instruction %s: %w", spec.ClientOrderID, err)
	}
	data, err := json.Marshal(signed)
	if err != nil {
		return domain.Instruction{}, fmt.Errorf("chain: encode instruction: %w", err)
	}
	return domain.Instruction{
		VenueID:       c.spec.ID,
		ClientOrderID: spec.ClientOrderID,
		Program:       Program,
		Data:          data,
	}, nil
}

// SubmitBundle implements domain.TxSubmitter. The bundle ID is chosen
// locally so an ambiguous submission can still be looked up.
func (c *Client) SubmitBundle(ctx context.Context, instructions []domain.Instruction) (domain.BundleReceipt, error) {
	req := APIBundleRequest{
		BundleID: uuid.NewString(),
		Deadline: time.Now().Add(bundleTTL).Unix(),
		Signer:   c.signer.Address().Hex(),
	}
	payloads := make([]crypto.OrderPayload, 0, len(instructions))
	for _, ins := range instructions {
		if ins.Program != Program {
			return domain.BundleReceipt{}, fmt.Errorf("chain: bundle: program %q: %w", ins.Program, domain.ErrInvalidOrder)
		}
		var so APISignedOrder
		if err := json.Unmarshal(ins.Data, &so); err != nil {
			return domain.BundleReceipt{}, fmt.Errorf("chain: bundle: decode %s: %w: %w", ins.ClientOrderID, domain.ErrInvalidOrder, err)
		}
		req.Orders = append(req.Orders, so)
		payloads = append(payloads, so.Order)
	}
	sig, err := c.signer.SignBundle(payloads, req.Deadline)
	if err != nil {
		return domain.BundleReceipt{}, fmt.Errorf("chain: sign bundle: %w", err)
	}
	req.Signature = sig

	var b APIBundle
	if err := c.do(ctx, http.MethodPost, "/bundles", req, &b); err != nil {
		pending := domain.BundleReceipt{TxID: req.BundleID, Status: domain.OrderUnknown}
		if isAmbiguous(err) {
			return pending, fmt.Errorf("chain: submit bundle %s: %w: %w", req.BundleID, domain.ErrAmbiguousSubmission, err)
		}
		return domain.BundleReceipt{TxID: req.BundleID, Status: domain.OrderRejected, Reason: err.Error()},
			fmt.Errorf("chain: submit bundle %s: %w", req.BundleID, err)
	}
	if b.BundleID == "" {
		b.BundleID = req.BundleID
	}
	receipt := b.ToDomainReceipt()
	c.logger.Info("bundle submitted",
		slog.String("event", "bundle_submitted"),
		slog.String("tx_id", receipt.TxID),
		slog.Int("orders", len(req.Orders)),
		slog.String("status", string(receipt.Status)),
	)
	return receipt, nil
}

// TxStatus implements domain.TxResolver.
func (c *Client) TxStatus(ctx context.Context, txID string) (domain.BundleReceipt, error) {
	var b APIBundle
	if err := c.do(ctx, http.MethodGet, "/bundles/"+url.PathEscape(txID), nil, &b); err != nil {
		return domain.BundleReceipt{}, fmt.Errorf("chain: bundle status %s: %w", txID, err)
	}
	if b.BundleID == "" {
		b.BundleID = txID
	}
	return b.ToDomainReceipt(), nil
}

// GetFundingRate implements domain.FundingSource. The market publishes a
// 24h rate; the hourly rate is a twenty-fourth of it.
func (c *Client) GetFundingRate(ctx context.Context, instrument string) (domain.FundingRate, error) {
	m, err := c.marketState(ctx)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("chain: funding rate: %w", err)
	}
	fr := domain.FundingRate{
		VenueID:    c.spec.ID,
		Instrument: instrument,
		HourlyPct:  m.FundingRate24hPct.Div(hoursPerDay),
	}
	if m.NextFundingTs > 0 {
		fr.NextFundingAt = time.Unix(m.NextFundingTs, 0).UTC()
	}
	return fr, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) sign(spec domain.OrderSpec) (APISignedOrder, error) {
	if spec.ClientOrderID == "" {
		return APISignedOrder{}, fmt.Errorf("%w: client order id required", domain.ErrInvalidOrder)
	}
	side := 0
	if spec.Direction == domain.Short {
		side = 1
	}
	payload := crypto.OrderPayload{
		ClientOrderID: spec.ClientOrderID,
		Market:        c.marketIndex,
		Side:          side,
		Price:         toUnits(spec.Price, PricePrecision),
		BaseAmount:    toUnits(spec.Quantity, BasePrecision),
		ReduceOnly:    spec.ReduceOnly,
		Nonce:         strconv.FormatUint(c.nonce.Add(1), 10),
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return APISignedOrder{}, fmt.Errorf("%w: %w", domain.ErrInvalidOrder, err)
	}
	return APISignedOrder{Order: payload, Signature: sig, Signer: c.signer.Address().Hex()}, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "chain:"+c.spec.ID); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
	}
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
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
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "http request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

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

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := string(body)
	var e apiError
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode >= 500:
		return &serverError{status: statusCode, body: msg}
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrSubmissionFailed, statusCode, msg)
	}
}
