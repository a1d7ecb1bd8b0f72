package paper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Shadow trades on paper against a live venue's market. Quotes and
// positions come from the live venue; orders never reach it.
type Shadow struct {
	live   domain.VenueAdapter
	logger *slog.Logger

	book *Venue
}

// fundingShadow is a Shadow over a live venue that publishes funding.
type fundingShadow struct {
	*Shadow
	funding domain.FundingSource
}

func (f *fundingShadow) GetFundingRate(ctx context.Context, instrument string) (domain.FundingRate, error) {
	return f.funding.GetFundingRate(ctx, instrument)
}

// NewShadow wraps live for dry-run trading. The result also implements
// domain.FundingSource when live does.
func NewShadow(live domain.VenueAdapter, logger *slog.Logger) domain.VenueAdapter {
	s := &Shadow{
		live:   live,
		logger: logger.With(slog.String("component", "shadow_venue"), slog.String("venue", live.Spec().ID)),
		book:   New(Config{Spec: live.Spec()}),
	}
	if fs, ok := live.(domain.FundingSource); ok {
		return &fundingShadow{Shadow: s, funding: fs}
	}
	return s
}

func (s *Shadow) Spec() domain.VenueSpec { return s.live.Spec() }

func (s *Shadow) GetTopOfBook(ctx context.Context, instrument string) (domain.VenueQuote, error) {
	return s.live.GetTopOfBook(ctx, instrument)
}

func (s *Shadow) GetPosition(ctx context.Context, instrument string) (domain.Position, error) {
	return s.live.GetPosition(ctx, instrument)
}

// PlaceLimitOrder fills the order on paper against the current live quote.
func (s *Shadow) PlaceLimitOrder(ctx context.Context, spec domain.OrderSpec) (domain.OrderHandle, error) {
	q, err := s.live.GetTopOfBook(ctx, spec.Instrument)
	if err != nil {
		return domain.OrderHandle{}, fmt.Errorf("shadow %s: %w", s.live.Spec().ID, err)
	}
	s.book.mu.Lock()
	s.book.quote = q
	if pos, perr := s.live.GetPosition(ctx, spec.Instrument); perr == nil {
		s.book.positions[spec.Instrument] = pos.SignedSize
	}
	s.book.mu.Unlock()

	h, err := s.book.PlaceLimitOrder(ctx, spec)
	if err != nil {
		return h, err
	}
	s.logger.Info("simulated order",
		slog.String("event", "simulated_order"),
		slog.String("client_order_id", spec.ClientOrderID),
		slog.String("direction", string(spec.Direction)),
		slog.String("quantity", spec.Quantity.String()),
		slog.String("limit", spec.Price.String()),
		slog.String("status", string(h.Status)),
	)
	return h, nil
}

func (s *Shadow) ResolveOrder(ctx context.Context, instrument, clientOrderID string) (domain.OrderHandle, error) {
	return s.book.ResolveOrder(ctx, instrument, clientOrderID)
}
