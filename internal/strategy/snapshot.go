package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// snapshot is everything one cycle reads from the venues.
type snapshot struct {
	QuoteA domain.VenueQuote
	QuoteB domain.VenueQuote
	PosA   domain.Position
	PosB   domain.Position
}

// fetchSnapshot reads both quotes and both positions concurrently and checks
// the fee balance of venues that need one. Each call is bounded by timeout.
// The first failure cancels the others.
func fetchSnapshot(ctx context.Context, v Venues, instrument string, timeout time.Duration) (snapshot, error) {
	var s snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		q, err := v.A.GetTopOfBook(cctx, instrument)
		if err != nil {
			return fmt.Errorf("quote %s: %w", v.A.Spec().ID, err)
		}
		s.QuoteA = q
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		q, err := v.B.GetTopOfBook(cctx, instrument)
		if err != nil {
			return fmt.Errorf("quote %s: %w", v.B.Spec().ID, err)
		}
		s.QuoteB = q
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		p, err := v.A.GetPosition(cctx, instrument)
		if err != nil {
			return fmt.Errorf("position %s: %w", v.A.Spec().ID, err)
		}
		s.PosA = p
		return nil
	})
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, timeout)
		defer cancel()
		p, err := v.B.GetPosition(cctx, instrument)
		if err != nil {
			return fmt.Errorf("position %s: %w", v.B.Spec().ID, err)
		}
		s.PosB = p
		return nil
	})
	for _, venue := range []domain.VenueAdapter{v.A, v.B} {
		bc, ok := venue.(domain.BalanceChecker)
		if !ok {
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := bc.CheckBalance(cctx); err != nil {
				return fmt.Errorf("balance %s: %w", venue.Spec().ID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return s, nil
}

// cacheQuotes stores the cycle's quotes for the status surface. Failures are
// logged and otherwise ignored.
func cacheQuotes(ctx context.Context, cache domain.QuoteCache, logger *slog.Logger, quotes ...domain.VenueQuote) {
	if cache == nil {
		return
	}
	for _, q := range quotes {
		if err := cache.SetQuote(ctx, q); err != nil {
			logger.Warn("cache quote failed",
				slog.String("venue", q.VenueID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// fetchPositions re-reads both positions, for use after orders changed them.
func fetchPositions(ctx context.Context, v Venues, instrument string, timeout time.Duration) (a, b domain.Position, err error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range []struct {
		venue domain.VenueAdapter
		dst   *domain.Position
	}{{v.A, &a}, {v.B, &b}} {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			pos, err := p.venue.GetPosition(cctx, instrument)
			if err != nil {
				return fmt.Errorf("position %s: %w", p.venue.Spec().ID, err)
			}
			*p.dst = pos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Position{}, domain.Position{}, err
	}
	return a, b, nil
}
