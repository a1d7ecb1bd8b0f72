package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/cache/redis"
	"github.com/alanyoungcy/perparb/internal/config"
	"github.com/alanyoungcy/perparb/internal/crypto"
	"github.com/alanyoungcy/perparb/internal/domain"
	"github.com/alanyoungcy/perparb/internal/feed"
	"github.com/alanyoungcy/perparb/internal/platform/cex"
	"github.com/alanyoungcy/perparb/internal/platform/chain"
	"github.com/alanyoungcy/perparb/internal/platform/paper"
)

// venuePair is the two configured venues plus what they need to run.
type venuePair struct {
	a, b      domain.VenueAdapter
	submitter domain.TxSubmitter
	// feeds are background quote streams; each runs until ctx is done.
	feeds []func(ctx context.Context) error
}

// buildVenues constructs both venues and picks the shared bundle submitter
// when one exists. In dry-run every venue is wrapped in a paper shadow and
// no submitter is used.
func buildVenues(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*venuePair, error) {
	pair := &venuePair{}

	a, err := buildVenue(cfg, cfg.VenueA, deps, pair, logger)
	if err != nil {
		return nil, fmt.Errorf("venue_a: %w", err)
	}
	b, err := buildVenue(cfg, cfg.VenueB, deps, pair, logger)
	if err != nil {
		return nil, fmt.Errorf("venue_b: %w", err)
	}

	if cfg.DryRun {
		pair.a = paper.NewShadow(a, logger)
		pair.b = paper.NewShadow(b, logger)
		return pair, nil
	}
	pair.a, pair.b = a, b

	switch {
	case cfg.VenueA.Kind == "paper" && cfg.VenueB.Kind == "paper":
		pair.submitter = paper.NewBundler(a.(*paper.Venue), b.(*paper.Venue))
	case cfg.VenueA.Kind == "chain" && cfg.VenueB.Kind == "chain" && cfg.VenueA.BaseURL == cfg.VenueB.BaseURL:
		// Both markets live behind one relayer, which settles bundles for either.
		pair.submitter = a.(*chain.Client)
	}
	return pair, nil
}

func venueSpec(vc config.VenueConfig) domain.VenueSpec {
	return domain.VenueSpec{
		ID:             vc.ID,
		QuoteStyle:     domain.QuoteStyle(vc.QuoteStyle),
		LotSize:        decimal.NewFromFloat(vc.LotSize),
		LimitMarkupPct: decimal.NewFromFloat(vc.LimitMarkupPct),
	}
}

func buildVenue(cfg *config.Config, vc config.VenueConfig, deps *Dependencies, pair *venuePair, logger *slog.Logger) (domain.VenueAdapter, error) {
	spec := venueSpec(vc)

	switch vc.Kind {
	case "paper":
		p := vc.Paper
		pc := paper.Config{
			Spec:             spec,
			Bid:              decimal.NewFromFloat(p.Bid),
			Ask:              decimal.NewFromFloat(p.Ask),
			Mark:             decimal.NewFromFloat(p.Mark),
			FundingHourlyPct: decimal.NewFromFloat(p.FundingHourlyPct),
		}
		if p.BaseReserve > 0 && p.QuoteReserve > 0 {
			pc.Curve = &domain.AMMCurve{
				BaseReserve:   decimal.NewFromFloat(p.BaseReserve),
				QuoteReserve:  decimal.NewFromFloat(p.QuoteReserve),
				PegMultiplier: decimal.NewFromInt(1),
			}
		}
		return paper.New(pc), nil

	case "cex":
		client := cex.NewClient(vc.BaseURL, spec, &crypto.HMACAuth{
			Key:        vc.APIKey,
			Secret:     vc.APISecret,
			Subaccount: vc.Subaccount,
		}, logger)
		if vc.UseStream {
			f := feed.NewTickerFeed(vc.WsURL, vc.ID, []string{cfg.Strategy.Instrument}, logger)
			client.SetQuoteFeed(f, vc.MaxQuoteAge.Duration)
			pair.feeds = append(pair.feeds, f.Run)
		}
		if l := venueLimiter(vc, deps); l != nil {
			client.SetRateLimiter(l)
		}
		return client, nil

	case "chain":
		key, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("load wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(key, vc.ChainID)
		if err != nil {
			return nil, fmt.Errorf("create signer: %w", err)
		}
		client := chain.NewClient(vc.BaseURL, spec, uint64(vc.MarketIndex), signer, logger)
		if l := venueLimiter(vc, deps); l != nil {
			client.SetRateLimiter(l)
		}
		client.SetMinBalance(decimal.NewFromFloat(vc.MinFeeBalance))
		logger.Info("chain venue ready",
			slog.String("venue", vc.ID),
			slog.String("address", signer.Address().Hex()),
		)
		return client, nil

	default:
		return nil, fmt.Errorf("unknown venue kind %q: %w", vc.Kind, domain.ErrConfigurationInvalid)
	}
}

// venueLimiter returns the shared limiter for a venue, or nil when either
// the venue has no limit or redis is disabled.
func venueLimiter(vc config.VenueConfig, deps *Dependencies) *redis.RateLimiter {
	if vc.RateLimitPerSecond <= 0 || deps.Redis == nil {
		return nil
	}
	return redis.NewRateLimiter(deps.Redis, vc.RateLimitPerSecond, time.Second)
}
