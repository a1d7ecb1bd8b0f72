package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// StrategyInfo holds runtime info for a scheduled strategy (for status APIs).
type StrategyInfo struct {
	Name       string              `json:"name"`
	Instrument string              `json:"instrument"`
	Status     string              `json:"status"` // "running", "stopped"
	Cycles     int64               `json:"cycles"`
	Skipped    int64               `json:"skipped"`
	ErrorCount int64               `json:"error_count"`
	LastReport *domain.CycleReport `json:"last_report,omitempty"`
}

// Registry manages the named schedulers of a process. It is safe for
// concurrent use.
type Registry struct {
	schedulers map[string]*Scheduler
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		schedulers: make(map[string]*Scheduler),
		logger:     logger.With(slog.String("component", "strategy_registry")),
	}
}

// Register adds a scheduler under its strategy name. A scheduler with the
// same name is replaced.
func (r *Registry) Register(s *Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedulers[s.Name()] = s
}

// Get retrieves a scheduler by name.
func (r *Registry) Get(name string) (*Scheduler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedulers[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schedulers))
	for n := range r.schedulers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns runtime info for all registered strategies, sorted by name.
func (r *Registry) ListInfo() []StrategyInfo {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]StrategyInfo, 0, len(names))
	for _, n := range names {
		if s, ok := r.schedulers[n]; ok {
			infos = append(infos, s.Info())
		}
	}
	return infos
}

// RunAll runs every registered scheduler as an independent worker and blocks
// until ctx is cancelled and all in-flight cycles have finished.
func (r *Registry) RunAll(ctx context.Context) error {
	r.mu.RLock()
	scheds := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		scheds = append(scheds, s)
	}
	r.mu.RUnlock()

	if len(scheds) == 0 {
		r.logger.Info("no strategies registered, blocking until context done")
		<-ctx.Done()
		return nil
	}

	r.logger.Info("strategies started", slog.Any("strategies", r.List()))
	defer r.logger.Info("strategies stopped")

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range scheds {
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	return g.Wait()
}
