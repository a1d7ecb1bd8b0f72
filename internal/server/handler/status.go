package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/perparb/internal/executor"
	"github.com/alanyoungcy/perparb/internal/strategy"
)

// StrategySource lists the running strategies.
type StrategySource interface {
	ListInfo() []strategy.StrategyInfo
}

// StatsSource reports execution counters.
type StatsSource interface {
	Stats() executor.Stats
}

// StatusHandler serves GET /status.
type StatusHandler struct {
	mode      string
	dryRun    bool
	startedAt time.Time
	strats    StrategySource
	stats     StatsSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, dryRun bool, strats StrategySource, stats StatsSource) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		dryRun:    dryRun,
		startedAt: time.Now().UTC(),
		strats:    strats,
		stats:     stats,
	}
}

// GetStatus returns the mode, the last report of every strategy and the
// execution counters.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"dry_run":        h.dryRun,
		"started_at":     h.startedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"strategies":     h.strats.ListInfo(),
	}
	if h.stats != nil {
		body["executions"] = h.stats.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
