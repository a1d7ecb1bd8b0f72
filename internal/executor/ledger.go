package executor

import (
	"sync"
	"time"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Ledger remembers which trade intents are in flight or finished so that no
// intent is ever submitted twice. Finished entries are kept for ttl. It is
// safe for concurrent use.
type Ledger struct {
	entries map[string]*ledgerEntry // intentID -> entry
	ttl     time.Duration
	mu      sync.Mutex
}

type ledgerEntry struct {
	inFlight bool
	result   *domain.ExecutionResult
	touched  time.Time
}

// NewLedger creates a Ledger that forgets finished intents after ttl.
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{
		entries: make(map[string]*ledgerEntry),
		ttl:     ttl,
	}
}

// Claim marks intentID as in flight. If the intent already finished, its
// recorded result is returned and nothing is claimed. If it is currently in
// flight, domain.ErrDuplicateIntent is returned.
func (l *Ledger) Claim(intentID string) (*domain.ExecutionResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, ok := l.entries[intentID]; ok {
		if e.inFlight {
			return nil, domain.ErrDuplicateIntent
		}
		if e.result != nil {
			e.touched = now
			res := *e.result
			return &res, nil
		}
	}

	l.entries[intentID] = &ledgerEntry{inFlight: true, touched: now}
	return nil, nil
}

// Finish records the terminal result for intentID and releases the claim.
func (l *Ledger) Finish(intentID string, res domain.ExecutionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[intentID] = &ledgerEntry{result: &res, touched: time.Now()}
}

// Cleanup removes finished entries that have expired beyond the TTL.
func (l *Ledger) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for id, e := range l.entries {
		if !e.inFlight && now.Sub(e.touched) >= l.ttl {
			delete(l.entries, id)
		}
	}
}

// Len returns the number of tracked intents.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
