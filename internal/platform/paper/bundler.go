package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Bundler submits paper instructions across several paper venues as one
// all-or-nothing transaction.
type Bundler struct {
	mu     sync.Mutex
	venues map[string]*Venue
	txs    map[string]domain.BundleReceipt
}

// NewBundler creates a Bundler that can settle orders on venues.
func NewBundler(venues ...*Venue) *Bundler {
	b := &Bundler{venues: make(map[string]*Venue), txs: make(map[string]domain.BundleReceipt)}
	for _, v := range venues {
		b.venues[v.spec.ID] = v
	}
	return b
}

type pendingFill struct {
	venue *Venue
	spec  domain.OrderSpec
	price decimal.Decimal
}

// SubmitBundle implements domain.TxSubmitter. Every instruction is checked
// before any is applied; one failing check rejects the whole bundle.
func (b *Bundler) SubmitBundle(_ context.Context, instructions []domain.Instruction) (domain.BundleReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	receipt := domain.BundleReceipt{TxID: uuid.NewString()}
	fills := make([]pendingFill, 0, len(instructions))

	// Lock every venue involved so checks and fills see the same state.
	locked := make(map[string]*Venue)
	defer func() {
		for _, v := range locked {
			v.mu.Unlock()
		}
	}()

	for _, ins := range instructions {
		if ins.Program != Program {
			return domain.BundleReceipt{}, fmt.Errorf("paper bundler: program %q: %w", ins.Program, domain.ErrInvalidOrder)
		}
		v, ok := b.venues[ins.VenueID]
		if !ok {
			return domain.BundleReceipt{}, fmt.Errorf("paper bundler: venue %q: %w", ins.VenueID, domain.ErrNotFound)
		}
		var spec domain.OrderSpec
		if err := json.Unmarshal(ins.Data, &spec); err != nil {
			return domain.BundleReceipt{}, fmt.Errorf("paper bundler: decode instruction: %w", err)
		}
		if _, held := locked[v.spec.ID]; !held {
			v.mu.Lock()
			locked[v.spec.ID] = v
		}
		px, err := v.checkLocked(spec)
		if err != nil {
			receipt.Status = domain.OrderRejected
			receipt.Reason = err.Error()
			b.txs[receipt.TxID] = receipt
			return receipt, nil
		}
		fills = append(fills, pendingFill{venue: v, spec: spec, price: px})
	}

	for _, f := range fills {
		f.venue.fillLocked(f.spec, f.price)
		f.venue.recordLocked(f.spec, domain.OrderConfirmed, f.price)
	}
	receipt.Status = domain.OrderConfirmed
	b.txs[receipt.TxID] = receipt
	return receipt, nil
}

// TxStatus implements domain.TxResolver.
func (b *Bundler) TxStatus(_ context.Context, txID string) (domain.BundleReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.txs[txID]
	if !ok {
		return domain.BundleReceipt{}, fmt.Errorf("paper bundler: tx %s: %w", txID, domain.ErrNotFound)
	}
	return r, nil
}
