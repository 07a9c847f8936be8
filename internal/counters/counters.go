// Package counters maintains per-gateway, per-status order counters behind a
// globally togglable counting feature.
//
// The ledger exposes two call paths with different failure policy: the public
// API (Counters, IncrementCounter) fails with ErrDisabled when counting is
// off, while the transition hook invoked from status-change dispatch silently
// no-ops. Both paths share one durable CounterStore.
package counters

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"paygate/internal/orders"
)

// ErrDisabled is returned by the public counter API when the counting feature
// is turned off server-wide.
var ErrDisabled = errors.New("order counters are disabled")

// CounterStore is the durable backend for order counters.
type CounterStore interface {
	// Get returns the counter value, 0 when the counter was never touched.
	Get(ctx context.Context, gatewayID uint64, status orders.Status) (int64, error)
	// Add adjusts one counter by delta.
	Add(ctx context.Context, gatewayID uint64, status orders.Status, delta int64) error
	// ApplyTransition decrements prev (when non-nil) and increments next as
	// one atomic adjustment.
	ApplyTransition(ctx context.Context, gatewayID uint64, prev *orders.Status, next orders.Status) error
}

// Ledger is one gateway's view of the counter store. It caches the last read
// so Counters(reload=false) stays cheap; any mutation invalidates the cache.
type Ledger struct {
	gatewayID uint64
	store     CounterStore
	enabled   bool
	logger    *zap.Logger

	mu     sync.Mutex
	cached map[orders.Status]int64
}

func NewLedger(gatewayID uint64, store CounterStore, enabled bool, logger *zap.Logger) *Ledger {
	return &Ledger{
		gatewayID: gatewayID,
		store:     store,
		enabled:   enabled,
		logger:    logger,
	}
}

// Counters returns the value of all six status counters, defaulting to 0 for
// statuses never observed. reload forces a re-read from the store instead of
// the cached snapshot.
func (l *Ledger) Counters(ctx context.Context, reload bool) (map[orders.Status]int64, error) {
	if !l.enabled {
		return nil, ErrDisabled
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached == nil || reload {
		fresh := make(map[orders.Status]int64, len(orders.AllStatuses()))
		for _, s := range orders.AllStatuses() {
			v, err := l.store.Get(ctx, l.gatewayID, s)
			if err != nil {
				return nil, err
			}
			fresh[s] = v
		}
		l.cached = fresh
	}

	out := make(map[orders.Status]int64, len(l.cached))
	for s, v := range l.cached {
		out[s] = v
	}
	return out, nil
}

// IncrementCounter bumps one status counter by 1. Direct-mutation path: it
// errors when counting is disabled.
func (l *Ledger) IncrementCounter(ctx context.Context, status orders.Status) error {
	if !l.enabled {
		return ErrDisabled
	}
	if err := l.store.Add(ctx, l.gatewayID, status, 1); err != nil {
		return err
	}
	l.invalidate()
	return nil
}

// RecordTransition is the internal hook fired as a side effect of a
// status-change event. prev is nil for an order's first reported status.
// When counting is disabled it returns without touching the store, and store
// failures are logged rather than surfaced: the caller reporting the status
// change must never see a counter error.
func (l *Ledger) RecordTransition(ctx context.Context, prev *orders.Status, next orders.Status) {
	if !l.enabled {
		return
	}
	if err := l.store.ApplyTransition(ctx, l.gatewayID, prev, next); err != nil {
		l.logger.Warn("order counter transition failed",
			zap.Uint64("gateway_id", l.gatewayID),
			zap.Stringer("next_status", next),
			zap.Error(err),
		)
		return
	}
	l.invalidate()
}

func (l *Ledger) invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}
