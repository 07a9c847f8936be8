// Package subs tracks live push-notification subscriptions: at most one
// stream per order, registered per gateway, held only in process memory.
package subs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"paygate/internal/orders"
)

var (
	// ErrCompletedOrder rejects subscriptions for orders already past the
	// open statuses.
	ErrCompletedOrder = errors.New("cannot subscribe to a completed order")
	// ErrExists rejects a second subscription for the same order.
	ErrExists = errors.New("subscription for this order already exists")
)

// Stream is one live client connection. The root server adapts websocket
// connections onto it; tests substitute fakes.
type Stream interface {
	// Send delivers one JSON frame to the client.
	Send(ctx context.Context, v any) error
	// Close tears the connection down; safe to call more than once.
	Close() error
}

// Manager is the process-wide subscription registry, keyed gateway id then
// order id. All access goes through one mutex: registration happens on
// request handling while removal happens from status-change dispatch and
// client disconnects.
type Manager struct {
	mu        sync.Mutex
	byGateway map[uint64]map[uint64]Stream
	logger    *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		byGateway: make(map[uint64]map[uint64]Stream),
		logger:    logger,
	}
}

// Add registers a stream for the order. The returned detach function removes
// the registration and is meant to run when the client disconnects; it does
// not close the stream.
func (m *Manager) Add(gatewayID uint64, o *orders.Order, s Stream) (func(), error) {
	if !o.Status.Open() {
		return nil, ErrCompletedOrder
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	perOrder, ok := m.byGateway[gatewayID]
	if !ok {
		perOrder = make(map[uint64]Stream)
		m.byGateway[gatewayID] = perOrder
	}
	if _, dup := perOrder[o.ID]; dup {
		return nil, ErrExists
	}
	perOrder[o.ID] = s

	m.logger.Debug("subscription added",
		zap.Uint64("gateway_id", gatewayID),
		zap.Uint64("order_id", o.ID),
	)

	orderID := o.ID
	return func() { m.Remove(gatewayID, orderID) }, nil
}

// Get returns the live stream for an order, if any.
func (m *Manager) Get(gatewayID, orderID uint64) (Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byGateway[gatewayID][orderID]
	return s, ok
}

// Remove drops the registration for an order. Idempotent.
func (m *Manager) Remove(gatewayID, orderID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perOrder, ok := m.byGateway[gatewayID]
	if !ok {
		return
	}
	if _, found := perOrder[orderID]; !found {
		return
	}
	delete(perOrder, orderID)
	if len(perOrder) == 0 {
		delete(m.byGateway, gatewayID)
	}
	m.logger.Debug("subscription removed",
		zap.Uint64("gateway_id", gatewayID),
		zap.Uint64("order_id", orderID),
	)
}

// Count reports the number of live subscriptions for a gateway.
func (m *Manager) Count(gatewayID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byGateway[gatewayID])
}
