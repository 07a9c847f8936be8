package gateway

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"paygate/internal/addrs"
	"paygate/internal/counters"
	"paygate/internal/orders"
	"paygate/internal/rates"
	"paygate/internal/signature"
	"paygate/internal/subs"
)

// SatoshisPerBTC is the base-unit scale: 10^8 satoshis per bitcoin.
const SatoshisPerBTC = 100_000_000

// OrderBuilder is the external order-construction collaborator: it builds and
// persists the order for the allocated keychain index.
type OrderBuilder interface {
	BuildOrder(ctx context.Context, spec orders.Spec) (*orders.Order, error)
}

// DeriverFactory builds the address deriver for a gateway's public key
// material.
type DeriverFactory func(pubkey string) (addrs.Deriver, error)

// CreateOrderRequest carries the inputs of one order-creation call. OrderID
// is the client's external order identifier; it is required only when the
// gateway enforces signatures.
type CreateOrderRequest struct {
	Amount    float64
	Currency  string
	Signature string
	OrderID   string
	Data      string
}

// Engine composes the core components into the gateway facade. One Engine
// serves every gateway of the process.
type Engine struct {
	store        Store
	builder      OrderBuilder
	newDeriver   DeriverFactory
	adapters     map[string]rates.Adapter
	counterStore counters.CounterStore
	countOrders  bool
	subscribers  *subs.Manager
	dispatcher   *Dispatcher
	logger       *zap.Logger

	mu       sync.Mutex
	ledgers  map[uint64]*counters.Ledger
	derivers map[uint64]addrs.Deriver
}

// EngineConfig wires an Engine. Store, Builder, NewDeriver, Subs, Dispatcher
// and Logger are required; Adapters may be empty for base-unit-only gateways.
type EngineConfig struct {
	Store        Store
	Builder      OrderBuilder
	NewDeriver   DeriverFactory
	Adapters     map[string]rates.Adapter
	CounterStore counters.CounterStore
	CountOrders  bool
	Subs         *subs.Manager
	Dispatcher   *Dispatcher
	Logger       *zap.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	counterStore := cfg.CounterStore
	if counterStore == nil {
		counterStore = counters.NewMemoryStore()
	}
	return &Engine{
		store:        cfg.Store,
		builder:      cfg.Builder,
		newDeriver:   cfg.NewDeriver,
		adapters:     cfg.Adapters,
		counterStore: counterStore,
		countOrders:  cfg.CountOrders,
		subscribers:  cfg.Subs,
		dispatcher:   cfg.Dispatcher,
		logger:       cfg.Logger,
		ledgers:      make(map[uint64]*counters.Ledger),
		derivers:     make(map[uint64]addrs.Deriver),
	}
}

// Ledger returns the gateway's order counter ledger, shared across calls so
// cached counter reads survive between events.
func (e *Engine) Ledger(g *Gateway) *counters.Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.ledgers[g.ID]
	if !ok {
		l = counters.NewLedger(g.ID, e.counterStore, e.countOrders, e.logger)
		e.ledgers[g.ID] = l
	}
	return l
}

func (e *Engine) deriverFor(g *Gateway) (addrs.Deriver, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.derivers[g.ID]
	if !ok {
		var err error
		d, err = e.newDeriver(g.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("building deriver for gateway %d: %w", g.ID, err)
		}
		e.derivers[g.ID] = d
	}
	return d, nil
}

// CreateOrder authenticates and executes one order-creation request:
// signature policy, currency conversion, keychain allocation, address
// derivation, order construction, then the initial status notification.
func (e *Engine) CreateOrder(ctx context.Context, g *Gateway, req CreateOrderRequest) (*orders.Order, error) {
	if !g.Active {
		return nil, ErrGatewayInactive
	}

	if g.CheckSignature {
		if req.OrderID == "" {
			return nil, ErrInvalidOrderID
		}
		if !signature.VerifyCreation(req.Signature, req.OrderID, g.Secret) {
			return nil, ErrInvalidSignature
		}
	}

	amount, btcDenomination, err := e.amountInSatoshis(ctx, g, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	keychainID, err := e.store.AllocateKeychainID(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("allocating keychain id: %w", err)
	}
	keychainAllocations.Inc()

	deriver, err := e.deriverFor(g)
	if err != nil {
		return nil, err
	}
	address, err := deriver.AddressForKeychainID(keychainID)
	if err != nil {
		return nil, fmt.Errorf("deriving address for keychain id %d: %w", keychainID, err)
	}

	order, err := e.builder.BuildOrder(ctx, orders.Spec{
		GatewayID:       g.ID,
		Amount:          amount,
		KeychainID:      keychainID,
		Currency:        req.Currency,
		BTCDenomination: btcDenomination,
		Address:         address,
		Data:            req.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("building order: %w", err)
	}

	ordersCreated.WithLabelValues(g.Name).Inc()
	e.logger.Info("order created",
		zap.Uint64("gateway_id", g.ID),
		zap.Uint64("order_id", order.ID),
		zap.Uint64("keychain_id", keychainID),
		zap.Int64("amount", amount),
		zap.String("currency", req.Currency),
	)

	e.OrderStatusChanged(ctx, g, order, nil)
	return order, nil
}

// amountInSatoshis converts the requested amount to base units. An empty
// currency means the amount is already in satoshis; "BTC" scales by 10^8;
// anything else converts through the gateway's first answering rate adapter.
func (e *Engine) amountInSatoshis(ctx context.Context, g *Gateway, amount float64, currency string) (int64, bool, error) {
	switch {
	case currency == "":
		return int64(math.Round(amount)), true, nil
	case strings.EqualFold(currency, "BTC"):
		return int64(math.Round(amount * SatoshisPerBTC)), true, nil
	default:
		rate, err := rates.FirstAvailable(ctx, rates.ByNames(g.ExchangeRateAdapterNames, e.adapters), currency)
		if err != nil {
			return 0, false, fmt.Errorf("converting %s amount: %w", currency, err)
		}
		return int64(math.Round(amount / rate * SatoshisPerBTC)), false, nil
	}
}

// OrderStatusChanged is the re-entry point for externally reported status
// changes; it seeds counters and fans out notifications.
func (e *Engine) OrderStatusChanged(ctx context.Context, g *Gateway, o *orders.Order, prev *orders.Status) {
	e.dispatcher.OrderStatusChanged(ctx, g, e.Ledger(g), o, prev)
}

// AddSubscription registers a live stream for the order under its gateway.
// The returned detach function removes the registration on disconnect.
func (e *Engine) AddSubscription(g *Gateway, o *orders.Order, s subs.Stream) (func(), error) {
	return e.subscribers.Add(g.ID, o, s)
}
