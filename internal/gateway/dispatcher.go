package gateway

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"paygate/internal/counters"
	"paygate/internal/orders"
	"paygate/internal/signature"
	"paygate/internal/subs"
)

// OrderSaver persists dispatcher-side order mutations, the recorded callback
// response in particular. Optional: a nil saver keeps the response in memory
// only.
type OrderSaver interface {
	SaveCallbackResponse(ctx context.Context, o *orders.Order) error
}

// DefaultSchedule returns the default inter-attempt delays for the callback
// protocol: ten doubling waits starting at five seconds.
func DefaultSchedule() []time.Duration {
	schedule := make([]time.Duration, 10)
	d := 5 * time.Second
	for i := range schedule {
		schedule[i] = d
		d *= 2
	}
	return schedule
}

// Dispatcher reacts to order status changes: it updates the counter ledger,
// runs the callback retry protocol, and pushes to any live subscription.
type Dispatcher struct {
	subs       *subs.Manager
	saver      OrderSaver
	httpClient *http.Client
	schedule   []time.Duration
	sleep      func(time.Duration)
	logger     *zap.Logger

	locks orderLocks
}

// DispatcherConfig wires a Dispatcher. Sleep is injectable so tests run the
// full retry schedule without wall-clock delay.
type DispatcherConfig struct {
	Subs       *subs.Manager
	Saver      OrderSaver
	HTTPClient *http.Client
	Schedule   []time.Duration
	Sleep      func(time.Duration)
	Logger     *zap.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		subs:       cfg.Subs,
		saver:      cfg.Saver,
		httpClient: cfg.HTTPClient,
		schedule:   cfg.Schedule,
		sleep:      cfg.Sleep,
		logger:     cfg.Logger,
	}
	if d.httpClient == nil {
		d.httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if d.schedule == nil {
		d.schedule = DefaultSchedule()
	}
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	d.locks.m = make(map[uint64]*lockEntry)
	return d
}

// OrderStatusChanged handles one status-change event. prev is nil when this
// is the order's first reported status. The counter hook never surfaces
// errors; the callback loop never raises on delivery failure.
func (d *Dispatcher) OrderStatusChanged(ctx context.Context, g *Gateway, ledger *counters.Ledger, o *orders.Order, prev *orders.Status) {
	ledger.RecordTransition(ctx, prev, o.Status)

	if g.CallbackURL != "" {
		// One callback loop per order at a time: a later event for the same
		// order waits for the in-flight loop instead of interleaving with it.
		d.locks.lock(o.ID)
		d.deliverCallback(ctx, g, o)
		d.locks.unlock(o.ID)

		if d.saver != nil {
			if err := d.saver.SaveCallbackResponse(ctx, o); err != nil {
				d.logger.Warn("failed to persist callback response",
					zap.Uint64("order_id", o.ID),
					zap.Error(err),
				)
			}
		}
	}

	if stream, ok := d.subs.Get(g.ID, o.ID); ok {
		if err := stream.Send(ctx, o); err != nil {
			d.logger.Warn("websocket push failed",
				zap.Uint64("order_id", o.ID),
				zap.Error(err),
			)
		} else {
			wsPushes.Inc()
		}
		if !o.Status.Open() {
			_ = stream.Close()
			d.subs.Remove(g.ID, o.ID)
		}
	}
}

// deliverCallback runs the bounded retry protocol: one attempt plus one retry
// per schedule slot, stopping on the first "200". The last response is always
// recorded on the order; exhaustion is not an error.
func (d *Dispatcher) deliverCallback(ctx context.Context, g *Gateway, o *orders.Order) {
	target := callbackTarget(g, o)
	attempts := len(d.schedule) + 1

	for i := 0; i < attempts; i++ {
		code, body := d.callbackAttempt(ctx, target)
		o.SetCallbackResponse(code, body)

		if code == "200" {
			callbackDeliveries.WithLabelValues("delivered").Inc()
			d.logger.Info("callback delivered",
				zap.Uint64("order_id", o.ID),
				zap.Int("attempts", i+1),
			)
			return
		}
		if i < attempts-1 {
			d.sleep(d.schedule[i])
		}
	}

	callbackDeliveries.WithLabelValues("exhausted").Inc()
	d.logger.Warn("callback schedule exhausted",
		zap.Uint64("order_id", o.ID),
		zap.String("callback_url", g.CallbackURL),
		zap.String("last_code", o.CallbackCode),
	)
}

func (d *Dispatcher) callbackAttempt(ctx context.Context, target string) (code, body string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		callbackAttempts.WithLabelValues("error").Inc()
		d.logger.Warn("building callback request failed", zap.Error(err))
		return "", ""
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		callbackAttempts.WithLabelValues("error").Inc()
		d.logger.Warn("callback request failed", zap.Error(err))
		return "", ""
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	code = strconv.Itoa(resp.StatusCode)
	if code == "200" {
		callbackAttempts.WithLabelValues("ok").Inc()
	} else {
		callbackAttempts.WithLabelValues("rejected").Inc()
	}
	return code, string(raw)
}

// callbackTarget builds the GET URL: ordered order params, then the signature
// when the gateway has a secret. The callback signature is HMAC over the
// creation signature, never the raw id.
func callbackTarget(g *Gateway, o *orders.Order) string {
	orderID := strconv.FormatUint(o.ID, 10)

	pairs := [][2]string{
		{"id", orderID},
		{"status", strconv.Itoa(int(o.Status))},
		{"amount", strconv.FormatInt(o.Amount, 10)},
	}
	if o.Currency != "" {
		pairs = append(pairs, [2]string{"currency", o.Currency})
	}
	if o.TID != "" {
		pairs = append(pairs, [2]string{"tid", o.TID})
	}
	if o.Data != "" {
		pairs = append(pairs, [2]string{"data", o.Data})
	}
	if g.Secret != "" {
		pairs = append(pairs, [2]string{"signature", signature.CallbackSignature(orderID, g.Secret)})
	}

	var q strings.Builder
	for i, p := range pairs {
		if i > 0 {
			q.WriteByte('&')
		}
		q.WriteString(p[0])
		q.WriteByte('=')
		q.WriteString(url.QueryEscape(p[1]))
	}
	return g.CallbackURL + "?" + q.String()
}

// orderLocks hands out one mutex per order id, dropping entries once no
// goroutine holds or waits on them.
type orderLocks struct {
	mu sync.Mutex
	m  map[uint64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *orderLocks) lock(id uint64) {
	l.mu.Lock()
	e, ok := l.m[id]
	if !ok {
		e = &lockEntry{}
		l.m[id] = e
	}
	e.refs++
	l.mu.Unlock()
	e.mu.Lock()
}

func (l *orderLocks) unlock(id uint64) {
	l.mu.Lock()
	e := l.m[id]
	e.refs--
	if e.refs == 0 {
		delete(l.m, id)
	}
	l.mu.Unlock()
	e.mu.Unlock()
}
