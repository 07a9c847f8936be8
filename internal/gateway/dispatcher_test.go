package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"paygate/internal/counters"
	"paygate/internal/orders"
	"paygate/internal/signature"
	"paygate/internal/subs"
)

type fakeStream struct {
	sent   []any
	closed int
}

func (f *fakeStream) Send(_ context.Context, v any) error {
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeStream) Close() error {
	f.closed++
	return nil
}

type fakeSaver struct {
	saved []*orders.Order
}

func (f *fakeSaver) SaveCallbackResponse(_ context.Context, o *orders.Order) error {
	f.saved = append(f.saved, o)
	return nil
}

func testLedger() *counters.Ledger {
	return counters.NewLedger(1, counters.NewMemoryStore(), true, zap.NewNop())
}

func TestDefaultSchedule(t *testing.T) {
	schedule := DefaultSchedule()
	if len(schedule) != 10 {
		t.Fatalf("schedule has %d delays, want 10", len(schedule))
	}
	want := 5 * time.Second
	for i, d := range schedule {
		if d != want {
			t.Errorf("schedule[%d] = %v, want %v", i, d, want)
		}
		want *= 2
	}
}

func TestOrderStatusChanged_CallbackDelivered(t *testing.T) {
	var calls atomic.Int64
	var mu sync.Mutex
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		mu.Lock()
		gotQuery = r.URL.RawQuery
		mu.Unlock()
		w.Write([]byte("ack"))
	}))
	defer server.Close()

	saver := &fakeSaver{}
	d := NewDispatcher(DispatcherConfig{
		Subs:   subs.NewManager(zap.NewNop()),
		Saver:  saver,
		Logger: zap.NewNop(),
	})

	g := &Gateway{ID: 1, Name: "shop", Secret: "gateway-secret", CallbackURL: server.URL}
	o := &orders.Order{
		ID:       7,
		Amount:   500000000,
		Currency: "USD",
		Status:   orders.StatusPaid,
		TID:      "f4184fc5",
		Data:     "invoice 42",
	}
	prev := orders.StatusUnconfirmed

	ledger := testLedger()
	d.OrderStatusChanged(context.Background(), g, ledger, o, &prev)

	if calls.Load() != 1 {
		t.Errorf("callback endpoint hit %d times, want 1", calls.Load())
	}

	// Params arrive in their documented order; the signature is the double
	// HMAC over the order id.
	want := "id=7&status=2&amount=500000000&currency=USD&tid=f4184fc5&data=invoice+42" +
		"&signature=" + signature.CallbackSignature("7", "gateway-secret")
	mu.Lock()
	query := gotQuery
	mu.Unlock()
	if query != want {
		t.Errorf("callback query = %s\nwant %s", query, want)
	}

	resp, ok := o.CallbackResponse()
	if !ok || resp.Code != "200" || resp.Body != "ack" {
		t.Errorf("callback response = %+v, ok=%v", resp, ok)
	}
	if len(saver.saved) != 1 {
		t.Errorf("callback response persisted %d times, want 1", len(saver.saved))
	}

	got, err := ledger.Counters(context.Background(), false)
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if got[orders.StatusUnconfirmed] != -1 || got[orders.StatusPaid] != 1 {
		t.Errorf("transition counters = unconfirmed:%d paid:%d",
			got[orders.StatusUnconfirmed], got[orders.StatusPaid])
	}
}

func TestOrderStatusChanged_NoSecretNoSignatureParam(t *testing.T) {
	var mu sync.Mutex
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotQuery = r.URL.RawQuery
		mu.Unlock()
	}))
	defer server.Close()

	d := NewDispatcher(DispatcherConfig{
		Subs:   subs.NewManager(zap.NewNop()),
		Logger: zap.NewNop(),
	})
	g := &Gateway{ID: 1, CallbackURL: server.URL}
	o := &orders.Order{ID: 7, Amount: 100, Status: orders.StatusNew}

	d.OrderStatusChanged(context.Background(), g, testLedger(), o, nil)

	mu.Lock()
	query := gotQuery
	mu.Unlock()
	if query != "id=7&status=0&amount=100" {
		t.Errorf("callback query = %s, want id=7&status=0&amount=100", query)
	}
}

func TestDeliverCallback_RetriesUntilExhausted(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var slept []time.Duration
	d := NewDispatcher(DispatcherConfig{
		Subs:   subs.NewManager(zap.NewNop()),
		Sleep:  func(dur time.Duration) { slept = append(slept, dur) },
		Logger: zap.NewNop(),
	})

	g := &Gateway{ID: 1, CallbackURL: server.URL}
	o := &orders.Order{ID: 7, Amount: 100, Status: orders.StatusPaid}
	d.OrderStatusChanged(context.Background(), g, testLedger(), o, nil)

	// One attempt plus one retry per schedule slot: 11 requests, 10 waits.
	if calls.Load() != 11 {
		t.Errorf("callback endpoint hit %d times, want 11", calls.Load())
	}
	if len(slept) != 10 {
		t.Fatalf("slept %d times, want 10", len(slept))
	}
	for i, dur := range DefaultSchedule() {
		if slept[i] != dur {
			t.Errorf("sleep[%d] = %v, want %v", i, slept[i], dur)
		}
	}

	// The last response is recorded even on exhaustion.
	resp, ok := o.CallbackResponse()
	if !ok || resp.Code != "503" {
		t.Errorf("callback response = %+v, ok=%v", resp, ok)
	}
}

func TestDeliverCallback_StopsOnFirstSuccess(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "not yet", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	var slept []time.Duration
	d := NewDispatcher(DispatcherConfig{
		Subs:   subs.NewManager(zap.NewNop()),
		Sleep:  func(dur time.Duration) { slept = append(slept, dur) },
		Logger: zap.NewNop(),
	})

	g := &Gateway{ID: 1, CallbackURL: server.URL}
	o := &orders.Order{ID: 7, Amount: 100, Status: orders.StatusPaid}
	d.OrderStatusChanged(context.Background(), g, testLedger(), o, nil)

	if calls.Load() != 3 {
		t.Errorf("callback endpoint hit %d times, want 3", calls.Load())
	}
	if len(slept) != 2 {
		t.Errorf("slept %d times, want 2", len(slept))
	}
	if resp, _ := o.CallbackResponse(); resp.Code != "200" {
		t.Errorf("final callback code = %s, want 200", resp.Code)
	}
}

func TestOrderStatusChanged_SerializesPerOrder(t *testing.T) {
	var mu sync.Mutex
	var statuses []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		statuses = append(statuses, r.URL.Query().Get("status"))
		mu.Unlock()
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	// Real (short) sleeps between attempts, so an unserialized second event
	// would get plenty of chances to interleave.
	d := NewDispatcher(DispatcherConfig{
		Subs:     subs.NewManager(zap.NewNop()),
		Schedule: []time.Duration{time.Millisecond, time.Millisecond},
		Sleep:    time.Sleep,
		Logger:   zap.NewNop(),
	})
	g := &Gateway{ID: 1, CallbackURL: server.URL}
	ledger := testLedger()

	var wg sync.WaitGroup
	for _, status := range []orders.Status{orders.StatusUnconfirmed, orders.StatusPaid} {
		wg.Add(1)
		go func(status orders.Status) {
			defer wg.Done()
			o := &orders.Order{ID: 7, Amount: 100, Status: status}
			d.OrderStatusChanged(context.Background(), g, ledger, o, nil)
		}(status)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) != 6 {
		t.Fatalf("callback attempts = %d, want 6: %v", len(statuses), statuses)
	}
	// A later event for the same order waits for the in-flight retry loop,
	// so each loop's attempts arrive as one contiguous block.
	if statuses[0] != statuses[1] || statuses[1] != statuses[2] {
		t.Errorf("first retry loop interleaved: %v", statuses)
	}
	if statuses[3] != statuses[4] || statuses[4] != statuses[5] {
		t.Errorf("second retry loop interleaved: %v", statuses)
	}
	if statuses[0] == statuses[3] {
		t.Errorf("expected one block per event, got %v", statuses)
	}
}

func TestOrderStatusChanged_NoCallbackURL(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Subs:   subs.NewManager(zap.NewNop()),
		Sleep:  func(time.Duration) { t.Error("no sleeps expected without a callback url") },
		Logger: zap.NewNop(),
	})

	g := &Gateway{ID: 1}
	o := &orders.Order{ID: 7, Status: orders.StatusPaid}
	d.OrderStatusChanged(context.Background(), g, testLedger(), o, nil)

	if _, ok := o.CallbackResponse(); ok {
		t.Error("no callback response expected without a callback url")
	}
}

func TestOrderStatusChanged_PushesAndClosesFinal(t *testing.T) {
	manager := subs.NewManager(zap.NewNop())
	d := NewDispatcher(DispatcherConfig{Subs: manager, Logger: zap.NewNop()})

	g := &Gateway{ID: 1}
	o := &orders.Order{ID: 7, Status: orders.StatusNew}
	stream := &fakeStream{}
	if _, err := manager.Add(g.ID, o, stream); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Open transition: pushed, connection stays registered.
	o.Status = orders.StatusUnconfirmed
	prev := orders.StatusNew
	d.OrderStatusChanged(context.Background(), g, testLedger(), o, &prev)

	if len(stream.sent) != 1 || stream.closed != 0 {
		t.Errorf("after open transition: sent=%d closed=%d", len(stream.sent), stream.closed)
	}
	if _, ok := manager.Get(g.ID, o.ID); !ok {
		t.Error("subscription dropped on an open transition")
	}

	// Final transition: pushed once more, then closed and removed.
	o.Status = orders.StatusPaid
	prev = orders.StatusUnconfirmed
	d.OrderStatusChanged(context.Background(), g, testLedger(), o, &prev)

	if len(stream.sent) != 2 {
		t.Errorf("pushes = %d, want 2", len(stream.sent))
	}
	if stream.closed == 0 {
		t.Error("stream not closed after final status")
	}
	if _, ok := manager.Get(g.ID, o.ID); ok {
		t.Error("subscription still registered after final status")
	}
}
