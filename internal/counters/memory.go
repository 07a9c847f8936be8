package counters

import (
	"context"
	"fmt"
	"sync"

	"paygate/internal/orders"
)

// MemoryStore is a mutex-guarded in-process CounterStore. It backs
// deployments without Redis and every counter test.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]int64)}
}

func (s *MemoryStore) key(gatewayID uint64, status orders.Status) string {
	return fmt.Sprintf("gateway_%d:%s_orders_counter", gatewayID, status)
}

func (s *MemoryStore) Get(_ context.Context, gatewayID uint64, status orders.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[s.key(gatewayID, status)], nil
}

func (s *MemoryStore) Add(_ context.Context, gatewayID uint64, status orders.Status, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[s.key(gatewayID, status)] += delta
	return nil
}

func (s *MemoryStore) ApplyTransition(_ context.Context, gatewayID uint64, prev *orders.Status, next orders.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev != nil {
		s.m[s.key(gatewayID, *prev)]--
	}
	s.m[s.key(gatewayID, next)]++
	return nil
}

// Len reports how many counter entries exist; used by tests to assert the
// disabled path never creates entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
