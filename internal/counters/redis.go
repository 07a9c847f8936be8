package counters

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"paygate/internal/orders"
)

// RedisStore keeps order counters in Redis under
// "<prefix>:gateway_<id>:<status>_orders_counter". The transition hook uses a
// pipeline so the decrement and increment land together.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "paygate"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(gatewayID uint64, status orders.Status) string {
	return fmt.Sprintf("%s:gateway_%d:%s_orders_counter", s.prefix, gatewayID, status)
}

func (s *RedisStore) Get(ctx context.Context, gatewayID uint64, status orders.Status) (int64, error) {
	v, err := s.client.Get(ctx, s.key(gatewayID, status)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading counter: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Add(ctx context.Context, gatewayID uint64, status orders.Status, delta int64) error {
	if err := s.client.IncrBy(ctx, s.key(gatewayID, status), delta).Err(); err != nil {
		return fmt.Errorf("adjusting counter: %w", err)
	}
	return nil
}

func (s *RedisStore) ApplyTransition(ctx context.Context, gatewayID uint64, prev *orders.Status, next orders.Status) error {
	pipe := s.client.TxPipeline()
	if prev != nil {
		pipe.Decr(ctx, s.key(gatewayID, *prev))
	}
	pipe.Incr(ctx, s.key(gatewayID, next))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("applying counter transition: %w", err)
	}
	return nil
}
