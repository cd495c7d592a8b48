package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore handles Redis operations: nonce replay tracking for the
// auth middleware, and the policy gate's per-agreement rate and cost
// window counters.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client (used by tests).
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for middleware that manages
// its own key schema (edge rate limiter).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// nonceKey returns the key for nonce tracking.
func nonceKey(orgID, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", orgID, nonce)
}

// IsNonceUsed checks if a nonce has been used.
func (s *RedisStore) IsNonceUsed(ctx context.Context, orgID, nonce string) bool {
	exists, _ := s.client.Exists(ctx, nonceKey(orgID, nonce)).Result()
	return exists > 0
}

// MarkNonceUsed marks a nonce as used with a TTL.
func (s *RedisStore) MarkNonceUsed(ctx context.Context, orgID, nonce string, ttl time.Duration) {
	s.client.Set(ctx, nonceKey(orgID, nonce), "1", ttl)
}

// windowBucket returns a fixed-window key suffix for the current time.
func windowBucket(window time.Duration) int64 {
	return time.Now().Unix() / int64(window.Seconds())
}

func rateKey(agreementID uuid.UUID, window time.Duration) string {
	return fmt.Sprintf("fedrate:%s:%d", agreementID, windowBucket(window))
}

func costKey(agreementID uuid.UUID, window time.Duration) string {
	return fmt.Sprintf("fedcost:%s:%d", agreementID, windowBucket(window))
}

// IncrInvocationCount atomically increments the agreement's request
// counter for the current window and returns the new count. The
// increment-and-compare shape closes most of the check-then-act race:
// concurrent callers each observe their own post-increment value.
func (s *RedisStore) IncrInvocationCount(ctx context.Context, agreementID uuid.UUID, window time.Duration) (int64, error) {
	key := rateKey(agreementID, window)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// DecrInvocationCount returns one unit of rate budget, used when a
// counted attempt ends up blocked and blocked attempts are configured
// not to consume budget.
func (s *RedisStore) DecrInvocationCount(ctx context.Context, agreementID uuid.UUID, window time.Duration) error {
	return s.client.Decr(ctx, rateKey(agreementID, window)).Err()
}

// GetWindowCost returns the summed invocation cost for the current
// cost window.
func (s *RedisStore) GetWindowCost(ctx context.Context, agreementID uuid.UUID, window time.Duration) (float64, error) {
	cost, err := s.client.Get(ctx, costKey(agreementID, window)).Float64()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return cost, nil
}

// AddWindowCost accumulates invocation cost into the current window.
func (s *RedisStore) AddWindowCost(ctx context.Context, agreementID uuid.UUID, window time.Duration, costUSD float64) error {
	key := costKey(agreementID, window)

	pipe := s.client.Pipeline()
	pipe.IncrByFloat(ctx, key, costUSD)
	pipe.Expire(ctx, key, window*2)
	_, err := pipe.Exec(ctx)
	return err
}
