package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gleaner/internal/config"
	"gleaner/internal/queue"
)

const keyPrefix = "gleaner:lease:item:"

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis keeps each lease as a key holding the owner's token with a TTL.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the configured server and verifies it answers.
func NewRedis(ctx context.Context, cfg config.Redis) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client}, nil
}

func leaseKey(itemID int64) string {
	return keyPrefix + strconv.FormatInt(itemID, 10)
}

func (r *Redis) Claim(ctx context.Context, itemID int64, holder string, ttl time.Duration) (queue.Lease, error) {
	if ttl <= 0 {
		return queue.Lease{}, errors.New("claim lease: ttl must be positive")
	}
	lease := queue.Lease{
		ItemID:    itemID,
		Token:     uuid.NewString(),
		Holder:    holder,
		ExpiresAt: time.Now().Add(ttl).UTC(),
	}
	ok, err := r.client.SetNX(ctx, leaseKey(itemID), lease.Token, ttl).Result()
	if err != nil {
		return queue.Lease{}, fmt.Errorf("claim lease: %w", err)
	}
	if !ok {
		return queue.Lease{}, fmt.Errorf("item %d: %w", itemID, queue.ErrLeaseHeld)
	}
	return lease, nil
}

func (r *Redis) Renew(ctx context.Context, lease queue.Lease, ttl time.Duration) (queue.Lease, error) {
	n, err := renewScript.Run(ctx, r.client, []string{leaseKey(lease.ItemID)}, lease.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return lease, fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return lease, fmt.Errorf("item %d: %w", lease.ItemID, queue.ErrLeaseLost)
	}
	lease.ExpiresAt = time.Now().Add(ttl).UTC()
	return lease, nil
}

func (r *Redis) Release(ctx context.Context, lease queue.Lease) error {
	n, err := releaseScript.Run(ctx, r.client, []string{leaseKey(lease.ItemID)}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %d: %w", lease.ItemID, queue.ErrLeaseLost)
	}
	return nil
}

func (r *Redis) Held(ctx context.Context, itemID int64) (bool, error) {
	n, err := r.client.Exists(ctx, leaseKey(itemID)).Result()
	if err != nil {
		return false, fmt.Errorf("check lease: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
