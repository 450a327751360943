package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger implements Ledger on a Redis set, so dedup state survives
// restarts and can be shared by multiple worker instances.
type RedisLedger struct {
	client *redis.Client
	key    string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// NewRedisLedger creates a Redis-backed ledger and verifies the connection.
func NewRedisLedger(cfg RedisConfig) (*RedisLedger, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "docstream:"
	}

	return &RedisLedger{
		client: client,
		key:    prefix + "processed_fingerprints",
	}, nil
}

// Add records a fingerprint as processed.
func (l *RedisLedger) Add(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return nil
	}
	if err := l.client.SAdd(ctx, l.key, fingerprint).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Contains reports whether a fingerprint was already processed.
func (l *RedisLedger) Contains(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.key, fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Snapshot reads the full fingerprint set.
func (l *RedisLedger) Snapshot(ctx context.Context) (map[string]struct{}, error) {
	members, err := l.client.SMembers(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}

	snapshot := make(map[string]struct{}, len(members))
	for _, fp := range members {
		snapshot[fp] = struct{}{}
	}
	return snapshot, nil
}

// Close closes the Redis connection.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}
