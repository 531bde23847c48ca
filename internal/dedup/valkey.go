package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/config"
)

// ValkeyStore implements Store on a Valkey/Redis instance using SET NX
// with TTL, which is atomic across concurrent callers.
type ValkeyStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewValkeyStore creates a new Valkey-backed dedup store and verifies
// the connection.
func NewValkeyStore(ctx context.Context, cfg config.Valkey, log *zap.Logger) (*ValkeyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	log.Info("Valkey connection established",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port))

	return &ValkeyStore{client: client, log: log}, nil
}

// NewValkeyStoreFromClient wraps an existing client. Used by tests.
func NewValkeyStoreFromClient(client *redis.Client, log *zap.Logger) *ValkeyStore {
	return &ValkeyStore{client: client, log: log}
}

// SetIfAbsent records key with the given TTL if it is not already present.
func (s *ValkeyStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	set, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set dedup key: %w", err)
	}
	return set, nil
}

// Delete removes key.
func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete dedup key: %w", err)
	}
	return nil
}

// Ping checks if the store is reachable.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *ValkeyStore) Close() error {
	return s.client.Close()
}
