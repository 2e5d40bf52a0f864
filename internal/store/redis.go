package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces blob keys so the store can share a Redis database
// with other consumers.
const keyPrefix = "taskstation:blob:"

// RedisBlobStore is a BlobStore backed by Redis. Blobs expire server-side
// after the configured TTL so cold storage does not grow without bound.
type RedisBlobStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisBlobStore creates a Redis-backed blob store. A zero ttl stores
// blobs without expiry.
func NewRedisBlobStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisBlobStore {
	return &RedisBlobStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Ping verifies connectivity; called once at startup.
func (s *RedisBlobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Put implements BlobStore.
func (s *RedisBlobStore) Put(ctx context.Context, ref string, data []byte) error {
	if err := s.client.Set(ctx, keyPrefix+ref, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store blob %s: %w", ref, err)
	}
	s.logger.Debug("blob stored", "ref", ref, "size_bytes", len(data))
	return nil
}

// Get implements BlobStore.
func (s *RedisBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.client.Get(ctx, keyPrefix+ref).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return nil, fmt.Errorf("failed to fetch blob %s: %w", ref, err)
	}
	return data, nil
}

// Delete implements BlobStore.
func (s *RedisBlobStore) Delete(ctx context.Context, ref string) error {
	if err := s.client.Del(ctx, keyPrefix+ref).Err(); err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", ref, err)
	}
	return nil
}
