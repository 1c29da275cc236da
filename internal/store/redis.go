package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koios/esphome-designer/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix      = "designer:layout:"
	maxUpdateTries = 5
)

// RedisStore keeps layouts as JSON documents in Redis
type RedisStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisStore creates a store on top of an existing client
func NewRedisStore(client redis.UniversalClient, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// keyEscaper percent-encodes the namespace separators of a device key. The
// escape character itself is encoded too, so distinct keys never collide.
var keyEscaper = strings.NewReplacer("%", "%25", "/", "%2F", ":", "%3A")

// buildKey scopes a device key under the layout prefix
func (s *RedisStore) buildKey(key string) string {
	return keyPrefix + keyEscaper.Replace(key)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, key string) (*models.Device, error) {
	body, err := c.Get(ctx, s.buildKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return models.DefaultDevice(key), nil
		}
		return nil, fmt.Errorf("failed to get layout %s from Redis: %w", key, err)
	}

	device, err := models.DecodeDevice(body)
	if err != nil {
		return nil, fmt.Errorf("stored layout %s is corrupt: %w", key, err)
	}
	return device, nil
}

// Get returns the stored layout
func (s *RedisStore) Get(ctx context.Context, key string) (*models.Device, error) {
	return s.load(ctx, s.client, key)
}

// Save replaces the stored layout
func (s *RedisStore) Save(ctx context.Context, key string, device *models.Device) error {
	body, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}
	if err := s.client.Set(ctx, s.buildKey(key), body, 0).Err(); err != nil {
		return fmt.Errorf("failed to set layout %s in Redis: %w", key, err)
	}
	return nil
}

// Update performs an optimistic read-modify-write. The key is watched while
// fn runs; if another writer touches it first the whole cycle is retried.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) (*models.Device, error) {
	redisKey := s.buildKey(key)
	var result *models.Device

	txf := func(tx *redis.Tx) error {
		current, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal layout: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, body, 0)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for attempt := 1; attempt <= maxUpdateTries; attempt++ {
		err := s.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}
		if err != redis.TxFailedErr {
			return nil, err
		}
		s.logger.Debug("Layout update conflicted, retrying",
			zap.String("device", key),
			zap.Int("attempt", attempt))
	}

	return nil, ErrConflict
}

// Delete removes a stored layout
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete layout %s: %w", key, err)
	}
	return nil
}
