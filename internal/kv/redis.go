package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// RedisStore keeps device state in Redis so a shared kiosk can be replaced
// without losing guests' notification history.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// maxTxAttempts bounds how often Update retries after losing a WATCH race.
const maxTxAttempts = 10

// NewRedisStore wraps client. Keys are stored as prefix+key.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w: %w", model.ErrTransient, err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("key %s: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w: %w", key, model.ErrTransient, err)
	}
	return data, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w: %w", key, model.ErrTransient, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w: %w", key, model.ErrTransient, err)
	}
	return nil
}

// Update reads, modifies and writes key inside WATCH/MULTI, retrying when
// another writer changed the key in between.
func (s *RedisStore) Update(ctx context.Context, key string, fn func(cur []byte, found bool) ([]byte, error)) error {
	k := s.prefix + key
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, k).Bytes()
			found := true
			if errors.Is(err, redis.Nil) {
				cur, found = nil, false
			} else if err != nil {
				return err
			}
			next, err := fn(cur, found)
			if err != nil {
				fnErr = err
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, next, 0)
				return nil
			})
			return err
		}, k)
		switch {
		case err == nil:
			return nil
		case fnErr != nil:
			return fnErr
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return fmt.Errorf("redis update %s: %w: %w", key, model.ErrTransient, err)
		}
	}
	return fmt.Errorf("redis update %s: too many concurrent writers: %w", key, model.ErrTransient)
}
