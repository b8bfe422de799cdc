// Package kv is the durable local key-value store a guest device keeps its
// notification history and session pointer in.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/tablequeue/internal/model"
)

// Store persists opaque values under string keys. Get returns an error
// wrapping model.ErrNotFound for a missing key. Put replaces the value
// atomically: a reader sees either the old value or the new one.
//
// Several processes may share one store, so read-modify-write goes through
// Update: fn sees the current value (found is false for a missing key) and
// its result is written only if no other writer got in between. fn may run
// more than once. Returning an error from fn aborts without writing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn func(cur []byte, found bool) ([]byte, error)) error
}

// GetJSON decodes the value at key into v. It reports false, with a nil
// error, when the key does not exist.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

// PutJSON encodes v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// UpdateJSON runs fn over the decoded value at key and stores the result
// through s.Update. v is reset before every attempt.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(v *T, found bool) error) (T, error) {
	var out T
	err := s.Update(ctx, key, func(cur []byte, found bool) ([]byte, error) {
		var v T
		if found {
			if err := json.Unmarshal(cur, &v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		if err := fn(&v, found); err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		out = v
		return data, nil
	})
	return out, err
}
