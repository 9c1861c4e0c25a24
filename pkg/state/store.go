// Package state is the durable key/value state the dispatcher and the
// credential handshake share across turns.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyKey = errors.New("state key cannot be empty")
	ErrNotFound = errors.New("state key not found")
)

// Store persists opaque values by key. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// GetJSON loads key and decodes it into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	buf, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(buf, &v); err != nil {
		return v, fmt.Errorf("decoding state %q: %w", key, err)
	}
	return v, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding state %q: %w", key, err)
	}
	return s.Set(ctx, key, buf)
}
