package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a small TTL cache over Redis. A nil Store, or one without a
// client, caches nothing and always calls through.
type Store struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewStore builds a Store whose keys are prefixed with prefix.
func NewStore(client redis.Cmdable, prefix string, ttl time.Duration) *Store {
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Key joins parts under the store prefix.
func (s *Store) Key(parts ...string) string {
	if s == nil || s.prefix == "" {
		return strings.Join(parts, ":")
	}
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Bytes returns the cached payload. A miss is reported as ok=false with a nil error.
func (s *Store) Bytes(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, nil
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// SetBytes stores payload under key with the store TTL.
func (s *Store) SetBytes(ctx context.Context, key string, payload []byte) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Set(ctx, key, payload, s.ttl).Err()
}

// Delete removes keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.client == nil || len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// FetchJSON loads a cached value into dest or populates it using the loader.
// Cache read and write failures fall back to the loader result.
func (s *Store) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if payload, ok, err := s.Bytes(ctx, key); err == nil && ok {
		if json.Unmarshal(payload, dest) == nil {
			return nil
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_ = s.SetBytes(ctx, key, raw)
	return json.Unmarshal(raw, dest)
}
