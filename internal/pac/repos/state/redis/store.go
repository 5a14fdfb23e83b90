package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

// DefaultPrefix namespaces every key so several deployments can share a server.
const DefaultPrefix = "rr-pac:state:"

// redisStore implements state.Store on a Redis server. Useful when several
// daemons must agree on the ignore list and proxy toggles.
type redisStore struct {
	client *goredis.Client
	prefix string
}

// New connects to the server at url (redis://host:port/db) and verifies it
// answers PING before returning.
func New(ctx context.Context, url, prefix string) (state.Store, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %q: %w", url, err)
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) state.Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(k string) string { return s.prefix + k }

func (s *redisStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return true, state.Decode(key, raw, dst)
}

func (s *redisStore) Set(ctx context.Context, key string, v any) error {
	raw, err := state.Encode(key, v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Close() error { return s.client.Close() }

var _ state.Store = (*redisStore)(nil)
