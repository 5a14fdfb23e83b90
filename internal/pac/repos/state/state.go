package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Store is the durable key/value collaborator. Values are JSON documents so
// every backend stores the same bytes for the same key.
//
// - Get decodes the value for key into dst and reports whether it existed
// - Set encodes v and replaces the value for key
// - Delete removes key; deleting a missing key is not an error
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("state store closed")

// GetBool returns the boolean stored at key, or def when the key is absent.
func GetBool(ctx context.Context, s Store, key string, def bool) (bool, error) {
	v := def
	if _, err := s.Get(ctx, key, &v); err != nil {
		return def, err
	}
	return v, nil
}

// GetString returns the string stored at key, or def when the key is absent.
func GetString(ctx context.Context, s Store, key, def string) (string, error) {
	v := def
	if _, err := s.Get(ctx, key, &v); err != nil {
		return def, err
	}
	return v, nil
}

// GetStrings returns the string list stored at key, or an empty slice.
func GetStrings(ctx context.Context, s Store, key string) ([]string, error) {
	var v []string
	if _, err := s.Get(ctx, key, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = []string{}
	}
	return v, nil
}

// Encode and Decode are shared by the backends.
func Encode(key string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return b, nil
}

func Decode(key string, raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// memoryStore keeps encoded values in a map. It backs tests and the
// "memory" backend for throwaway runs.
type memoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory returns an in-process Store.
func NewMemory() Store {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	raw, ok := m.data[key]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return false, ErrClosed
	}
	if !ok {
		return false, nil
	}
	return true, Decode(key, raw, dst)
}

func (m *memoryStore) Set(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := Encode(key, v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[key] = raw
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ Store = (*memoryStore)(nil)
