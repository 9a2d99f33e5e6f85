// Package kv provides the durable key-value persistence used for the stream map and the
// meta-policy list.
package kv

import (
	"context"
	"sync"
)

// Fixed namespace keys.
const (
	StreamsKey  = "overseer:memory_streams"
	PoliciesKey = "overseer:meta_policies"
)

// Store is a durable get/set pair.
type Store interface {
	// Get returns the value for key. ok is false when the key has never been written.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error
}

// Memory is a process-local Store. Values are copied on the way in and out.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
