package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process Store backed by an expirable LRU.
type Memory struct {
	// raiseMu serializes read-modify-write in Raise; plain gets/sets rely on the LRU's own lock.
	raiseMu sync.Mutex
	data    *expirable.LRU[string, []byte]
}

var _ Store = (*Memory)(nil)

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 10_000
	}
	return &Memory{data: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data.Get(key)
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (m *Memory) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data.Get(k); ok {
			out[k] = clone(v)
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.data.Add(key, clone(value))
	return nil
}

func (m *Memory) SetMany(_ context.Context, items map[string][]byte) error {
	for k, v := range items {
		m.data.Add(k, clone(v))
	}
	return nil
}

func (m *Memory) Raise(_ context.Context, items map[string]int64) error {
	m.raiseMu.Lock()
	defer m.raiseMu.Unlock()
	for k, v := range items {
		if cur, ok := m.data.Peek(k); ok && ParseInt(cur) >= v {
			// refresh expiry, keep the larger value
			m.data.Add(k, cur)
			continue
		}
		m.data.Add(k, formatInt(v))
	}
	return nil
}

// Len reports the number of live entries.
func (m *Memory) Len() int { return m.data.Len() }

func (m *Memory) Close() error {
	m.data.Purge()
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
