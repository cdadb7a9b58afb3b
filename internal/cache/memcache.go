package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached treats expirations above 30 days as absolute unix times
const maxRelativeExpiry = 30*24*60*60 - 60

// raiseAttempts bounds the CAS loop in Raise.
const raiseAttempts = 16

// Memcache is a Store backed by one or more memcached servers.
type Memcache struct {
	mc     *memcache.Client
	prefix string
	expiry int32
}

var _ Store = (*Memcache)(nil)

func NewMemcache(servers []string, prefix string, ttl time.Duration) *Memcache {
	expiry := int32(ttl.Seconds())
	if ttl.Seconds() > maxRelativeExpiry {
		expiry = maxRelativeExpiry
	}
	return &Memcache{mc: memcache.New(servers...), prefix: prefix, expiry: expiry}
}

func (m *Memcache) key(k string) string { return m.prefix + k }

// gomemcache has no context support; callers' deadlines are enforced by the
// client's own socket timeout.
func (m *Memcache) Get(_ context.Context, key string) ([]byte, bool, error) {
	it, err := m.mc.Get(m.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: memcache get: %v", ErrUnavailable, err)
	}
	return it.Value, true, nil
}

func (m *Memcache) GetMany(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	back := make(map[string]string, len(keys))
	for i, k := range keys {
		full[i] = m.key(k)
		back[full[i]] = k
	}
	items, err := m.mc.GetMulti(full)
	if err != nil {
		return nil, fmt.Errorf("%w: memcache get multi: %v", ErrUnavailable, err)
	}
	for fk, it := range items {
		out[back[fk]] = it.Value
	}
	return out, nil
}

func (m *Memcache) Set(_ context.Context, key string, value []byte) error {
	if err := m.mc.Set(&memcache.Item{Key: m.key(key), Value: value, Expiration: m.expiry}); err != nil {
		return fmt.Errorf("%w: memcache set: %v", ErrUnavailable, err)
	}
	return nil
}

func (m *Memcache) SetMany(ctx context.Context, items map[string][]byte) error {
	for k, v := range items {
		if err := m.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memcache) Raise(_ context.Context, items map[string]int64) error {
	for k, v := range items {
		if err := m.raiseOne(m.key(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memcache) raiseOne(key string, v int64) error {
	for i := 0; i < raiseAttempts; i++ {
		it, err := m.mc.Get(key)
		if errors.Is(err, memcache.ErrCacheMiss) {
			err = m.mc.Add(&memcache.Item{Key: key, Value: formatInt(v), Expiration: m.expiry})
			if errors.Is(err, memcache.ErrNotStored) {
				continue // lost the race to another writer
			}
			if err != nil {
				return fmt.Errorf("%w: memcache add: %v", ErrUnavailable, err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: memcache get: %v", ErrUnavailable, err)
		}
		if ParseInt(it.Value) >= v {
			return nil
		}
		it.Value = formatInt(v)
		it.Expiration = m.expiry
		err = m.mc.CompareAndSwap(it)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: memcache cas: %v", ErrUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: memcache raise %s: too much contention", ErrUnavailable, key)
}

func (m *Memcache) Close() error { return m.mc.Close() }
