package cache

import (
	"context"
	"errors"
	"strconv"
)

// ErrUnavailable wraps every backend failure so callers can degrade to a miss.
var ErrUnavailable = errors.New("cache unavailable")

// Store is the shared key/value cache. Every entry written through a Store
// expires after the TTL the store was built with; the TTL is a safety bound,
// not the invalidation mechanism.
//
// Values are replaced whole. Missing keys are reported as absent, never as errors.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetMany returns only the keys that were present.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetMany(ctx context.Context, items map[string][]byte) error
	// Raise sets each key to max(current, value), treating the stored bytes as a
	// base-10 integer. Concurrent raises never leave a smaller value behind.
	Raise(ctx context.Context, items map[string]int64) error
	Close() error
}

// ParseInt decodes a value written by Raise. Garbage decodes as zero.
func ParseInt(b []byte) int64 {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatInt(n int64) []byte { return strconv.AppendInt(nil, n, 10) }
