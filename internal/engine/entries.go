package engine

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"homesnippets/internal/cache"
	"homesnippets/internal/observability"
)

// entries reads and writes whole JSON documents in the shared cache. Any
// backend failure degrades to a miss.
type entries struct {
	store cache.Store
	name  string
}

func (c entries) get(ctx context.Context, key string, dst any) bool {
	b, ok, err := c.store.Get(ctx, key)
	if err != nil {
		observability.CacheLookups.WithLabelValues(c.name, observability.OutcomeError).Inc()
		log.Warn().Err(err).Str("cache", c.name).Msg("cache read failed; computing fresh")
		return false
	}
	if !ok {
		observability.CacheLookups.WithLabelValues(c.name, observability.OutcomeMiss).Inc()
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		observability.CacheLookups.WithLabelValues(c.name, observability.OutcomeError).Inc()
		log.Warn().Err(err).Str("cache", c.name).Str("key", key).Msg("undecodable cache entry")
		return false
	}
	return true
}

func (c entries) put(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("cache", c.name).Msg("encode cache entry")
		return
	}
	if err := c.store.Set(ctx, key, b); err != nil {
		log.Warn().Err(err).Str("cache", c.name).Msg("cache write failed")
	}
}

func (c entries) outcome(o string) {
	observability.CacheLookups.WithLabelValues(c.name, o).Inc()
}

// flight collapses concurrent misses on one key. The shared computation is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx is done.
type flight struct{ g singleflight.Group }

func (f *flight) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := f.g.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}
