package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homesnippets/internal/cache"
	"homesnippets/internal/config"
	"homesnippets/internal/engine"
	"homesnippets/internal/storage"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	t.Setenv("APP_DATABASE_DRIVER", "memory")
	t.Setenv("APP_CACHE_BACKEND", backend)
	cfg, err := config.LoadFrom(t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryServesRequests(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, "memory"))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Engine.Warm(ctx))

	ts := httptest.NewServer(a.Handler)
	defer ts.Close()

	rule, err := a.Catalog.CreateRule(ctx, storage.MatchRule{Channel: "release"})
	require.NoError(t, err)
	sn, err := a.Catalog.CreateSnippet(ctx, storage.Snippet{Name: "hi", RuleIDs: []int64{rule.ID}})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/1/Firefox/4.0/2010/linux/en-US/release/Linux/default/default/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []engine.Content
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, sn.ID, items[0].ID)

	resp2, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp2.Body)
	assert.Contains(t, body.String(), "homesnippets_cache_lookups_total")
}

func TestOpenStores(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := testConfig(t, "memory")
		data, lastmod, err := openStores(ctx, cfg)
		require.NoError(t, err)
		assert.IsType(t, &cache.Memory{}, data)
		assert.IsType(t, &cache.Memory{}, lastmod)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		t.Setenv("APP_CACHE_REDIS_URL", "redis://"+mr.Addr())
		cfg := testConfig(t, "redis")

		data, lastmod, err := openStores(ctx, cfg)
		require.NoError(t, err)
		defer data.Close()
		defer lastmod.Close()

		require.NoError(t, data.Set(ctx, "k", []byte("v")))
		require.NoError(t, lastmod.Raise(ctx, map[string]int64{"lastmod:rules-all": 5}))
		assert.Equal(t, cfg.CacheTTL(), mr.TTL(keyPrefix+"k"))
		assert.Equal(t, cfg.LedgerTTL(), mr.TTL(keyPrefix+"lastmod:rules-all"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		t.Setenv("APP_CACHE_REDIS_URL", "redis://127.0.0.1:1")
		cfg := testConfig(t, "redis")
		_, _, err := openStores(ctx, cfg)
		assert.ErrorIs(t, err, cache.ErrUnavailable)
	})

	t.Run("memcache", func(t *testing.T) {
		t.Setenv("APP_CACHE_MEMCACHE_SERVERS", "127.0.0.1:11211")
		cfg := testConfig(t, "memcache")
		data, lastmod, err := openStores(ctx, cfg)
		require.NoError(t, err)
		assert.IsType(t, &cache.Memcache{}, data)
		assert.IsType(t, &cache.Memcache{}, lastmod)
	})
}

func TestApp_CloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, "memory"))
	require.NoError(t, err)
	a.Close()
	a.Close()
}
