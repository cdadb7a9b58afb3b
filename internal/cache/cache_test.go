package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisClient(rdb, "test:", ttl)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

// storeContract runs the behaviour every backend must share.
func storeContract(t *testing.T, st Store) {
	ctx := context.Background()

	_, ok, err := st.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, "a", []byte("one")))
	got, ok, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, st.SetMany(ctx, map[string][]byte{"b": []byte("two"), "c": []byte("three")}))
	many, err := st.GetMany(ctx, []string{"a", "b", "c", "nope"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"a": []byte("one"),
		"b": []byte("two"),
		"c": []byte("three"),
	}, many)

	empty, err := st.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, st.Raise(ctx, map[string]int64{"n": 10}))
	require.NoError(t, st.Raise(ctx, map[string]int64{"n": 7}))
	v, _, err := st.Get(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(10), ParseInt(v))

	require.NoError(t, st.Raise(ctx, map[string]int64{"n": 12, "m": 3}))
	many, err = st.GetMany(ctx, []string{"n", "m"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), ParseInt(many["n"]))
	assert.Equal(t, int64(3), ParseInt(many["m"]))
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemory(100, time.Minute))
}

func TestRedisStore(t *testing.T) {
	st, _ := newRedisStore(t, time.Minute)
	storeContract(t, st)
}

func TestMemoryStoreExpiry(t *testing.T) {
	st := NewMemory(100, 20*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "k", []byte("v")))
	assert.Eventually(t, func() bool {
		_, ok, _ := st.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := NewMemory(10, time.Minute)
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, st.Set(ctx, "k", buf))
	buf[0] = 'x'

	got, _, _ := st.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'
	again, _, _ := st.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestRedisStoreTTLAndPrefix(t *testing.T) {
	st, mr := newRedisStore(t, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "k", []byte("v")))
	require.NoError(t, st.Raise(ctx, map[string]int64{"n": 5}))
	assert.True(t, mr.Exists("test:k"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:k"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:n"))

	mr.FastForward(31 * time.Second)
	_, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreUnavailable(t *testing.T) {
	st, mr := newRedisStore(t, time.Minute)
	mr.Close()

	_, _, err := st.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	err = st.Raise(context.Background(), map[string]int64{"k": 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRaiseConcurrent(t *testing.T) {
	stores := map[string]Store{"memory": NewMemory(10, time.Minute)}
	rs, _ := newRedisStore(t, time.Minute)
	stores["redis"] = rs

	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := int64(1); i <= 50; i++ {
				wg.Add(1)
				go func(v int64) {
					defer wg.Done()
					assert.NoError(t, st.Raise(ctx, map[string]int64{"ts": v}))
				}(i)
			}
			wg.Wait()
			v, ok, err := st.Get(ctx, "ts")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(50), ParseInt(v))
		})
	}
}

func TestSnapshot(t *testing.T) {
	var s Snapshot[[]int]
	_, ok := s.Load()
	assert.False(t, ok)

	s.Store([]int{1, 2})
	v, ok := s.Load()
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2}, v)
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, int64(42), ParseInt([]byte("42")))
	assert.Equal(t, int64(0), ParseInt([]byte("x")))
	assert.Equal(t, int64(0), ParseInt(nil))
}
