package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"homesnippets/internal/observability"
)

var (
	// ErrBackingStoreUnavailable is returned once the retry budget for a backing
	// store query is spent. It is retryable by the caller.
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")

	// ErrMalformedPattern marks a /regex/ predicate that does not compile.
	// Such predicates never match; evaluation of other rules continues.
	ErrMalformedPattern = errors.New("malformed rule pattern")
)

type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// query runs fn until it succeeds, the attempts are spent or ctx is done.
func query[T any](ctx context.Context, p retryPolicy, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(p.attempts, 1)
	for i := 0; ; i++ {
		v, err := fn(ctx)
		if err == nil {
			observability.StoreQueries.WithLabelValues(name, "ok").Inc()
			return v, nil
		}
		observability.StoreQueries.WithLabelValues(name, "error").Inc()
		if i+1 >= attempts || ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %s: %w", ErrBackingStoreUnavailable, name, err)
		}
		wait := jitter(p.backoff << i)
		log.Warn().Err(err).Str("query", name).Int("attempt", i+1).Dur("retry_in", wait).Msg("backing store query failed")
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %s: %w", ErrBackingStoreUnavailable, name, ctx.Err())
		case <-time.After(wait):
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := 0.5 + rand.Float64() // 0.5x–1.5x
	return time.Duration(float64(base) * factor)
}
