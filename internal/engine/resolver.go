package engine

import (
	"context"
	"encoding/hex"
	"slices"
	"strconv"
	"time"

	sha256 "github.com/minio/sha256-simd"
	"github.com/rs/zerolog/log"

	"homesnippets/internal/cache"
	"homesnippets/internal/ledger"
	"homesnippets/internal/observability"
	"homesnippets/internal/storage"
)

const keyContentPrefix = "content:"

// Resolver turns a match set into the ordered eligible snippets. Query results
// are cached per (include, exclude, preview); the publication window is
// applied on every call so cached entries never carry a clock.
type Resolver struct {
	reader  storage.Reader
	ledger  *ledger.Ledger
	entries entries
	retry   retryPolicy
	flight  flight
}

func newResolver(r storage.Reader, c cache.Store, l *ledger.Ledger, p retryPolicy) *Resolver {
	return &Resolver{reader: r, ledger: l, entries: entries{store: c, name: "content"}, retry: p}
}

func (r *Resolver) Resolve(ctx context.Context, set MatchSet, preview bool, at time.Time) ([]storage.Snippet, error) {
	if len(set.Include) == 0 {
		return []storage.Snippet{}, nil
	}
	q := storage.ContentQuery{
		Include: sortedIDs(set.Include),
		Exclude: sortedIDs(set.Exclude),
		Preview: preview,
	}
	key := contentKey(q)

	items, ok := r.cached(ctx, key)
	if !ok {
		v, err := r.flight.do(ctx, key, func(ctx context.Context) (any, error) {
			stamp := r.ledger.Now()
			found, err := query(ctx, r.retry, "find_content", func(ctx context.Context) ([]storage.Snippet, error) {
				return r.reader.FindContent(ctx, q)
			})
			if err != nil {
				return nil, err
			}
			r.entries.put(ctx, key, contentEntry{Stamp: stamp, Include: q.Include, Exclude: q.Exclude, Items: found})
			return found, nil
		})
		if err != nil {
			return nil, err
		}
		items = v.([]storage.Snippet)
	}

	out := make([]storage.Snippet, 0, len(items))
	for _, s := range items {
		if s.Published(at) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Resolver) cached(ctx context.Context, key string) ([]storage.Snippet, bool) {
	var ent contentEntry
	if !r.entries.get(ctx, key, &ent) {
		return nil, false
	}
	keys := ruleKeys(ent.Include, ent.Exclude)
	for _, s := range ent.Items {
		keys = append(keys, ledger.Item(s.ID))
	}
	stale, err := r.ledger.Stale(ctx, ent.Stamp, keys...)
	switch {
	case err != nil:
		r.entries.outcome(observability.OutcomeError)
		log.Warn().Err(err).Msg("content ledger read failed; requerying")
		return nil, false
	case stale:
		r.entries.outcome(observability.OutcomeStale)
		return nil, false
	}
	r.entries.outcome(observability.OutcomeHit)
	return ent.Items, true
}

// contentKey is stable for equal id sets regardless of input order.
func contentKey(q storage.ContentQuery) string {
	var buf []byte
	buf = append(buf, "i:"...)
	buf = appendIDs(buf, q.Include)
	buf = append(buf, "|e:"...)
	buf = appendIDs(buf, q.Exclude)
	if q.Preview {
		buf = append(buf, "|p:1"...)
	} else {
		buf = append(buf, "|p:0"...)
	}
	sum := sha256.Sum256(buf)
	return keyContentPrefix + hex.EncodeToString(sum[:])
}

func appendIDs(buf []byte, ids []int64) []byte {
	for i, id := range ids {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, id, 10)
	}
	return buf
}

func sortedIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
