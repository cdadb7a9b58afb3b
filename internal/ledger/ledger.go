// Package ledger records when rules, snippets and the rule collection last
// changed. Derived caches compare their write stamp against these entries
// instead of being flushed.
package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"homesnippets/internal/cache"
	"homesnippets/internal/observability"
)

type Scope string

const (
	ScopeRule     Scope = "rule"
	ScopeItem     Scope = "item"
	ScopeAllRules Scope = "rules-all"
	ScopeNewRule  Scope = "rules-new"
)

// Key addresses one ledger entry. ID is ignored for the collection-wide scopes.
type Key struct {
	Scope Scope
	ID    int64
}

func Rule(id int64) Key { return Key{Scope: ScopeRule, ID: id} }

func Item(id int64) Key { return Key{Scope: ScopeItem, ID: id} }

var (
	AllRules = Key{Scope: ScopeAllRules}
	NewRule  = Key{Scope: ScopeNewRule}
)

func (k Key) String() string {
	switch k.Scope {
	case ScopeRule, ScopeItem:
		return "lastmod:" + string(k.Scope) + ":" + strconv.FormatInt(k.ID, 10)
	default:
		return "lastmod:" + string(k.Scope)
	}
}

// Ledger is the process-wide lastmod table. It is safe for concurrent use.
type Ledger struct {
	store cache.Store
	clock Clock
}

func New(store cache.Store, clock Clock) *Ledger {
	if clock == nil {
		clock = &MonotonicClock{}
	}
	return &Ledger{store: store, clock: clock}
}

// Now exposes the ledger clock so cache writers stamp entries on the same scale.
func (l *Ledger) Now() int64 { return l.clock.Now() }

// Bump sets every key to the current stamp in one batched write. The call
// returns only once the write is visible to subsequent reads.
func (l *Ledger) Bump(ctx context.Context, keys ...Key) (int64, error) {
	now := l.clock.Now()
	if len(keys) == 0 {
		return now, nil
	}
	items := make(map[string]int64, len(keys))
	for _, k := range keys {
		items[k.String()] = now
	}
	if err := l.store.Raise(ctx, items); err != nil {
		return 0, fmt.Errorf("ledger bump: %w", err)
	}
	for _, k := range keys {
		observability.LedgerBumps.WithLabelValues(string(k.Scope)).Inc()
	}
	log.Debug().Int("keys", len(keys)).Int64("stamp", now).Msg("ledger bumped")
	return now, nil
}

func (l *Ledger) BumpRule(ctx context.Context, id int64) error {
	_, err := l.Bump(ctx, Rule(id))
	return err
}

func (l *Ledger) BumpContentItem(ctx context.Context, id int64) error {
	_, err := l.Bump(ctx, Item(id))
	return err
}

func (l *Ledger) BumpAllRulesCollection(ctx context.Context) error {
	_, err := l.Bump(ctx, AllRules)
	return err
}

func (l *Ledger) BumpNewRuleEvent(ctx context.Context) error {
	_, err := l.Bump(ctx, NewRule)
	return err
}

// Latest returns the newest stamp among keys in a single batched read. Keys
// with no recorded entry count as zero.
func (l *Ledger) Latest(ctx context.Context, keys ...Key) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	vals, err := l.store.GetMany(ctx, names)
	if err != nil {
		return 0, fmt.Errorf("ledger read: %w", err)
	}
	var latest int64
	for _, v := range vals {
		if n := cache.ParseInt(v); n > latest {
			latest = n
		}
	}
	return latest, nil
}

// Stale reports whether any key changed strictly after stamp.
func (l *Ledger) Stale(ctx context.Context, stamp int64, keys ...Key) (bool, error) {
	latest, err := l.Latest(ctx, keys...)
	if err != nil {
		return true, err
	}
	return latest > stamp, nil
}
