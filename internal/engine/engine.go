// Package engine answers "which snippets may this client see right now". Rule
// matching and content lookup are cached in a shared store and validated
// against the change ledger instead of being flushed on writes.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"homesnippets/internal/cache"
	"homesnippets/internal/fingerprint"
	"homesnippets/internal/ledger"
	"homesnippets/internal/storage"
)

type Options struct {
	Reader storage.Reader
	Cache  cache.Store
	Ledger *ledger.Ledger

	RetryAttempts int
	RetryBackoff  time.Duration
}

// Engine exposes the read path. It is safe for concurrent use.
type Engine struct {
	rules    *RuleStore
	matcher  *Matcher
	resolver *Resolver
}

func New(opts Options) *Engine {
	p := retryPolicy{attempts: opts.RetryAttempts, backoff: opts.RetryBackoff}
	rules := newRuleStore(opts.Reader, opts.Cache, opts.Ledger, p)
	return &Engine{
		rules:    rules,
		matcher:  newMatcher(rules, opts.Cache, opts.Ledger),
		resolver: newResolver(opts.Reader, opts.Cache, opts.Ledger, p),
	}
}

func (e *Engine) Rules() *RuleStore { return e.rules }

func (e *Engine) Matcher() *Matcher { return e.matcher }

func (e *Engine) Resolver() *Resolver { return e.resolver }

// Warm loads the rule snapshot so the first request does not pay for it.
func (e *Engine) Warm(ctx context.Context) error {
	rs, err := e.rules.Snapshot(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("rules", rs.Len()).Msg("rule snapshot ready")
	return nil
}

// FindEligibleContent returns the snippets fp may see at the given instant,
// ordered by priority, publication start (unset last) and modification time.
func (e *Engine) FindEligibleContent(ctx context.Context, fp fingerprint.Fingerprint, preview bool, at time.Time) ([]Content, error) {
	set, err := e.matcher.Resolve(ctx, fp)
	if err != nil {
		return nil, err
	}
	items, err := e.resolver.Resolve(ctx, set, preview, at)
	if err != nil {
		return nil, err
	}
	out := make([]Content, len(items))
	for i, s := range items {
		out[i] = contentFrom(s)
	}
	return out, nil
}
