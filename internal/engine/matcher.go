package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"homesnippets/internal/cache"
	"homesnippets/internal/fingerprint"
	"homesnippets/internal/ledger"
	"homesnippets/internal/observability"
)

const keyRuleMatchPrefix = "rulematch:"

// Matcher resolves a fingerprint to its matching rule ids, caching the result
// per fingerprint. An entry is reused only while none of its rules and no
// new-rule event changed after it was computed.
type Matcher struct {
	rules   *RuleStore
	ledger  *ledger.Ledger
	entries entries
	flight  flight
}

func newMatcher(rules *RuleStore, c cache.Store, l *ledger.Ledger) *Matcher {
	return &Matcher{rules: rules, ledger: l, entries: entries{store: c, name: "rulematch"}}
}

func (m *Matcher) Resolve(ctx context.Context, fp fingerprint.Fingerprint) (MatchSet, error) {
	key := keyRuleMatchPrefix + fingerprint.Key(fp)

	var ent matchEntry
	if m.entries.get(ctx, key, &ent) {
		keys := append(ruleKeys(ent.Include, ent.Exclude), ledger.NewRule)
		stale, err := m.ledger.Stale(ctx, ent.Stamp, keys...)
		switch {
		case err != nil:
			m.entries.outcome(observability.OutcomeError)
			log.Warn().Err(err).Msg("rule match ledger read failed; recomputing")
		case !stale:
			m.entries.outcome(observability.OutcomeHit)
			return MatchSet{Include: ent.Include, Exclude: ent.Exclude}, nil
		default:
			m.entries.outcome(observability.OutcomeStale)
		}
	}

	v, err := m.flight.do(ctx, key, func(ctx context.Context) (any, error) {
		rs, err := m.rules.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		set := rs.Match(fp)
		latest, err := m.ledger.Latest(ctx, append(ruleKeys(set.Include, set.Exclude), ledger.NewRule)...)
		if err == nil && latest > rs.Stamp {
			// a rule in the result was bumped after the snapshot was read,
			// e.g. by a snippet association edit
			if rs, err = m.rules.Refresh(ctx); err != nil {
				return nil, err
			}
			set = rs.Match(fp)
		}
		// the result is exactly as fresh as the rule set it came from
		m.entries.put(ctx, key, matchEntry{Stamp: rs.Stamp, Include: set.Include, Exclude: set.Exclude})
		return set, nil
	})
	if err != nil {
		return MatchSet{}, err
	}
	return v.(MatchSet), nil
}

func ruleKeys(lists ...[]int64) []ledger.Key {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	keys := make([]ledger.Key, 0, n+1)
	for _, l := range lists {
		for _, id := range l {
			keys = append(keys, ledger.Rule(id))
		}
	}
	return keys
}
