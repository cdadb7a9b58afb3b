package engine

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"homesnippets/internal/cache"
	"homesnippets/internal/fingerprint"
	"homesnippets/internal/ledger"
	"homesnippets/internal/observability"
	"homesnippets/internal/storage"
)

const keyAllRules = "rules:all"

// Indexes for fast candidate narrowing. A rule is listed under the literal
// value it requires for an attribute, or in open when any value may pass the
// index (wildcard or pattern).
type indexes struct {
	literal map[fingerprint.Attribute]map[string][]int
	open    map[fingerprint.Attribute][]int
}

// RuleSet is an immutable, indexed view of every match rule, in priority order.
type RuleSet struct {
	Stamp int64
	rules []compiledRule
	idx   indexes
}

func (rs *RuleSet) Len() int { return len(rs.rules) }

// Match evaluates every rule against fp.
func (rs *RuleSet) Match(fp fingerprint.Fingerprint) MatchSet {
	out := MatchSet{Include: []int64{}, Exclude: []int64{}}

	cand := newSet(allIdx(len(rs.rules)))
	for _, a := range fingerprint.Attributes {
		if len(cand) == 0 {
			break
		}
		cand = cand.intersect(newSet(rs.idx.literal[a][fp.Get(a)], rs.idx.open[a]))
	}

	// final verification; patterns are only checked here
	for _, i := range cand.list() {
		r := rs.rules[i]
		if !r.matches(fp) {
			continue
		}
		if r.Exclude {
			out.Exclude = append(out.Exclude, r.ID)
		} else {
			out.Include = append(out.Include, r.ID)
		}
	}
	slices.Sort(out.Include)
	slices.Sort(out.Exclude)
	return out
}

// RuleStore serves the current rule collection through a process-local
// snapshot backed by the shared cache entry rules:all. Both are validated
// against the rules-all ledger entry before use.
type RuleStore struct {
	reader   storage.Reader
	ledger   *ledger.Ledger
	entries  entries
	retry    retryPolicy
	local    cache.Snapshot[*RuleSet]
	patterns *xsync.MapOf[string, *regexp.Regexp]
	flight   flight
}

func newRuleStore(r storage.Reader, c cache.Store, l *ledger.Ledger, p retryPolicy) *RuleStore {
	return &RuleStore{
		reader:   r,
		ledger:   l,
		entries:  entries{store: c, name: "rules"},
		retry:    p,
		patterns: xsync.NewMapOf[string, *regexp.Regexp](),
	}
}

// Snapshot returns a rule set no older than the last rules-all bump.
func (s *RuleStore) Snapshot(ctx context.Context) (*RuleSet, error) {
	latest, lerr := s.ledger.Latest(ctx, ledger.AllRules)
	if lerr != nil {
		log.Warn().Err(lerr).Msg("rules ledger read failed; reloading")
	} else {
		if rs, ok := s.local.Load(); ok && rs.Stamp >= latest {
			observability.CacheLookups.WithLabelValues("rules_local", observability.OutcomeHit).Inc()
			return rs, nil
		}
		var ent rulesEntry
		if s.entries.get(ctx, keyAllRules, &ent) {
			if ent.Stamp >= latest {
				s.entries.outcome(observability.OutcomeHit)
				rs := s.build(ent.Stamp, ent.Rules)
				s.local.Store(rs)
				return rs, nil
			}
			s.entries.outcome(observability.OutcomeStale)
		}
	}

	return s.Refresh(ctx)
}

// Refresh reads the rule collection from the backing store regardless of any
// cached copy and publishes it to both cache levels.
func (s *RuleStore) Refresh(ctx context.Context) (*RuleSet, error) {
	v, err := s.flight.do(ctx, keyAllRules, func(ctx context.Context) (any, error) {
		stamp := s.ledger.Now()
		rules, err := query(ctx, s.retry, "load_rules", s.reader.LoadRules)
		if err != nil {
			return nil, err
		}
		s.entries.put(ctx, keyAllRules, rulesEntry{Stamp: stamp, Rules: rules})
		rs := s.build(stamp, rules)
		s.local.Store(rs)
		log.Debug().Int("rules", len(rules)).Int64("stamp", stamp).Msg("rule snapshot loaded")
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuleSet), nil
}

func (s *RuleStore) build(stamp int64, rules []storage.MatchRule) *RuleSet {
	rs := &RuleSet{
		Stamp: stamp,
		rules: make([]compiledRule, 0, len(rules)),
		idx: indexes{
			literal: map[fingerprint.Attribute]map[string][]int{},
			open:    map[fingerprint.Attribute][]int{},
		},
	}
	for _, a := range fingerprint.Attributes {
		rs.idx.literal[a] = map[string][]int{}
	}
	for i, r := range rules {
		cr := compiledRule{MatchRule: r}
		for _, p := range r.Predicates() {
			switch {
			case p.Value == "":
				rs.idx.open[p.Attr] = append(rs.idx.open[p.Attr], i)
			case isPattern(p.Value):
				cr.preds = append(cr.preds, predicate{attr: p.Attr, re: s.pattern(r.ID, p.Value), pattern: true})
				rs.idx.open[p.Attr] = append(rs.idx.open[p.Attr], i)
			default:
				cr.preds = append(cr.preds, predicate{attr: p.Attr, literal: p.Value})
				rs.idx.literal[p.Attr][p.Value] = append(rs.idx.literal[p.Attr][p.Value], i)
			}
		}
		rs.rules = append(rs.rules, cr)
	}
	return rs
}

// pattern compiles raw once per process. A nil result never matches.
func (s *RuleStore) pattern(ruleID int64, raw string) *regexp.Regexp {
	re, loaded := s.patterns.LoadOrCompute(raw, func() *regexp.Regexp {
		re, err := compilePattern(raw)
		if err != nil {
			log.Warn().Err(err).Int64("rule", ruleID).Msg("rule predicate disabled")
		}
		return re
	})
	if loaded && re == nil {
		log.Debug().Int64("rule", ruleID).Str("pattern", raw).Msg("malformed pattern reused")
	}
	return re
}

func isPattern(v string) bool {
	return len(v) >= 2 && strings.HasPrefix(v, "/") && strings.HasSuffix(v, "/")
}

// compilePattern anchors the body of a /.../ value at the start of the input.
func compilePattern(raw string) (*regexp.Regexp, error) {
	body := raw[1 : len(raw)-1]
	re, err := regexp.Compile(`^(?:` + body + `)`)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrMalformedPattern, raw, err)
	}
	return re, nil
}

type set map[int]struct{}

func newSet(lists ...[]int) set {
	s := set{}
	for _, sl := range lists {
		for _, v := range sl {
			s[v] = struct{}{}
		}
	}
	return s
}

func (s set) intersect(other set) set {
	res := set{}
	for k := range s {
		if _, ok := other[k]; ok {
			res[k] = struct{}{}
		}
	}
	return res
}

// list returns members in ascending order, i.e. rule priority order.
func (s set) list() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func allIdx(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
