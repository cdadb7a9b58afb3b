package engine

import (
	"regexp"
	"time"

	"homesnippets/internal/fingerprint"
	"homesnippets/internal/storage"
)

// Content is a snippet as delivered to clients.
type Content struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Body     string     `json:"body"`
	Priority int        `json:"priority"`
	Preview  bool       `json:"preview,omitempty"`
	PubStart *time.Time `json:"pub_start,omitempty"`
	PubEnd   *time.Time `json:"pub_end,omitempty"`
	Modified time.Time  `json:"modified"`
}

func contentFrom(s storage.Snippet) Content {
	return Content{
		ID:       s.ID,
		Name:     s.Name,
		Body:     s.Body,
		Priority: s.Priority,
		Preview:  s.Preview,
		PubStart: s.PubStart,
		PubEnd:   s.PubEnd,
		Modified: s.Modified,
	}
}

// MatchSet holds the ids of matching include and exclude rules, each sorted
// ascending.
type MatchSet struct {
	Include []int64 `json:"include"`
	Exclude []int64 `json:"exclude"`
}

// predicate is one compiled, non-wildcard rule constraint.
type predicate struct {
	attr    fingerprint.Attribute
	literal string
	re      *regexp.Regexp // set for /pattern/ values
	pattern bool           // true even when re failed to compile
}

func (p predicate) match(fp fingerprint.Fingerprint) bool {
	v := fp.Get(p.attr)
	if !p.pattern {
		return v == p.literal
	}
	if p.re == nil {
		return false
	}
	return p.re.MatchString(v)
}

type compiledRule struct {
	storage.MatchRule
	preds []predicate
}

func (r compiledRule) matches(fp fingerprint.Fingerprint) bool {
	for _, p := range r.preds {
		if !p.match(fp) {
			return false
		}
	}
	return true
}

// cache documents; stamps are ledger clock values taken before the backing read

type rulesEntry struct {
	Stamp int64               `json:"stamp"`
	Rules []storage.MatchRule `json:"rules"`
}

type matchEntry struct {
	Stamp   int64   `json:"stamp"`
	Include []int64 `json:"include"`
	Exclude []int64 `json:"exclude"`
}

type contentEntry struct {
	Stamp   int64             `json:"stamp"`
	Include []int64           `json:"include"`
	Exclude []int64           `json:"exclude"`
	Items   []storage.Snippet `json:"items"`
}
