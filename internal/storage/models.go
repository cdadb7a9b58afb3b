package storage

import (
	"context"
	"errors"
	"time"

	"homesnippets/internal/fingerprint"
)

var ErrNotFound = errors.New("not found")

// MatchRule is a prioritized predicate set that grants (or, with Exclude,
// revokes) snippet eligibility. Empty predicate fields are wildcards.
type MatchRule struct {
	ID          int64  `json:"id"`
	Priority    int    `json:"priority"`
	Exclude     bool   `json:"exclude"`
	Description string `json:"description,omitempty"`

	StartpageVersion    string `json:"startpage_version,omitempty"`
	Name                string `json:"name,omitempty"`
	Version             string `json:"version,omitempty"`
	AppBuildID          string `json:"appbuildid,omitempty"`
	BuildTarget         string `json:"build_target,omitempty"`
	Locale              string `json:"locale,omitempty"`
	Channel             string `json:"channel,omitempty"`
	OSVersion           string `json:"os_version,omitempty"`
	Distribution        string `json:"distribution,omitempty"`
	DistributionVersion string `json:"distribution_version,omitempty"`
}

// Predicate pairs an attribute with the rule's raw value for it.
type Predicate struct {
	Attr  fingerprint.Attribute
	Value string
}

// Predicates lists the rule's constraints in fingerprint.Attributes order,
// wildcards included.
func (r MatchRule) Predicates() []Predicate {
	return []Predicate{
		{fingerprint.StartpageVersion, r.StartpageVersion},
		{fingerprint.Name, r.Name},
		{fingerprint.Version, r.Version},
		{fingerprint.AppBuildID, r.AppBuildID},
		{fingerprint.BuildTarget, r.BuildTarget},
		{fingerprint.Locale, r.Locale},
		{fingerprint.Channel, r.Channel},
		{fingerprint.OSVersion, r.OSVersion},
		{fingerprint.Distribution, r.Distribution},
		{fingerprint.DistributionVersion, r.DistributionVersion},
	}
}

// SameMatch reports whether two versions of a rule select the same fingerprints
// the same way. Priority and description do not take part.
func (r MatchRule) SameMatch(o MatchRule) bool {
	if r.Exclude != o.Exclude {
		return false
	}
	a, b := r.Predicates(), o.Predicates()
	for i := range a {
		if a[i].Value != b[i].Value {
			return false
		}
	}
	return true
}

// Snippet is a unit of content eligible for delivery when one of its rules
// matches and the evaluation instant falls inside [PubStart, PubEnd).
type Snippet struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Body     string     `json:"body"`
	Disabled bool       `json:"disabled"`
	Preview  bool       `json:"preview"`
	Priority int        `json:"priority"`
	PubStart *time.Time `json:"pub_start,omitempty"`
	PubEnd   *time.Time `json:"pub_end,omitempty"`
	Created  time.Time  `json:"created"`
	Modified time.Time  `json:"modified"`
	RuleIDs  []int64    `json:"rule_ids,omitempty"`
}

// Published reports whether at lies inside the publication window.
func (s Snippet) Published(at time.Time) bool {
	if s.PubStart != nil && at.Before(*s.PubStart) {
		return false
	}
	if s.PubEnd != nil && !at.Before(*s.PubEnd) {
		return false
	}
	return true
}

// ContentQuery selects enabled snippets associated with at least one Include
// rule and none of the Exclude rules. Preview-only snippets are returned only
// when Preview is set.
type ContentQuery struct {
	Include []int64
	Exclude []int64
	Preview bool
}

// Reader is what the delivery path needs from the backing store.
type Reader interface {
	LoadRules(ctx context.Context) ([]MatchRule, error)
	// FindContent orders results by priority, pub_start (unset last), modified.
	FindContent(ctx context.Context, q ContentQuery) ([]Snippet, error)
}

// Writer is the mutation surface used by the admin side. Update and delete
// calls return the prior state so callers can invalidate what depended on it.
type Writer interface {
	GetRule(ctx context.Context, id int64) (MatchRule, error)
	CreateRule(ctx context.Context, r MatchRule) (MatchRule, error)
	UpdateRule(ctx context.Context, r MatchRule) (prev MatchRule, err error)
	DeleteRule(ctx context.Context, id int64) (prev MatchRule, err error)

	GetSnippet(ctx context.Context, id int64) (Snippet, error)
	CreateSnippet(ctx context.Context, s Snippet) (Snippet, error)
	UpdateSnippet(ctx context.Context, s Snippet) (prevRuleIDs []int64, err error)
	DeleteSnippet(ctx context.Context, id int64) (prevRuleIDs []int64, err error)
}

// Repository is a full backing store.
type Repository interface {
	Reader
	Writer
	Close()
}
