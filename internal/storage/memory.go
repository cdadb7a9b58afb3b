package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Repository. It backs tests and the
// database.driver=memory mode.
type Memory struct {
	mu       sync.RWMutex
	nextRule int64
	nextSnip int64
	rules    map[int64]MatchRule
	snippets map[int64]Snippet
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		rules:    map[int64]MatchRule{},
		snippets: map[int64]Snippet{},
	}
}

func (m *Memory) Close() {}

func (m *Memory) LoadRules(_ context.Context) ([]MatchRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MatchRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) FindContent(_ context.Context, q ContentQuery) ([]Snippet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Snippet
	for _, s := range m.snippets {
		if s.Disabled || (s.Preview && !q.Preview) {
			continue
		}
		if !intersects(s.RuleIDs, q.Include) || intersects(s.RuleIDs, q.Exclude) {
			continue
		}
		out = append(out, cloneSnippet(s))
	}
	sort.Slice(out, func(i, j int) bool { return contentLess(out[i], out[j]) })
	return out, nil
}

// contentLess mirrors ORDER BY priority, pub_start NULLS LAST, modified, id.
func contentLess(a, b Snippet) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	switch {
	case a.PubStart == nil && b.PubStart != nil:
		return false
	case a.PubStart != nil && b.PubStart == nil:
		return true
	case a.PubStart != nil && !a.PubStart.Equal(*b.PubStart):
		return a.PubStart.Before(*b.PubStart)
	}
	if !a.Modified.Equal(b.Modified) {
		return a.Modified.Before(b.Modified)
	}
	return a.ID < b.ID
}

func (m *Memory) GetRule(_ context.Context, id int64) (MatchRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return MatchRule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *Memory) CreateRule(_ context.Context, r MatchRule) (MatchRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRule++
	r.ID = m.nextRule
	m.rules[r.ID] = r
	return r, nil
}

func (m *Memory) UpdateRule(_ context.Context, r MatchRule) (MatchRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.rules[r.ID]
	if !ok {
		return MatchRule{}, fmt.Errorf("rule %d: %w", r.ID, ErrNotFound)
	}
	m.rules[r.ID] = r
	return prev, nil
}

func (m *Memory) DeleteRule(_ context.Context, id int64) (MatchRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.rules[id]
	if !ok {
		return MatchRule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	delete(m.rules, id)
	for sid, s := range m.snippets {
		if slices.Contains(s.RuleIDs, id) {
			s.RuleIDs = slices.DeleteFunc(slices.Clone(s.RuleIDs), func(v int64) bool { return v == id })
			m.snippets[sid] = s
		}
	}
	return prev, nil
}

func (m *Memory) GetSnippet(_ context.Context, id int64) (Snippet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snippets[id]
	if !ok {
		return Snippet{}, fmt.Errorf("snippet %d: %w", id, ErrNotFound)
	}
	return cloneSnippet(s), nil
}

func (m *Memory) CreateSnippet(_ context.Context, s Snippet) (Snippet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRules(s.RuleIDs); err != nil {
		return Snippet{}, err
	}
	m.nextSnip++
	now := time.Now().UTC()
	s.ID = m.nextSnip
	s.Created, s.Modified = now, now
	s.RuleIDs = normalizeIDs(s.RuleIDs)
	m.snippets[s.ID] = cloneSnippet(s)
	return cloneSnippet(s), nil
}

func (m *Memory) UpdateSnippet(_ context.Context, s Snippet) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.snippets[s.ID]
	if !ok {
		return nil, fmt.Errorf("snippet %d: %w", s.ID, ErrNotFound)
	}
	if err := m.checkRules(s.RuleIDs); err != nil {
		return nil, err
	}
	s.Created = prev.Created
	s.Modified = time.Now().UTC()
	s.RuleIDs = normalizeIDs(s.RuleIDs)
	m.snippets[s.ID] = cloneSnippet(s)
	return slices.Clone(prev.RuleIDs), nil
}

func (m *Memory) DeleteSnippet(_ context.Context, id int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.snippets[id]
	if !ok {
		return nil, fmt.Errorf("snippet %d: %w", id, ErrNotFound)
	}
	delete(m.snippets, id)
	return slices.Clone(prev.RuleIDs), nil
}

func (m *Memory) checkRules(ids []int64) error {
	for _, id := range ids {
		if _, ok := m.rules[id]; !ok {
			return fmt.Errorf("rule %d: %w", id, ErrNotFound)
		}
	}
	return nil
}

func cloneSnippet(s Snippet) Snippet {
	s.RuleIDs = slices.Clone(s.RuleIDs)
	return s
}

func intersects(a, b []int64) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}

func normalizeIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
