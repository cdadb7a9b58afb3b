package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(ss []Snippet) []int64 {
	out := make([]int64, len(ss))
	for i, s := range ss {
		out[i] = s.ID
	}
	return out
}

func TestMemory_FindContent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	inc, _ := m.CreateRule(ctx, MatchRule{Name: "Firefox"})
	exc, _ := m.CreateRule(ctx, MatchRule{Locale: "de", Exclude: true})
	other, _ := m.CreateRule(ctx, MatchRule{Name: "Airdog"})

	plain, err := m.CreateSnippet(ctx, Snippet{Name: "plain", RuleIDs: []int64{inc.ID}})
	require.NoError(t, err)
	excluded, _ := m.CreateSnippet(ctx, Snippet{Name: "excluded", RuleIDs: []int64{inc.ID, exc.ID}})
	_, _ = m.CreateSnippet(ctx, Snippet{Name: "disabled", Disabled: true, RuleIDs: []int64{inc.ID}})
	preview, _ := m.CreateSnippet(ctx, Snippet{Name: "preview", Preview: true, RuleIDs: []int64{inc.ID}})
	_, _ = m.CreateSnippet(ctx, Snippet{Name: "unrelated", RuleIDs: []int64{other.ID}})
	_, _ = m.CreateSnippet(ctx, Snippet{Name: "no rules"})

	tests := []struct {
		name string
		q    ContentQuery
		want []int64
	}{
		{"include only", ContentQuery{Include: []int64{inc.ID}}, []int64{plain.ID, excluded.ID}},
		{"with exclude", ContentQuery{Include: []int64{inc.ID}, Exclude: []int64{exc.ID}}, []int64{plain.ID}},
		{"preview", ContentQuery{Include: []int64{inc.ID}, Exclude: []int64{exc.ID}, Preview: true}, []int64{plain.ID, preview.ID}},
		{"nothing included", ContentQuery{Exclude: []int64{exc.ID}}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.FindContent(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestMemory_ContentOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r, _ := m.CreateRule(ctx, MatchRule{})

	early := time.Date(2010, 10, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2010, 12, 1, 0, 0, 0, 0, time.UTC)

	noStart, _ := m.CreateSnippet(ctx, Snippet{Name: "no start", RuleIDs: []int64{r.ID}})
	lateStart, _ := m.CreateSnippet(ctx, Snippet{Name: "late", PubStart: &late, RuleIDs: []int64{r.ID}})
	earlyStart, _ := m.CreateSnippet(ctx, Snippet{Name: "early", PubStart: &early, RuleIDs: []int64{r.ID}})
	first, _ := m.CreateSnippet(ctx, Snippet{Name: "first", Priority: -1, RuleIDs: []int64{r.ID}})

	got, err := m.FindContent(ctx, ContentQuery{Include: []int64{r.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID, earlyStart.ID, lateStart.ID, noStart.ID}, ids(got))
}

func TestMemory_RuleLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	r, err := m.CreateRule(ctx, MatchRule{Name: "Firefox", Priority: 2})
	require.NoError(t, err)
	r2, _ := m.CreateRule(ctx, MatchRule{Name: "Mudfish", Priority: 1})
	assert.NotEqual(t, r.ID, r2.ID)

	rules, err := m.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, r2.ID, rules[0].ID, "lower priority sorts first")

	edited := r
	edited.Locale = "en-US"
	prev, err := m.UpdateRule(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, "", prev.Locale)
	got, _ := m.GetRule(ctx, r.ID)
	assert.Equal(t, "en-US", got.Locale)

	sn, _ := m.CreateSnippet(ctx, Snippet{Name: "s", RuleIDs: []int64{r.ID, r2.ID}})
	_, err = m.DeleteRule(ctx, r.ID)
	require.NoError(t, err)
	after, _ := m.GetSnippet(ctx, sn.ID)
	assert.Equal(t, []int64{r2.ID}, after.RuleIDs)

	_, err = m.GetRule(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.UpdateRule(ctx, MatchRule{ID: 999})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_SnippetLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _ := m.CreateRule(ctx, MatchRule{Name: "a"})
	b, _ := m.CreateRule(ctx, MatchRule{Name: "b"})

	_, err := m.CreateSnippet(ctx, Snippet{Name: "bad", RuleIDs: []int64{42}})
	assert.ErrorIs(t, err, ErrNotFound)

	sn, err := m.CreateSnippet(ctx, Snippet{Name: "s", RuleIDs: []int64{a.ID, a.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, sn.RuleIDs)

	sn.RuleIDs = []int64{b.ID}
	prev, err := m.UpdateSnippet(ctx, sn)
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, prev)

	prev, err = m.DeleteSnippet(ctx, sn.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID}, prev)

	_, err = m.DeleteSnippet(ctx, sn.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnippetPublished(t *testing.T) {
	start := time.Date(2010, 10, 24, 0, 0, 0, 0, time.UTC)
	end := time.Date(2010, 10, 31, 0, 0, 0, 0, time.UTC)
	s := Snippet{PubStart: &start, PubEnd: &end}

	assert.False(t, s.Published(start.Add(-time.Second)))
	assert.True(t, s.Published(start))
	assert.True(t, s.Published(end.Add(-time.Second)))
	assert.False(t, s.Published(end), "end is exclusive")
	assert.True(t, Snippet{}.Published(end))
}

func TestMatchRule_SameMatch(t *testing.T) {
	r := MatchRule{ID: 1, Name: "Firefox", Priority: 1}

	same := r
	same.Priority = 5
	same.Description = "note"
	assert.True(t, r.SameMatch(same))

	widened := r
	widened.Name = ""
	assert.False(t, r.SameMatch(widened))

	flipped := r
	flipped.Exclude = true
	assert.False(t, r.SameMatch(flipped))
}
