package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homesnippets/internal/cache"
	"homesnippets/internal/catalog"
	"homesnippets/internal/ledger"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		bumped  []ledger.Key
		widened bool
		wantErr bool
	}{
		{
			name:    "rule update is widened",
			payload: `{"entity":"rule","op":"update","id":7}`,
			bumped:  []ledger.Key{ledger.Rule(7), ledger.AllRules, ledger.NewRule},
			widened: true,
		},
		{
			name:    "rule delete",
			payload: `{"entity":"rule","op":"delete","id":7}`,
			bumped:  []ledger.Key{ledger.Rule(7), ledger.AllRules},
		},
		{
			name:    "snippet with associations",
			payload: `{"entity":"snippet","op":"update","id":3,"rule_ids":[1,2]}`,
			bumped:  []ledger.Key{ledger.Item(3), ledger.Rule(1), ledger.Rule(2)},
		},
		{name: "not json", payload: `rule 7 changed`, wantErr: true},
		{name: "unknown entity", payload: `{"entity":"campaign","op":"update","id":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			l := ledger.New(cache.NewMemory(100, time.Hour), ledger.NewManualClock(10))

			c, err := Apply(ctx, l, tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, catalog.ErrInvalidChange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.widened, c.Widened)
			for _, k := range tt.bumped {
				stale, err := l.Stale(ctx, 9, k)
				require.NoError(t, err)
				assert.True(t, stale, k.String())
			}
		})
	}
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
	assert.GreaterOrEqual(t, jitter(0), 500*time.Millisecond)
}
