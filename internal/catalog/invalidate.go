// Package catalog applies rule and snippet mutations to the backing store and
// records them in the ledger so derived caches stop serving what they changed.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"homesnippets/internal/ledger"
)

type Entity string

const (
	EntityRule    Entity = "rule"
	EntitySnippet Entity = "snippet"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

var ErrInvalidChange = errors.New("invalid change")

// Change describes one committed mutation. RuleIDs lists every rule a snippet
// was associated with before or after the change. Widened marks a rule update
// that altered its predicates or exclude flag.
type Change struct {
	Entity  Entity  `json:"entity"`
	Op      Op      `json:"op"`
	ID      int64   `json:"id"`
	RuleIDs []int64 `json:"rule_ids,omitempty"`
	Widened bool    `json:"widened,omitempty"`
}

// Keys returns the ledger entries the change must bump.
func (c Change) Keys() ([]ledger.Key, error) {
	if c.ID <= 0 {
		return nil, fmt.Errorf("%w: id %d", ErrInvalidChange, c.ID)
	}
	switch c.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return nil, fmt.Errorf("%w: op %q", ErrInvalidChange, c.Op)
	}

	switch c.Entity {
	case EntityRule:
		keys := []ledger.Key{ledger.Rule(c.ID), ledger.AllRules}
		// a new or reshaped rule can match fingerprints whose cached
		// match sets never referenced it
		if c.Op == OpCreate || (c.Op == OpUpdate && c.Widened) {
			keys = append(keys, ledger.NewRule)
		}
		return keys, nil
	case EntitySnippet:
		keys := make([]ledger.Key, 0, len(c.RuleIDs)+1)
		keys = append(keys, ledger.Item(c.ID))
		for _, id := range c.RuleIDs {
			keys = append(keys, ledger.Rule(id))
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("%w: entity %q", ErrInvalidChange, c.Entity)
	}
}

// Invalidate bumps every ledger entry affected by c in one batched write.
// Call it after the mutation has committed.
func Invalidate(ctx context.Context, l *ledger.Ledger, c Change) error {
	keys, err := c.Keys()
	if err != nil {
		return err
	}
	if _, err := l.Bump(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate %s %s %d: %w", c.Entity, c.Op, c.ID, err)
	}
	return nil
}
