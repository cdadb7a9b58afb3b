// Package listener applies change notifications published by other writers of
// the backing store (admin tooling, bulk imports) to the ledger.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"homesnippets/internal/catalog"
	"homesnippets/internal/ledger"
	"homesnippets/internal/storage"
)

// Apply decodes one notification payload and bumps what it touched. Rule
// updates arriving here carry no prior state, so they are treated as widened.
func Apply(ctx context.Context, l *ledger.Ledger, payload string) (catalog.Change, error) {
	var c catalog.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return c, fmt.Errorf("%w: %v", catalog.ErrInvalidChange, err)
	}
	if c.Entity == catalog.EntityRule && c.Op == catalog.OpUpdate {
		c.Widened = true
	}
	return c, catalog.Invalidate(ctx, l, c)
}

// ListenAndInvalidate blocks until ctx is done, reconnecting with jittered
// backoff whenever the notification connection fails.
func ListenAndInvalidate(ctx context.Context, st *storage.Postgres, l *ledger.Ledger, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for {
		err := listen(ctx, st, l, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Msg("notify listener failed")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, st *storage.Postgres, l *ledger.Ledger, channel string) error {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn for listen: %w", err)
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	log.Info().Str("channel", channel).Msg("listening for DB changes")

	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		c, err := Apply(ctx, l, ntf.Payload)
		if err != nil {
			log.Error().Err(err).Str("payload", ntf.Payload).Msg("apply change notification")
			continue
		}
		log.Debug().Str("entity", string(c.Entity)).Str("op", string(c.Op)).Int64("id", c.ID).Msg("db change applied")
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x–1.5x
	return time.Duration(float64(base) * factor)
}
