package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"homesnippets/internal/config"
)

// Postgres is the Repository over the relational store. Tables:
//
//	match_rules(id bigserial, priority, exclude, description, <attribute columns>)
//	snippets(id bigserial, name, body, disabled, preview, priority, pub_start, pub_end, created, modified)
//	snippet_match_rules(snippet_id, rule_id) -- FK on delete cascade both ways
type Postgres struct {
	pool    *pgxpool.Pool
	channel string
	timeout time.Duration
}

var _ Repository = (*Postgres)(nil)

const ruleColumns = `id, priority, exclude, description,
	startpage_version, name, version, appbuildid, build_target,
	locale, channel, os_version, distribution, distribution_version`

const snippetColumns = `s.id, s.name, s.body, s.disabled, s.preview, s.priority,
	s.pub_start, s.pub_end, s.created, s.modified`

func New(ctx context.Context, cfg config.Config) (*Postgres, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Postgres{pool: pool, channel: cfg.Listener.Channel, timeout: cfg.StoreTimeout()}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// LoadRules loads every match rule, in priority order.
func (s *Postgres) LoadRules(ctx context.Context) ([]MatchRule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+ruleColumns+` FROM match_rules ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []MatchRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// FindContent runs the association set-membership query. Rule id lists are
// bound as bigint[] parameters.
func (s *Postgres) FindContent(ctx context.Context, q ContentQuery) ([]Snippet, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	include := q.Include
	if include == nil {
		include = []int64{}
	}
	exclude := q.Exclude
	if exclude == nil {
		exclude = []int64{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+snippetColumns+`
		FROM snippets s
		WHERE NOT s.disabled
		  AND ($3 OR NOT s.preview)
		  AND EXISTS (
			SELECT 1 FROM snippet_match_rules a
			WHERE a.snippet_id = s.id AND a.rule_id = ANY($1))
		  AND NOT EXISTS (
			SELECT 1 FROM snippet_match_rules a
			WHERE a.snippet_id = s.id AND a.rule_id = ANY($2))
		ORDER BY s.priority, s.pub_start NULLS LAST, s.modified, s.id
	`, include, exclude, q.Preview)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		sn, err := scanSnippet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetRule(ctx context.Context, id int64) (MatchRule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return getRule(ctx, s.pool, id, false)
}

func (s *Postgres) CreateRule(ctx context.Context, r MatchRule) (MatchRule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO match_rules (priority, exclude, description,
			startpage_version, name, version, appbuildid, build_target,
			locale, channel, os_version, distribution, distribution_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`, ruleArgs(r)...).Scan(&r.ID)
	if err != nil {
		return MatchRule{}, fmt.Errorf("insert rule: %w", err)
	}
	return r, nil
}

func (s *Postgres) UpdateRule(ctx context.Context, r MatchRule) (MatchRule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var prev MatchRule
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if prev, err = getRule(ctx, tx, r.ID, true); err != nil {
			return err
		}
		args := append(ruleArgs(r), r.ID)
		_, err = tx.Exec(ctx, `
			UPDATE match_rules SET priority = $1, exclude = $2, description = $3,
				startpage_version = $4, name = $5, version = $6, appbuildid = $7,
				build_target = $8, locale = $9, channel = $10, os_version = $11,
				distribution = $12, distribution_version = $13
			WHERE id = $14`, args...)
		if err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		return nil
	})
	if err != nil {
		return MatchRule{}, err
	}
	return prev, nil
}

func (s *Postgres) DeleteRule(ctx context.Context, id int64) (MatchRule, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var prev MatchRule
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if prev, err = getRule(ctx, tx, id, true); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM snippet_match_rules WHERE rule_id = $1`, id); err != nil {
			return fmt.Errorf("delete rule associations: %w", err)
		}
		if _, err = tx.Exec(ctx, `DELETE FROM match_rules WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete rule: %w", err)
		}
		return nil
	})
	if err != nil {
		return MatchRule{}, err
	}
	return prev, nil
}

func (s *Postgres) GetSnippet(ctx context.Context, id int64) (Snippet, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+snippetColumns+` FROM snippets s WHERE s.id = $1`, id)
	sn, err := scanSnippet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snippet{}, fmt.Errorf("snippet %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Snippet{}, err
	}
	if sn.RuleIDs, err = snippetRuleIDs(ctx, s.pool, id); err != nil {
		return Snippet{}, err
	}
	return sn, nil
}

func (s *Postgres) CreateSnippet(ctx context.Context, sn Snippet) (Snippet, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO snippets (name, body, disabled, preview, priority, pub_start, pub_end, created, modified)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			RETURNING id, created, modified`,
			sn.Name, sn.Body, sn.Disabled, sn.Preview, sn.Priority, sn.PubStart, sn.PubEnd,
		).Scan(&sn.ID, &sn.Created, &sn.Modified)
		if err != nil {
			return fmt.Errorf("insert snippet: %w", err)
		}
		return setSnippetRules(ctx, tx, sn.ID, sn.RuleIDs)
	})
	if err != nil {
		return Snippet{}, err
	}
	return sn, nil
}

func (s *Postgres) UpdateSnippet(ctx context.Context, sn Snippet) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var prev []int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE snippets SET name = $1, body = $2, disabled = $3, preview = $4,
				priority = $5, pub_start = $6, pub_end = $7, modified = now()
			WHERE id = $8`,
			sn.Name, sn.Body, sn.Disabled, sn.Preview, sn.Priority, sn.PubStart, sn.PubEnd, sn.ID)
		if err != nil {
			return fmt.Errorf("update snippet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("snippet %d: %w", sn.ID, ErrNotFound)
		}
		if prev, err = snippetRuleIDs(ctx, tx, sn.ID); err != nil {
			return err
		}
		return setSnippetRules(ctx, tx, sn.ID, sn.RuleIDs)
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *Postgres) DeleteSnippet(ctx context.Context, id int64) ([]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var prev []int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if prev, err = snippetRuleIDs(ctx, tx, id); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM snippet_match_rules WHERE snippet_id = $1`, id); err != nil {
			return fmt.Errorf("delete snippet associations: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM snippets WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete snippet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("snippet %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *Postgres) ListenChannel() string {
	return s.channel
}

func (s *Postgres) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRule(ctx context.Context, q querier, id int64, forUpdate bool) (MatchRule, error) {
	sql := `SELECT ` + ruleColumns + ` FROM match_rules WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	r, err := scanRule(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MatchRule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return r, err
}

func snippetRuleIDs(ctx context.Context, q querier, id int64) ([]int64, error) {
	rows, err := q.Query(ctx, `SELECT rule_id FROM snippet_match_rules WHERE snippet_id = $1 ORDER BY rule_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query snippet rules: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan snippet rules: %w", err)
	}
	return ids, nil
}

func setSnippetRules(ctx context.Context, tx pgx.Tx, id int64, ruleIDs []int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM snippet_match_rules WHERE snippet_id = $1`, id); err != nil {
		return fmt.Errorf("clear snippet rules: %w", err)
	}
	if len(ruleIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO snippet_match_rules (snippet_id, rule_id)
		SELECT $1, r FROM unnest($2::bigint[]) AS r
		ON CONFLICT DO NOTHING`, id, normalizeIDs(ruleIDs))
	if err != nil {
		return fmt.Errorf("insert snippet rules: %w", err)
	}
	return nil
}

func ruleArgs(r MatchRule) []any {
	return []any{
		r.Priority, r.Exclude, r.Description,
		r.StartpageVersion, r.Name, r.Version, r.AppBuildID, r.BuildTarget,
		r.Locale, r.Channel, r.OSVersion, r.Distribution, r.DistributionVersion,
	}
}

func scanRule(row pgx.Row) (MatchRule, error) {
	var r MatchRule
	var desc, sv, name, ver, build, target, locale, channel, osv, dist, distv *string
	err := row.Scan(&r.ID, &r.Priority, &r.Exclude, &desc,
		&sv, &name, &ver, &build, &target, &locale, &channel, &osv, &dist, &distv)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatchRule{}, err
		}
		return MatchRule{}, fmt.Errorf("scan rule: %w", err)
	}
	r.Description = deref(desc)
	r.StartpageVersion = deref(sv)
	r.Name = deref(name)
	r.Version = deref(ver)
	r.AppBuildID = deref(build)
	r.BuildTarget = deref(target)
	r.Locale = deref(locale)
	r.Channel = deref(channel)
	r.OSVersion = deref(osv)
	r.Distribution = deref(dist)
	r.DistributionVersion = deref(distv)
	return r, nil
}

func scanSnippet(row pgx.Row) (Snippet, error) {
	var sn Snippet
	err := row.Scan(&sn.ID, &sn.Name, &sn.Body, &sn.Disabled, &sn.Preview, &sn.Priority,
		&sn.PubStart, &sn.PubEnd, &sn.Created, &sn.Modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snippet{}, err
		}
		return Snippet{}, fmt.Errorf("scan snippet: %w", err)
	}
	return sn, nil
}

// nullable columns hold wildcards as NULL
func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
