package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/db"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool db.Pool
	opts options
}

// NewPostgres connects a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig, opts ...Option) (*PostgresStore, error) {
	pool, err := db.NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return NewPostgresFromPool(pool, opts...), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool, opts ...Option) *PostgresStore {
	return &PostgresStore{pool: pool, opts: applyOptions(opts)}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	name           TEXT NOT NULL,
	normalized_key TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_kind_key ON entities(kind, normalized_key);

CREATE TABLE IF NOT EXISTS aliases (
	id             BIGSERIAL PRIMARY KEY,
	entity_id      TEXT NOT NULL REFERENCES entities(id),
	kind           TEXT NOT NULL,
	raw_text       TEXT NOT NULL,
	normalized_key TEXT NOT NULL,
	provenance     TEXT NOT NULL CHECK (provenance IN ('manual', 'learned')),
	usage_count    BIGINT NOT NULL DEFAULT 1 CHECK (usage_count > 0),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (entity_id, normalized_key)
);

CREATE INDEX IF NOT EXISTS idx_aliases_kind_key ON aliases(kind, normalized_key);
CREATE INDEX IF NOT EXISTS idx_aliases_entity ON aliases(entity_id);

CREATE TABLE IF NOT EXISTS feedback (
	pattern           TEXT NOT NULL,
	entity_id         TEXT NOT NULL,
	confirm_count     BIGINT NOT NULL DEFAULT 0,
	reject_count      BIGINT NOT NULL DEFAULT 0,
	confirm_streak    BIGINT NOT NULL DEFAULT 0,
	last_confirmed_at TIMESTAMPTZ,
	last_rejected_at  TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pattern, entity_id)
);

CREATE TABLE IF NOT EXISTS decision_log (
	id                       TEXT PRIMARY KEY,
	source_record_id         TEXT NOT NULL,
	kind                     TEXT NOT NULL,
	raw_input                TEXT NOT NULL,
	normalized_key           TEXT NOT NULL,
	chosen_entity_id         TEXT NOT NULL,
	chosen_entity_name       TEXT NOT NULL,
	top_suggestion_entity_id TEXT NOT NULL DEFAULT '',
	origin                   TEXT NOT NULL,
	confidence               DOUBLE PRECISION NOT NULL,
	tier                     TEXT NOT NULL DEFAULT '',
	was_top_suggestion       BOOLEAN NOT NULL,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_decision_log_entity ON decision_log(chosen_entity_id);
CREATE INDEX IF NOT EXISTS idx_decision_log_source ON decision_log(source_record_id);

CREATE OR REPLACE FUNCTION decision_log_append_only() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'decision_log is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS decision_log_no_mutation ON decision_log;
CREATE TRIGGER decision_log_no_mutation
BEFORE UPDATE OR DELETE ON decision_log
FOR EACH ROW EXECUTE FUNCTION decision_log_append_only();
`

// Migrate creates tables, indexes and the append-only trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Entities ---

func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.CanonicalEntity) error {
	if e.NormalizedKey == "" {
		e.NormalizedKey = normalize.Name(e.Name)
	}
	if e.NormalizedKey == "" {
		return ErrEmptyKey
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO entities (id, kind, name, normalized_key)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		e.ID, string(e.Kind), e.Name, e.NormalizedKey,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if pgCode(err) == "23505" {
		return eris.Wrapf(ErrDuplicateEntity, "postgres: create entity %q", e.Name)
	}
	return eris.Wrap(err, "postgres: create entity")
}

func (s *PostgresStore) RenameEntity(ctx context.Context, id, name, normalizedKey string) (*model.CanonicalEntity, error) {
	if normalizedKey == "" {
		return nil, ErrEmptyKey
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE entities SET name = $2, normalized_key = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, kind, name, normalized_key, created_at, updated_at`,
		id, name, normalizedKey,
	)
	e, err := scanEntity(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
	case pgCode(err) == "23505":
		return nil, eris.Wrapf(ErrDuplicateEntity, "postgres: rename entity %s", id)
	}
	return e, eris.Wrapf(err, "postgres: rename entity %s", id)
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, name, normalized_key, created_at, updated_at FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: entity %s", id)
	}
	return e, eris.Wrap(err, "postgres: get entity")
}

func (s *PostgresStore) ListEntities(ctx context.Context, kind model.EntityKind) ([]model.CanonicalEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, name, normalized_key, created_at, updated_at FROM entities WHERE kind = $1 ORDER BY name`,
		string(kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.CanonicalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

// --- Aliases ---

func (s *PostgresStore) FindExactAliases(ctx context.Context, kind model.EntityKind, normalizedKey string) ([]model.Alias, error) {
	return s.queryAliases(ctx, "postgres: find exact aliases", `
		SELECT `+aliasColumns+` FROM aliases
		WHERE kind = $1 AND normalized_key = $2
		ORDER BY CASE provenance WHEN 'manual' THEN 0 ELSE 1 END, usage_count DESC, id`,
		string(kind), normalizedKey,
	)
}

func (s *PostgresStore) ListAliasesForEntity(ctx context.Context, entityID string) ([]model.Alias, error) {
	return s.queryAliases(ctx, "postgres: list aliases for entity",
		`SELECT `+aliasColumns+` FROM aliases WHERE entity_id = $1 ORDER BY usage_count DESC, id`, entityID)
}

func (s *PostgresStore) ListAliases(ctx context.Context, kind model.EntityKind) ([]model.Alias, error) {
	return s.queryAliases(ctx, "postgres: list aliases",
		`SELECT `+aliasColumns+` FROM aliases WHERE kind = $1 ORDER BY id`, string(kind))
}

func (s *PostgresStore) queryAliases(ctx context.Context, op, query string, args ...any) ([]model.Alias, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	var out []model.Alias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, eris.Wrap(err, op)
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), op)
}

const pgUpsertAlias = `
INSERT INTO aliases (entity_id, kind, raw_text, normalized_key, provenance, usage_count)
SELECT id, kind, $2, $3, $4, 1 FROM entities WHERE id = $1
ON CONFLICT (entity_id, normalized_key) DO UPDATE SET
	usage_count = aliases.usage_count + 1,
	provenance = CASE
		WHEN aliases.provenance = 'manual' OR EXCLUDED.provenance = 'manual' THEN 'manual'
		ELSE 'learned' END,
	updated_at = now()
RETURNING ` + aliasColumns

// UpsertAlias inserts or increments in one statement. An unknown entity
// selects no row, returns nothing, and yields ErrNotFound.
func (s *PostgresStore) UpsertAlias(ctx context.Context, entityID, rawText string, provenance model.Provenance) (*model.Alias, error) {
	key := normalize.Name(rawText)
	if key == "" {
		return nil, ErrEmptyKey
	}
	raw := strings.TrimSpace(rawText)

	return resilience.DoVal(ctx, s.opts.retry, func(ctx context.Context) (*model.Alias, error) {
		a, err := scanAlias(s.pool.QueryRow(ctx, pgUpsertAlias, entityID, raw, key, string(provenance)))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: upsert alias: entity %s", entityID)
		}
		return a, eris.Wrap(err, "postgres: upsert alias")
	})
}

// --- Feedback ---

const pgIncrementConfirm = `
INSERT INTO feedback (pattern, entity_id, confirm_count, reject_count, confirm_streak, last_confirmed_at, updated_at)
VALUES ($1, $2, 1, 0, 1, now(), now())
ON CONFLICT (pattern, entity_id) DO UPDATE SET
	confirm_count = feedback.confirm_count + 1,
	confirm_streak = feedback.confirm_streak + 1,
	last_confirmed_at = now(),
	updated_at = now()
RETURNING ` + feedbackColumns

const pgIncrementReject = `
INSERT INTO feedback (pattern, entity_id, confirm_count, reject_count, confirm_streak, last_rejected_at, updated_at)
VALUES ($1, $2, 0, 1, 0, now(), now())
ON CONFLICT (pattern, entity_id) DO UPDATE SET
	reject_count = feedback.reject_count + 1,
	confirm_streak = 0,
	last_rejected_at = now(),
	updated_at = now()
RETURNING ` + feedbackColumns

func (s *PostgresStore) IncrementConfirm(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	return s.incrementFeedback(ctx, pattern, entityID, "postgres: increment confirm", pgIncrementConfirm)
}

func (s *PostgresStore) IncrementReject(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	return s.incrementFeedback(ctx, pattern, entityID, "postgres: increment reject", pgIncrementReject)
}

func (s *PostgresStore) incrementFeedback(ctx context.Context, pattern, entityID, op, query string) (*model.FeedbackRecord, error) {
	if pattern == "" {
		return nil, ErrEmptyKey
	}
	return resilience.DoVal(ctx, s.opts.retry, func(ctx context.Context) (*model.FeedbackRecord, error) {
		rec, err := scanPgFeedback(s.pool.QueryRow(ctx, query, pattern, entityID))
		return rec, eris.Wrap(err, op)
	})
}

func (s *PostgresStore) GetFeedback(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	rec, err := scanPgFeedback(s.pool.QueryRow(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE pattern = $1 AND entity_id = $2`, pattern, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "postgres: get feedback")
}

func (s *PostgresStore) ListFeedbackForPattern(ctx context.Context, pattern string) ([]model.FeedbackRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE pattern = $1 ORDER BY entity_id`, pattern)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feedback")
	}
	defer rows.Close()

	var out []model.FeedbackRecord
	for rows.Next() {
		rec, err := scanPgFeedback(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list feedback iterate")
}

// --- Decision log ---

func (s *PostgresStore) AppendDecision(ctx context.Context, entry *model.DecisionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO decision_log (
			id, source_record_id, kind, raw_input, normalized_key,
			chosen_entity_id, chosen_entity_name, top_suggestion_entity_id,
			origin, confidence, tier, was_top_suggestion, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.SourceRecordID, string(entry.Kind), entry.RawInput, entry.NormalizedKey,
		entry.ChosenEntityID, entry.ChosenEntityName, entry.TopSuggestionEntityID,
		string(entry.Origin), entry.Confidence, string(entry.Tier), entry.WasTopSuggestion, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append decision")
}

func (s *PostgresStore) ListDecisions(ctx context.Context, filter model.DecisionFilter) ([]model.DecisionLogEntry, error) {
	query := `SELECT id, source_record_id, kind, raw_input, normalized_key,
		chosen_entity_id, chosen_entity_name, top_suggestion_entity_id,
		origin, confidence, tier, was_top_suggestion, created_at
		FROM decision_log WHERE 1=1`
	var args []any

	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(` AND chosen_entity_id = $%d`, len(args))
	}
	if filter.SourceRecordID != "" {
		args = append(args, filter.SourceRecordID)
		query += fmt.Sprintf(` AND source_record_id = $%d`, len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list decisions")
	}
	defer rows.Close()

	var out []model.DecisionLogEntry
	for rows.Next() {
		var d model.DecisionLogEntry
		if err := rows.Scan(
			&d.ID, &d.SourceRecordID, &d.Kind, &d.RawInput, &d.NormalizedKey,
			&d.ChosenEntityID, &d.ChosenEntityName, &d.TopSuggestionEntityID,
			&d.Origin, &d.Confidence, &d.Tier, &d.WasTopSuggestion, &d.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list decisions iterate")
}

// helpers

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func scanPgFeedback(row scannable) (*model.FeedbackRecord, error) {
	var rec model.FeedbackRecord
	if err := row.Scan(&rec.Pattern, &rec.EntityID, &rec.ConfirmCount, &rec.RejectCount,
		&rec.ConfirmStreak, &rec.LastConfirmedAt, &rec.LastRejectedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
