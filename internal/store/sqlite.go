package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withConnPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, opts: applyOptions(opts)}, nil
}

// withConnPragmas adds per-connection pragmas to the DSN so every pooled
// connection waits on locks and enforces foreign keys.
func withConnPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	name           TEXT NOT NULL,
	normalized_key TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_kind_key ON entities(kind, normalized_key);

CREATE TABLE IF NOT EXISTS aliases (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id      TEXT NOT NULL REFERENCES entities(id),
	kind           TEXT NOT NULL,
	raw_text       TEXT NOT NULL,
	normalized_key TEXT NOT NULL,
	provenance     TEXT NOT NULL,
	usage_count    INTEGER NOT NULL DEFAULT 1,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE (entity_id, normalized_key)
);

CREATE INDEX IF NOT EXISTS idx_aliases_kind_key ON aliases(kind, normalized_key);
CREATE INDEX IF NOT EXISTS idx_aliases_entity ON aliases(entity_id);

CREATE TABLE IF NOT EXISTS feedback (
	pattern           TEXT NOT NULL,
	entity_id         TEXT NOT NULL,
	confirm_count     INTEGER NOT NULL DEFAULT 0,
	reject_count      INTEGER NOT NULL DEFAULT 0,
	confirm_streak    INTEGER NOT NULL DEFAULT 0,
	last_confirmed_at DATETIME,
	last_rejected_at  DATETIME,
	updated_at        DATETIME NOT NULL,
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
	confidence               REAL NOT NULL,
	tier                     TEXT NOT NULL DEFAULT '',
	was_top_suggestion       INTEGER NOT NULL,
	created_at               DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_log_entity ON decision_log(chosen_entity_id);
CREATE INDEX IF NOT EXISTS idx_decision_log_source ON decision_log(source_record_id);

CREATE TRIGGER IF NOT EXISTS decision_log_no_update
BEFORE UPDATE ON decision_log
BEGIN
	SELECT RAISE(ABORT, 'decision_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS decision_log_no_delete
BEFORE DELETE ON decision_log
BEGIN
	SELECT RAISE(ABORT, 'decision_log is append-only');
END;
`

// Migrate creates tables, indexes and append-only triggers.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Entities ---

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.CanonicalEntity) error {
	if e.NormalizedKey == "" {
		e.NormalizedKey = normalize.Name(e.Name)
	}
	if e.NormalizedKey == "" {
		return ErrEmptyKey
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, name, normalized_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Name, e.NormalizedKey, now, now,
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateEntity, "sqlite: create entity %q", e.Name)
	}
	return eris.Wrap(err, "sqlite: create entity")
}

func (s *SQLiteStore) RenameEntity(ctx context.Context, id, name, normalizedKey string) (*model.CanonicalEntity, error) {
	if normalizedKey == "" {
		return nil, ErrEmptyKey
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET name = ?, normalized_key = ?, updated_at = ? WHERE id = ?`,
		name, normalizedKey, time.Now().UTC(), id,
	)
	if isUniqueViolation(err) {
		return nil, eris.Wrapf(ErrDuplicateEntity, "sqlite: rename entity %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: rename entity %s", id)
	}
	if err := checkRowsAffected(res, "entity", id); err != nil {
		return nil, err
	}
	return s.GetEntity(ctx, id)
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, normalized_key, created_at, updated_at FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: entity %s", id)
	}
	return e, eris.Wrap(err, "sqlite: get entity")
}

func (s *SQLiteStore) ListEntities(ctx context.Context, kind model.EntityKind) ([]model.CanonicalEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, normalized_key, created_at, updated_at FROM entities WHERE kind = ? ORDER BY name`,
		string(kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.CanonicalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

// --- Aliases ---

const aliasColumns = `id, entity_id, kind, raw_text, normalized_key, provenance, usage_count, created_at, updated_at`

func (s *SQLiteStore) FindExactAliases(ctx context.Context, kind model.EntityKind, normalizedKey string) ([]model.Alias, error) {
	return s.queryAliases(ctx, "sqlite: find exact aliases",
		`SELECT `+aliasColumns+` FROM aliases
		 WHERE kind = ? AND normalized_key = ?
		 ORDER BY CASE provenance WHEN 'manual' THEN 0 ELSE 1 END, usage_count DESC, id`,
		string(kind), normalizedKey,
	)
}

func (s *SQLiteStore) ListAliasesForEntity(ctx context.Context, entityID string) ([]model.Alias, error) {
	return s.queryAliases(ctx, "sqlite: list aliases for entity",
		`SELECT `+aliasColumns+` FROM aliases WHERE entity_id = ? ORDER BY usage_count DESC, id`, entityID)
}

func (s *SQLiteStore) ListAliases(ctx context.Context, kind model.EntityKind) ([]model.Alias, error) {
	return s.queryAliases(ctx, "sqlite: list aliases",
		`SELECT `+aliasColumns+` FROM aliases WHERE kind = ? ORDER BY id`, string(kind))
}

func (s *SQLiteStore) queryAliases(ctx context.Context, op, query string, args ...any) ([]model.Alias, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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

// UpsertAlias inserts or increments in a single statement; the entity's
// kind is copied from the entities table so an unknown entity inserts
// nothing and yields ErrNotFound.
func (s *SQLiteStore) UpsertAlias(ctx context.Context, entityID, rawText string, provenance model.Provenance) (*model.Alias, error) {
	key := normalize.Name(rawText)
	if key == "" {
		return nil, ErrEmptyKey
	}
	raw := strings.TrimSpace(rawText)

	return resilience.DoVal(ctx, s.opts.retry, func(ctx context.Context) (*model.Alias, error) {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO aliases (entity_id, kind, raw_text, normalized_key, provenance, usage_count, created_at, updated_at)
			SELECT id, kind, ?, ?, ?, 1, ?, ? FROM entities WHERE id = ?
			ON CONFLICT (entity_id, normalized_key) DO UPDATE SET
				usage_count = aliases.usage_count + 1,
				provenance = CASE
					WHEN aliases.provenance = 'manual' OR excluded.provenance = 'manual' THEN 'manual'
					ELSE 'learned' END,
				updated_at = excluded.updated_at`,
			raw, key, string(provenance), now, now, entityID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: upsert alias")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: upsert alias: entity %s", entityID)
		}

		row := s.db.QueryRowContext(ctx,
			`SELECT `+aliasColumns+` FROM aliases WHERE entity_id = ? AND normalized_key = ?`, entityID, key)
		a, err := scanAlias(row)
		return a, eris.Wrap(err, "sqlite: read upserted alias")
	})
}

// --- Feedback ---

const feedbackColumns = `pattern, entity_id, confirm_count, reject_count, confirm_streak, last_confirmed_at, last_rejected_at, updated_at`

func (s *SQLiteStore) IncrementConfirm(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	return s.incrementFeedback(ctx, pattern, entityID, "sqlite: increment confirm", `
		INSERT INTO feedback (pattern, entity_id, confirm_count, reject_count, confirm_streak, last_confirmed_at, updated_at)
		VALUES (?, ?, 1, 0, 1, ?, ?)
		ON CONFLICT (pattern, entity_id) DO UPDATE SET
			confirm_count = feedback.confirm_count + 1,
			confirm_streak = feedback.confirm_streak + 1,
			last_confirmed_at = excluded.last_confirmed_at,
			updated_at = excluded.updated_at`)
}

func (s *SQLiteStore) IncrementReject(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	return s.incrementFeedback(ctx, pattern, entityID, "sqlite: increment reject", `
		INSERT INTO feedback (pattern, entity_id, confirm_count, reject_count, confirm_streak, last_rejected_at, updated_at)
		VALUES (?, ?, 0, 1, 0, ?, ?)
		ON CONFLICT (pattern, entity_id) DO UPDATE SET
			reject_count = feedback.reject_count + 1,
			confirm_streak = 0,
			last_rejected_at = excluded.last_rejected_at,
			updated_at = excluded.updated_at`)
}

func (s *SQLiteStore) incrementFeedback(ctx context.Context, pattern, entityID, op, upsert string) (*model.FeedbackRecord, error) {
	if pattern == "" {
		return nil, ErrEmptyKey
	}
	return resilience.DoVal(ctx, s.opts.retry, func(ctx context.Context) (*model.FeedbackRecord, error) {
		now := time.Now().UTC()
		if _, err := s.db.ExecContext(ctx, upsert, pattern, entityID, now, now); err != nil {
			return nil, eris.Wrap(err, op)
		}
		rec, err := s.GetFeedback(ctx, pattern, entityID)
		if err == nil && rec == nil {
			err = eris.Wrapf(ErrNotFound, "%s: feedback %s/%s", op, pattern, entityID)
		}
		return rec, err
	})
}

func (s *SQLiteStore) GetFeedback(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE pattern = ? AND entity_id = ?`, pattern, entityID)
	rec, err := scanFeedback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, eris.Wrap(err, "sqlite: get feedback")
}

func (s *SQLiteStore) ListFeedbackForPattern(ctx context.Context, pattern string) ([]model.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE pattern = ? ORDER BY entity_id`, pattern)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feedback")
	}
	defer rows.Close()

	var out []model.FeedbackRecord
	for rows.Next() {
		rec, err := scanFeedback(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list feedback iterate")
}

// --- Decision log ---

func (s *SQLiteStore) AppendDecision(ctx context.Context, entry *model.DecisionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_log (
			id, source_record_id, kind, raw_input, normalized_key,
			chosen_entity_id, chosen_entity_name, top_suggestion_entity_id,
			origin, confidence, tier, was_top_suggestion, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SourceRecordID, string(entry.Kind), entry.RawInput, entry.NormalizedKey,
		entry.ChosenEntityID, entry.ChosenEntityName, entry.TopSuggestionEntityID,
		string(entry.Origin), entry.Confidence, string(entry.Tier), entry.WasTopSuggestion, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append decision")
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, filter model.DecisionFilter) ([]model.DecisionLogEntry, error) {
	query := `SELECT id, source_record_id, kind, raw_input, normalized_key,
		chosen_entity_id, chosen_entity_name, top_suggestion_entity_id,
		origin, confidence, tier, was_top_suggestion, created_at
		FROM decision_log WHERE 1=1`
	var args []any

	if filter.EntityID != "" {
		query += ` AND chosen_entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.SourceRecordID != "" {
		query += ` AND source_record_id = ?`
		args = append(args, filter.SourceRecordID)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list decisions")
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
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list decisions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code() == 2067 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntity(row scannable) (*model.CanonicalEntity, error) {
	var e model.CanonicalEntity
	if err := row.Scan(&e.ID, &e.Kind, &e.Name, &e.NormalizedKey, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanAlias(row scannable) (*model.Alias, error) {
	var a model.Alias
	if err := row.Scan(&a.ID, &a.EntityID, &a.Kind, &a.RawText, &a.NormalizedKey,
		&a.Provenance, &a.UsageCount, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanFeedback(row scannable) (*model.FeedbackRecord, error) {
	var rec model.FeedbackRecord
	var confirmed, rejected sql.NullTime
	if err := row.Scan(&rec.Pattern, &rec.EntityID, &rec.ConfirmCount, &rec.RejectCount,
		&rec.ConfirmStreak, &confirmed, &rejected, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if confirmed.Valid {
		t := confirmed.Time
		rec.LastConfirmedAt = &t
	}
	if rejected.Valid {
		t := rejected.Time
		rec.LastRejectedAt = &t
	}
	return &rec, nil
}
