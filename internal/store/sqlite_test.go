package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
)

var _ Store = (*SQLiteStore)(nil)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "resolver.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func mustEntity(t *testing.T, s *SQLiteStore, kind model.EntityKind, name string) *model.CanonicalEntity {
	t.Helper()
	e := &model.CanonicalEntity{Kind: kind, Name: name}
	require.NoError(t, s.CreateEntity(context.Background(), e))
	return e
}

func TestSQLiteMigrate_Idempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLiteEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	e := mustEntity(t, s, model.KindBank, "Alinma Bank")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "alinma", e.NormalizedKey)

	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alinma Bank", got.Name)
	assert.Equal(t, model.KindBank, got.Kind)

	// Same key, same kind.
	err = s.CreateEntity(ctx, &model.CanonicalEntity{Kind: model.KindBank, Name: "ALINMA"})
	assert.ErrorIs(t, err, ErrDuplicateEntity)

	// Same key, other kind is fine.
	mustEntity(t, s, model.KindSupplier, "Alinma")

	banks, err := s.ListEntities(ctx, model.KindBank)
	require.NoError(t, err)
	assert.Len(t, banks, 1)

	_, err = s.GetEntity(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRenameEntity(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	a := mustEntity(t, s, model.KindSupplier, "Acme")
	mustEntity(t, s, model.KindSupplier, "Zenith")

	renamed, err := s.RenameEntity(ctx, a.ID, "Acme Holdings", "acme holdings")
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings", renamed.Name)
	assert.Equal(t, a.ID, renamed.ID)

	_, err = s.RenameEntity(ctx, a.ID, "Zenith", "zenith")
	assert.ErrorIs(t, err, ErrDuplicateEntity)

	_, err = s.RenameEntity(ctx, "missing", "X", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.RenameEntity(ctx, a.ID, "", "")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestSQLiteUpsertAlias(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	e := mustEntity(t, s, model.KindSupplier, "Acme Trading")

	a, err := s.UpsertAlias(ctx, e.ID, "ACME Est.", model.ProvenanceLearned)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.UsageCount)
	assert.Equal(t, model.ProvenanceLearned, a.Provenance)
	assert.Equal(t, model.KindSupplier, a.Kind)
	assert.Equal(t, "acme", a.NormalizedKey)

	a, err = s.UpsertAlias(ctx, e.ID, "acme est", model.ProvenanceManual)
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.UsageCount)
	assert.Equal(t, model.ProvenanceManual, a.Provenance)

	// A learned upsert never downgrades a manual alias.
	a, err = s.UpsertAlias(ctx, e.ID, "Acme", model.ProvenanceLearned)
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.UsageCount)
	assert.Equal(t, model.ProvenanceManual, a.Provenance)

	all, err := s.ListAliasesForEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.UpsertAlias(ctx, "missing", "Acme", model.ProvenanceLearned)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpsertAlias(ctx, e.ID, "  --  ", model.ProvenanceLearned)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestSQLiteFindExactAliases_ManualFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	a := mustEntity(t, s, model.KindSupplier, "Gulf Star Trading")
	b := mustEntity(t, s, model.KindSupplier, "Gulf Star Contracting Holdings")

	for range 4 {
		_, err := s.UpsertAlias(ctx, a.ID, "GSC", model.ProvenanceLearned)
		require.NoError(t, err)
	}
	_, err := s.UpsertAlias(ctx, b.ID, "GSC", model.ProvenanceManual)
	require.NoError(t, err)

	got, err := s.FindExactAliases(ctx, model.KindSupplier, "gsc")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, b.ID, got[0].EntityID)
	assert.Equal(t, a.ID, got[1].EntityID)
	assert.Equal(t, int64(4), got[1].UsageCount)

	none, err := s.FindExactAliases(ctx, model.KindBank, "gsc")
	require.NoError(t, err)
	assert.Empty(t, none)

	supplierAliases, err := s.ListAliases(ctx, model.KindSupplier)
	require.NoError(t, err)
	assert.Len(t, supplierAliases, 2)
}

func TestSQLiteFeedback(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	rec, err := s.GetFeedback(ctx, "acme", "e1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for range 3 {
		rec, err = s.IncrementConfirm(ctx, "acme", "e1")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), rec.ConfirmCount)
	assert.Equal(t, int64(3), rec.ConfirmStreak)
	assert.NotNil(t, rec.LastConfirmedAt)
	assert.Nil(t, rec.LastRejectedAt)

	rec, err = s.IncrementReject(ctx, "acme", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.ConfirmCount)
	assert.Equal(t, int64(1), rec.RejectCount)
	assert.Zero(t, rec.ConfirmStreak)
	assert.NotNil(t, rec.LastRejectedAt)

	rec, err = s.IncrementConfirm(ctx, "acme", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.ConfirmCount)
	assert.Equal(t, int64(1), rec.ConfirmStreak)

	_, err = s.IncrementReject(ctx, "acme", "e2")
	require.NoError(t, err)

	list, err := s.ListFeedbackForPattern(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "e1", list[0].EntityID)

	_, err = s.IncrementConfirm(ctx, "", "e1")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestSQLiteDecisionLog_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	for i, entity := range []string{"e1", "e2", "e1"} {
		entry := &model.DecisionLogEntry{
			SourceRecordID:   "rec-" + string(rune('a'+i)),
			Kind:             model.KindSupplier,
			RawInput:         "Acme",
			NormalizedKey:    "acme",
			ChosenEntityID:   entity,
			ChosenEntityName: "Acme",
			Origin:           model.OriginFuzzyMatch,
			Confidence:       81.5,
			Tier:             model.TierB,
			WasTopSuggestion: true,
		}
		require.NoError(t, s.AppendDecision(ctx, entry))
		assert.NotEmpty(t, entry.ID)
	}

	all, err := s.ListDecisions(ctx, model.DecisionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byEntity, err := s.ListDecisions(ctx, model.DecisionFilter{EntityID: "e1"})
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)
	assert.Equal(t, model.TierB, byEntity[0].Tier)
	assert.True(t, byEntity[0].WasTopSuggestion)

	bySource, err := s.ListDecisions(ctx, model.DecisionFilter{SourceRecordID: "rec-b"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "e2", bySource[0].ChosenEntityID)

	limited, err := s.ListDecisions(ctx, model.DecisionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = s.db.ExecContext(ctx, `UPDATE decision_log SET chosen_entity_id = 'x'`)
	assert.Error(t, err)
	_, err = s.db.ExecContext(ctx, `DELETE FROM decision_log`)
	assert.Error(t, err)

	after, err := s.ListDecisions(ctx, model.DecisionFilter{EntityID: "e1"})
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestSQLiteConcurrentCounters_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	e := mustEntity(t, s, model.KindSupplier, "Acme")

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker*2)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				if _, err := s.UpsertAlias(ctx, e.ID, "ACME Co", model.ProvenanceLearned); err != nil {
					errs <- err
				}
				if _, err := s.IncrementConfirm(ctx, "acme co", e.ID); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	aliases, err := s.ListAliasesForEntity(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, int64(workers*perWorker), aliases[0].UsageCount)

	rec, err := s.GetFeedback(ctx, "acme co", e.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(workers*perWorker), rec.ConfirmCount)
	assert.Equal(t, int64(workers*perWorker), rec.ConfirmStreak)
}

func TestWithConnPragmas(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", withConnPragmas("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", withConnPragmas("file:a.db?mode=rwc"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(0)", withConnPragmas("a.db?_pragma=foreign_keys(0)"))
}
