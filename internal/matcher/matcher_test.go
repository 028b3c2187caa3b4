package matcher

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/feedback"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/similarity"
	"github.com/sells-group/entity-resolver/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// stubScorer returns fixed similarities for listed key pairs, 1 for equal
// keys, and 0 otherwise.
type stubScorer map[string]float64

func (s stubScorer) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	if v, ok := s[a+"|"+b]; ok {
		return v
	}
	return s[b+"|"+a]
}

type fixture struct {
	store  *store.SQLiteStore
	ledger *feedback.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "matcher.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return &fixture{store: s, ledger: feedback.NewLedger(s)}
}

func (f *fixture) matcher(scorer Scorer, cfg Config) *Matcher {
	return New(f.store, scorer, f.ledger, cfg)
}

func (f *fixture) entity(t *testing.T, kind model.EntityKind, name string) *model.CanonicalEntity {
	t.Helper()
	e := &model.CanonicalEntity{Kind: kind, Name: name}
	require.NoError(t, f.store.CreateEntity(context.Background(), e))
	return e
}

func TestResolve_EmptyInput(t *testing.T) {
	f := newFixture(t)
	f.entity(t, model.KindSupplier, "Acme")
	m := f.matcher(stubScorer{}, DefaultConfig())

	for _, raw := range []string{"", "   ", "--!!--"} {
		list, err := m.Resolve(context.Background(), raw, model.KindSupplier)
		require.NoError(t, err)
		assert.True(t, list.Empty(), "raw %q", raw)
		assert.Empty(t, list.NormalizedKey)
	}
}

func TestResolve_UnknownKind(t *testing.T) {
	f := newFixture(t)
	m := f.matcher(stubScorer{}, DefaultConfig())
	_, err := m.Resolve(context.Background(), "Acme", model.EntityKind("vendor"))
	assert.Error(t, err)
}

func TestResolve_BelowFloorIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.entity(t, model.KindSupplier, "Acme")
	m := f.matcher(stubScorer{"zenith|acme": 0.49}, DefaultConfig())

	list, err := m.Resolve(context.Background(), "Zenith", model.KindSupplier)
	require.NoError(t, err)
	assert.True(t, list.Empty())
	assert.NotNil(t, list.Candidates)
	assert.Equal(t, "zenith", list.NormalizedKey)
}

func TestResolve_ManualAliasShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.entity(t, model.KindSupplier, "Acme")
	f.entity(t, model.KindSupplier, "Acmex")
	f.entity(t, model.KindSupplier, "Acmeo")
	_, err := f.store.UpsertAlias(ctx, acme.ID, "ACM", model.ProvenanceManual)
	require.NoError(t, err)

	m := f.matcher(stubScorer{"acm|acmex": 0.9, "acm|acmeo": 0.9, "acm|acme": 0.9}, DefaultConfig())
	list, err := m.Resolve(ctx, "acm.", model.KindSupplier)
	require.NoError(t, err)

	assert.True(t, list.ShortCircuit)
	require.Len(t, list.Candidates, 1)
	top := list.Top()
	assert.Equal(t, acme.ID, top.EntityID)
	assert.Equal(t, model.TierA, top.Tier)
	assert.Equal(t, 100.0, top.Confidence)
	assert.Equal(t, model.OriginAliasMatch, top.Origin)
	assert.Equal(t, 1, top.Rank)
}

func TestResolve_LearnedAliasReachesTierAThenPromotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alinma := f.entity(t, model.KindBank, "Alinma")
	m := f.matcher(stubScorer{"alinma invest|alinma": 0.78}, DefaultConfig())

	list, err := m.Resolve(ctx, "ALINMA INVEST", model.KindBank)
	require.NoError(t, err)
	require.Len(t, list.Candidates, 1)
	assert.InDelta(t, 78, list.Top().Confidence, 1e-9)
	assert.Equal(t, model.TierB, list.Top().Tier)
	assert.Equal(t, model.OriginFuzzyMatch, list.Top().Origin)

	// User confirms: alias learned, pattern confirmed once.
	_, err = f.store.UpsertAlias(ctx, alinma.ID, "ALINMA INVEST", model.ProvenanceLearned)
	require.NoError(t, err)
	_, err = f.ledger.RecordConfirm(ctx, "alinma invest", alinma.ID)
	require.NoError(t, err)

	list, err = m.Resolve(ctx, "ALINMA INVEST", model.KindBank)
	require.NoError(t, err)
	assert.False(t, list.ShortCircuit)
	require.NotEmpty(t, list.Candidates)
	assert.Equal(t, model.TierA, list.Top().Tier)
	assert.Equal(t, 100.0, list.Top().Confidence)
	assert.Equal(t, model.OriginAliasMatch, list.Top().Origin)
	assert.Equal(t, int64(1), list.Top().ConfirmStreak)

	for range 2 {
		_, err = f.ledger.RecordConfirm(ctx, "alinma invest", alinma.ID)
		require.NoError(t, err)
	}
	list, err = m.Resolve(ctx, "Alinma Invest", model.KindBank)
	require.NoError(t, err)
	assert.True(t, list.ShortCircuit)
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, alinma.ID, list.Top().EntityID)

	// A rejection drops the alias back to the fuzzy pass.
	_, err = f.ledger.RecordReject(ctx, "alinma invest", alinma.ID)
	require.NoError(t, err)
	list, err = m.Resolve(ctx, "Alinma Invest", model.KindBank)
	require.NoError(t, err)
	assert.False(t, list.ShortCircuit)
	assert.InDelta(t, 75, list.Top().Confidence, 1e-9)
}

func TestResolve_RejectionDecayKeepsCandidateVisible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	x := f.entity(t, model.KindSupplier, "Gulf Star")
	m := f.matcher(stubScorer{"gulf stars|gulf star": 0.72}, DefaultConfig())

	_, err := f.ledger.RecordReject(ctx, "gulf stars", x.ID)
	require.NoError(t, err)
	list, err := m.Resolve(ctx, "Gulf Stars", model.KindSupplier)
	require.NoError(t, err)
	require.Len(t, list.Candidates, 1)
	assert.InDelta(t, 54, list.Top().Confidence, 1e-9)
	assert.Equal(t, model.TierC, list.Top().Tier)

	for range 2 {
		_, err = f.ledger.RecordReject(ctx, "gulf stars", x.ID)
		require.NoError(t, err)
	}
	list, err = m.Resolve(ctx, "Gulf Stars", model.KindSupplier)
	require.NoError(t, err)
	require.Len(t, list.Candidates, 1)
	assert.InDelta(t, 30.375, list.Top().Confidence, 1e-9)
	assert.Equal(t, model.TierD, list.Top().Tier)
	assert.InDelta(t, 72, list.Top().BaseScore, 1e-9)
	assert.Equal(t, int64(3), list.Top().RejectCount)
}

func TestResolve_KindScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.entity(t, model.KindBank, "Riyad")
	supplier := f.entity(t, model.KindSupplier, "Riyad Supplies")
	m := f.matcher(stubScorer{"riyad|riyad supplies": 0.8}, DefaultConfig())

	list, err := m.Resolve(ctx, "Riyad", model.KindSupplier)
	require.NoError(t, err)
	require.Len(t, list.Candidates, 1)
	assert.Equal(t, supplier.ID, list.Top().EntityID)
	assert.Equal(t, model.KindSupplier, list.Top().Kind)
}

func TestResolve_DirectMatchAndDedup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	acme := f.entity(t, model.KindSupplier, "Acme")
	_, err := f.store.UpsertAlias(ctx, acme.ID, "Acme Intl", model.ProvenanceLearned)
	require.NoError(t, err)

	m := f.matcher(stubScorer{"acme|acme intl": 0.7}, DefaultConfig())
	list, err := m.Resolve(ctx, "ACME", model.KindSupplier)
	require.NoError(t, err)

	require.Len(t, list.Candidates, 1)
	top := list.Top()
	assert.Equal(t, model.OriginDirectMatch, top.Origin)
	assert.Equal(t, 100.0, top.Confidence)
	assert.Zero(t, top.AliasID)
	assert.Equal(t, "acme", top.MatchedKey)
}

func TestResolve_UsageBreaksSimilarityTies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.entity(t, model.KindSupplier, "Alpha Foods")
	b := f.entity(t, model.KindSupplier, "Beta Foods")
	_, err := f.store.UpsertAlias(ctx, a.ID, "AF One", model.ProvenanceLearned)
	require.NoError(t, err)
	for range 7 {
		_, err = f.store.UpsertAlias(ctx, b.ID, "AF Two", model.ProvenanceLearned)
		require.NoError(t, err)
	}

	m := f.matcher(stubScorer{"af|af one": 0.8, "af|af two": 0.8}, DefaultConfig())
	list, err := m.Resolve(ctx, "AF", model.KindSupplier)
	require.NoError(t, err)
	require.Len(t, list.Candidates, 2)

	assert.Equal(t, b.ID, list.Candidates[0].EntityID)
	assert.InDelta(t, 83, list.Candidates[0].Confidence, 1e-9) // 80 + log2(8)
	assert.Equal(t, a.ID, list.Candidates[1].EntityID)
	assert.InDelta(t, 81, list.Candidates[1].Confidence, 1e-9) // 80 + log2(2)
	assert.Equal(t, 1, list.Candidates[0].Rank)
	assert.Equal(t, 2, list.Candidates[1].Rank)
}

func TestResolve_TruncatesToMaxCandidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	scores := stubScorer{}
	for i := range 8 {
		name := fmt.Sprintf("Nova %c", 'a'+i)
		e := f.entity(t, model.KindSupplier, name)
		scores["nova|"+e.NormalizedKey] = 0.9 - float64(i)*0.05
	}

	m := f.matcher(scores, Config{MaxCandidates: 3})
	list, err := m.Resolve(ctx, "Nova", model.KindSupplier)
	require.NoError(t, err)
	require.Len(t, list.Candidates, 3)
	assert.InDelta(t, 90, list.Candidates[0].Confidence, 1e-9)
	assert.Equal(t, "Nova a", list.Candidates[0].EntityName)
	assert.Equal(t, 3, list.Candidates[2].Rank)
}

func TestResolve_RealScorer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rajhi := f.entity(t, model.KindBank, "Al Rajhi Bank")
	f.entity(t, model.KindBank, "Saudi National Bank")

	m := f.matcher(similarity.New(similarity.DefaultWeights()), DefaultConfig())
	list, err := m.Resolve(ctx, "AL-RAJHI", model.KindBank)
	require.NoError(t, err)
	require.NotEmpty(t, list.Candidates)
	assert.Equal(t, rajhi.ID, list.Top().EntityID)
	assert.Equal(t, model.TierA, list.Top().Tier)
}

func TestNew_Defaults(t *testing.T) {
	m := New(nil, stubScorer{}, nil, Config{UsageBoost: -1})
	assert.Equal(t, 5, m.cfg.MaxCandidates)
	assert.Equal(t, 0.5, m.cfg.SimilarityFloor)
	assert.Zero(t, m.cfg.UsageBoost)
}
