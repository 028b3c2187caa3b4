package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/config"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/monitoring"
)

func testConfig(dsn string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: dsn},
		Matcher: config.MatcherConfig{
			MaxCandidates: 5, SimilarityFloor: 0.5, TokenWeight: 0.6, EditWeight: 0.4,
			UsageBoost: 1, MaxUsageBoost: 5,
		},
		Learning: config.LearningConfig{PromotionThreshold: 3, DecayFactor: 0.75, MaxRetries: 3, RetryBackoffMs: 1},
		Batch:    config.BatchConfig{Concurrency: 4},
	}
}

func newTestEnv(t *testing.T) *resolverEnv {
	t.Helper()
	ctx := context.Background()
	c := testConfig(filepath.Join(t.TempDir(), "cmd.db"))
	st, err := initStore(ctx, c)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	env := newEnv(st, c)
	t.Cleanup(env.Close)
	return env
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := testConfig("x")
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestReadNames(t *testing.T) {
	names, err := readNames(strings.NewReader("Al Rajhi Bank\n\n  GSTAR  \n"))
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, batchResult{Line: 1, Raw: "Al Rajhi Bank"}, names[0])
	assert.Equal(t, batchResult{Line: 3, Raw: "GSTAR"}, names[1])
}

func TestResolveBatch_KeepsOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	bank, err := env.Catalog.CreateEntity(ctx, model.KindBank, "Al Rajhi Bank")
	require.NoError(t, err)
	_, err = env.Catalog.AddManualAlias(ctx, bank.ID, "ARB")
	require.NoError(t, err)

	names, err := readNames(strings.NewReader("ARB\nzzzz qqqq\nAl Rajhi Bank\n"))
	require.NoError(t, err)

	results := resolveBatch(ctx, env.Matcher, names, model.KindBank, 2)
	require.Len(t, results, 3)

	assert.Equal(t, "ARB", results[0].Raw)
	require.NotNil(t, results[0].Result)
	assert.True(t, results[0].Result.ShortCircuit)
	assert.Equal(t, bank.ID, results[0].Result.Top().EntityID)

	require.NotNil(t, results[1].Result)
	assert.True(t, results[1].Result.Empty())

	assert.Equal(t, 3, results[2].Line)
	assert.Equal(t, model.TierA, results[2].Result.Top().Tier)

	var buf bytes.Buffer
	require.NoError(t, writeBatch(&buf, results))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var first batchResult
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "ARB", first.Raw)
}

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string, model.EntityKind) (*model.CandidateList, error) {
	return nil, errors.New("store unavailable")
}

func TestResolveBatch_FailuresDoNotAbort(t *testing.T) {
	names := []batchResult{{Line: 1, Raw: "a"}, {Line: 2, Raw: "b"}}
	results := resolveBatch(context.Background(), brokenResolver{}, names, model.KindSupplier, 1)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "store unavailable", r.Error)
		assert.Nil(t, r.Result)
	}
}

func TestFormatCandidates(t *testing.T) {
	var buf bytes.Buffer
	formatCandidates(&buf, &model.CandidateList{RawInput: "???", NormalizedKey: ""})
	assert.Contains(t, buf.String(), "No candidates")

	buf.Reset()
	formatCandidates(&buf, &model.CandidateList{Candidates: []model.Candidate{
		{Rank: 1, EntityID: "e1", EntityName: "Gulf Star", Tier: model.TierB, Confidence: 72, Origin: model.OriginFuzzyMatch, MatchedKey: "gulf star"},
	}})
	out := buf.String()
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "Gulf Star")
	assert.Contains(t, out, "72.0")
}

func TestFormatStats(t *testing.T) {
	var buf bytes.Buffer
	formatStats(&buf, &monitoring.MetricsSnapshot{
		Decisions: 4, Accepted: 2, Corrections: 1, Unsuggested: 1, CorrectionRate: 1.0 / 3.0,
		ByOrigin:      map[model.DecisionOrigin]int{model.OriginManual: 1, model.OriginFuzzyMatch: 3},
		LookbackHours: 24,
	})
	out := buf.String()
	assert.Contains(t, out, "Decisions (last 24h): 4")
	assert.Contains(t, out, "33.3%")
	assert.Less(t, strings.Index(out, "fuzzy_match"), strings.Index(out, "manual"))
}
