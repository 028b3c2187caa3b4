// Package matcher resolves raw supplier and bank names into ranked,
// tiered candidate lists.
package matcher

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/entity-resolver/internal/feedback"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
)

// Scorer compares two normalized keys, returning a value in [0,1].
type Scorer interface {
	Score(a, b string) float64
}

// Catalog is the read side of the entity and alias stores.
type Catalog interface {
	GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error)
	ListEntities(ctx context.Context, kind model.EntityKind) ([]model.CanonicalEntity, error)
	FindExactAliases(ctx context.Context, kind model.EntityKind, normalizedKey string) ([]model.Alias, error)
	ListAliases(ctx context.Context, kind model.EntityKind) ([]model.Alias, error)
}

// Config tunes ranking.
type Config struct {
	// MaxCandidates caps the returned list. Default: 5.
	MaxCandidates int `yaml:"max_candidates" mapstructure:"max_candidates"`

	// SimilarityFloor drops candidates whose raw similarity is below it.
	// Rejection decay is applied after the floor. Default: 0.5.
	SimilarityFloor float64 `yaml:"similarity_floor" mapstructure:"similarity_floor"`

	// UsageBoost scales log2(1+usage) confidence points added for aliases
	// confirmed many times. Default: 1.0.
	UsageBoost float64 `yaml:"usage_boost" mapstructure:"usage_boost"`

	// MaxUsageBoost caps the usage bonus. Default: 5.0.
	MaxUsageBoost float64 `yaml:"max_usage_boost" mapstructure:"max_usage_boost"`
}

// DefaultConfig returns the default ranking configuration.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:   5,
		SimilarityFloor: 0.5,
		UsageBoost:      1.0,
		MaxUsageBoost:   5.0,
	}
}

// Matcher orchestrates normalization, alias lookup, similarity scoring,
// and feedback decay.
type Matcher struct {
	catalog Catalog
	scorer  Scorer
	ledger  *feedback.Ledger
	cfg     Config
}

// New creates a Matcher. Zero config fields fall back to defaults.
func New(catalog Catalog, scorer Scorer, ledger *feedback.Ledger, cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.SimilarityFloor <= 0 || cfg.SimilarityFloor > 1 {
		cfg.SimilarityFloor = def.SimilarityFloor
	}
	if cfg.UsageBoost < 0 {
		cfg.UsageBoost = 0
	}
	if cfg.MaxUsageBoost < 0 {
		cfg.MaxUsageBoost = 0
	}
	return &Matcher{catalog: catalog, scorer: scorer, ledger: ledger, cfg: cfg}
}

// Resolve returns up to MaxCandidates ranked candidates for raw within
// kind. An empty list is a normal outcome meaning no known entity matched.
//
// Resolution runs in two passes:
//  1. Established alias: a manual alias, or a learned alias whose pattern
//     has a confirm streak at the promotion threshold, is returned alone
//     at tier A with confidence 100.
//  2. Fuzzy: every alias and entity key of the kind is scored, filtered by
//     the similarity floor, boosted by alias usage, decayed by rejections
//     of this pattern, deduplicated per entity and ranked.
func (m *Matcher) Resolve(ctx context.Context, raw string, kind model.EntityKind) (*model.CandidateList, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("matcher: unknown entity kind %q", kind)
	}

	key := normalize.Name(raw)
	list := &model.CandidateList{
		RawInput:      raw,
		NormalizedKey: key,
		Kind:          kind,
		Candidates:    []model.Candidate{},
	}
	if key == "" {
		return list, nil
	}

	log := zap.L().With(
		zap.String("component", "matcher"),
		zap.String("kind", string(kind)),
		zap.String("key", key),
	)

	// Pass 1: established alias.
	hit, err := m.establishedAlias(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	if hit != nil {
		list.ShortCircuit = true
		list.Candidates = append(list.Candidates, *hit)
		log.Debug("resolve: established alias",
			zap.String("entity_id", hit.EntityID),
			zap.Int64("alias_id", hit.AliasID),
		)
		return list, nil
	}

	// Pass 2: fuzzy.
	var (
		entities []model.CanonicalEntity
		aliases  []model.Alias
		history  map[string]model.FeedbackRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, err = m.catalog.ListEntities(gctx, kind)
		return eris.Wrap(err, "matcher: list entities")
	})
	g.Go(func() error {
		var err error
		aliases, err = m.catalog.ListAliases(gctx, kind)
		return eris.Wrap(err, "matcher: list aliases")
	})
	g.Go(func() error {
		var err error
		history, err = m.ledger.ForPattern(gctx, key)
		return eris.Wrap(err, "matcher: load feedback")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*model.CanonicalEntity, len(entities))
	for i := range entities {
		byID[entities[i].ID] = &entities[i]
	}

	best := make(map[string]model.Candidate)
	consider := func(c model.Candidate) {
		if prev, ok := best[c.EntityID]; ok && !outranks(c, prev) {
			return
		}
		best[c.EntityID] = c
	}

	for i := range entities {
		e := &entities[i]
		sim := m.scorer.Score(key, e.NormalizedKey)
		if sim < m.cfg.SimilarityFloor {
			continue
		}
		origin := model.OriginFuzzyMatch
		if key == e.NormalizedKey {
			origin = model.OriginDirectMatch
		}
		consider(m.candidate(e, sim, 0, 0, e.NormalizedKey, origin, history))
	}

	for _, a := range aliases {
		e, ok := byID[a.EntityID]
		if !ok {
			continue
		}
		sim := m.scorer.Score(key, a.NormalizedKey)
		if sim < m.cfg.SimilarityFloor {
			continue
		}
		origin := model.OriginFuzzyMatch
		if key == a.NormalizedKey {
			origin = model.OriginAliasMatch
		}
		consider(m.candidate(e, sim, a.UsageCount, a.ID, a.NormalizedKey, origin, history))
	}

	ranked := make([]model.Candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return outranks(ranked[i], ranked[j])
	})
	if len(ranked) > m.cfg.MaxCandidates {
		ranked = ranked[:m.cfg.MaxCandidates]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	list.Candidates = ranked

	log.Debug("resolve: fuzzy pass",
		zap.Int("entities", len(entities)),
		zap.Int("aliases", len(aliases)),
		zap.Int("candidates", len(ranked)),
	)
	return list, nil
}

// establishedAlias returns the short-circuit candidate for key, or nil when
// no alias is trusted enough to skip scoring. A manual alias wins; otherwise
// the most used learned alias whose own pattern record is promoted. Several
// entities may share the key, so each alias is judged on its own history.
func (m *Matcher) establishedAlias(ctx context.Context, kind model.EntityKind, key string) (*model.Candidate, error) {
	aliases, err := m.catalog.FindExactAliases(ctx, kind, key)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: find exact aliases")
	}
	if len(aliases) == 0 {
		return nil, nil
	}

	history, err := m.ledger.ForPattern(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: alias feedback")
	}

	var alias *model.Alias
	var rec *model.FeedbackRecord
	for i := range aliases {
		a := &aliases[i]
		var r *model.FeedbackRecord
		if h, ok := history[a.EntityID]; ok {
			r = &h
		}
		if a.Provenance == model.ProvenanceManual || m.ledger.Promoted(r) {
			alias, rec = a, r
			break
		}
	}
	if alias == nil {
		return nil, nil
	}

	entity, err := m.catalog.GetEntity(ctx, alias.EntityID)
	if err != nil {
		return nil, eris.Wrap(err, "matcher: alias entity")
	}

	c := model.Candidate{
		Rank:       1,
		EntityID:   entity.ID,
		EntityName: entity.Name,
		Kind:       entity.Kind,
		Confidence: 100,
		Tier:       model.TierA,
		Origin:     model.OriginAliasMatch,
		Similarity: 1,
		BaseScore:  100,
		MatchedKey: alias.NormalizedKey,
		AliasID:    alias.ID,
		UsageCount: alias.UsageCount,
	}
	applyHistory(&c, rec)
	return &c, nil
}

func (m *Matcher) candidate(e *model.CanonicalEntity, sim float64, usage, aliasID int64, matched string,
	origin model.DecisionOrigin, history map[string]model.FeedbackRecord) model.Candidate {

	base := math.Min(100, sim*100+m.usageBoost(usage))

	var rec *model.FeedbackRecord
	if r, ok := history[e.ID]; ok {
		rec = &r
	}
	conf := m.ledger.Decay(base, rec)

	c := model.Candidate{
		EntityID:   e.ID,
		EntityName: e.Name,
		Kind:       e.Kind,
		Confidence: conf,
		Tier:       model.TierFor(conf),
		Origin:     origin,
		Similarity: sim,
		BaseScore:  base,
		MatchedKey: matched,
		AliasID:    aliasID,
		UsageCount: usage,
	}
	applyHistory(&c, rec)
	return c
}

func (m *Matcher) usageBoost(usage int64) float64 {
	if usage <= 0 {
		return 0
	}
	return math.Min(m.cfg.MaxUsageBoost, m.cfg.UsageBoost*math.Log2(1+float64(usage)))
}

func applyHistory(c *model.Candidate, rec *model.FeedbackRecord) {
	if rec == nil {
		return
	}
	c.ConfirmCount = rec.ConfirmCount
	c.RejectCount = rec.RejectCount
	c.ConfirmStreak = rec.ConfirmStreak
}

// outranks orders candidates by confidence, then similarity, then usage,
// then name and ID so ties resolve deterministically.
func outranks(a, b model.Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if a.UsageCount != b.UsageCount {
		return a.UsageCount > b.UsageCount
	}
	if a.EntityName != b.EntityName {
		return a.EntityName < b.EntityName
	}
	return a.EntityID < b.EntityID
}
