package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/catalog"
	"github.com/sells-group/entity-resolver/internal/config"
	"github.com/sells-group/entity-resolver/internal/feedback"
	"github.com/sells-group/entity-resolver/internal/learning"
	"github.com/sells-group/entity-resolver/internal/matcher"
	"github.com/sells-group/entity-resolver/internal/similarity"
	"github.com/sells-group/entity-resolver/internal/store"
)

// resolverEnv holds the store and the engine components built on it.
type resolverEnv struct {
	Store       store.Store
	Ledger      *feedback.Ledger
	Matcher     *matcher.Matcher
	Coordinator *learning.Coordinator
	Catalog     *catalog.Service
}

// Close releases the store.
func (e *resolverEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, and
// wires the engine. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*resolverEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	return newEnv(st, cfg), nil
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	retry := store.WithRetry(c.Learning.Retry())
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.DatabaseURL, retry)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, c.Store.PoolConfig(), retry)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

func newEnv(st store.Store, c *config.Config) *resolverEnv {
	ledger := feedback.NewLedger(st,
		feedback.WithDecayFactor(c.Learning.DecayFactor),
		feedback.WithPromotionThreshold(c.Learning.PromotionThreshold),
	)
	m := matcher.New(st, similarity.New(c.Matcher.Weights()), ledger, c.Matcher.Ranking())
	return &resolverEnv{
		Store:       st,
		Ledger:      ledger,
		Matcher:     m,
		Coordinator: learning.NewCoordinator(m, ledger, st),
		Catalog:     catalog.New(st),
	}
}
