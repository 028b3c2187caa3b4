// Package store persists the canonical-entity catalog and the three
// learning ledgers: aliases, pattern feedback, and the decision log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// Sentinel errors shared by all backends.
var (
	ErrNotFound        = eris.New("store: not found")
	ErrDuplicateEntity = eris.New("store: entity with this normalized key already exists")
	ErrEmptyKey        = eris.New("store: name normalizes to an empty key")
)

// EntityStore is the canonical-entity catalog.
type EntityStore interface {
	CreateEntity(ctx context.Context, e *model.CanonicalEntity) error
	RenameEntity(ctx context.Context, id, name, normalizedKey string) (*model.CanonicalEntity, error)
	GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error)
	ListEntities(ctx context.Context, kind model.EntityKind) ([]model.CanonicalEntity, error)
}

// AliasStore maps canonical entities to alternative spellings.
type AliasStore interface {
	// FindExactAliases returns every alias whose key equals normalizedKey
	// within kind: manual first, then by usage descending.
	FindExactAliases(ctx context.Context, kind model.EntityKind, normalizedKey string) ([]model.Alias, error)
	ListAliasesForEntity(ctx context.Context, entityID string) ([]model.Alias, error)
	ListAliases(ctx context.Context, kind model.EntityKind) ([]model.Alias, error)
	// UpsertAlias creates the (entity, key) alias with usage 1 or atomically
	// increments its usage. A manual provenance is never downgraded.
	UpsertAlias(ctx context.Context, entityID, rawText string, provenance model.Provenance) (*model.Alias, error)
}

// FeedbackStore holds per-(pattern, entity) confirm/reject counters.
type FeedbackStore interface {
	IncrementConfirm(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error)
	IncrementReject(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error)
	// GetFeedback returns nil when the pair has no history.
	GetFeedback(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error)
	ListFeedbackForPattern(ctx context.Context, pattern string) ([]model.FeedbackRecord, error)
}

// DecisionLog is the append-only audit trail of resolution outcomes.
type DecisionLog interface {
	AppendDecision(ctx context.Context, entry *model.DecisionLogEntry) error
	ListDecisions(ctx context.Context, filter model.DecisionFilter) ([]model.DecisionLogEntry, error)
}

// Store combines every ledger with lifecycle management.
type Store interface {
	EntityStore
	AliasStore
	FeedbackStore
	DecisionLog

	Migrate(ctx context.Context) error
	Close() error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	retry resilience.RetryConfig
}

func defaultOptions() options {
	return options{retry: resilience.DefaultRetryConfig()}
}

// WithRetry sets the retry policy for conflicting counter writes.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const defaultDecisionLimit = 100
