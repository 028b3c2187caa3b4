// Package learning records the outcome of a user's entity choice: it feeds
// the alias and feedback ledgers and appends the decision log.
package learning

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/store"
)

// ErrLearningIncomplete reports that the decision was logged but at least
// one alias or feedback update was lost. It is always wrapped in a
// resilience.TransientError.
var ErrLearningIncomplete = eris.New("learning: decision logged but learning updates failed")

// ErrInvalidDecision reports a decision that cannot be recorded as given.
var ErrInvalidDecision = eris.New("learning: invalid decision")

// Resolver ranks candidates for a raw name.
type Resolver interface {
	Resolve(ctx context.Context, raw string, kind model.EntityKind) (*model.CandidateList, error)
}

// Feedback is the write side of the feedback ledger.
type Feedback interface {
	RecordConfirm(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error)
	RecordReject(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error)
}

// Ledgers is the storage the coordinator writes to.
type Ledgers interface {
	GetEntity(ctx context.Context, id string) (*model.CanonicalEntity, error)
	ListAliasesForEntity(ctx context.Context, entityID string) ([]model.Alias, error)
	UpsertAlias(ctx context.Context, entityID, rawText string, provenance model.Provenance) (*model.Alias, error)
	AppendDecision(ctx context.Context, entry *model.DecisionLogEntry) error
}

// Decision is a user's final choice for one raw name.
type Decision struct {
	RawName        string           `json:"raw_name"`
	Kind           model.EntityKind `json:"kind"`
	ChosenEntityID string           `json:"chosen_entity_id"`
	// TopSuggestionEntityID is empty when no suggestion was shown.
	TopSuggestionEntityID string `json:"top_suggestion_entity_id,omitempty"`
	SourceRecordID        string `json:"source_record_id"`
}

// Outcome reports what Record wrote.
type Outcome struct {
	Entry   model.DecisionLogEntry `json:"entry"`
	Alias   *model.Alias           `json:"alias,omitempty"`
	Confirm *model.FeedbackRecord  `json:"confirm,omitempty"`
	Reject  *model.FeedbackRecord  `json:"reject,omitempty"`
}

// Coordinator applies decisions to the learning ledgers.
type Coordinator struct {
	resolver Resolver
	feedback Feedback
	ledgers  Ledgers
	log      *zap.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(resolver Resolver, fb Feedback, ledgers Ledgers) *Coordinator {
	return &Coordinator{
		resolver: resolver,
		feedback: fb,
		ledgers:  ledgers,
		log:      zap.L().With(zap.String("component", "learning")),
	}
}

// Record applies d. A confirmation (chosen == top suggestion) confirms the
// pattern for the chosen entity. A correction additionally rejects the top
// suggestion. Either way the chosen entity's spelling is learned as an
// alias unless it is already its own key or a manual alias.
//
// The decision log append is attempted even when learning updates fail or
// the chosen entity cannot be read. If only those failed, the returned
// Outcome is valid and the error is a transient ErrLearningIncomplete.
func (c *Coordinator) Record(ctx context.Context, d Decision) (*Outcome, error) {
	if !d.Kind.Valid() {
		return nil, eris.Wrapf(ErrInvalidDecision, "unknown entity kind %q", d.Kind)
	}
	if d.ChosenEntityID == "" {
		return nil, eris.Wrap(ErrInvalidDecision, "chosen entity is required")
	}
	if d.SourceRecordID == "" {
		return nil, eris.Wrap(ErrInvalidDecision, "source record is required")
	}

	key := normalize.Name(d.RawName)
	wasTop := d.TopSuggestionEntityID != "" && d.TopSuggestionEntityID == d.ChosenEntityID
	entry := model.DecisionLogEntry{
		SourceRecordID:        d.SourceRecordID,
		Kind:                  d.Kind,
		RawInput:              d.RawName,
		NormalizedKey:         key,
		ChosenEntityID:        d.ChosenEntityID,
		TopSuggestionEntityID: d.TopSuggestionEntityID,
		Origin:                model.OriginManual,
		WasTopSuggestion:      wasTop,
	}

	out := &Outcome{}
	var learnErr error

	// An unknown entity or a kind mismatch is the caller's mistake and is
	// not logged. Any other lookup failure still logs the choice by ID.
	chosen, err := c.ledgers.GetEntity(ctx, d.ChosenEntityID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, eris.Wrap(err, "learning: chosen entity")
	case err != nil:
		learnErr = eris.Wrap(err, "learning: chosen entity")
	case chosen.Kind != d.Kind:
		return nil, eris.Wrapf(ErrInvalidDecision, "entity %s is a %s, not a %s", chosen.ID, chosen.Kind, d.Kind)
	default:
		entry.ChosenEntityName = chosen.Name
	}

	c.scoreAtDecision(ctx, d, &entry)

	if chosen != nil && learnErr == nil && key != "" {
		learnErr = c.learn(ctx, d, chosen, key, wasTop, out)
	}

	if err := c.ledgers.AppendDecision(ctx, &entry); err != nil {
		c.log.Error("decision log append failed",
			zap.String("source_record_id", d.SourceRecordID),
			zap.String("entity_id", d.ChosenEntityID),
			zap.Error(err),
		)
		return nil, multierr.Append(eris.Wrap(err, "learning: append decision"), learnErr)
	}
	out.Entry = entry

	c.log.Info("decision recorded",
		zap.String("source_record_id", d.SourceRecordID),
		zap.String("kind", string(d.Kind)),
		zap.String("key", key),
		zap.String("entity_id", d.ChosenEntityID),
		zap.Bool("was_top_suggestion", wasTop),
		zap.String("origin", string(entry.Origin)),
		zap.Float64("confidence", entry.Confidence),
	)

	if learnErr != nil {
		c.log.Warn("learning update incomplete",
			zap.String("key", key),
			zap.String("entity_id", d.ChosenEntityID),
			zap.Error(learnErr),
		)
		return out, resilience.NewTransientError(eris.Wrapf(ErrLearningIncomplete, "%v", learnErr))
	}
	return out, nil
}

// scoreAtDecision fills the entry with the chosen entity's standing in a
// fresh resolve. A resolve failure leaves the entry as a manual choice.
func (c *Coordinator) scoreAtDecision(ctx context.Context, d Decision, entry *model.DecisionLogEntry) {
	if c.resolver == nil {
		return
	}
	list, err := c.resolver.Resolve(ctx, d.RawName, d.Kind)
	if err != nil {
		c.log.Warn("resolve at decision time failed", zap.String("raw", d.RawName), zap.Error(err))
		return
	}
	cand := list.Find(d.ChosenEntityID)
	if cand == nil {
		return
	}
	entry.Origin = cand.Origin
	entry.Confidence = cand.Confidence
	entry.Tier = cand.Tier
}

// learn runs each ledger update independently and returns their combined
// failures.
func (c *Coordinator) learn(ctx context.Context, d Decision, chosen *model.CanonicalEntity, key string, wasTop bool, out *Outcome) error {
	var errs error

	if !wasTop && d.TopSuggestionEntityID != "" {
		rec, err := c.feedback.RecordReject(ctx, key, d.TopSuggestionEntityID)
		if err != nil {
			errs = multierr.Append(errs, eris.Wrap(err, "learning: reject top suggestion"))
		}
		out.Reject = rec
	}

	rec, err := c.feedback.RecordConfirm(ctx, key, chosen.ID)
	if err != nil {
		errs = multierr.Append(errs, eris.Wrap(err, "learning: confirm chosen"))
	}
	out.Confirm = rec

	if key == chosen.NormalizedKey {
		return errs
	}
	manual, err := c.hasManualAlias(ctx, chosen.ID, key)
	if err != nil {
		return multierr.Append(errs, err)
	}
	if manual {
		return errs
	}
	alias, err := c.ledgers.UpsertAlias(ctx, chosen.ID, d.RawName, model.ProvenanceLearned)
	if err != nil {
		errs = multierr.Append(errs, eris.Wrap(err, "learning: upsert alias"))
	}
	out.Alias = alias
	return errs
}

func (c *Coordinator) hasManualAlias(ctx context.Context, entityID, key string) (bool, error) {
	aliases, err := c.ledgers.ListAliasesForEntity(ctx, entityID)
	if err != nil {
		return false, eris.Wrap(err, "learning: list aliases")
	}
	for _, a := range aliases {
		if a.NormalizedKey == key && a.Provenance == model.ProvenanceManual {
			return true, nil
		}
	}
	return false, nil
}

// IsIncomplete reports whether err means the decision was saved but
// learning was partly lost.
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrLearningIncomplete)
}

var _ Ledgers = (store.Store)(nil)
