// Package feedback tracks confirm/reject history per (pattern, entity)
// pair and derives decayed confidence from it at read time.
package feedback

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/store"
)

// Ledger is the feedback ledger over a FeedbackStore.
type Ledger struct {
	store              store.FeedbackStore
	decayFactor        float64
	promotionThreshold int64
	log                *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDecayFactor sets the per-rejection multiplier. Values outside (0,1)
// are ignored.
func WithDecayFactor(f float64) Option {
	return func(l *Ledger) {
		if f > 0 && f < 1 {
			l.decayFactor = f
		}
	}
}

// WithPromotionThreshold sets the confirm streak needed for promotion.
func WithPromotionThreshold(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.promotionThreshold = int64(n)
		}
	}
}

// NewLedger creates a Ledger.
func NewLedger(s store.FeedbackStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:              s,
		decayFactor:        DefaultDecayFactor,
		promotionThreshold: DefaultPromotionThreshold,
		log:                zap.L().With(zap.String("component", "feedback")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DecayFactor returns the configured per-rejection multiplier.
func (l *Ledger) DecayFactor() float64 { return l.decayFactor }

// PromotionThreshold returns the configured confirm streak threshold.
func (l *Ledger) PromotionThreshold() int64 { return l.promotionThreshold }

// RecordConfirm increments the confirm count and streak for the pair.
func (l *Ledger) RecordConfirm(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	rec, err := l.store.IncrementConfirm(ctx, pattern, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "feedback: confirm %q -> %s", pattern, entityID)
	}
	l.log.Debug("confirm recorded",
		zap.String("pattern", pattern),
		zap.String("entity_id", entityID),
		zap.Int64("confirms", rec.ConfirmCount),
		zap.Int64("streak", rec.ConfirmStreak),
	)
	return rec, nil
}

// RecordReject increments the reject count for the pair and resets its
// confirm streak.
func (l *Ledger) RecordReject(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	rec, err := l.store.IncrementReject(ctx, pattern, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "feedback: reject %q -> %s", pattern, entityID)
	}
	l.log.Debug("reject recorded",
		zap.String("pattern", pattern),
		zap.String("entity_id", entityID),
		zap.Int64("rejects", rec.RejectCount),
	)
	return rec, nil
}

// Get returns the pair's record, or nil when it has no history.
func (l *Ledger) Get(ctx context.Context, pattern, entityID string) (*model.FeedbackRecord, error) {
	rec, err := l.store.GetFeedback(ctx, pattern, entityID)
	return rec, eris.Wrap(err, "feedback: get")
}

// ForPattern returns every record for pattern keyed by entity ID.
func (l *Ledger) ForPattern(ctx context.Context, pattern string) (map[string]model.FeedbackRecord, error) {
	recs, err := l.store.ListFeedbackForPattern(ctx, pattern)
	if err != nil {
		return nil, eris.Wrap(err, "feedback: list for pattern")
	}
	out := make(map[string]model.FeedbackRecord, len(recs))
	for _, r := range recs {
		out[r.EntityID] = r
	}
	return out, nil
}

// EffectiveConfidence applies the pair's rejection decay to base.
func (l *Ledger) EffectiveConfidence(ctx context.Context, base float64, pattern, entityID string) (float64, error) {
	rec, err := l.Get(ctx, pattern, entityID)
	if err != nil {
		return 0, err
	}
	return l.Decay(base, rec), nil
}

// Decay applies rec's rejections to base. A nil record leaves base as is.
func (l *Ledger) Decay(base float64, rec *model.FeedbackRecord) float64 {
	if rec == nil {
		return base
	}
	return EffectiveConfidence(base, rec.RejectCount, l.decayFactor)
}

// Promoted reports whether rec has enough confirmations since its last
// rejection to be trusted as an established alias.
func (l *Ledger) Promoted(rec *model.FeedbackRecord) bool {
	return rec != nil && rec.ConfirmStreak >= l.promotionThreshold
}
