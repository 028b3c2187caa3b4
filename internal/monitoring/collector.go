package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
)

// scanLimit caps how many recent decisions one snapshot reads.
const scanLimit = 10000

// MetricsSnapshot is a point-in-time view of how well suggestions are
// landing, computed from the decision log.
type MetricsSnapshot struct {
	Decisions int `json:"decisions"`

	// Accepted decisions chose the top suggestion; Corrections chose
	// something else while a suggestion was shown; Unsuggested had none.
	Accepted    int `json:"accepted"`
	Corrections int `json:"corrections"`
	Unsuggested int `json:"unsuggested"`

	CorrectionRate float64 `json:"correction_rate"`
	ManualRate     float64 `json:"manual_rate"`
	AvgConfidence  float64 `json:"avg_confidence"`

	ByOrigin map[model.DecisionOrigin]int `json:"by_origin"`
	ByTier   map[model.Tier]int           `json:"by_tier"`
	ByKind   map[model.EntityKind]int     `json:"by_kind"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// DecisionReader is the read side of the decision log.
type DecisionReader interface {
	ListDecisions(ctx context.Context, filter model.DecisionFilter) ([]model.DecisionLogEntry, error)
}

// Collector gathers metrics from the decision log.
type Collector struct {
	log DecisionReader
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(log DecisionReader) *Collector {
	return &Collector{log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Collect summarizes decisions made within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		ByOrigin:      make(map[model.DecisionOrigin]int),
		ByTier:        make(map[model.Tier]int),
		ByKind:        make(map[model.EntityKind]int),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.log.ListDecisions(ctx, model.DecisionFilter{Limit: scanLimit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list decisions")
	}

	var scored int
	var totalConfidence float64
	for _, e := range entries {
		if lookbackHours > 0 && e.CreatedAt.Before(cutoff) {
			continue
		}
		snap.Decisions++
		snap.ByOrigin[e.Origin]++
		snap.ByKind[e.Kind]++
		if e.Tier != "" {
			snap.ByTier[e.Tier]++
			totalConfidence += e.Confidence
			scored++
		}

		switch {
		case e.TopSuggestionEntityID == "":
			snap.Unsuggested++
		case e.WasTopSuggestion:
			snap.Accepted++
		default:
			snap.Corrections++
		}
	}

	if suggested := snap.Accepted + snap.Corrections; suggested > 0 {
		snap.CorrectionRate = float64(snap.Corrections) / float64(suggested)
	}
	if snap.Decisions > 0 {
		snap.ManualRate = float64(snap.ByOrigin[model.OriginManual]) / float64(snap.Decisions)
	}
	if scored > 0 {
		snap.AvgConfidence = totalConfidence / float64(scored)
	}

	return snap, nil
}
