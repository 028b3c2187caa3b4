package model

// Tier is a confidence band derived from a candidate's score on every
// resolve. It is never stored on aliases or feedback.
type Tier string

// Confidence tiers.
const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Tier band lower bounds on the 0-100 confidence scale.
const (
	TierAMin = 95.0
	TierBMin = 70.0
	TierCMin = 50.0
)

// TierFor classifies a 0-100 confidence.
func TierFor(confidence float64) Tier {
	switch {
	case confidence >= TierAMin:
		return TierA
	case confidence >= TierBMin:
		return TierB
	case confidence >= TierCMin:
		return TierC
	default:
		return TierD
	}
}

// AutoApply reports whether a candidate in this tier may be applied
// without asking the user.
func (t Tier) AutoApply() bool {
	return t == TierA
}

// Prefill reports whether a UI may pre-select a candidate in this tier.
// Tier D is informational only.
func (t Tier) Prefill() bool {
	return t == TierA || t == TierB || t == TierC
}

// Candidate is one ranked suggestion for a raw name.
type Candidate struct {
	Rank          int            `json:"rank"`
	EntityID      string         `json:"entity_id"`
	EntityName    string         `json:"entity_name"`
	Kind          EntityKind     `json:"kind"`
	Confidence    float64        `json:"confidence"`
	Tier          Tier           `json:"tier"`
	Origin        DecisionOrigin `json:"origin"`
	Similarity    float64        `json:"similarity"`
	BaseScore     float64        `json:"base_score"`
	MatchedKey    string         `json:"matched_key"`
	AliasID       int64          `json:"alias_id,omitempty"`
	UsageCount    int64          `json:"usage_count"`
	ConfirmCount  int64          `json:"confirm_count"`
	RejectCount   int64          `json:"reject_count"`
	ConfirmStreak int64          `json:"confirm_streak"`
}

// CandidateList is the ranked result of resolving one raw name. An empty
// list means no known entity matched and a new one may be created.
type CandidateList struct {
	RawInput      string      `json:"raw_input"`
	NormalizedKey string      `json:"normalized_key"`
	Kind          EntityKind  `json:"kind"`
	ShortCircuit  bool        `json:"short_circuit"`
	Candidates    []Candidate `json:"candidates"`
}

// Empty reports whether no candidate cleared the similarity floor.
func (l *CandidateList) Empty() bool {
	return l == nil || len(l.Candidates) == 0
}

// Top returns the rank-1 candidate, or nil.
func (l *CandidateList) Top() *Candidate {
	if l.Empty() {
		return nil
	}
	return &l.Candidates[0]
}

// Find returns the candidate for entityID, or nil.
func (l *CandidateList) Find(entityID string) *Candidate {
	if l == nil {
		return nil
	}
	for i := range l.Candidates {
		if l.Candidates[i].EntityID == entityID {
			return &l.Candidates[i]
		}
	}
	return nil
}
