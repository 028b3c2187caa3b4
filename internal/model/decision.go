package model

import "time"

// DecisionOrigin classifies how the chosen entity was reached.
type DecisionOrigin string

// Decision origins.
const (
	OriginManual      DecisionOrigin = "manual"
	OriginAliasMatch  DecisionOrigin = "alias_match"
	OriginFuzzyMatch  DecisionOrigin = "fuzzy_match"
	OriginDirectMatch DecisionOrigin = "direct_match"
)

// DecisionLogEntry is an immutable audit record of one resolution outcome.
type DecisionLogEntry struct {
	ID                    string         `json:"id" db:"id"`
	SourceRecordID        string         `json:"source_record_id" db:"source_record_id"`
	Kind                  EntityKind     `json:"kind" db:"kind"`
	RawInput              string         `json:"raw_input" db:"raw_input"`
	NormalizedKey         string         `json:"normalized_key" db:"normalized_key"`
	ChosenEntityID        string         `json:"chosen_entity_id" db:"chosen_entity_id"`
	ChosenEntityName      string         `json:"chosen_entity_name" db:"chosen_entity_name"`
	TopSuggestionEntityID string         `json:"top_suggestion_entity_id,omitempty" db:"top_suggestion_entity_id"`
	Origin                DecisionOrigin `json:"origin" db:"origin"`
	Confidence            float64        `json:"confidence" db:"confidence"`
	Tier                  Tier           `json:"tier,omitempty" db:"tier"`
	WasTopSuggestion      bool           `json:"was_top_suggestion" db:"was_top_suggestion"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
}

// DecisionFilter narrows decision log reads. Empty fields match all.
type DecisionFilter struct {
	EntityID       string `json:"entity_id,omitempty"`
	SourceRecordID string `json:"source_record_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}
