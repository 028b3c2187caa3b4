package model

import "time"

// FeedbackRecord is the confirm/reject history of one (pattern, entity)
// pair. Both counts are monotonically non-decreasing; effective confidence
// is derived from them at read time and never stored.
type FeedbackRecord struct {
	Pattern      string `json:"pattern" db:"pattern"`
	EntityID     string `json:"entity_id" db:"entity_id"`
	ConfirmCount int64  `json:"confirm_count" db:"confirm_count"`
	RejectCount  int64  `json:"reject_count" db:"reject_count"`
	// ConfirmStreak counts confirmations since the most recent rejection.
	ConfirmStreak   int64      `json:"confirm_streak" db:"confirm_streak"`
	LastConfirmedAt *time.Time `json:"last_confirmed_at,omitempty" db:"last_confirmed_at"`
	LastRejectedAt  *time.Time `json:"last_rejected_at,omitempty" db:"last_rejected_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}
