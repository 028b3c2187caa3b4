// Package model defines the entity-resolution data model: canonical
// entities, their aliases, pattern feedback, and the decision log.
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// EntityKind scopes resolution; candidates never cross kinds.
type EntityKind string

// Known entity kinds.
const (
	KindSupplier EntityKind = "supplier"
	KindBank     EntityKind = "bank"
)

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	return k == KindSupplier || k == KindBank
}

// ParseEntityKind parses a kind name case-insensitively.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", eris.Errorf("model: unknown entity kind %q", s)
	}
	return k, nil
}

// CanonicalEntity is the single authoritative record for a real supplier
// or bank. Entities are never deleted.
type CanonicalEntity struct {
	ID            string     `json:"id" db:"id"`
	Kind          EntityKind `json:"kind" db:"kind"`
	Name          string     `json:"name" db:"name"`
	NormalizedKey string     `json:"normalized_key" db:"normalized_key"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Provenance records how an alias came to exist.
type Provenance string

// Alias provenances.
const (
	ProvenanceManual  Provenance = "manual"
	ProvenanceLearned Provenance = "learned"
)

// Alias is a known alternative spelling of a canonical entity. It is
// unique per (EntityID, NormalizedKey) and UsageCount never decreases.
type Alias struct {
	ID            int64      `json:"id" db:"id"`
	EntityID      string     `json:"entity_id" db:"entity_id"`
	Kind          EntityKind `json:"kind" db:"kind"`
	RawText       string     `json:"raw_text" db:"raw_text"`
	NormalizedKey string     `json:"normalized_key" db:"normalized_key"`
	Provenance    Provenance `json:"provenance" db:"provenance"`
	UsageCount    int64      `json:"usage_count" db:"usage_count"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
