// Package similarity scores how alike two normalized name keys are.
package similarity

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/sells-group/entity-resolver/internal/normalize"
)

// genericTokenWeight discounts tokens the normalizer treats as generic when
// they survive (e.g. a key made only of generic words).
const genericTokenWeight = 0.25

// Weights sets the blend between token-set overlap and edit distance.
type Weights struct {
	Token float64 `yaml:"token" mapstructure:"token"`
	Edit  float64 `yaml:"edit" mapstructure:"edit"`
}

// DefaultWeights favors shared words over character edits.
func DefaultWeights() Weights {
	return Weights{Token: 0.6, Edit: 0.4}
}

// Scorer blends token-set overlap with a normalized edit-distance ratio.
// It is stateless and safe for concurrent use.
type Scorer struct {
	weights Weights
}

// New creates a Scorer. Weights are rescaled to sum to 1; non-positive
// totals fall back to DefaultWeights.
func New(w Weights) *Scorer {
	if w.Token < 0 || w.Edit < 0 || w.Token+w.Edit <= 0 {
		w = DefaultWeights()
	}
	total := w.Token + w.Edit
	return &Scorer{weights: Weights{Token: w.Token / total, Edit: w.Edit / total}}
}

// Weights returns the effective (rescaled) weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns a similarity in [0,1]. It is symmetric and Score(k, k) is 1.
func (s *Scorer) Score(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	score := s.weights.Token*TokenSetRatio(a, b) + s.weights.Edit*EditRatio(a, b)
	return clamp(score)
}

// TokenSetRatio is an order-insensitive Dice overlap of the two keys'
// word sets, weighting each word by its length so long distinctive words
// count more than short or generic ones.
func TokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	var shared, totalA, totalB float64
	for tok := range setA {
		w := tokenWeight(tok)
		totalA += w
		if setB[tok] {
			shared += w
		}
	}
	for tok := range setB {
		totalB += tokenWeight(tok)
	}
	if totalA+totalB == 0 {
		return 0
	}
	return clamp(2 * shared / (totalA + totalB))
}

// EditRatio is 1 - levenshtein/maxLen over runes, taking the better of
// the keys as written and with their words sorted.
func EditRatio(a, b string) float64 {
	ratio := editRatio(a, b)
	if sorted := editRatio(sortedTokens(a), sortedTokens(b)); sorted > ratio {
		ratio = sorted
	}
	return ratio
}

func editRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return clamp(1 - float64(dist)/float64(maxLen))
}

func tokenSet(key string) map[string]bool {
	toks := normalize.Tokens(key)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}

func tokenWeight(tok string) float64 {
	w := float64(utf8.RuneCountInString(tok))
	if normalize.IsGeneric(tok) {
		w *= genericTokenWeight
	}
	return w
}

func sortedTokens(key string) string {
	toks := normalize.Tokens(key)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
