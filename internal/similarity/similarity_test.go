package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_Reflexive(t *testing.T) {
	s := New(DefaultWeights())
	for _, k := range []string{"", "alinma", "al rajhi", "الراجحي"} {
		assert.Equal(t, 1.0, s.Score(k, k), "key %q", k)
	}
}

func TestScore_Symmetric(t *testing.T) {
	s := New(DefaultWeights())
	pairs := [][2]string{
		{"alinma", "alinmaa"},
		{"al rajhi", "rajhi al"},
		{"saudi electricity", "saudi electric"},
		{"zamil steel", "zamil air conditioners"},
		{"", "alinma"},
	}
	for _, p := range pairs {
		assert.InDelta(t, s.Score(p[0], p[1]), s.Score(p[1], p[0]), 1e-12, "pair %v", p)
	}
}

func TestScore_Range(t *testing.T) {
	s := New(DefaultWeights())
	pairs := [][2]string{
		{"alinma", "riyad"},
		{"a", "bbbbbbbbbbbb"},
		{"al rajhi", "al rajhi capital"},
	}
	for _, p := range pairs {
		got := s.Score(p[0], p[1])
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestScore_EmptyAgainstNonEmpty(t *testing.T) {
	s := New(DefaultWeights())
	assert.Equal(t, 0.0, s.Score("", "alinma"))
}

func TestScore_OrderInsensitiveTokens(t *testing.T) {
	s := New(DefaultWeights())
	assert.Equal(t, 1.0, s.Score("rajhi al", "al rajhi"))
}

func TestScore_TypoRanksAboveUnrelated(t *testing.T) {
	s := New(DefaultWeights())
	typo := s.Score("alinma", "alinmaa")
	unrelated := s.Score("alinma", "samba")
	assert.Greater(t, typo, unrelated)
	assert.Greater(t, typo, 0.3)
}

func TestScore_SharedDistinctiveToken(t *testing.T) {
	s := New(DefaultWeights())
	shared := s.Score("zamil steel", "zamil industrial")
	none := s.Score("zamil steel", "alinma")
	assert.Greater(t, shared, none)
}

func TestTokenSetRatio(t *testing.T) {
	assert.Equal(t, 1.0, TokenSetRatio("al rajhi", "rajhi al"))
	assert.Equal(t, 0.0, TokenSetRatio("alinma", "samba"))
	// "ab" (2) shared of totals 2+1 and 2: 2*2/5
	assert.InDelta(t, 0.8, TokenSetRatio("ab c", "ab"), 1e-9)
}

func TestEditRatio(t *testing.T) {
	assert.Equal(t, 1.0, EditRatio("abc", "abc"))
	assert.InDelta(t, 1-1.0/7, EditRatio("alinma", "alinmaa"), 1e-9)
	assert.Equal(t, 1.0, EditRatio("b a", "a b"))
}

func TestNew_WeightsRescaled(t *testing.T) {
	s := New(Weights{Token: 3, Edit: 1})
	assert.InDelta(t, 0.75, s.Weights().Token, 1e-9)
	assert.InDelta(t, 0.25, s.Weights().Edit, 1e-9)

	s = New(Weights{})
	assert.Equal(t, DefaultWeights(), s.Weights())

	s = New(Weights{Token: -1, Edit: 2})
	assert.Equal(t, DefaultWeights(), s.Weights())
}

func TestScore_TokenOnlyWeights(t *testing.T) {
	s := New(Weights{Token: 1, Edit: 0})
	assert.Equal(t, 0.0, s.Score("alinma", "alinmaa"))
}
