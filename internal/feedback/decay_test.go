package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveConfidence(t *testing.T) {
	tests := []struct {
		name    string
		base    float64
		rejects int64
		factor  float64
		want    float64
	}{
		{"no rejects", 72, 0, 0.75, 72},
		{"one reject", 72, 1, 0.75, 54},
		{"three rejects", 72, 3, 0.75, 30.375},
		{"zero base", 0, 4, 0.75, 0},
		{"negative base", -5, 1, 0.75, 0},
		{"invalid factor falls back", 100, 1, 1.5, 75},
		{"custom factor", 80, 2, 0.5, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EffectiveConfidence(tt.base, tt.rejects, tt.factor), 1e-9)
		})
	}
}

func TestEffectiveConfidence_StrictlyDecreasingNeverZero(t *testing.T) {
	prev := 90.0
	for n := int64(1); n <= 60; n++ {
		got := EffectiveConfidence(90, n, DefaultDecayFactor)
		assert.Less(t, got, prev)
		assert.Greater(t, got, 0.0)
		prev = got
	}
}
