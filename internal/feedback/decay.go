package feedback

import "math"

// DefaultDecayFactor is the multiplier applied per recorded rejection.
const DefaultDecayFactor = 0.75

// DefaultPromotionThreshold is the confirm streak at which a learned alias
// short-circuits resolution.
const DefaultPromotionThreshold = 3

// EffectiveConfidence computes the rejection-decayed confidence of a base
// score. Formula: effective = base * factor^rejects
//
// The result approaches zero but is never clamped, so a heavily rejected
// candidate stays visible at a low tier.
func EffectiveConfidence(base float64, rejects int64, factor float64) float64 {
	if base <= 0 {
		return 0
	}
	if rejects <= 0 {
		return base
	}
	if factor <= 0 || factor >= 1 {
		factor = DefaultDecayFactor
	}
	return base * math.Pow(factor, float64(rejects))
}
