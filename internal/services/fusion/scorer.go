package fusion

import "TradeFusion/internal/domain/models"

// Scorer combines normalized components into one fused score.
type Scorer struct {
	correction float64
	weighter   *Weighter
}

func NewScorer(correction float64, w *Weighter) *Scorer {
	return &Scorer{correction: correction, weighter: w}
}

// Score returns Σ w_i*v_i plus the dominance correction for non-anchor assets, clamped to [-1,1].
// A positive dominance score means capital rotating away from the anchor, which favours alts.
func (s *Scorer) Score(asset string, scores []models.ComponentScore, w models.FusionWeights, dominance *float64) float64 {
	fused := 0.0
	for _, c := range scores {
		if !finite(c.Value) {
			continue
		}
		fused += w.Of(c.Source) * c.Value
	}

	if dominance != nil && finite(*dominance) && !s.weighter.IsAnchor(asset) {
		fused += s.correction * clamp(*dominance, -1, 1)
	}

	if !finite(fused) {
		return 0
	}
	return clamp(fused, -1, 1)
}
