package marketctx

import (
	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// Scorer turns the macro snapshot into the market_context component score.
// Fear/greed is read contrarian; positive funding (crowded longs) and high BTC
// dominance both count against buying alts.
type Scorer struct {
	cfg config.MarketCtxConfig
}

func NewScorer(cfg config.MarketCtxConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// FearGreedScore maps the 0-100 index to [-1,1], piecewise.
func FearGreedScore(v int) float64 {
	f := float64(v)
	var s float64
	switch {
	case v <= 10:
		s = 0.5 + (10-f)*0.05
	case v <= 25:
		s = 0.1 + (25-f)*0.027
	case v <= 45:
		s = (45 - f) * 0.005
	case v <= 55:
		s = 0
	case v <= 75:
		s = -(f - 55) * 0.005
	case v <= 90:
		s = -0.1 - (f-75)*0.027
	default:
		s = -0.5 - (f-90)*0.05
	}
	return clamp(s)
}

// FundingScore is -avg/scale, clamped.
func (s *Scorer) FundingScore(avg float64) float64 {
	if s.cfg.FundingScale <= 0 {
		return 0
	}
	return clamp(-avg / s.cfg.FundingScale)
}

// DominanceScore is -(dominance-center)/scale, clamped. Positive favours alts.
func (s *Scorer) DominanceScore(btcDominance float64) float64 {
	if s.cfg.DominanceScale <= 0 {
		return 0
	}
	return clamp(-(btcDominance - s.cfg.DominanceCenter) / s.cfg.DominanceScale)
}

// Enrich returns a copy with FundingScore and DominanceScore derived from the raw
// readings when the collector did not supply them.
func (s *Scorer) Enrich(mc *models.MarketContext) *models.MarketContext {
	if mc == nil {
		return nil
	}
	out := *mc
	if out.FundingScore == nil && out.FundingRateAvg != nil {
		v := s.FundingScore(*out.FundingRateAvg)
		out.FundingScore = &v
	}
	if out.DominanceScore == nil && out.BTCDominance != nil {
		v := s.DominanceScore(*out.BTCDominance)
		out.DominanceScore = &v
	}
	return &out
}

// Score returns the component value, or nil when the snapshot carries nothing usable.
// A precomputed score wins. Otherwise the available parts are weighted and the weights
// of missing parts are dropped from the denominator.
func (s *Scorer) Score(mc *models.MarketContext) *float64 {
	if mc == nil {
		return nil
	}
	if mc.Score != nil {
		v := clamp(*mc.Score)
		return &v
	}
	mc = s.Enrich(mc)

	var sum, weight float64
	if mc.FearGreed != nil {
		sum += FearGreedScore(*mc.FearGreed) * s.cfg.FearGreedWeight
		weight += s.cfg.FearGreedWeight
	}
	if mc.FundingScore != nil {
		sum += clamp(*mc.FundingScore) * s.cfg.FundingWeight
		weight += s.cfg.FundingWeight
	}
	if mc.DominanceScore != nil {
		sum += clamp(*mc.DominanceScore) * s.cfg.DominanceWeight
		weight += s.cfg.DominanceWeight
	}
	if weight <= 0 {
		return nil
	}
	v := clamp(sum / weight)
	return &v
}

func clamp(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
