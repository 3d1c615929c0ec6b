package fusion

import (
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// Thresholds is the buy/sell pair for one asset in one cycle.
type Thresholds struct {
	Buy        float64 `json:"buy"`
	Sell       float64 `json:"sell"`
	VolRatio   float64 `json:"vol_ratio"`
	Multiplier float64 `json:"multiplier"`
	// StaleContext is set when a market context was supplied but was too old to use.
	StaleContext bool `json:"stale_context,omitempty"`
}

// ThresholdCalculator scales thresholds by volatility and tightens the buy side in fear or greed.
type ThresholdCalculator struct {
	cfg config.ThresholdConfig
}

func NewThresholdCalculator(cfg config.ThresholdConfig) *ThresholdCalculator {
	return &ThresholdCalculator{cfg: cfg}
}

// VolRatio maps a volatility proxy onto [MinClamp, MaxClamp]. Missing volatility is 1.
func (c *ThresholdCalculator) VolRatio(volatility *float64) float64 {
	if volatility == nil || !finite(*volatility) || *volatility < 0 || c.cfg.VolBaseline <= 0 {
		return clamp(1, c.cfg.MinClamp, c.cfg.MaxClamp)
	}
	return clamp(*volatility/c.cfg.VolBaseline, c.cfg.MinClamp, c.cfg.MaxClamp)
}

// Calculate returns the thresholds. The sell side never reacts to sentiment.
func (c *ThresholdCalculator) Calculate(volatility *float64, mc *models.MarketContext, now time.Time) Thresholds {
	ratio := c.VolRatio(volatility)
	t := Thresholds{
		Buy:        c.cfg.BaseBuy * ratio,
		Sell:       c.cfg.BaseSell * ratio,
		VolRatio:   ratio,
		Multiplier: 1,
	}

	if mc == nil {
		return t
	}
	if !mc.IsFresh(now, c.cfg.ContextMaxAge) {
		t.StaleContext = true
		return t
	}
	if mc.FearGreed != nil {
		fg := *mc.FearGreed
		switch {
		case fg <= c.cfg.FearCutoff:
			t.Multiplier = c.cfg.FearMultiplier
		case fg >= c.cfg.GreedCutoff:
			t.Multiplier = c.cfg.GreedMultiplier
		}
	}
	t.Buy *= t.Multiplier
	return t
}
