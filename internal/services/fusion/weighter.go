package fusion

import (
	"math"
	"strings"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// Weighter derives the per-cycle weight vector from forecast confidence and macro dominance.
type Weighter struct {
	base   models.FusionWeights
	gain   float64
	down   float64
	up     float64
	boost  float64
	anchor string
}

func NewWeighter(cfg config.FusionConfig, anchor string) *Weighter {
	return &Weighter{
		base: models.FusionWeights{
			Technical:     cfg.Weights.Technical,
			Forecast:      cfg.Weights.Forecast,
			Sentiment:     cfg.Weights.Sentiment,
			MarketContext: cfg.Weights.MarketContext,
		},
		gain:   cfg.ConfidenceGain,
		down:   cfg.MaxShiftDown,
		up:     cfg.MaxShiftUp,
		boost:  cfg.DominanceBoost,
		anchor: strings.ToUpper(anchor),
	}
}

// Shift returns how much weight moves from technical to forecast at the given confidence.
func (w *Weighter) Shift(confidence float64) float64 {
	if !finite(confidence) {
		confidence = 0
	}
	return clamp((confidence-0.5)*w.gain, -w.down, w.up)
}

// Weights computes the normalized vector. dominance is nil when unavailable or stale.
func (w *Weighter) Weights(asset string, confidence float64, dominance *float64) models.FusionWeights {
	out := w.base

	shift := w.Shift(confidence)
	out.Forecast += shift
	out.Technical -= shift

	if dominance != nil && finite(*dominance) && !w.IsAnchor(asset) {
		out.MarketContext += w.boost * math.Abs(clamp(*dominance, -1, 1))
	}

	return renormalize(out)
}

// IsAnchor reports whether asset is the dominance reference asset.
func (w *Weighter) IsAnchor(asset string) bool {
	return strings.EqualFold(asset, w.anchor)
}

func renormalize(in models.FusionWeights) models.FusionWeights {
	in.Technical = math.Max(in.Technical, 0)
	in.Forecast = math.Max(in.Forecast, 0)
	in.Sentiment = math.Max(in.Sentiment, 0)
	in.MarketContext = math.Max(in.MarketContext, 0)

	sum := in.Sum()
	if sum <= 0 || !finite(sum) {
		return models.FusionWeights{Technical: 0.25, Forecast: 0.25, Sentiment: 0.25, MarketContext: 0.25}
	}
	return models.FusionWeights{
		Technical:     in.Technical / sum,
		Forecast:      in.Forecast / sum,
		Sentiment:     in.Sentiment / sum,
		MarketContext: in.MarketContext / sum,
	}
}
