package fusion

import (
	"math"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// Normalizer clamps component scores into [-1,1] and damps weak forecasts.
// It never fails: a missing or malformed component becomes {0, confidence 0}.
type Normalizer struct {
	minConfidence float64
}

func NewNormalizer(cfg config.FusionConfig) *Normalizer {
	return &Normalizer{minConfidence: cfg.ForecastMinConfidence}
}

// Normalize returns one score per source in models.Sources order and the sources that degraded.
func (n *Normalizer) Normalize(in models.ComponentInput) ([]models.ComponentScore, []string) {
	out := make([]models.ComponentScore, 0, len(models.Sources))
	var degraded []string

	for _, src := range models.Sources {
		score, ok := n.normalizeOne(src, in)
		if !ok {
			degraded = append(degraded, string(src))
		}
		out = append(out, score)
	}
	return out, degraded
}

func (n *Normalizer) normalizeOne(src models.ComponentSource, in models.ComponentInput) (models.ComponentScore, bool) {
	missing := models.ComponentScore{Source: src, Value: 0, Confidence: ptr(0)}

	switch src {
	case models.SourceForecast:
		if in.Forecast == nil || !finite(in.Forecast.Value) {
			return missing, false
		}
		conf := in.Forecast.Confidence
		if !finite(conf) {
			return missing, false
		}
		conf = clamp(conf, 0, 1)
		v := clamp(in.Forecast.Value, -1, 1)
		if n.minConfidence > 0 && conf < n.minConfidence {
			v *= conf / n.minConfidence
		}
		return models.ComponentScore{Source: src, Value: v, Confidence: ptr(conf)}, !in.Forecast.Fallback

	default:
		raw := rawValue(src, in)
		if raw == nil || !finite(*raw) {
			return missing, false
		}
		return models.ComponentScore{Source: src, Value: clamp(*raw, -1, 1)}, true
	}
}

func rawValue(src models.ComponentSource, in models.ComponentInput) *float64 {
	switch src {
	case models.SourceTechnical:
		return in.Technical
	case models.SourceSentiment:
		return in.Sentiment
	case models.SourceMarketContext:
		return in.MarketContext
	}
	return nil
}

// ForecastConfidence returns the confidence the weighter should use.
func ForecastConfidence(scores []models.ComponentScore) float64 {
	for _, s := range scores {
		if s.Source == models.SourceForecast {
			return s.ConfidenceOr(0)
		}
	}
	return 0
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ptr(v float64) *float64 { return &v }
