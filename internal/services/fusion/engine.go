package fusion

import (
	"errors"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// Evaluation is the fusion result for one asset in one cycle.
type Evaluation struct {
	Asset        string
	FusedScore   float64
	Weights      models.FusionWeights
	Thresholds   Thresholds
	Components   []models.ComponentScore
	Degraded     []string
	Decelerating bool
	// Errors are the typed, already-absorbed failures seen while evaluating.
	Errors []error
}

// Engine runs normalization, weighting, scoring and threshold calculation for one asset.
// It is built from one strategy snapshot and holds no state between calls.
type Engine struct {
	normalizer *Normalizer
	weighter   *Weighter
	scorer     *Scorer
	thresholds *ThresholdCalculator
	ctxMaxAge  time.Duration
}

func NewEngine(s config.Strategy) *Engine {
	w := NewWeighter(s.Fusion, s.AnchorAsset)
	return &Engine{
		normalizer: NewNormalizer(s.Fusion),
		weighter:   w,
		scorer:     NewScorer(s.Fusion.DominanceCorrection, w),
		thresholds: NewThresholdCalculator(s.Thresholds),
		ctxMaxAge:  s.Thresholds.ContextMaxAge,
	}
}

// Evaluate never fails; degraded inputs are reported on the result.
func (e *Engine) Evaluate(in models.ComponentInput, mc *models.MarketContext, now time.Time) Evaluation {
	scores, degraded := e.normalizer.Normalize(in)
	ev := Evaluation{
		Asset:        in.Asset,
		Components:   scores,
		Degraded:     degraded,
		Decelerating: in.Decelerating,
	}

	var dominance *float64
	if mc != nil && mc.IsFresh(now, e.ctxMaxAge) {
		dominance = mc.DominanceScore
	}

	ev.Weights = e.weighter.Weights(in.Asset, ForecastConfidence(scores), dominance)
	ev.FusedScore = e.scorer.Score(in.Asset, scores, ev.Weights, dominance)
	ev.Thresholds = e.thresholds.Calculate(in.Volatility, mc, now)

	if ev.Thresholds.StaleContext {
		ev.Errors = append(ev.Errors, models.NewStaleDataError("thresholds", in.Asset,
			errors.New("market context older than "+e.ctxMaxAge.String())))
	}
	return ev
}
