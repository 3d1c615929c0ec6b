package config

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Strategy holds every tunable of the decision engine. It is hot-swappable through Store.
type Strategy struct {
	Assets      []string        `yaml:"assets" validate:"dive,required"`
	AnchorAsset string          `yaml:"anchor_asset" default:"BTC"`
	Fusion      FusionConfig    `yaml:"fusion"`
	Thresholds  ThresholdConfig `yaml:"thresholds"`
	Decision    DecisionConfig  `yaml:"decision"`
	Sizing      SizingConfig    `yaml:"sizing"`
	Risk        RiskConfig      `yaml:"risk"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	Analysis    AnalysisConfig  `yaml:"analysis"`
	MarketCtx   MarketCtxConfig `yaml:"market_context"`
	Outcomes    OutcomeConfig   `yaml:"outcomes"`
}

type WeightsConfig struct {
	Technical     float64 `yaml:"technical" default:"0.45"`
	Forecast      float64 `yaml:"forecast" default:"0.25"`
	Sentiment     float64 `yaml:"sentiment" default:"0.15"`
	MarketContext float64 `yaml:"market_context" default:"0.15"`
}

func (w WeightsConfig) max() float64 {
	return math.Max(math.Max(w.Technical, w.Forecast), math.Max(w.Sentiment, w.MarketContext))
}

type FusionConfig struct {
	Weights WeightsConfig `yaml:"weights"`
	// ConfidenceGain is k in shift = clamp((confidence-0.5)*k, -MaxShiftDown, +MaxShiftUp).
	ConfidenceGain float64 `yaml:"confidence_gain" default:"0.4"`
	MaxShiftDown   float64 `yaml:"max_shift_down" default:"0.10"`
	MaxShiftUp     float64 `yaml:"max_shift_up" default:"0.10"`
	// DominanceBoost is added to the market context weight, scaled by |dominance|, for non-anchor assets.
	DominanceBoost float64 `yaml:"dominance_boost" default:"0.05"`
	// DominanceCorrection is the additive fused score correction for non-anchor assets.
	DominanceCorrection float64 `yaml:"dominance_correction" default:"0.05"`
	// ForecastMinConfidence damps forecasts whose confidence is below it.
	ForecastMinConfidence float64 `yaml:"forecast_min_confidence" default:"0.3"`
	// DominantComponentValue is the typical ceiling of a single component score.
	DominantComponentValue float64 `yaml:"dominant_component_value" default:"0.35"`
}

type ThresholdConfig struct {
	BaseBuy         float64       `yaml:"base_buy" default:"0.28"`
	BaseSell        float64       `yaml:"base_sell" default:"-0.15"`
	VolBaseline     float64       `yaml:"vol_baseline" default:"0.03"`
	MinClamp        float64       `yaml:"min_clamp" default:"0.7"`
	MaxClamp        float64       `yaml:"max_clamp" default:"2.0"`
	FearCutoff      int           `yaml:"fear_cutoff" default:"20"`
	GreedCutoff     int           `yaml:"greed_cutoff" default:"80"`
	FearMultiplier  float64       `yaml:"fear_multiplier" default:"1.35"`
	GreedMultiplier float64       `yaml:"greed_multiplier" default:"1.15"`
	ContextMaxAge   time.Duration `yaml:"context_max_age" default:"6h"`
}

type DecisionConfig struct {
	MaxPositions      int           `yaml:"max_positions" default:"3"`
	MinHold           time.Duration `yaml:"min_hold" default:"4h"`
	DecelerationRelax float64       `yaml:"deceleration_relax" default:"0.5"`
}

// FallbackStep maps a minimum |fused score| to a fraction of available capital.
type FallbackStep struct {
	MinScore float64 `yaml:"min_score"`
	Fraction float64 `yaml:"fraction"`
}

type SizingConfig struct {
	KellyMultiplier float64        `yaml:"kelly_multiplier" default:"0.5"`
	MaxFraction     float64        `yaml:"max_fraction" default:"0.25"`
	MinSamples      int            `yaml:"min_samples" default:"20"`
	StatsLimit      int            `yaml:"stats_limit" default:"200"`
	MaxSpread       float64        `yaml:"max_spread" default:"0.005"`
	Reserve         float64        `yaml:"reserve" default:"1000"`
	MinOrder        float64        `yaml:"min_order" default:"500"`
	MaxPosition     float64        `yaml:"max_position" default:"15000"`
	Fallback        []FallbackStep `yaml:"fallback"`
}

// TrailingTier applies Distance below the peak once peak gain reaches MinGain.
type TrailingTier struct {
	MinGain  float64 `yaml:"min_gain"`
	Distance float64 `yaml:"distance"`
}

type RiskConfig struct {
	StopLoss   float64        `yaml:"stop_loss" default:"0.05"`
	TakeProfit float64        `yaml:"take_profit" default:"0.25"`
	Tiers      []TrailingTier `yaml:"tiers"`
	// QuoteMaxAge rejects quotes older than this when evaluating positions.
	QuoteMaxAge time.Duration `yaml:"quote_max_age" default:"2m"`
}

type BreakerConfig struct {
	MaxConsecutiveLosses int           `yaml:"max_consecutive_losses" default:"3"`
	DailyLossLimit       float64       `yaml:"daily_loss_limit" default:"3000"`
	Cooldown             time.Duration `yaml:"cooldown" default:"12h"`
}

// OrderRule is the exchange's minimum size and precision for one asset.
type OrderRule struct {
	MinAmount float64 `yaml:"min_amount"`
	Decimals  int32   `yaml:"decimals"`
}

type DispatchConfig struct {
	FillAttempts     int           `yaml:"fill_attempts" default:"4"`
	FillInitialDelay time.Duration `yaml:"fill_initial_delay" default:"2s"`
	FillMaxDelay     time.Duration `yaml:"fill_max_delay" default:"6s"`
	JournalTTL       time.Duration `yaml:"journal_ttl" default:"72h"`
	// ReconcileInterval is how often submitted orders without a recorded fill are retried.
	ReconcileInterval time.Duration        `yaml:"reconcile_interval" default:"2m"`
	OrderRules        map[string]OrderRule `yaml:"order_rules"`
}

type AnalysisConfig struct {
	Concurrency    int           `yaml:"concurrency" default:"3"`
	AssetTimeout   time.Duration `yaml:"asset_timeout" default:"20s"`
	CandleLookback int           `yaml:"candle_lookback" default:"60"`
	Interval       time.Duration `yaml:"interval" default:"1h"`
	RiskInterval   time.Duration `yaml:"risk_interval" default:"1m"`
	// FallbackConfidence is assigned to the momentum forecast used when the forecaster fails.
	FallbackConfidence float64 `yaml:"fallback_confidence" default:"0.2"`
}

// OutcomeConfig drives the grading of BUY and SELL signals after the fact.
type OutcomeConfig struct {
	Interval time.Duration `yaml:"interval" default:"15m"`
	// WinThresholdPct is the move, in percent, a signal's direction must beat to count as a win.
	WinThresholdPct float64 `yaml:"win_threshold_pct" default:"0.3"`
	SignalLimit     int     `yaml:"signal_limit" default:"1000"`
}

type MarketCtxConfig struct {
	FearGreedWeight float64 `yaml:"fear_greed_weight" default:"0.5"`
	FundingWeight   float64 `yaml:"funding_weight" default:"0.3"`
	DominanceWeight float64 `yaml:"dominance_weight" default:"0.2"`
	FundingScale    float64 `yaml:"funding_scale" default:"0.0005"`
	DominanceCenter float64 `yaml:"dominance_center" default:"50"`
	DominanceScale  float64 `yaml:"dominance_scale" default:"15"`
}

// DefaultTiers is the global trailing stop table.
func DefaultTiers() []TrailingTier {
	return []TrailingTier{
		{MinGain: 0.03, Distance: 0.020},
		{MinGain: 0.05, Distance: 0.015},
		{MinGain: 0.08, Distance: 0.012},
		{MinGain: 0.12, Distance: 0.010},
	}
}

// DefaultFallback is the cold-start sizing table.
func DefaultFallback() []FallbackStep {
	return []FallbackStep{
		{MinScore: 0.45, Fraction: 1.00},
		{MinScore: 0.35, Fraction: 0.75},
		{MinScore: 0.25, Fraction: 0.50},
		{MinScore: 0.15, Fraction: 0.30},
	}
}

// DefaultOrderRules mirrors the exchange's published minimums.
func DefaultOrderRules() map[string]OrderRule {
	return map[string]OrderRule{
		"BTC":  {MinAmount: 0.001, Decimals: 8},
		"ETH":  {MinAmount: 0.001, Decimals: 8},
		"XRP":  {MinAmount: 1, Decimals: 6},
		"SOL":  {MinAmount: 0.01, Decimals: 8},
		"DOGE": {MinAmount: 1, Decimals: 2},
		"AVAX": {MinAmount: 0.01, Decimals: 8},
	}
}

func (s *Strategy) fillTables() {
	if len(s.Assets) == 0 {
		s.Assets = []string{"BTC", "ETH", "XRP", "SOL", "DOGE", "AVAX"}
	}
	for i, a := range s.Assets {
		s.Assets[i] = strings.ToUpper(strings.TrimSpace(a))
	}
	s.AnchorAsset = strings.ToUpper(s.AnchorAsset)
	if len(s.Risk.Tiers) == 0 {
		s.Risk.Tiers = DefaultTiers()
	}
	sort.Slice(s.Risk.Tiers, func(i, j int) bool { return s.Risk.Tiers[i].MinGain < s.Risk.Tiers[j].MinGain })
	if len(s.Sizing.Fallback) == 0 {
		s.Sizing.Fallback = DefaultFallback()
	}
	sort.Slice(s.Sizing.Fallback, func(i, j int) bool { return s.Sizing.Fallback[i].MinScore > s.Sizing.Fallback[j].MinScore })
	if len(s.Dispatch.OrderRules) == 0 {
		s.Dispatch.OrderRules = DefaultOrderRules()
	}
}

// Rule returns the order rule of an asset, or a permissive default.
func (d DispatchConfig) Rule(asset string) OrderRule {
	if r, ok := d.OrderRules[strings.ToUpper(asset)]; ok {
		return r
	}
	return OrderRule{MinAmount: 0, Decimals: 8}
}

// Validate enforces cross-field invariants that struct tags cannot express.
func (s *Strategy) Validate() error {
	w := s.Fusion.Weights
	for _, v := range []float64{w.Technical, w.Forecast, w.Sentiment, w.MarketContext} {
		if v < 0 {
			return fmt.Errorf("fusion.weights must be non-negative")
		}
	}
	if sum := w.Technical + w.Forecast + w.Sentiment + w.MarketContext; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("fusion.weights must sum to 1, got %.6f", sum)
	}

	t := s.Thresholds
	if t.BaseBuy <= 0 || t.BaseSell >= 0 {
		return fmt.Errorf("thresholds: base_buy must be positive and base_sell negative")
	}
	if t.VolBaseline <= 0 {
		return fmt.Errorf("thresholds.vol_baseline must be positive")
	}
	if t.MinClamp <= 0 || t.MaxClamp < t.MinClamp {
		return fmt.Errorf("thresholds: need 0 < min_clamp <= max_clamp")
	}
	if t.FearMultiplier < 1 || t.GreedMultiplier < 1 || t.GreedMultiplier > t.FearMultiplier {
		return fmt.Errorf("thresholds: need 1 <= greed_multiplier <= fear_multiplier")
	}
	if t.FearCutoff >= t.GreedCutoff {
		return fmt.Errorf("thresholds: fear_cutoff must be below greed_cutoff")
	}
	// A single component at its typical ceiling must not cross the lowest possible buy threshold,
	// even with the confidence shift applied to its weight.
	single := (w.max() + s.Fusion.MaxShiftUp) * s.Fusion.DominantComponentValue
	if floor := t.BaseBuy * t.MinClamp; floor <= single {
		return fmt.Errorf("thresholds: base_buy*min_clamp (%.4f) must exceed max weight*dominant component (%.4f)", floor, single)
	}

	if s.Decision.MaxPositions < 1 {
		return fmt.Errorf("decision.max_positions must be at least 1")
	}
	if s.Decision.DecelerationRelax <= 0 || s.Decision.DecelerationRelax > 1 {
		return fmt.Errorf("decision.deceleration_relax must be in (0,1]")
	}

	z := s.Sizing
	if z.KellyMultiplier <= 0 || z.KellyMultiplier > 1 || z.MaxFraction <= 0 || z.MaxFraction > 1 {
		return fmt.Errorf("sizing: kelly_multiplier and max_fraction must be in (0,1]")
	}
	if z.MaxSpread <= 0 {
		return fmt.Errorf("sizing.max_spread must be positive")
	}
	if z.MinOrder <= 0 || z.MaxPosition < z.MinOrder || z.Reserve < 0 {
		return fmt.Errorf("sizing: need 0 < min_order <= max_position and reserve >= 0")
	}
	if z.StatsLimit < z.MinSamples {
		return fmt.Errorf("sizing.stats_limit must be at least min_samples")
	}

	r := s.Risk
	if r.StopLoss <= 0 || r.StopLoss >= 1 || r.TakeProfit <= 0 {
		return fmt.Errorf("risk: stop_loss must be in (0,1) and take_profit positive")
	}
	for i, tier := range r.Tiers {
		if tier.Distance <= 0 || tier.Distance >= 1 {
			return fmt.Errorf("risk.tiers[%d]: distance must be in (0,1)", i)
		}
		if i > 0 && tier.Distance > r.Tiers[i-1].Distance {
			return fmt.Errorf("risk.tiers must tighten as gain grows")
		}
	}

	if s.Breaker.MaxConsecutiveLosses < 1 || s.Breaker.DailyLossLimit <= 0 || s.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker: limits and cooldown must be positive")
	}
	if s.Dispatch.FillAttempts < 1 {
		return fmt.Errorf("dispatch.fill_attempts must be at least 1")
	}
	if s.Analysis.Concurrency < 1 || s.Analysis.AssetTimeout <= 0 {
		return fmt.Errorf("analysis: concurrency and asset_timeout must be positive")
	}
	if s.Outcomes.WinThresholdPct < 0 || s.Outcomes.SignalLimit < 1 {
		return fmt.Errorf("outcomes: win_threshold_pct must be non-negative and signal_limit positive")
	}
	return nil
}
