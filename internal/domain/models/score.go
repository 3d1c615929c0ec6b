package models

import (
	"math"
	"time"
)

// ComponentSource names one upstream opinion.
type ComponentSource string

const (
	SourceTechnical     ComponentSource = "technical"
	SourceForecast      ComponentSource = "forecast"
	SourceSentiment     ComponentSource = "sentiment"
	SourceMarketContext ComponentSource = "market_context"
)

// Sources lists every component in fusion order.
var Sources = []ComponentSource{SourceTechnical, SourceForecast, SourceSentiment, SourceMarketContext}

// ComponentScore is one normalized upstream opinion.
type ComponentScore struct {
	Source     ComponentSource `json:"source"`
	Value      float64         `json:"value"`
	Confidence *float64        `json:"confidence,omitempty"`
}

// ConfidenceOr returns the confidence or def when absent.
func (c ComponentScore) ConfidenceOr(def float64) float64 {
	if c.Confidence == nil {
		return def
	}
	return *c.Confidence
}

// ForecastOpinion is the forecasting service output mapped to a score.
type ForecastOpinion struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// ComponentInput is the per-asset per-cycle input to fusion. A nil field is a missing component.
type ComponentInput struct {
	Asset         string           `json:"asset"`
	Technical     *float64         `json:"technical,omitempty"`
	Forecast      *ForecastOpinion `json:"forecast,omitempty"`
	Sentiment     *float64         `json:"sentiment,omitempty"`
	MarketContext *float64         `json:"market_context,omitempty"`
	Volatility    *float64         `json:"volatility,omitempty"`
	Decelerating  bool             `json:"decelerating,omitempty"`
	ObservedAt    time.Time        `json:"observed_at"`
}

// FusionWeights is the per-cycle weight vector. Sum is 1 and each weight is non-negative.
type FusionWeights struct {
	Technical     float64 `json:"technical"`
	Forecast      float64 `json:"forecast"`
	Sentiment     float64 `json:"sentiment"`
	MarketContext float64 `json:"market_context"`
}

func (w FusionWeights) Sum() float64 {
	return w.Technical + w.Forecast + w.Sentiment + w.MarketContext
}

func (w FusionWeights) Max() float64 {
	return math.Max(math.Max(w.Technical, w.Forecast), math.Max(w.Sentiment, w.MarketContext))
}

// Of returns the weight of a source.
func (w FusionWeights) Of(s ComponentSource) float64 {
	switch s {
	case SourceTechnical:
		return w.Technical
	case SourceForecast:
		return w.Forecast
	case SourceSentiment:
		return w.Sentiment
	case SourceMarketContext:
		return w.MarketContext
	}
	return 0
}

// Valid checks the sum and sign invariants within eps.
func (w FusionWeights) Valid(eps float64) bool {
	for _, v := range []float64{w.Technical, w.Forecast, w.Sentiment, w.MarketContext} {
		if v < 0 || math.IsNaN(v) {
			return false
		}
	}
	return math.Abs(w.Sum()-1) <= eps
}

// IndicatorSnapshot is what the technical indicator collaborator returns.
type IndicatorSnapshot struct {
	Asset        string    `json:"asset"`
	Score        float64   `json:"score"`
	BandWidth    *float64  `json:"band_width,omitempty"`
	Decelerating bool      `json:"decelerating"`
	ObservedAt   time.Time `json:"observed_at"`
}

// Forecast is the forecasting service response.
type Forecast struct {
	Asset      string    `json:"asset"`
	Current    float64   `json:"current"`
	Predicted  []float64 `json:"predicted"`
	Confidence float64   `json:"confidence"`
	Model      string    `json:"model"`
}

// SentimentReading is the raw sentiment score in [0,1].
type SentimentReading struct {
	Asset      string    `json:"asset"`
	Score      float64   `json:"score"`
	ObservedAt time.Time `json:"observed_at"`
}
