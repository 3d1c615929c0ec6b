package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"TradeFusion/internal/domain/models"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/internal/services/features"
	"TradeFusion/pkg/config"
)

// neutralConfidence leaves the regime weights unshifted.
const neutralConfidence = 0.5

// HTTPForecaster calls the time-series forecasting service.
type HTTPForecaster struct {
	base    *HTTPServiceBase
	horizon int
}

var _ domsvc.Forecaster = (*HTTPForecaster)(nil)

func NewHTTPForecaster(cfg *config.Config) *HTTPForecaster {
	return &HTTPForecaster{
		base:    NewHTTPServiceBase(cfg.Analytics.ForecastURL, cfg.Analytics.Timeout, cfg.Analytics.Retries),
		horizon: 12,
	}
}

type forecastRequest struct {
	Asset            string    `json:"asset"`
	Prices           []float64 `json:"prices"`
	PredictionLength int       `json:"prediction_length"`
}

type forecastResponse struct {
	Predictions  []float64 `json:"predictions"`
	CurrentPrice float64   `json:"current_price"`
	Confidence   *float64  `json:"confidence"`
	Model        string    `json:"model"`
	Error        string    `json:"error"`
}

// Forecast returns the median predicted path. A response without confidence is read as neutral.
func (f *HTTPForecaster) Forecast(ctx context.Context, asset string, closes []float64) (*models.Forecast, error) {
	if len(closes) < 10 {
		return nil, fmt.Errorf("forecast %s: need at least 10 closes, got %d", asset, len(closes))
	}
	var resp forecastResponse
	req := forecastRequest{Asset: asset, Prices: closes, PredictionLength: f.horizon}
	if err := f.base.PostJSON(ctx, "/predict", req, &resp); err != nil {
		return nil, fmt.Errorf("forecast %s: %w", asset, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("forecast %s: service error %q", asset, resp.Error)
	}
	if len(resp.Predictions) == 0 {
		return nil, fmt.Errorf("forecast %s: empty prediction", asset)
	}

	current := resp.CurrentPrice
	if current <= 0 {
		current = closes[len(closes)-1]
	}
	conf := neutralConfidence
	if resp.Confidence != nil {
		conf = *resp.Confidence
	}
	return &models.Forecast{
		Asset:      strings.ToUpper(asset),
		Current:    current,
		Predicted:  resp.Predictions,
		Confidence: conf,
		Model:      resp.Model,
	}, nil
}

// OpinionFromForecast maps a forecast to the forecast component: change%/3 clamped.
func OpinionFromForecast(f *models.Forecast) *models.ForecastOpinion {
	if f == nil {
		return nil
	}
	return &models.ForecastOpinion{
		Value:      features.PathScore(f.Current, f.Predicted),
		Confidence: f.Confidence,
	}
}

// MomentumOpinion is the fallback when the forecaster is unavailable.
// It returns nil when there are too few closes for a momentum reading.
func MomentumOpinion(closes []float64, confidence float64) *models.ForecastOpinion {
	score, ok := features.MomentumScore(closes)
	if !ok {
		return nil
	}
	return &models.ForecastOpinion{Value: score, Confidence: confidence, Fallback: true}
}

// ForecastWithFallback asks the forecaster and degrades to the momentum heuristic on failure.
// The returned error is the absorbed upstream failure, typed as transient, or nil.
func ForecastWithFallback(ctx context.Context, fc domsvc.Forecaster, asset string, closes []float64, fallbackConfidence float64) (*models.ForecastOpinion, error) {
	var cause error
	if fc == nil {
		cause = errors.New("no forecaster configured")
	} else {
		f, err := fc.Forecast(ctx, asset, closes)
		if err == nil {
			return OpinionFromForecast(f), nil
		}
		cause = err
	}
	return MomentumOpinion(closes, fallbackConfidence), models.NewTransientUpstreamError("forecast", asset, cause)
}
