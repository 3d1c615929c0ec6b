package analytics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"TradeFusion/internal/domain/models"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/internal/services/features"
	"TradeFusion/pkg/config"
)

// HTTPIndicatorSource reads the technical score from the indicator service.
type HTTPIndicatorSource struct {
	base *HTTPServiceBase
}

var _ domsvc.IndicatorSource = (*HTTPIndicatorSource)(nil)

func NewHTTPIndicatorSource(cfg *config.Config) *HTTPIndicatorSource {
	return &HTTPIndicatorSource{base: NewHTTPServiceBase(cfg.Analytics.IndicatorURL, cfg.Analytics.Timeout, cfg.Analytics.Retries)}
}

type indicatorResponse struct {
	Pair           string   `json:"pair"`
	TechnicalScore *float64 `json:"technical_score"`
	Indicators     struct {
		BBUpper            float64 `json:"bb_upper"`
		BBLower            float64 `json:"bb_lower"`
		SMA20              float64 `json:"sma_20"`
		MACDHistogramSlope float64 `json:"macd_histogram_slope"`
		CurrentPrice       float64 `json:"current_price"`
	} `json:"indicators"`
	Error string `json:"error"`
}

func (s *HTTPIndicatorSource) Snapshot(ctx context.Context, asset string) (*models.IndicatorSnapshot, error) {
	var resp indicatorResponse
	if err := s.base.GetJSON(ctx, "/indicators/"+url.PathEscape(strings.ToLower(asset)), nil, &resp); err != nil {
		return nil, fmt.Errorf("indicators %s: %w", asset, err)
	}
	if resp.Error != "" || resp.TechnicalScore == nil {
		return nil, fmt.Errorf("indicators %s: no technical score (%s)", asset, resp.Error)
	}

	snap := &models.IndicatorSnapshot{
		Asset:      strings.ToUpper(asset),
		Score:      *resp.TechnicalScore,
		ObservedAt: time.Now().UTC(),
	}
	ind := resp.Indicators
	if ind.SMA20 > 0 && ind.BBUpper > ind.BBLower {
		w := (ind.BBUpper - ind.BBLower) / ind.SMA20
		snap.BandWidth = &w
	}
	snap.Decelerating = ind.CurrentPrice > ind.SMA20 && ind.MACDHistogramSlope < 0
	return snap, nil
}

// CandleFeatures fills what an indicator snapshot left out from local candles:
// the band width volatility proxy and the deceleration flag.
func CandleFeatures(snap *models.IndicatorSnapshot, closes []float64) (volatility *float64, decelerating bool) {
	if snap != nil && snap.BandWidth != nil {
		volatility = snap.BandWidth
	} else if w, ok := features.BandWidth(closes, 20, 2); ok {
		volatility = &w
	}
	if snap != nil {
		decelerating = snap.Decelerating
	} else {
		decelerating = features.Decelerating(closes)
	}
	return volatility, decelerating
}
