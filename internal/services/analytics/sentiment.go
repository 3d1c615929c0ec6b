package analytics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"TradeFusion/internal/domain/models"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/pkg/config"
)

// HTTPSentimentSource reads the aggregated news sentiment for an asset.
type HTTPSentimentSource struct {
	base   *HTTPServiceBase
	maxAge time.Duration
}

var _ domsvc.SentimentSource = (*HTTPSentimentSource)(nil)

func NewHTTPSentimentSource(cfg *config.Config) *HTTPSentimentSource {
	return &HTTPSentimentSource{
		base:   NewHTTPServiceBase(cfg.Analytics.SentimentURL, cfg.Analytics.Timeout, cfg.Analytics.Retries),
		maxAge: 24 * time.Hour,
	}
}

type sentimentResponse struct {
	Score     *float64 `json:"score"`
	UpdatedAt int64    `json:"updated_at"`
}

// Sentiment returns the raw [0,1] reading. Readings older than a day are stale.
func (s *HTTPSentimentSource) Sentiment(ctx context.Context, asset string) (*models.SentimentReading, error) {
	var resp sentimentResponse
	if err := s.base.GetJSON(ctx, "/sentiment/"+url.PathEscape(strings.ToLower(asset)), nil, &resp); err != nil {
		return nil, fmt.Errorf("sentiment %s: %w", asset, err)
	}
	if resp.Score == nil {
		return nil, fmt.Errorf("sentiment %s: empty response", asset)
	}
	r := &models.SentimentReading{Asset: strings.ToUpper(asset), Score: *resp.Score, ObservedAt: time.Now().UTC()}
	if resp.UpdatedAt > 0 {
		r.ObservedAt = time.Unix(resp.UpdatedAt, 0).UTC()
		if time.Since(r.ObservedAt) > s.maxAge {
			return nil, models.NewStaleDataError("sentiment", asset, fmt.Errorf("reading from %s", r.ObservedAt.Format(time.RFC3339)))
		}
	}
	return r, nil
}

// SentimentScore maps a [0,1] reading to [-1,1].
func SentimentScore(raw float64) float64 {
	v := (raw - 0.5) * 2
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
