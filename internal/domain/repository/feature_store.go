package repository

import (
	"context"
	"time"

	"TradeFusion/internal/domain/models"
)

// FeatureStore provides read-only access to candles for the analysis cycle.
type FeatureStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error)
}
