package service

import (
	"context"

	"TradeFusion/internal/domain/models"
)

// IndicatorSource returns the technical component and the volatility proxy.
type IndicatorSource interface {
	Snapshot(ctx context.Context, asset string) (*models.IndicatorSnapshot, error)
}

// Forecaster calls the time-series forecasting service.
type Forecaster interface {
	Forecast(ctx context.Context, asset string, closes []float64) (*models.Forecast, error)
}

// SentimentSource returns the raw [0,1] sentiment reading.
type SentimentSource interface {
	Sentiment(ctx context.Context, asset string) (*models.SentimentReading, error)
}

// MarketContextSource returns the latest macro snapshot.
type MarketContextSource interface {
	Current(ctx context.Context) (*models.MarketContext, error)
}

// QuoteSource returns the live quote for an asset.
type QuoteSource interface {
	Quote(ctx context.Context, asset string) (*models.Quote, error)
}

// Exchange is the execution collaborator. Submit is fire-and-forget; fills are fetched by order id.
type Exchange interface {
	// SubmitMarketOrder places a market order. BUY amount is notional, SELL amount is quantity.
	SubmitMarketOrder(ctx context.Context, asset string, side models.Side, amount float64) (string, error)
	QueryFill(ctx context.Context, orderID string) (*models.Fill, error)
	Quote(ctx context.Context, asset string) (*models.Quote, error)
	Balance(ctx context.Context) (*models.Balance, error)
}

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notifier is one-way and best effort. It must never block the caller.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string)
}

// TickStream is the live trade feed behind the quote book.
type TickStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	// Read streams ticks until ctx is done or the connection fails.
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}
