package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"TradeFusion/internal/domain/models"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeIndicators map[string]models.IndicatorSnapshot

func (f fakeIndicators) Snapshot(_ context.Context, asset string) (*models.IndicatorSnapshot, error) {
	s, ok := f[asset]
	if !ok {
		return nil, errors.New("indicator service unavailable")
	}
	return &s, nil
}

type fakeForecaster struct {
	paths map[string][]float64
	fail  map[string]bool
}

func (f *fakeForecaster) Forecast(_ context.Context, asset string, _ []float64) (*models.Forecast, error) {
	if f.fail[asset] {
		return nil, errors.New("forecaster 503")
	}
	return &models.Forecast{Asset: asset, Current: 100, Predicted: f.paths[asset], Confidence: 0.5}, nil
}

type fakeSentiment map[string]float64

func (f fakeSentiment) Sentiment(_ context.Context, asset string) (*models.SentimentReading, error) {
	v, ok := f[asset]
	if !ok {
		return nil, errors.New("no sentiment")
	}
	return &models.SentimentReading{Asset: asset, Score: v, ObservedAt: testNow}, nil
}

type fakeCandles map[string][]float64

func (f fakeCandles) GetCandles(context.Context, string, time.Time, time.Time) ([]models.Candle, error) {
	return nil, nil
}

func (f fakeCandles) GetLatestNCandles(_ context.Context, symbol string, n int) ([]models.Candle, error) {
	closes := f[symbol]
	out := make([]models.Candle, 0, len(closes))
	for i, c := range closes {
		out = append(out, models.Candle{Bucket: testNow.Add(time.Duration(i-len(closes)) * time.Hour), Symbol: symbol, Close: c})
	}
	return out, nil
}

type fakeQuotes struct {
	mu     sync.Mutex
	prices map[string]float64
	at     time.Time
	calls  int
}

func (f *fakeQuotes) Quote(_ context.Context, asset string) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.prices[asset]
	if !ok {
		return nil, errors.New("no quote")
	}
	at := f.at
	if at.IsZero() {
		at = testNow
	}
	return &models.Quote{Asset: asset, Bid: p * 0.999, Ask: p * 1.001, Last: p, At: at}, nil
}

type fakeBalance struct {
	cash float64
	err  error
}

func (f *fakeBalance) SubmitMarketOrder(context.Context, string, models.Side, float64) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeBalance) QueryFill(context.Context, string) (*models.Fill, error) {
	return nil, errors.New("not used")
}

func (f *fakeBalance) Quote(context.Context, string) (*models.Quote, error) {
	return nil, errors.New("not used")
}

func (f *fakeBalance) Balance(context.Context) (*models.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Balance{Cash: f.cash}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]models.Instruction
	err     error
}

func (p *recordingPublisher) PublishInstructions(_ context.Context, ins []models.Instruction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, append([]models.Instruction(nil), ins...))
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

type failingPositions struct{}

func (failingPositions) GetOpen(context.Context, string) (*models.Position, error) {
	return nil, errors.New("redis down")
}
func (failingPositions) Create(context.Context, *models.Position) error { return errors.New("redis down") }
func (failingPositions) UpdatePeakAndStop(context.Context, string, float64, float64) error {
	return errors.New("redis down")
}
func (failingPositions) Close(context.Context, string, float64, time.Time) (*models.Position, error) {
	return nil, errors.New("redis down")
}
func (failingPositions) ListOpen(context.Context) ([]*models.Position, error) {
	return nil, errors.New("redis down")
}

func ptrF(v float64) *float64 { return &v }
