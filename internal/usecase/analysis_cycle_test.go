package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	store "TradeFusion/internal/repository"
	"TradeFusion/pkg/config"
)

type cycleFixture struct {
	cycle     *AnalysisCycle
	positions *store.MemoryPositionStore
	logs      *store.MemoryLog
	pub       *recordingPublisher
	fc        *fakeForecaster
	balance   *fakeBalance
}

// BTC is held and bearish, ETH is bullish and free.
func newCycleFixture(t *testing.T) *cycleFixture {
	t.Helper()
	cfg := config.Default()
	cfg.Strategy.Assets = []string{"BTC", "ETH"}

	f := &cycleFixture{
		positions: store.NewMemoryPositionStore(),
		logs:      store.NewMemoryLog(),
		pub:       &recordingPublisher{},
		fc: &fakeForecaster{
			paths: map[string][]float64{"BTC": {99, 97}, "ETH": {101, 103}},
			fail:  map[string]bool{},
		},
		balance: &fakeBalance{cash: 50000},
	}
	require.NoError(t, f.positions.Create(context.Background(), &models.Position{
		Asset:        "BTC",
		EntryPrice:   100,
		EntryTime:    testNow.Add(-10 * time.Hour),
		Quantity:     0.5,
		HighestPrice: 100,
		StopLoss:     95,
		TakeProfit:   125,
		Status:       models.PositionOpen,
	}))

	f.cycle = NewAnalysisCycle(AnalysisDeps{
		Indicators: fakeIndicators{
			"BTC": {Asset: "BTC", Score: -0.8, BandWidth: ptrF(0.03)},
			"ETH": {Asset: "ETH", Score: 0.8, BandWidth: ptrF(0.03)},
		},
		Forecaster: f.fc,
		Sentiment:  fakeSentiment{"BTC": 0.1, "ETH": 0.9},
		Quotes:     &fakeQuotes{prices: map[string]float64{"BTC": 101, "ETH": 200}},
		Candles:    fakeCandles{},
		Positions:  f.positions,
		Trades:     f.logs,
		Signals:    f.logs,
		Audit:      f.logs,
		Exchange:   f.balance,
		Publisher:  f.pub,
		Config:     config.NewStore(cfg),
	}, WithAnalysisClock(func() time.Time { return testNow }))
	return f
}

func TestAnalysisCycleSellsHeldAndBuysFree(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	report, err := f.cycle.Run(ctx, nil, false)
	require.NoError(t, err)
	require.True(t, report.Published)
	require.Len(t, report.Signals, 2)

	assert.Equal(t, "ETH", report.Signals[0].Asset)
	assert.Equal(t, models.DecisionBuy, report.Signals[0].Decision)
	assert.Equal(t, "BTC", report.Signals[1].Asset)
	assert.Equal(t, models.DecisionSell, report.Signals[1].Decision)
	assert.Equal(t, models.ReasonSellSignal, report.Signals[1].Reason)

	require.Equal(t, 1, f.pub.count())
	ins := f.pub.batches[0]
	require.Len(t, ins, 2)
	assert.Equal(t, models.SideSell, ins[0].Side)
	assert.Equal(t, "BTC", ins[0].Asset)
	assert.Equal(t, models.SideBuy, ins[1].Side)
	assert.Equal(t, "ETH", ins[1].Asset)
	// cold start: |score| >= 0.45 takes the whole available pool, capped by max position
	assert.Equal(t, 15000.0, ins[1].Notional)
	assert.Equal(t, models.InstructionKey(report.CycleID, "ETH", models.SideBuy), ins[1].IdempotencyKey)
	assert.Equal(t, report.Signals[0].ID, ins[1].SignalRef)

	for _, s := range report.Signals {
		assert.InDelta(t, 1.0, s.Weights.Sum(), 1e-9)
		assert.Contains(t, s.Degraded, string(models.SourceMarketContext))
	}

	stored, err := f.logs.RecentSignals(ctx, "", testNow.Add(-time.Hour), testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	audit, err := f.logs.RecentAudit(ctx, "", models.StageAnalysis, 10)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	for _, r := range audit {
		assert.Equal(t, models.ReasonDegraded, r.Reason)
	}
}

func TestAnalysisCycleDryRunRecordsNothing(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()

	report, err := f.cycle.Run(ctx, []string{"eth", "ETH"}, true)
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	require.Len(t, report.Instructions, 1)
	assert.False(t, report.Published)
	assert.Zero(t, f.pub.count())

	stored, err := f.logs.RecentSignals(ctx, "", testNow.Add(-time.Hour), testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestAnalysisCycleForecastFallback(t *testing.T) {
	f := newCycleFixture(t)
	f.fc.fail["ETH"] = true
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	f.cycle.d.Candles = fakeCandles{"ETH": closes}

	report, err := f.cycle.Run(context.Background(), []string{"ETH"}, true)
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)

	sig := report.Signals[0]
	assert.Contains(t, sig.Degraded, string(models.SourceForecast))
	for _, c := range sig.Components {
		if c.Source == models.SourceForecast {
			assert.Greater(t, c.Value, 0.0)
			assert.InDelta(t, 0.2, c.ConfidenceOr(-1), 1e-9)
		}
	}

	require.Len(t, report.Audit, 1)
	assert.Equal(t, models.KindTransientUpstream, report.Audit[0].ErrorKind)
}

func TestAnalysisCycleBalanceFailureSuppressesBuys(t *testing.T) {
	f := newCycleFixture(t)
	f.balance.err = errors.New("exchange timeout")

	report, err := f.cycle.Run(context.Background(), nil, false)
	require.NoError(t, err)

	require.Len(t, report.Instructions, 1)
	assert.Equal(t, models.SideSell, report.Instructions[0].Side)

	var found bool
	for _, r := range report.Audit {
		if r.Asset == "ETH" && r.Decision == models.DecisionBuy && r.Reason == models.ReasonZeroAllocation {
			found = true
			assert.Equal(t, models.KindTransientUpstream, r.ErrorKind)
		}
	}
	assert.True(t, found)
}

func TestAnalysisCycleMinHoldSuppressesSell(t *testing.T) {
	f := newCycleFixture(t)
	ctx := context.Background()
	_, err := f.positions.Close(ctx, "BTC", 100, testNow)
	require.NoError(t, err)
	require.NoError(t, f.positions.Create(ctx, &models.Position{
		Asset: "BTC", EntryPrice: 100, EntryTime: testNow.Add(-time.Hour), Quantity: 0.5,
		HighestPrice: 100, StopLoss: 95, TakeProfit: 125, Status: models.PositionOpen,
	}))

	report, err := f.cycle.Run(ctx, []string{"BTC"}, false)
	require.NoError(t, err)
	require.Len(t, report.Signals, 1)
	assert.Equal(t, models.DecisionHold, report.Signals[0].Decision)
	assert.Equal(t, models.ReasonMinHold, report.Signals[0].Reason)
	assert.Empty(t, report.Instructions)
	assert.Zero(t, f.pub.count())

	audit, err := f.logs.RecentAudit(ctx, "BTC", models.StageAnalysis, 10)
	require.NoError(t, err)
	var reasons []string
	for _, r := range audit {
		reasons = append(reasons, r.Reason)
	}
	assert.Contains(t, reasons, models.ReasonMinHold)
}

func TestAnalysisCycleFailsWithoutPositions(t *testing.T) {
	f := newCycleFixture(t)
	f.cycle.d.Positions = failingPositions{}

	_, err := f.cycle.Run(context.Background(), nil, false)
	assert.Error(t, err)
	assert.Zero(t, f.pub.count())
}

func TestAnalysisCyclePublishFailure(t *testing.T) {
	f := newCycleFixture(t)
	f.pub.err = errors.New("kafka down")

	report, err := f.cycle.Run(context.Background(), nil, false)
	require.Error(t, err)
	assert.False(t, report.Published)
	assert.Len(t, report.Signals, 2)
}
