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

// hourlyCandles serves candles from a fixed series regardless of the requested range.
type hourlyCandles struct {
	series []models.Candle
	err    error
	calls  int
}

func (h *hourlyCandles) GetCandles(_ context.Context, _ string, from, to time.Time) ([]models.Candle, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	var out []models.Candle
	for _, c := range h.series {
		if c.Bucket.Before(from) || c.Bucket.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (h *hourlyCandles) GetLatestNCandles(context.Context, string, int) ([]models.Candle, error) {
	return h.series, nil
}

// ethCandles opens at midnight of testNow's day, one candle per hour up to 09:00.
func ethCandles() *hourlyCandles {
	day := testNow.Truncate(24 * time.Hour)
	closes := []float64{100, 100, 100, 100, 100, 101, 99, 100, 100.1, 100}
	out := make([]models.Candle, 0, len(closes))
	for i, c := range closes {
		out = append(out, models.Candle{
			Bucket: day.Add(time.Duration(i) * time.Hour),
			Symbol: "ETH",
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
		})
	}
	out[5].High = 102
	out[5].Low = 99.5
	return &hourlyCandles{series: out}
}

func newResultChecker(t *testing.T, candles *hourlyCandles) (*ResultChecker, *store.MemoryLog) {
	t.Helper()
	cfg := config.Default()
	cfg.Strategy.Assets = []string{"ETH"}
	logs := store.NewMemoryLog()
	rc := NewResultChecker(OutcomeDeps{
		Signals:  logs,
		Outcomes: logs,
		Candles:  candles,
		Config:   config.NewStore(cfg),
	}, WithOutcomeClock(func() time.Time { return testNow }))
	return rc, logs
}

func outcomeByKey(t *testing.T, logs *store.MemoryLog) map[string]models.SignalOutcome {
	t.Helper()
	all, err := logs.RecentOutcomes(context.Background(), "", testNow.Add(-96*time.Hour))
	require.NoError(t, err)
	out := make(map[string]models.SignalOutcome, len(all))
	for _, o := range all {
		out[o.SignalID+"|"+o.Horizon] = o
	}
	return out
}

func TestResultChecker_GradesElapsedHorizons(t *testing.T) {
	rc, logs := newResultChecker(t, ethCandles())
	ctx := context.Background()
	require.NoError(t, logs.AppendSignals(ctx, []models.Signal{
		{ID: "buy-1", Asset: "ETH", Timestamp: testNow.Add(-5 * time.Hour), Decision: models.DecisionBuy},
		{ID: "sell-1", Asset: "ETH", Timestamp: testNow.Add(-3 * time.Hour), Decision: models.DecisionSell},
		{ID: "hold-1", Asset: "ETH", Timestamp: testNow.Add(-4 * time.Hour), Decision: models.DecisionHold},
	}))

	report, err := rc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 3, report.Recorded)
	assert.Zero(t, report.Completed)
	assert.Empty(t, report.Errors)

	got := outcomeByKey(t, logs)
	require.Len(t, got, 3)

	buy1h := got["buy-1|1h"]
	assert.Equal(t, models.GradeWin, buy1h.Grade)
	assert.Equal(t, 100.0, buy1h.EntryPrice)
	assert.Equal(t, 101.0, buy1h.ExitPrice)
	assert.InDelta(t, 1.0, buy1h.ChangePct, 1e-9)
	assert.InDelta(t, 2.0, buy1h.MaxFavorablePct, 1e-9)
	assert.InDelta(t, -0.5, buy1h.MaxAdversePct, 1e-9)

	buy4h := got["buy-1|4h"]
	assert.Equal(t, models.GradeDraw, buy4h.Grade)
	assert.InDelta(t, 0.1, buy4h.ChangePct, 1e-9)

	sell1h := got["sell-1|1h"]
	assert.Equal(t, models.GradeLoss, sell1h.Grade)
	assert.Equal(t, 99.0, sell1h.EntryPrice)
	assert.Equal(t, 100.0, sell1h.ExitPrice)

	_, pending := got["buy-1|12h"]
	assert.False(t, pending)
	_, pending = got["hold-1|1h"]
	assert.False(t, pending)
}

func TestResultChecker_DoesNotRegradeRecordedHorizons(t *testing.T) {
	rc, logs := newResultChecker(t, ethCandles())
	ctx := context.Background()
	require.NoError(t, logs.AppendSignals(ctx, []models.Signal{
		{ID: "buy-1", Asset: "ETH", Timestamp: testNow.Add(-5 * time.Hour), Decision: models.DecisionBuy},
	}))

	first, err := rc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Recorded)

	second, err := rc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Checked)
	assert.Zero(t, second.Recorded)
	assert.Len(t, outcomeByKey(t, logs), 2)
}

func TestResultChecker_CompletesAfterLongestHorizon(t *testing.T) {
	start := testNow.Add(-74 * time.Hour).Truncate(time.Hour)
	series := make([]models.Candle, 0, 74)
	for i := 0; i < 74; i++ {
		series = append(series, models.Candle{Bucket: start.Add(time.Duration(i) * time.Hour), Symbol: "ETH", High: 100, Low: 100, Close: 100})
	}
	rc, logs := newResultChecker(t, &hourlyCandles{series: series})
	ctx := context.Background()
	require.NoError(t, logs.AppendSignals(ctx, []models.Signal{
		{ID: "buy-old", Asset: "ETH", Timestamp: testNow.Add(-73 * time.Hour), Decision: models.DecisionBuy},
	}))

	report, err := rc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Recorded)
	assert.Equal(t, 1, report.Completed)
	for _, o := range outcomeByKey(t, logs) {
		assert.Equal(t, models.GradeDraw, o.Grade, o.Horizon)
	}
}

func TestResultChecker_MissingCandlesStayPending(t *testing.T) {
	rc, logs := newResultChecker(t, &hourlyCandles{})
	ctx := context.Background()
	require.NoError(t, logs.AppendSignals(ctx, []models.Signal{
		{ID: "buy-1", Asset: "ETH", Timestamp: testNow.Add(-5 * time.Hour), Decision: models.DecisionBuy},
	}))

	report, err := rc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Recorded)
	assert.Empty(t, outcomeByKey(t, logs))
}

func TestResultChecker_CandleFailureIsReported(t *testing.T) {
	candles := &hourlyCandles{err: errors.New("clickhouse down")}
	rc, logs := newResultChecker(t, candles)
	ctx := context.Background()
	require.NoError(t, logs.AppendSignals(ctx, []models.Signal{
		{ID: "buy-1", Asset: "ETH", Timestamp: testNow.Add(-5 * time.Hour), Decision: models.DecisionBuy},
	}))

	report, err := rc.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, report.Errors["ETH"], "clickhouse down")
}

func TestResultChecker_SkipsCandlesWithoutDirectionalSignals(t *testing.T) {
	candles := ethCandles()
	rc, logs := newResultChecker(t, candles)
	ctx := context.Background()
	require.NoError(t, logs.AppendSignals(ctx, []models.Signal{
		{ID: "hold-1", Asset: "ETH", Timestamp: testNow.Add(-5 * time.Hour), Decision: models.DecisionHold},
	}))

	report, err := rc.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Zero(t, candles.calls)
}
