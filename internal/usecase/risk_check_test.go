package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	store "TradeFusion/internal/repository"
	"TradeFusion/pkg/config"
)

func openPosition(t *testing.T, ps *store.MemoryPositionStore, asset string, entry float64) *models.Position {
	t.Helper()
	p := &models.Position{
		Asset:        asset,
		EntryPrice:   entry,
		EntryTime:    testNow.Add(-6 * time.Hour),
		Quantity:     1,
		HighestPrice: entry,
		StopLoss:     entry * 0.95,
		TakeProfit:   entry * 1.25,
		Status:       models.PositionOpen,
	}
	require.NoError(t, ps.Create(context.Background(), p))
	return p
}

func newRiskFixture(quotes *fakeQuotes) (*RiskCheck, *store.MemoryPositionStore, *store.MemoryLog, *recordingPublisher) {
	ps := store.NewMemoryPositionStore()
	logs := store.NewMemoryLog()
	pub := &recordingPublisher{}
	rc := NewRiskCheck(RiskDeps{
		Positions: ps,
		Quotes:    quotes,
		Audit:     logs,
		Publisher: pub,
		Config:    config.NewStore(config.Default()),
	}, WithRiskClock(func() time.Time { return testNow }))
	return rc, ps, logs, pub
}

func TestRiskCheckStopLossExit(t *testing.T) {
	rc, ps, _, pub := newRiskFixture(&fakeQuotes{prices: map[string]float64{"BTC": 94}})
	p := openPosition(t, ps, "BTC", 100)

	report, err := rc.Run(context.Background(), false)
	require.NoError(t, err)
	require.True(t, report.Published)
	require.Len(t, report.Instructions, 1)

	in := report.Instructions[0]
	assert.Equal(t, models.SideSell, in.Side)
	assert.Equal(t, models.SourceRisk, in.Source)
	assert.Equal(t, models.ReasonStopLoss, in.Reason)
	assert.Equal(t, models.InstructionKey(RiskCycleID(p), "BTC", models.SideSell), in.IdempotencyKey)

	again, err := rc.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, again.Instructions, 1)
	assert.Equal(t, in.IdempotencyKey, again.Instructions[0].IdempotencyKey)
	assert.Equal(t, 2, pub.count())
}

func TestRiskCheckPersistsRaisedStop(t *testing.T) {
	rc, ps, _, pub := newRiskFixture(&fakeQuotes{prices: map[string]float64{"ETH": 110}})
	openPosition(t, ps, "ETH", 100)

	report, err := rc.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Positions, 1)
	assert.False(t, report.Positions[0].Exit)
	assert.True(t, report.Positions[0].TrailingActive)
	assert.Empty(t, report.Instructions)
	assert.Zero(t, pub.count())

	p, err := ps.GetOpen(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 110.0, p.HighestPrice)
	assert.InDelta(t, 108.68, p.StopLoss, 1e-9)
}

func TestRiskCheckTrailingStopExit(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]float64{"ETH": 110}}
	rc, ps, _, _ := newRiskFixture(quotes)
	openPosition(t, ps, "ETH", 100)

	_, err := rc.Run(context.Background(), false)
	require.NoError(t, err)

	quotes.prices["ETH"] = 108
	report, err := rc.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Instructions, 1)
	assert.Equal(t, models.ReasonTrailingStop, report.Instructions[0].Reason)
}

func TestRiskCheckStaleQuoteIsAudited(t *testing.T) {
	quotes := &fakeQuotes{prices: map[string]float64{"BTC": 80}, at: testNow.Add(-10 * time.Minute)}
	rc, ps, logs, pub := newRiskFixture(quotes)
	openPosition(t, ps, "BTC", 100)

	report, err := rc.Run(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, report.Positions, 1)
	assert.False(t, report.Positions[0].Exit)
	assert.NotEmpty(t, report.Positions[0].Error)
	assert.Empty(t, report.Instructions)
	assert.Zero(t, pub.count())

	audit, err := logs.RecentAudit(context.Background(), "BTC", models.StageRisk, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.ReasonDegraded, audit[0].Reason)
	assert.Equal(t, models.KindStaleData, audit[0].ErrorKind)
}

func TestRiskCheckDryRun(t *testing.T) {
	rc, ps, _, pub := newRiskFixture(&fakeQuotes{prices: map[string]float64{"ETH": 110, "BTC": 94}})
	openPosition(t, ps, "ETH", 100)
	openPosition(t, ps, "BTC", 100)

	report, err := rc.Run(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Instructions, 1)
	assert.False(t, report.Published)
	assert.Zero(t, pub.count())

	p, err := ps.GetOpen(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 100.0, p.HighestPrice)
}

func TestRiskCheckFailsWithoutPositions(t *testing.T) {
	rc, _, _, _ := newRiskFixture(&fakeQuotes{})
	rc.d.Positions = failingPositions{}

	_, err := rc.Run(context.Background(), false)
	assert.Error(t, err)
}
