package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

func monitor() *Monitor { return NewMonitor(config.Default().Strategy.Risk) }

func position(entry float64) *models.Position {
	m := monitor()
	stop, tp := m.InitialLevels(entry)
	return &models.Position{
		Asset: "BTC", EntryPrice: entry, EntryTime: time.Now(), Quantity: 1,
		HighestPrice: entry, StopLoss: stop, TakeProfit: tp, Status: models.PositionOpen,
	}
}

func TestInitialLevels(t *testing.T) {
	stop, tp := monitor().InitialLevels(100)
	assert.InDelta(t, 95, stop, 1e-9)
	assert.InDelta(t, 125, tp, 1e-9)
}

func TestTrailingStopAtTwelvePercent(t *testing.T) {
	p := position(100)
	ev := monitor().Evaluate(p, 112)

	require.True(t, ev.TrailingActive)
	assert.InDelta(t, 0.01, ev.TrailDistance, 1e-12)
	assert.GreaterOrEqual(t, ev.Stop, 100.0)
	assert.LessOrEqual(t, ev.Stop, 112*0.99+1e-9)
	assert.InDelta(t, 110.88, ev.Stop, 1e-9)
	assert.False(t, ev.Exit)
	assert.True(t, ev.Changed)
}

func TestTierTable(t *testing.T) {
	m := monitor()
	cases := []struct {
		gain float64
		want float64
	}{
		{0.00, 0},
		{0.029, 0},
		{0.03, 0.020},
		{0.049, 0.020},
		{0.05, 0.015},
		{0.08, 0.012},
		{0.12, 0.010},
		{0.50, 0.010},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, m.Distance(c.gain), "gain %v", c.gain)
	}
}

func TestBreakevenFloor(t *testing.T) {
	p := position(100)
	ev := monitor().Evaluate(p, 103)

	require.True(t, ev.TrailingActive)
	// 103*0.98 = 100.94, above entry
	assert.InDelta(t, 100.94, ev.Stop, 1e-9)

	cfg := config.Default().Strategy.Risk
	cfg.Tiers = []config.TrailingTier{{MinGain: 0.03, Distance: 0.05}}
	ev = NewMonitor(cfg).Evaluate(position(100), 103)
	assert.Equal(t, 100.0, ev.Stop)
}

func TestStopNeverMovesDown(t *testing.T) {
	m := monitor()
	p := position(100)

	ev := m.Evaluate(p, 110)
	p.HighestPrice, p.StopLoss = ev.Highest, ev.Stop
	high := ev.Stop

	ev = m.Evaluate(p, 109.5)
	assert.Equal(t, high, ev.Stop)
	assert.Equal(t, 110.0, ev.Highest)
	assert.False(t, ev.Changed)
}

func TestTrailingExitBeforeTakeProfit(t *testing.T) {
	m := monitor()
	p := position(100)

	ev := m.Evaluate(p, 120)
	p.HighestPrice, p.StopLoss = ev.Highest, ev.Stop

	ev = m.Evaluate(p, 118.5)
	require.True(t, ev.Exit)
	assert.Equal(t, models.ReasonTrailingStop, ev.Reason)
}

func TestStaticStopLoss(t *testing.T) {
	ev := monitor().Evaluate(position(100), 94)
	require.True(t, ev.Exit)
	assert.Equal(t, models.ReasonStopLoss, ev.Reason)
	assert.False(t, ev.TrailingActive)
}

func TestTakeProfitCeiling(t *testing.T) {
	// a gap straight through the ceiling with no prior peak
	ev := monitor().Evaluate(position(100), 126)
	require.True(t, ev.Exit)
	assert.Equal(t, models.ReasonTakeProfit, ev.Reason)
}

func TestInvalidPriceIsIgnored(t *testing.T) {
	p := position(100)
	ev := monitor().Evaluate(p, 0)
	assert.False(t, ev.Exit)
	assert.Equal(t, p.StopLoss, ev.Stop)
}
