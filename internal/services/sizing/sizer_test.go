package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

func sizer() *Sizer { return NewSizer(config.Default().Strategy.Sizing) }

func TestKellyNoEdgeIsZero(t *testing.T) {
	assert.InDelta(t, -0.2, Kelly(0.4, 1.0), 1e-12)

	frac, reason := sizer().Fraction(models.TradeStats{Samples: 30, Wins: 12, Losses: 18, WinRate: 0.4, WinLoss: 1.0}, 0.5)
	assert.Equal(t, 0.0, frac)
	assert.Equal(t, models.ReasonNoEdge, reason)
}

func TestKellyPositiveEdgeSizes(t *testing.T) {
	assert.InDelta(t, 1.0/3, Kelly(0.6, 1.5), 1e-12)

	frac, reason := sizer().Fraction(models.TradeStats{Samples: 30, Wins: 18, Losses: 12, WinRate: 0.6, WinLoss: 1.5}, 0.3)
	assert.Equal(t, SourceKelly, reason)
	assert.InDelta(t, 1.0/6, frac, 1e-12)
	assert.Greater(t, frac, 0.0)
}

func TestKellyCappedAndNoLosses(t *testing.T) {
	frac, _ := sizer().Fraction(models.TradeStats{Samples: 25, Wins: 25, WinRate: 1}, 0.3)
	assert.Equal(t, 0.25, frac)
}

func TestColdStartFallbackTable(t *testing.T) {
	s := sizer()
	cases := []struct {
		score float64
		want  float64
	}{
		{0.50, 1.00},
		{-0.40, 0.75},
		{0.30, 0.50},
		{0.16, 0.30},
		{0.10, 0},
	}
	for _, c := range cases {
		got, _ := s.Fraction(models.TradeStats{Samples: 5}, c.score)
		assert.Equal(t, c.want, got, "score %v", c.score)
	}
}

func TestAllocateDepletesSequentially(t *testing.T) {
	s := sizer()
	out := s.Allocate([]Request{
		{Asset: "A", Fraction: 0.5},
		{Asset: "B", Fraction: 0.5},
		{Asset: "C", Fraction: 0.5},
		{Asset: "D", Fraction: 0},
	}, 3000)

	require.Len(t, out, 4)
	assert.Equal(t, 1000.0, out[0].Notional)
	assert.Equal(t, 500.0, out[1].Notional)
	assert.Equal(t, 0.0, out[2].Notional)
	assert.Equal(t, models.ReasonZeroAllocation, out[2].Reason)
	assert.Equal(t, models.ReasonNoEdge, out[3].Reason)
}

func TestAllocateCapsAtMaxPosition(t *testing.T) {
	out := sizer().Allocate([]Request{{Asset: "A", Fraction: 1}}, 100000)
	assert.Equal(t, 15000.0, out[0].Notional)
}

func TestCheckLiquidity(t *testing.T) {
	s := sizer()

	require.NoError(t, s.CheckLiquidity("BTC", &models.Quote{Bid: 100, Ask: 100.2}))

	err := s.CheckLiquidity("BTC", &models.Quote{Bid: 100, Ask: 101})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLiquidityRejected)

	assert.ErrorIs(t, s.CheckLiquidity("BTC", nil), models.ErrLiquidityRejected)
	assert.ErrorIs(t, s.CheckLiquidity("BTC", &models.Quote{Ask: 100}), models.ErrLiquidityRejected)
}
