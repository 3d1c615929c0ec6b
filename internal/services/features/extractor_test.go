package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
)

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestComputeLogReturns(t *testing.T) {
	assert.Nil(t, ComputeLogReturns([]models.Candle{{Close: 1}}))
	r := ComputeLogReturns([]models.Candle{{Close: 100}, {Close: 110}, {Close: 0}})
	require.Len(t, r, 2)
	assert.InDelta(t, math.Log(1.1), r[0], 1e-12)
	assert.Zero(t, r[1])
}

func TestBandWidthFlatSeriesIsZero(t *testing.T) {
	w, ok := BandWidth(series(30, func(int) float64 { return 100 }), 20, 2)
	require.True(t, ok)
	assert.Zero(t, w)

	_, ok = BandWidth([]float64{1, 2, 3}, 20, 2)
	assert.False(t, ok)
}

func TestBandWidthGrowsWithDispersion(t *testing.T) {
	calm := series(20, func(i int) float64 { return 100 + float64(i%2) })
	wild := series(20, func(i int) float64 { return 100 + 10*float64(i%2) })
	wc, _ := BandWidth(calm, 20, 2)
	ww, _ := BandWidth(wild, 20, 2)
	assert.Greater(t, ww, wc)
	// alternating 100/101: std 0.5, mid 100.5
	assert.InDelta(t, 2*2*0.5/100.5, wc, 1e-12)
}

func TestMomentumScore(t *testing.T) {
	_, ok := MomentumScore([]float64{1, 2, 3})
	assert.False(t, ok)

	// +1% over 5 bars and +1% over 10 bars → momentum 1 → score 0.5
	closes := []float64{99, 99, 99, 99, 99, 99, 99, 99, 99, 99, 99.99}
	closes[5] = 99
	closes[0] = 99
	s, ok := MomentumScore(closes)
	require.True(t, ok)
	assert.InDelta(t, 0.5, s, 1e-9)

	rising := series(11, func(i int) float64 { return 100 * math.Pow(1.02, float64(i)) })
	s, _ = MomentumScore(rising)
	assert.Equal(t, 1.0, s)
}

func TestPathScore(t *testing.T) {
	assert.InDelta(t, 0.5, PathScore(100, []float64{100.5, 101.5}), 1e-9)
	assert.Equal(t, -1.0, PathScore(100, []float64{90}))
	assert.Zero(t, PathScore(0, []float64{1}))
	assert.Zero(t, PathScore(100, nil))
}

func TestMACDSeriesLength(t *testing.T) {
	closes := series(40, func(i int) float64 { return float64(100 + i) })
	m := MACDSeries(closes, 12, 26)
	assert.Len(t, m, 40-26+1)
	assert.Greater(t, m[len(m)-1], 0.0)
	assert.Nil(t, MACDSeries(closes[:10], 12, 26))
}

func TestDeceleratingAfterRallyStalls(t *testing.T) {
	// steady rally then a flattening top: price still above the mean, histogram shrinking
	closes := series(50, func(i int) float64 {
		if i < 45 {
			return 100 + float64(i)
		}
		return 144 + 0.1*float64(i-44)
	})
	assert.Less(t, HistogramSlope(closes, 3), 0.0)
	assert.True(t, Decelerating(closes))

	accelerating := series(60, func(i int) float64 { return 100 * math.Pow(1.01, float64(i)) })
	assert.False(t, Decelerating(accelerating))
}
