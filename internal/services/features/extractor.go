package features

import (
	"math"

	"TradeFusion/internal/domain/models"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// SMA is the simple mean of the last period closes, or the last close when there are fewer.
func SMA(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if period <= 0 || len(closes) < period {
		return closes[len(closes)-1]
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

// BandWidth returns the Bollinger band width (upper-lower)/middle over period bars with k
// standard deviations. It is the volatility proxy used by the threshold calculator.
// ok is false when there is not enough data.
func BandWidth(closes []float64, period int, k float64) (width float64, ok bool) {
	if period <= 1 || len(closes) < period {
		return 0, false
	}
	mid := SMA(closes, period)
	if mid <= 0 {
		return 0, false
	}
	variance := 0.0
	for _, c := range closes[len(closes)-period:] {
		variance += (c - mid) * (c - mid)
	}
	std := math.Sqrt(variance / float64(period))
	return 2 * k * std / mid, true
}

// Momentum returns the percent change over n bars.
func Momentum(closes []float64, n int) float64 {
	if n <= 0 || len(closes) <= n {
		return 0
	}
	base := closes[len(closes)-1-n]
	if base <= 0 {
		return 0
	}
	return (closes[len(closes)-1] - base) / base * 100
}

// MomentumScore is the fallback forecast score: 5 and 10 bar momentum weighted 0.6/0.4,
// where a 2% move maps to a full score. ok is false with fewer than 11 closes.
func MomentumScore(closes []float64) (score float64, ok bool) {
	if len(closes) < 11 {
		return 0, false
	}
	m := Momentum(closes, 5)*0.6 + Momentum(closes, 10)*0.4
	return clamp(m/2, -1, 1), true
}

// PathScore maps a predicted price path to a score: the change of the last predicted
// point against current, where 3% maps to a full score.
func PathScore(current float64, predicted []float64) float64 {
	if current <= 0 || len(predicted) == 0 {
		return 0
	}
	change := (predicted[len(predicted)-1] - current) / current * 100
	return clamp(change/3, -1, 1)
}

// EMA seeds with the SMA of the first period values.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period <= 0 || len(values) < period {
		return values[len(values)-1]
	}
	mult := 2 / float64(period+1)
	ema := mean(values[:period])
	for _, v := range values[period:] {
		ema = (v-ema)*mult + ema
	}
	return ema
}

// MACDSeries returns the fast-slow EMA difference for every bar from slow onwards.
func MACDSeries(closes []float64, fast, slow int) []float64 {
	if fast <= 0 || slow <= fast || len(closes) < slow {
		return nil
	}
	mf, ms := 2/float64(fast+1), 2/float64(slow+1)
	emaFast := mean(closes[:fast])
	emaSlow := mean(closes[:slow])
	for _, c := range closes[fast:slow] {
		emaFast = (c-emaFast)*mf + emaFast
	}
	out := []float64{emaFast - emaSlow}
	for _, c := range closes[slow:] {
		emaFast = (c-emaFast)*mf + emaFast
		emaSlow = (c-emaSlow)*ms + emaSlow
		out = append(out, emaFast-emaSlow)
	}
	return out
}

// HistogramSlope is the mean change of the MACD histogram over the last lookback bars,
// normalized by price so that 0.05% maps to ±1. Negative means momentum is fading.
func HistogramSlope(closes []float64, lookback int) float64 {
	const fast, slow, signal = 12, 26, 9
	if lookback < 1 || len(closes) < slow+signal+lookback {
		return 0
	}
	macd := MACDSeries(closes, fast, slow)
	if len(macd) < signal+lookback {
		return 0
	}

	mult := 2 / float64(signal+1)
	ema := mean(macd[:signal])
	sig := []float64{ema}
	for _, v := range macd[signal:] {
		ema = (v-ema)*mult + ema
		sig = append(sig, ema)
	}
	offset := len(macd) - len(sig)
	hist := make([]float64, len(sig))
	for i := range sig {
		hist[i] = macd[offset+i] - sig[i]
	}
	if len(hist) < lookback+1 {
		return 0
	}

	recent := hist[len(hist)-lookback-1:]
	change := 0.0
	for i := 1; i < len(recent); i++ {
		change += recent[i] - recent[i-1]
	}
	change /= float64(lookback)

	price := closes[len(closes)-1]
	if price <= 0 {
		return 0
	}
	return clamp(change/price*100/0.05, -1, 1)
}

// Decelerating reports upward momentum that is fading: price above its 20 bar mean while
// the MACD histogram shrinks.
func Decelerating(closes []float64) bool {
	if len(closes) < 20 {
		return false
	}
	return closes[len(closes)-1] > SMA(closes, 20) && HistogramSlope(closes, 3) < 0
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
