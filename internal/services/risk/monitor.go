package risk

import (
	"math"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// gainEpsilon absorbs float noise at tier boundaries (103/100-1 is not exactly 0.03).
const gainEpsilon = 1e-9

// Evaluation is the result of one monitoring tick for one position.
type Evaluation struct {
	Asset          string
	Price          float64
	Highest        float64
	Stop           float64
	TakeProfit     float64
	PeakGain       float64
	TrailDistance  float64
	TrailingActive bool
	Exit           bool
	Reason         string
	// Changed is set when peak or stop moved and must be persisted.
	Changed bool
}

// Monitor is the trailing stop state machine. Tiers are global, not per asset.
type Monitor struct {
	stopLoss   float64
	takeProfit float64
	tiers      []config.TrailingTier
}

func NewMonitor(cfg config.RiskConfig) *Monitor {
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = config.DefaultTiers()
	}
	return &Monitor{stopLoss: cfg.StopLoss, takeProfit: cfg.TakeProfit, tiers: tiers}
}

// InitialLevels returns the static stop and take-profit ceiling for a new entry.
func (m *Monitor) InitialLevels(entry float64) (stop, takeProfit float64) {
	return entry * (1 - m.stopLoss), entry * (1 + m.takeProfit)
}

// Distance returns the trailing distance for a peak gain, or 0 when below the first tier.
func (m *Monitor) Distance(peakGain float64) float64 {
	d := 0.0
	for _, t := range m.tiers {
		if peakGain+gainEpsilon >= t.MinGain {
			d = t.Distance
		}
	}
	return d
}

// Evaluate applies one price to a position. Trailing logic runs before the take-profit ceiling.
func (m *Monitor) Evaluate(p *models.Position, price float64) Evaluation {
	ev := Evaluation{Asset: p.Asset, Price: price}
	if p.EntryPrice <= 0 || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		ev.Highest, ev.Stop, ev.TakeProfit = p.HighestPrice, p.StopLoss, p.TakeProfit
		return ev
	}

	static, ceiling := m.InitialLevels(p.EntryPrice)
	if p.TakeProfit > 0 {
		ceiling = p.TakeProfit
	}

	peak := math.Max(math.Max(p.HighestPrice, p.EntryPrice), price)
	gain := peak/p.EntryPrice - 1
	stop := math.Max(p.StopLoss, static)

	if dist := m.Distance(gain); dist > 0 {
		ev.TrailingActive = true
		ev.TrailDistance = dist
		trail := math.Max(peak*(1-dist), p.EntryPrice)
		stop = math.Max(stop, trail)
	}

	ev.Highest = peak
	ev.Stop = stop
	ev.TakeProfit = ceiling
	ev.PeakGain = gain
	ev.Changed = peak > p.HighestPrice || stop > p.StopLoss

	switch {
	case price <= stop:
		ev.Exit = true
		ev.Reason = models.ReasonStopLoss
		if ev.TrailingActive && stop > static {
			ev.Reason = models.ReasonTrailingStop
		}
	case price >= ceiling:
		ev.Exit = true
		ev.Reason = models.ReasonTakeProfit
	}
	return ev
}
