package sizing

import (
	"fmt"
	"math"

	"TradeFusion/internal/domain/models"
	"TradeFusion/pkg/config"
)

// Sizing sources reported with a fraction.
const (
	SourceKelly    = "kelly"
	SourceFallback = "fallback"
)

// Sizer turns BUY decisions into notionals with fractional Kelly and a cold-start table.
type Sizer struct {
	cfg config.SizingConfig
}

func NewSizer(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// CheckLiquidity rejects a missing, one-sided or too wide book.
func (s *Sizer) CheckLiquidity(asset string, q *models.Quote) error {
	if q == nil {
		return models.NewLiquidityRejectedError(asset, fmt.Errorf("no quote"))
	}
	spread := q.Spread()
	if spread < 0 {
		return models.NewLiquidityRejectedError(asset, fmt.Errorf("one-sided book bid=%g ask=%g", q.Bid, q.Ask))
	}
	if spread > s.cfg.MaxSpread {
		return models.NewLiquidityRejectedError(asset, fmt.Errorf("spread %.5f above %.5f", spread, s.cfg.MaxSpread))
	}
	return nil
}

// Kelly returns p - (1-p)/b. Without a loss history (b<=0) the edge is p.
func Kelly(p, b float64) float64 {
	if b <= 0 {
		return p
	}
	return p - (1-p)/b
}

// Fraction returns the fraction of available capital for a signal, the sizing source or
// suppression reason.
func (s *Sizer) Fraction(stats models.TradeStats, score float64) (float64, string) {
	if stats.Samples >= s.cfg.MinSamples && stats.Samples > 0 {
		var k float64
		switch {
		case stats.Losses == 0:
			k = Kelly(stats.WinRate, 0)
		case stats.WinLoss <= 0:
			k = 0
		default:
			k = Kelly(stats.WinRate, stats.WinLoss)
		}
		if k <= 0 || math.IsNaN(k) {
			return 0, models.ReasonNoEdge
		}
		return math.Min(k*s.cfg.KellyMultiplier, s.cfg.MaxFraction), SourceKelly
	}

	mag := math.Abs(score)
	for _, step := range s.cfg.Fallback {
		if mag >= step.MinScore {
			return step.Fraction, SourceFallback
		}
	}
	return 0, models.ReasonZeroAllocation
}

// Request is one ranked BUY awaiting capital.
type Request struct {
	Asset      string
	FusedScore float64
	Fraction   float64
}

// Allocation is the sized result. Notional is zero when the request was starved.
type Allocation struct {
	Asset    string
	Notional float64
	Reason   string
}

// Available is capital minus the reserve, never negative.
func (s *Sizer) Available(capital float64) float64 {
	return math.Max(capital-s.cfg.Reserve, 0)
}

// Allocate sizes requests in order. Earlier requests deplete capital for later ones.
func (s *Sizer) Allocate(reqs []Request, capital float64) []Allocation {
	remaining := s.Available(capital)
	out := make([]Allocation, 0, len(reqs))

	for _, r := range reqs {
		a := Allocation{Asset: r.Asset}
		n := math.Min(r.Fraction*remaining, s.cfg.MaxPosition)
		switch {
		case r.Fraction <= 0:
			a.Reason = models.ReasonNoEdge
		case n < s.cfg.MinOrder:
			a.Reason = models.ReasonZeroAllocation
		default:
			a.Notional = math.Floor(n)
			remaining -= a.Notional
		}
		out = append(out, a)
	}
	return out
}
