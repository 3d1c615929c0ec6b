package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"TradeFusion/internal/domain/models"
)

var reportWindows = []struct {
	name string
	span time.Duration
}{
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
}

const (
	reportTradeLimit  = 1000
	reportSignalLimit = 1000
	// z for a two sided 95% interval
	wilsonZ = 1.96
)

// DailyReport builds the end of day summary at the given instant. Each section is built
// independently; a failing section is named in Errors and the rest are still returned.
func (q *Queries) DailyReport(ctx context.Context, at time.Time, date string) (*models.DailyReport, error) {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	if date == "" {
		date = q.cfg.Current().ReportDate(at)
	}
	r := &models.DailyReport{Date: date, GeneratedAt: at}
	fail := func(section string, err error) {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", section, err))
	}

	if q.trades != nil {
		trades, err := q.trades.ClosedTrades(ctx, reportTradeLimit)
		if err != nil {
			fail("trades", err)
		} else {
			for _, w := range reportWindows {
				r.Trades = append(r.Trades, performance(w.name, trades, at.Add(-w.span), at))
			}
		}
	}

	signals, err := q.signals.RecentSignals(ctx, "", at.Add(-24*time.Hour), at, reportSignalLimit)
	if err != nil {
		fail("signals", err)
	} else {
		r.Signals = signalStats(signals)
	}

	if q.outcomes != nil {
		outcomes, err := q.outcomes.RecentOutcomes(ctx, "", at.Add(-7*24*time.Hour))
		if err != nil {
			fail("outcomes", err)
		} else {
			r.Outcomes = outcomeStats(outcomes)
		}
	}

	open, err := q.positions.ListOpen(ctx)
	if err != nil {
		fail("positions", err)
	} else {
		for _, p := range open {
			r.Positions = append(r.Positions, models.PositionSummary{
				Asset:      p.Asset,
				EntryPrice: p.EntryPrice,
				Quantity:   p.Quantity,
				StopLoss:   p.StopLoss,
				TakeProfit: p.TakeProfit,
				HeldHours:  math.Round(p.HeldFor(at).Hours()*10) / 10,
			})
		}
		sort.Slice(r.Positions, func(i, j int) bool { return r.Positions[i].Asset < r.Positions[j].Asset })
	}

	if q.market != nil {
		if mc, err := q.market.Current(ctx); err != nil {
			fail("market_context", err)
		} else {
			r.MarketContext = mc
		}
	}

	if st, err := q.Breaker(ctx); err != nil {
		fail("breaker", err)
	} else {
		r.Breaker = st
	}
	return r, nil
}

func performance(window string, trades []models.TradeRecord, from, to time.Time) models.PerformanceWindow {
	w := models.PerformanceWindow{Window: window}
	first := true
	for _, t := range trades {
		if t.Side != models.SideSell || t.ExecutedAt.Before(from) || t.ExecutedAt.After(to) {
			continue
		}
		w.Trades++
		if t.PnL > 0 {
			w.Wins++
		} else {
			w.Losses++
		}
		w.TotalPnL += t.PnL
		if first || t.PnL > w.BestPnL {
			w.BestPnL = t.PnL
		}
		if first || t.PnL < w.WorstPnL {
			w.WorstPnL = t.PnL
		}
		first = false
	}
	if w.Trades > 0 {
		w.WinRate = float64(w.Wins) / float64(w.Trades)
		w.WinRateLow, w.WinRateHigh = wilson(w.Wins, w.Trades)
	}
	return w
}

// wilson is the 95% Wilson score interval for wins out of n.
func wilson(wins, n int) (float64, float64) {
	if n == 0 {
		return 0, 0
	}
	p := float64(wins) / float64(n)
	nf := float64(n)
	z2 := wilsonZ * wilsonZ
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	margin := wilsonZ * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
	return math.Max(0, center-margin), math.Min(1, center+margin)
}

func signalStats(signals []models.Signal) models.SignalStats {
	st := models.SignalStats{Distribution: map[string]int{}}
	var sum float64
	for _, s := range signals {
		st.Total++
		switch s.Decision {
		case models.DecisionBuy:
			st.Buy++
		case models.DecisionSell:
			st.Sell++
		default:
			st.Hold++
		}
		if len(s.Degraded) > 0 {
			st.Degraded++
		}
		sum += s.FusedScore
		st.Distribution[scoreBucket(s.FusedScore)]++
	}
	if st.Total > 0 {
		st.AvgScore = math.Round(sum/float64(st.Total)*1000) / 1000
	}
	return st
}

func scoreBucket(score float64) string {
	switch {
	case score <= -0.5:
		return "strong_sell"
	case score <= -0.2:
		return "sell"
	case score < 0.2:
		return "neutral"
	case score < 0.5:
		return "buy"
	}
	return "strong_buy"
}

// outcomeStats groups outcomes by horizon in horizon order. Draws do not count toward
// the hit rate.
func outcomeStats(outcomes []models.SignalOutcome) []models.OutcomeStats {
	by := make(map[string]*models.OutcomeStats, len(OutcomeHorizons))
	out := make([]models.OutcomeStats, 0, len(OutcomeHorizons))
	for _, h := range OutcomeHorizons {
		by[h.Name] = &models.OutcomeStats{Horizon: h.Name}
	}
	for _, o := range outcomes {
		st, ok := by[o.Horizon]
		if !ok {
			continue
		}
		st.Graded++
		switch o.Grade {
		case models.GradeWin:
			st.Wins++
		case models.GradeLoss:
			st.Losses++
		default:
			st.Draws++
		}
	}
	for _, h := range OutcomeHorizons {
		st := by[h.Name]
		if decided := st.Wins + st.Losses; decided > 0 {
			st.HitRate = float64(st.Wins) / float64(decided)
		}
		out = append(out, *st)
	}
	return out
}
