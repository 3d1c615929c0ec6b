package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	"TradeFusion/pkg/config"
	"TradeFusion/pkg/logger"
)

// Horizon is one observation window after a signal.
type Horizon struct {
	Name  string
	After time.Duration
}

// OutcomeHorizons are graded for every BUY and SELL signal.
var OutcomeHorizons = []Horizon{
	{Name: "1h", After: time.Hour},
	{Name: "4h", After: 4 * time.Hour},
	{Name: "12h", After: 12 * time.Hour},
	{Name: "3d", After: 72 * time.Hour},
}

// signals older than the longest horizon plus slack are settled
const outcomeSlack = 2 * time.Hour

// candles are hourly; a candle's close is known one bucket after it opens
const candleSpan = time.Hour

type OutcomeDeps struct {
	Signals  domrepo.SignalLog
	Outcomes domrepo.OutcomeLog
	Candles  domrepo.FeatureStore
	Config   *config.Store
	Logger   *logger.Logger
}

// OutcomeReport counts what one pass graded.
type OutcomeReport struct {
	CheckedAt time.Time         `json:"checked_at"`
	Checked   int               `json:"checked"`
	Recorded  int               `json:"recorded"`
	Completed int               `json:"completed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// ResultChecker grades past BUY and SELL signals against the hourly candles once each
// horizon has elapsed. Graded horizons are never rewritten.
type ResultChecker struct {
	d   OutcomeDeps
	log *logger.Logger
	now func() time.Time
}

type OutcomeOption func(*ResultChecker)

func WithOutcomeClock(now func() time.Time) OutcomeOption {
	return func(r *ResultChecker) { r.now = now }
}

func NewResultChecker(d OutcomeDeps, opts ...OutcomeOption) *ResultChecker {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	r := &ResultChecker{d: d, log: d.Logger.Component("outcomes"), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run grades every asset. One asset's failure is reported and the rest continue; the
// error is non-nil only when every asset failed.
func (r *ResultChecker) Run(ctx context.Context) (*OutcomeReport, error) {
	s := r.d.Config.Strategy()
	now := r.now().UTC()
	report := &OutcomeReport{CheckedAt: now}

	var failed []error
	for _, asset := range s.Assets {
		if err := r.checkAsset(ctx, s.Outcomes, asset, now, report); err != nil {
			if report.Errors == nil {
				report.Errors = make(map[string]string)
			}
			report.Errors[asset] = err.Error()
			failed = append(failed, fmt.Errorf("%s: %w", asset, err))
			r.log.Warn("grade signals", logger.String("asset", asset), logger.Error(err))
		}
	}

	r.log.Info("signal outcomes graded",
		logger.Int("checked", report.Checked),
		logger.Int("recorded", report.Recorded),
		logger.Int("completed", report.Completed))
	if len(failed) > 0 && len(failed) == len(s.Assets) {
		return report, errors.Join(failed...)
	}
	return report, nil
}

func (r *ResultChecker) checkAsset(ctx context.Context, cfg config.OutcomeConfig, asset string, now time.Time, report *OutcomeReport) error {
	longest := OutcomeHorizons[len(OutcomeHorizons)-1].After
	since := now.Add(-longest - outcomeSlack)

	signals, err := r.d.Signals.RecentSignals(ctx, asset, since, now, cfg.SignalLimit)
	if err != nil {
		return fmt.Errorf("recent signals: %w", err)
	}
	var directional []models.Signal
	for _, sg := range signals {
		if sg.Decision == models.DecisionBuy || sg.Decision == models.DecisionSell {
			directional = append(directional, sg)
		}
	}
	if len(directional) == 0 {
		return nil
	}

	graded, err := r.d.Outcomes.RecentOutcomes(ctx, asset, since)
	if err != nil {
		return fmt.Errorf("recent outcomes: %w", err)
	}
	done := make(map[string]bool, len(graded))
	for _, o := range graded {
		done[o.SignalID+"|"+o.Horizon] = true
	}

	oldest := directional[0].Timestamp
	for _, sg := range directional[1:] {
		if sg.Timestamp.Before(oldest) {
			oldest = sg.Timestamp
		}
	}
	candles, err := r.d.Candles.GetCandles(ctx, asset, oldest.Add(-2*candleSpan).Truncate(candleSpan), now)
	if err != nil {
		return fmt.Errorf("candles: %w", err)
	}

	var out []models.SignalOutcome
	for _, sg := range directional {
		report.Checked++
		pending := 0
		for _, h := range OutcomeHorizons {
			if done[sg.ID+"|"+h.Name] {
				continue
			}
			o, ok := gradeSignal(sg, h, candles, cfg.WinThresholdPct, now)
			if !ok {
				pending++
				continue
			}
			out = append(out, o)
		}
		if pending == 0 {
			report.Completed++
		}
	}
	if len(out) == 0 {
		return nil
	}
	if err := r.d.Outcomes.AppendOutcomes(ctx, out); err != nil {
		return fmt.Errorf("append outcomes: %w", err)
	}
	report.Recorded += len(out)
	return nil
}

// gradeSignal measures one horizon. ok is false while the horizon has not elapsed or
// the candles needed are missing.
func gradeSignal(sg models.Signal, h Horizon, candles []models.Candle, threshold float64, now time.Time) (models.SignalOutcome, bool) {
	target := sg.Timestamp.Add(h.After)
	if now.Before(target) {
		return models.SignalOutcome{}, false
	}
	entry := closeAt(candles, sg.Timestamp)
	exit := closeAt(candles, target)
	if entry <= 0 || exit <= 0 {
		return models.SignalOutcome{}, false
	}

	high, low := 0.0, math.MaxFloat64
	for _, c := range candles {
		if c.Bucket.Before(sg.Timestamp.Truncate(candleSpan)) || c.Bucket.Add(candleSpan).After(target) {
			continue
		}
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	favorable, adverse := high, low
	if sg.Decision == models.DecisionSell {
		favorable, adverse = low, high
	}

	change := pct(exit, entry)
	return models.SignalOutcome{
		SignalID:        sg.ID,
		Asset:           sg.Asset,
		Decision:        sg.Decision,
		SignalAt:        sg.Timestamp,
		Horizon:         h.Name,
		EntryPrice:      entry,
		ExitPrice:       exit,
		ChangePct:       round3(change),
		MaxFavorablePct: round3(extremePct(favorable, entry)),
		MaxAdversePct:   round3(extremePct(adverse, entry)),
		Grade:           models.GradeMove(sg.Decision, change, threshold),
		CheckedAt:       now,
	}, true
}

// closeAt is the close of the last candle that finished at or before t.
func closeAt(candles []models.Candle, t time.Time) float64 {
	price := 0.0
	for _, c := range candles {
		if c.Bucket.Add(candleSpan).After(t) {
			break
		}
		price = c.Close
	}
	return price
}

func pct(price, base float64) float64 { return (price - base) / base * 100 }

func extremePct(price, base float64) float64 {
	if price <= 0 || price == math.MaxFloat64 {
		return 0
	}
	return pct(price, base)
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
