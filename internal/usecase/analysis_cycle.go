package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/internal/services/analytics"
	"TradeFusion/internal/services/decision"
	"TradeFusion/internal/services/fusion"
	"TradeFusion/internal/services/marketctx"
	"TradeFusion/internal/services/risk"
	"TradeFusion/internal/services/sizing"
	"TradeFusion/pkg/config"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/metrics"
)

// AnalysisDeps are the collaborators of one analysis cycle. Upstream sources may be nil;
// a nil source is a missing component.
type AnalysisDeps struct {
	Indicators domsvc.IndicatorSource
	Forecaster domsvc.Forecaster
	Sentiment  domsvc.SentimentSource
	Context    domsvc.MarketContextSource
	Quotes     domsvc.QuoteSource
	Candles    domrepo.FeatureStore
	Positions  domrepo.PositionStore
	Trades     domrepo.TradeLog
	Signals    domrepo.SignalLog
	Audit      domrepo.AuditLog
	Exchange   domsvc.Exchange
	Publisher  domrepo.InstructionPublisher
	Metrics    domrepo.Metrics
	Config     *config.Store
	Logger     *logger.Logger
}

// CycleReport is what one cycle decided and handed to dispatch.
type CycleReport struct {
	CycleID      string               `json:"cycle_id"`
	StartedAt    time.Time            `json:"started_at"`
	Duration     time.Duration        `json:"duration"`
	DryRun       bool                 `json:"dry_run"`
	Signals      []models.Signal      `json:"signals"`
	Instructions []models.Instruction `json:"instructions"`
	Audit        []models.AuditRecord `json:"audit,omitempty"`
	Published    bool                 `json:"published"`
}

// AnalysisCycle gathers component inputs per asset, fuses them, decides across assets,
// sizes BUYs from the shared capital pool and publishes instructions.
type AnalysisCycle struct {
	d   AnalysisDeps
	log *logger.Logger
	now func() time.Time
}

type AnalysisOption func(*AnalysisCycle)

func WithAnalysisClock(now func() time.Time) AnalysisOption {
	return func(a *AnalysisCycle) { a.now = now }
}

func NewAnalysisCycle(d AnalysisDeps, opts ...AnalysisOption) *AnalysisCycle {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	a := &AnalysisCycle{d: d, log: d.Logger.Component("analysis"), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

type assetInput struct {
	in    models.ComponentInput
	price float64
	errs  []error
}

// Run executes one cycle over assets, or every configured asset when empty.
// A dry run decides and sizes but neither records nor publishes.
// Component failures degrade the affected asset only. The cycle fails when open positions
// cannot be read, since held state drives every decision.
func (a *AnalysisCycle) Run(ctx context.Context, assets []string, dryRun bool) (*CycleReport, error) {
	s := a.d.Config.Strategy()
	if len(assets) == 0 {
		assets = s.Assets
	}
	assets = normalizeAssets(assets)

	now := a.now().UTC()
	report := &CycleReport{CycleID: uuid.NewString(), StartedAt: now, DryRun: dryRun}
	log := a.log.With(logger.String("cycle_id", report.CycleID))
	defer func() {
		report.Duration = time.Since(now)
		a.d.Metrics.RecordLatency("analysis_cycle", report.Duration.Seconds())
	}()

	open, err := a.openPositions(ctx)
	if err != nil {
		a.d.Metrics.RecordError("analysis_positions")
		return report, fmt.Errorf("list open positions: %w", err)
	}

	mc, mcErr := a.marketContext(ctx, s)
	scorer := marketctx.NewScorer(s.MarketCtx)
	var mcScore *float64
	if mc.IsFresh(now, s.Thresholds.ContextMaxAge) {
		mcScore = scorer.Score(mc)
	}

	inputs := a.gatherAll(ctx, s, assets, mcScore, now)

	engine := fusion.NewEngine(s)
	monitor := risk.NewMonitor(s.Risk)
	evals := make(map[string]fusion.Evaluation, len(assets))
	cands := make([]decision.Candidate, 0, len(assets))
	for i, asset := range assets {
		ai := inputs[i]
		ev := engine.Evaluate(ai.in, mc, now)
		if mcErr != nil {
			ev.Errors = append(ev.Errors, mcErr)
		}
		ev.Errors = append(ai.errs, ev.Errors...)
		evals[asset] = ev

		c := decision.Candidate{
			Asset:         asset,
			FusedScore:    ev.FusedScore,
			BuyThreshold:  ev.Thresholds.Buy,
			SellThreshold: ev.Thresholds.Sell,
			Decelerating:  ev.Decelerating,
		}
		if p, ok := open[asset]; ok {
			c.Held = true
			c.HeldFor = p.HeldFor(now)
			if ai.price > 0 {
				c.Profitable = p.UnrealizedReturn(ai.price) > 0
				c.RiskExit = monitor.Evaluate(p, ai.price).Exit
			}
		}
		cands = append(cands, c)
	}

	outcomes := decision.NewPolicy(s.Decision).Decide(cands)

	var buys []sizing.Request
	signalRef := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		ev := evals[o.Asset]
		sig := models.Signal{
			ID:            uuid.NewString(),
			CycleID:       report.CycleID,
			Asset:         o.Asset,
			Timestamp:     now,
			FusedScore:    o.FusedScore,
			BuyThreshold:  ev.Thresholds.Buy,
			SellThreshold: o.EffectiveSell,
			Decision:      o.Decision,
			Reason:        o.Reason,
			Weights:       ev.Weights,
			Components:    ev.Components,
			Degraded:      ev.Degraded,
		}
		signalRef[o.Asset] = sig.ID
		report.Signals = append(report.Signals, sig)
		a.d.Metrics.RecordSignal(o.Asset, o.Decision, o.FusedScore)

		if len(ev.Degraded) > 0 || len(ev.Errors) > 0 {
			report.Audit = append(report.Audit, degradedRecord(report.CycleID, o, ev, now))
		}
		switch o.Reason {
		case models.ReasonMinHold, models.ReasonMaxPositions:
			report.Audit = append(report.Audit, a.suppressed(report.CycleID, o.Asset, o.Decision, o.Reason, "", now))
		}

		switch o.Decision {
		case models.DecisionSell:
			report.Instructions = append(report.Instructions, models.Instruction{
				IdempotencyKey: models.InstructionKey(report.CycleID, o.Asset, models.SideSell),
				CycleID:        report.CycleID,
				Source:         models.SourceAnalysis,
				Asset:          o.Asset,
				Side:           models.SideSell,
				FusedScore:     o.FusedScore,
				Reason:         o.Reason,
				SignalRef:      sig.ID,
				CreatedAt:      now,
			})
		case models.DecisionBuy:
			buys = append(buys, sizing.Request{Asset: o.Asset, FusedScore: o.FusedScore})
		}
	}

	if len(buys) > 0 {
		report.Instructions = append(report.Instructions, a.sizeBuys(ctx, s, report, buys, signalRef, now)...)
	}

	if dryRun {
		a.logSummary(log, report)
		return report, nil
	}
	a.persist(ctx, report, log)

	if len(report.Instructions) == 0 {
		a.logSummary(log, report)
		return report, nil
	}
	if err := a.d.Publisher.PublishInstructions(ctx, report.Instructions); err != nil {
		a.d.Metrics.RecordError("analysis_publish")
		return report, fmt.Errorf("publish instructions: %w", err)
	}
	report.Published = true
	a.logSummary(log, report)
	return report, nil
}

func (a *AnalysisCycle) openPositions(ctx context.Context) (map[string]*models.Position, error) {
	list, err := a.d.Positions.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Position, len(list))
	for _, p := range list {
		if p.IsOpen() {
			out[strings.ToUpper(p.Asset)] = p
		}
	}
	a.d.Metrics.SetOpenPositions(len(out))
	return out, nil
}

// marketContext returns the enriched snapshot and the absorbed failure, if any.
// Staleness is judged per asset by the fusion engine.
func (a *AnalysisCycle) marketContext(ctx context.Context, s config.Strategy) (*models.MarketContext, error) {
	if a.d.Context == nil {
		return nil, nil
	}
	mc, err := a.d.Context.Current(ctx)
	if err != nil {
		if errors.Is(err, domrepo.ErrNotFound) {
			return nil, nil
		}
		a.d.Metrics.RecordError("market_context")
		return nil, models.NewTransientUpstreamError("market context", "", err)
	}
	return marketctx.NewScorer(s.MarketCtx).Enrich(mc), nil
}

func (a *AnalysisCycle) gatherAll(ctx context.Context, s config.Strategy, assets []string, mcScore *float64, now time.Time) []assetInput {
	out := make([]assetInput, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Analysis.Concurrency)
	for i, asset := range assets {
		i, asset := i, asset
		g.Go(func() error {
			actx, cancel := context.WithTimeout(gctx, s.Analysis.AssetTimeout)
			defer cancel()
			out[i] = a.gather(actx, s, asset, mcScore, now)
			if errors.Is(actx.Err(), context.DeadlineExceeded) {
				out[i].errs = append(out[i].errs, models.NewTransientUpstreamError("asset timeout", asset, actx.Err()))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// gather collects every component for one asset. Failures leave the component nil.
func (a *AnalysisCycle) gather(ctx context.Context, s config.Strategy, asset string, mcScore *float64, now time.Time) assetInput {
	ai := assetInput{in: models.ComponentInput{Asset: asset, MarketContext: mcScore, ObservedAt: now}}
	fail := func(err error) {
		if models.KindOf(err) == "" {
			err = models.NewTransientUpstreamError("gather", asset, err)
		}
		ai.errs = append(ai.errs, err)
	}

	var closes []float64
	if a.d.Candles != nil {
		cs, err := a.d.Candles.GetLatestNCandles(ctx, asset, s.Analysis.CandleLookback)
		if err != nil {
			fail(fmt.Errorf("candles: %w", err))
		} else {
			closes = models.Closes(cs)
		}
	}

	var snap *models.IndicatorSnapshot
	if a.d.Indicators != nil {
		var err error
		if snap, err = a.d.Indicators.Snapshot(ctx, asset); err != nil {
			fail(err)
			snap = nil
		} else {
			v := snap.Score
			ai.in.Technical = &v
		}
	}
	ai.in.Volatility, ai.in.Decelerating = analytics.CandleFeatures(snap, closes)

	opinion, err := analytics.ForecastWithFallback(ctx, a.d.Forecaster, asset, closes, s.Analysis.FallbackConfidence)
	if err != nil && a.d.Forecaster != nil {
		fail(err)
	}
	ai.in.Forecast = opinion

	if a.d.Sentiment != nil {
		if r, err := a.d.Sentiment.Sentiment(ctx, asset); err != nil {
			fail(err)
		} else {
			v := analytics.SentimentScore(r.Score)
			ai.in.Sentiment = &v
		}
	}

	ai.price = a.price(ctx, asset, closes)
	return ai
}

// price prefers the live quote and falls back to the last close.
func (a *AnalysisCycle) price(ctx context.Context, asset string, closes []float64) float64 {
	if a.d.Quotes != nil {
		if q, err := a.d.Quotes.Quote(ctx, asset); err == nil && q.Price() > 0 {
			return q.Price()
		}
	}
	if n := len(closes); n > 0 {
		return closes[n-1]
	}
	return 0
}

func (a *AnalysisCycle) sizeBuys(ctx context.Context, s config.Strategy, report *CycleReport, reqs []sizing.Request, refs map[string]string, now time.Time) []models.Instruction {
	sizer := sizing.NewSizer(s.Sizing)

	bal, err := a.d.Exchange.Balance(ctx)
	if err != nil {
		a.d.Metrics.RecordError("analysis_balance")
		e := models.NewTransientUpstreamError("balance", "", err)
		for _, r := range reqs {
			rec := a.suppressed(report.CycleID, r.Asset, models.DecisionBuy, models.ReasonZeroAllocation, e.Error(), now)
			rec.ErrorKind = e.Kind
			report.Audit = append(report.Audit, rec)
		}
		return nil
	}

	var stats models.TradeStats
	if trades, err := a.d.Trades.ClosedTrades(ctx, s.Sizing.StatsLimit); err != nil {
		a.d.Metrics.RecordError("analysis_trade_stats")
		a.log.Warn("trade stats unavailable, using fallback sizing", logger.Error(err))
	} else {
		stats = models.StatsFromTrades(trades)
	}

	reasons := make(map[string]string, len(reqs))
	for i := range reqs {
		var src string
		reqs[i].Fraction, src = sizer.Fraction(stats, reqs[i].FusedScore)
		if reqs[i].Fraction <= 0 {
			reasons[reqs[i].Asset] = src
		}
	}

	var out []models.Instruction
	score := make(map[string]float64, len(reqs))
	for _, r := range reqs {
		score[r.Asset] = r.FusedScore
	}
	for _, alloc := range sizer.Allocate(reqs, bal.Available()) {
		if alloc.Notional <= 0 {
			reason := alloc.Reason
			if r, ok := reasons[alloc.Asset]; ok {
				reason = r
			}
			report.Audit = append(report.Audit, a.suppressed(report.CycleID, alloc.Asset, models.DecisionBuy, reason,
				fmt.Sprintf("samples=%d win_rate=%.3f available=%.0f", stats.Samples, stats.WinRate, sizer.Available(bal.Available())), now))
			continue
		}
		out = append(out, models.Instruction{
			IdempotencyKey: models.InstructionKey(report.CycleID, alloc.Asset, models.SideBuy),
			CycleID:        report.CycleID,
			Source:         models.SourceAnalysis,
			Asset:          alloc.Asset,
			Side:           models.SideBuy,
			Notional:       alloc.Notional,
			FusedScore:     score[alloc.Asset],
			Reason:         models.ReasonBuySignal,
			SignalRef:      refs[alloc.Asset],
			CreatedAt:      now,
		})
	}
	return out
}

func (a *AnalysisCycle) suppressed(cycleID, asset string, d models.Decision, reason, detail string, now time.Time) models.AuditRecord {
	a.d.Metrics.RecordSuppression(models.StageAnalysis, reason)
	return models.AuditRecord{
		CycleID:   cycleID,
		Asset:     asset,
		Stage:     models.StageAnalysis,
		Decision:  d,
		Reason:    reason,
		Detail:    detail,
		CreatedAt: now,
	}
}

func degradedRecord(cycleID string, o decision.Outcome, ev fusion.Evaluation, now time.Time) models.AuditRecord {
	rec := models.AuditRecord{
		CycleID:   cycleID,
		Asset:     o.Asset,
		Stage:     models.StageAnalysis,
		Decision:  o.Decision,
		Reason:    models.ReasonDegraded,
		CreatedAt: now,
	}
	details := make([]string, 0, len(ev.Degraded)+len(ev.Errors))
	if len(ev.Degraded) > 0 {
		details = append(details, "missing: "+strings.Join(ev.Degraded, ","))
	}
	for _, err := range ev.Errors {
		if rec.ErrorKind == "" {
			rec.ErrorKind = models.KindOf(err)
		}
		details = append(details, err.Error())
	}
	rec.Detail = strings.Join(details, "; ")
	return rec
}

func (a *AnalysisCycle) persist(ctx context.Context, report *CycleReport, log *logger.Logger) {
	if len(report.Signals) > 0 {
		if err := a.d.Signals.AppendSignals(ctx, report.Signals); err != nil {
			a.d.Metrics.RecordError("signal_log")
			log.Error("append signals", logger.Error(err))
		}
	}
	if len(report.Audit) > 0 {
		if err := a.d.Audit.AppendAudit(ctx, report.Audit); err != nil {
			a.d.Metrics.RecordError("audit_log")
			log.Error("append audit", logger.Error(err))
		}
	}
}

func (a *AnalysisCycle) logSummary(log *logger.Logger, r *CycleReport) {
	decisions := make([]string, 0, len(r.Signals))
	for _, s := range r.Signals {
		decisions = append(decisions, fmt.Sprintf("%s:%s(%.3f)", s.Asset, s.Decision, s.FusedScore))
	}
	log.Info("analysis cycle complete",
		logger.Strings("decisions", decisions),
		logger.Int("instructions", len(r.Instructions)),
		logger.Int("audit", len(r.Audit)),
		logger.Bool("dry_run", r.DryRun),
		logger.Bool("published", r.Published))
}

func normalizeAssets(assets []string) []string {
	seen := make(map[string]bool, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
