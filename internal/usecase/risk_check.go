package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/internal/services/risk"
	"TradeFusion/pkg/config"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/metrics"
)

type RiskDeps struct {
	Positions domrepo.PositionStore
	Quotes    domsvc.QuoteSource
	Audit     domrepo.AuditLog
	Publisher domrepo.InstructionPublisher
	Metrics   domrepo.Metrics
	Config    *config.Store
	Logger    *logger.Logger
}

// PositionCheck is the monitor result for one open position.
type PositionCheck struct {
	Asset          string  `json:"asset"`
	Price          float64 `json:"price,omitempty"`
	Highest        float64 `json:"highest"`
	Stop           float64 `json:"stop"`
	TakeProfit     float64 `json:"take_profit"`
	PeakGain       float64 `json:"peak_gain"`
	TrailingActive bool    `json:"trailing_active"`
	Exit           bool    `json:"exit"`
	Reason         string  `json:"reason,omitempty"`
	Error          string  `json:"error,omitempty"`
}

type RiskReport struct {
	CheckedAt    time.Time            `json:"checked_at"`
	DryRun       bool                 `json:"dry_run"`
	Positions    []PositionCheck      `json:"positions"`
	Instructions []models.Instruction `json:"instructions"`
	Published    bool                 `json:"published"`
}

// RiskCheck runs the trailing stop monitor over every open position and publishes
// SELL instructions for the ones that must exit.
type RiskCheck struct {
	d   RiskDeps
	log *logger.Logger
	now func() time.Time
}

type RiskOption func(*RiskCheck)

func WithRiskClock(now func() time.Time) RiskOption {
	return func(r *RiskCheck) { r.now = now }
}

func NewRiskCheck(d RiskDeps, opts ...RiskOption) *RiskCheck {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	r := &RiskCheck{d: d, log: d.Logger.Component("risk"), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RiskCycleID ties an exit to one position lifetime, so every trigger for the same
// position derives the same idempotency key.
func RiskCycleID(p *models.Position) string {
	return "risk:" + p.Asset + ":" + strconv.FormatInt(p.EntryTime.Unix(), 10)
}

// Run checks every open position once. A dry run neither persists peaks nor publishes.
func (r *RiskCheck) Run(ctx context.Context, dryRun bool) (*RiskReport, error) {
	s := r.d.Config.Strategy()
	now := r.now().UTC()
	start := time.Now()
	defer func() { r.d.Metrics.RecordLatency("risk_check", time.Since(start).Seconds()) }()

	report := &RiskReport{CheckedAt: now, DryRun: dryRun}
	open, err := r.d.Positions.ListOpen(ctx)
	if err != nil {
		r.d.Metrics.RecordError("risk_positions")
		return report, fmt.Errorf("list open positions: %w", err)
	}
	r.d.Metrics.SetOpenPositions(len(open))

	monitor := risk.NewMonitor(s.Risk)
	var audit []models.AuditRecord
	for _, p := range open {
		if !p.IsOpen() {
			continue
		}
		check, rec := r.check(ctx, s, monitor, p, now, dryRun)
		report.Positions = append(report.Positions, check)
		if rec != nil {
			audit = append(audit, *rec)
		}
		if !check.Exit {
			continue
		}
		cycleID := RiskCycleID(p)
		report.Instructions = append(report.Instructions, models.Instruction{
			IdempotencyKey: models.InstructionKey(cycleID, p.Asset, models.SideSell),
			CycleID:        cycleID,
			Source:         models.SourceRisk,
			Asset:          p.Asset,
			Side:           models.SideSell,
			Reason:         check.Reason,
			SignalRef:      p.SignalRef,
			CreatedAt:      now,
		})
		r.log.Info("exit triggered",
			logger.String("asset", p.Asset),
			logger.String("reason", check.Reason),
			logger.Float("price", check.Price),
			logger.Float("stop", check.Stop),
			logger.Float("entry", p.EntryPrice))
	}

	if dryRun {
		return report, nil
	}
	if len(audit) > 0 {
		if err := r.d.Audit.AppendAudit(ctx, audit); err != nil {
			r.d.Metrics.RecordError("audit_log")
			r.log.Error("append audit", logger.Error(err))
		}
	}
	if len(report.Instructions) == 0 {
		return report, nil
	}
	if err := r.d.Publisher.PublishInstructions(ctx, report.Instructions); err != nil {
		r.d.Metrics.RecordError("risk_publish")
		return report, fmt.Errorf("publish exits: %w", err)
	}
	report.Published = true
	return report, nil
}

func (r *RiskCheck) check(ctx context.Context, s config.Strategy, m *risk.Monitor, p *models.Position, now time.Time, dryRun bool) (PositionCheck, *models.AuditRecord) {
	pc := PositionCheck{Asset: p.Asset, Highest: p.HighestPrice, Stop: p.StopLoss, TakeProfit: p.TakeProfit}

	price, err := r.price(ctx, s, p.Asset, now)
	if err != nil {
		r.d.Metrics.RecordError("risk_quote")
		r.log.Warn("position not evaluated", logger.String("asset", p.Asset), logger.Error(err))
		pc.Error = err.Error()
		return pc, &models.AuditRecord{
			CycleID:   RiskCycleID(p),
			Asset:     p.Asset,
			Stage:     models.StageRisk,
			Decision:  models.DecisionHold,
			Reason:    models.ReasonDegraded,
			ErrorKind: models.KindOf(err),
			Detail:    err.Error(),
			CreatedAt: now,
		}
	}

	ev := m.Evaluate(p, price)
	pc.Price = price
	pc.Highest, pc.Stop, pc.TakeProfit = ev.Highest, ev.Stop, ev.TakeProfit
	pc.PeakGain, pc.TrailingActive = ev.PeakGain, ev.TrailingActive
	pc.Exit, pc.Reason = ev.Exit, ev.Reason

	if ev.Changed && !dryRun {
		if err := r.d.Positions.UpdatePeakAndStop(ctx, p.Asset, ev.Highest, ev.Stop); err != nil {
			if errors.Is(err, domrepo.ErrConflict) {
				// closed since ListOpen
				pc.Exit, pc.Reason = false, models.ReasonNoPosition
				return pc, nil
			}
			r.d.Metrics.RecordError("risk_update")
			r.log.Error("persist peak and stop", logger.String("asset", p.Asset), logger.Error(err))
		}
	}
	return pc, nil
}

// price returns the quote price, rejecting quotes older than the configured age.
func (r *RiskCheck) price(ctx context.Context, s config.Strategy, asset string, now time.Time) (float64, error) {
	q, err := r.d.Quotes.Quote(ctx, asset)
	if err != nil {
		if models.KindOf(err) == "" {
			err = models.NewTransientUpstreamError("quote", asset, err)
		}
		return 0, err
	}
	if s.Risk.QuoteMaxAge > 0 && !q.At.IsZero() && now.Sub(q.At) > s.Risk.QuoteMaxAge {
		return 0, models.NewStaleDataError("quote", asset, fmt.Errorf("quote at %s", q.At.Format(time.RFC3339)))
	}
	if q.Price() <= 0 {
		return 0, models.NewStaleDataError("quote", asset, fmt.Errorf("no price"))
	}
	return q.Price(), nil
}
