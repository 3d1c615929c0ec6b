package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/internal/services/risk"
	"TradeFusion/internal/services/sizing"
	"TradeFusion/pkg/config"
	"TradeFusion/pkg/logger"
	"TradeFusion/pkg/metrics"
)

var errNotFilled = errors.New("order not filled yet")

// Deps are the collaborators of the guard.
type Deps struct {
	Exchange  domsvc.Exchange
	Positions repository.PositionStore
	Trades    repository.TradeLog
	Journal   repository.DispatchJournal
	Fills     repository.FillCache
	Audit     repository.AuditLog
	Breaker   repository.BreakerStore
	Notifier  domsvc.Notifier
	Metrics   repository.Metrics
	Config    *config.Store
	Logger    *logger.Logger
}

type GuardOption func(*Guard)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithFillBackOff overrides the fill polling schedule.
func WithFillBackOff(f func(cfg config.DispatchConfig) backoff.BackOff) GuardOption {
	return func(g *Guard) { g.fillBackOff = f }
}

// Guard executes instructions at most once per idempotency key and never returns an error.
type Guard struct {
	d           Deps
	breaker     *Breaker
	log         *logger.Logger
	now         func() time.Time
	fillBackOff func(cfg config.DispatchConfig) backoff.BackOff
}

func NewGuard(d Deps, opts ...GuardOption) *Guard {
	g := &Guard{d: d, now: time.Now, fillBackOff: defaultFillBackOff}
	for _, o := range opts {
		o(g)
	}
	if g.d.Metrics == nil {
		g.d.Metrics = metrics.Nop{}
	}
	g.log = d.Logger
	if g.log == nil {
		g.log = logger.Nop()
	}
	g.log = g.log.Component("dispatch")
	g.breaker = NewBreaker(d.Breaker, g.now)
	return g
}

// Breaker exposes the circuit breaker for status and reset endpoints.
func (g *Guard) Breaker() *Breaker { return g.breaker }

func defaultFillBackOff(cfg config.DispatchConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.FillInitialDelay
	b.Multiplier = 2
	b.MaxInterval = cfg.FillMaxDelay
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(cfg.FillAttempts-1))
}

// ProcessBatch handles every instruction in order. One instruction's failure never stops the rest.
func (g *Guard) ProcessBatch(ctx context.Context, ins []models.Instruction) models.BatchReport {
	bc := NewBatchContext()
	report := models.BatchReport{BatchID: bc.ID}
	s := g.d.Config.Strategy()

	for _, in := range ins {
		start := time.Now()
		out := g.safeProcess(ctx, bc, s, in)
		g.d.Metrics.RecordLatency("dispatch_instruction", time.Since(start).Seconds())
		g.d.Metrics.RecordDispatch(in.Side, out.Status, out.Reason)
		if out.Status != models.OutcomeExecuted {
			g.audit(ctx, in, out)
		}
		report.Add(out)
	}

	g.log.Info("batch processed",
		logger.String("batch_id", report.BatchID),
		logger.Int("executed", report.Executed),
		logger.Int("skipped", report.Skipped),
		logger.Int("failed", report.Failed))
	return report
}

func (g *Guard) safeProcess(ctx context.Context, bc *BatchContext, s config.Strategy, in models.Instruction) (out models.InstructionOutcome) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("panic while dispatching",
				logger.String("asset", in.Asset),
				logger.String("key", in.IdempotencyKey),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			g.notify(ctx, domsvc.SeverityCritical, fmt.Sprintf("dispatch panic on %s %s: %v", in.Side, in.Asset, r))
			out = outcome(in, models.OutcomeFailed, models.ReasonPanic)
			out.Detail = fmt.Sprint(r)
		}
	}()
	return g.process(ctx, bc, s, in)
}

func (g *Guard) process(ctx context.Context, bc *BatchContext, s config.Strategy, in models.Instruction) models.InstructionOutcome {
	if reason, ok := bc.Admit(in.Asset, in.Side); !ok {
		return outcome(in, models.OutcomeSkipped, reason)
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = models.InstructionKey(in.CycleID, in.Asset, in.Side)
	}

	entry, claimed, err := g.d.Journal.Claim(ctx, in.IdempotencyKey)
	if err != nil {
		return failed(in, models.NewTransientUpstreamError("journal claim", in.Asset, err))
	}

	resume := ""
	if !claimed {
		switch entry.State {
		case models.JournalCompleted:
			return outcome(in, models.OutcomeSkipped, models.ReasonAlreadyDispatched)
		case models.JournalSubmitted:
			resume = entry.OrderID
			g.log.Warn("resuming submitted instruction",
				logger.String("asset", in.Asset),
				logger.String("order_id", resume))
		default:
			return outcome(in, models.OutcomeSkipped, models.ReasonInFlight)
		}
	}

	out, blocked := g.blockedByPending(ctx, in, resume)
	if !blocked {
		switch in.Side {
		case models.SideBuy:
			out = g.buy(ctx, s, in, resume)
		case models.SideSell:
			out = g.sell(ctx, s, in, resume)
		default:
			out = outcome(in, models.OutcomeSkipped, "unknown_side")
		}
	}

	if out.Status == models.OutcomeExecuted {
		bc.Executed(in.Asset, in.Side)
	}
	if out.OrderID == "" && resume == "" {
		// nothing reached the exchange
		if err := g.d.Journal.Release(ctx, in.IdempotencyKey); err != nil {
			g.log.Warn("release claim", logger.String("key", in.IdempotencyKey), logger.Error(err))
		}
	}
	return out
}

// blockedByPending refuses a new order while another order on the asset has been
// submitted but not settled. Resumed instructions pass.
func (g *Guard) blockedByPending(ctx context.Context, in models.Instruction, resume string) (models.InstructionOutcome, bool) {
	if resume != "" {
		return models.InstructionOutcome{}, false
	}
	entry, err := g.d.Journal.Pending(ctx, in.Asset)
	if errors.Is(err, repository.ErrNotFound) {
		return models.InstructionOutcome{}, false
	}
	if err != nil {
		return failed(in, models.NewTransientUpstreamError("journal pending", in.Asset, err)), true
	}
	if entry.Key == in.IdempotencyKey {
		return models.InstructionOutcome{}, false
	}
	out := outcome(in, models.OutcomeSkipped, models.ReasonOrderPending)
	out.Detail = fmt.Sprintf("order %s awaiting settlement", entry.OrderID)
	return out, true
}

// Reconcile resumes submitted orders whose fill was never recorded, so each ends
// as a position and trade record or an invalid fill alert.
func (g *Guard) Reconcile(ctx context.Context) models.BatchReport {
	var ins []models.Instruction
	for _, asset := range g.d.Config.Strategy().Assets {
		entry, err := g.d.Journal.Pending(ctx, asset)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				g.log.Warn("read pending order", logger.String("asset", asset), logger.Error(err))
			}
			continue
		}
		if entry.Instruction == nil {
			g.log.Warn("pending order without instruction", logger.String("asset", asset), logger.String("order_id", entry.OrderID))
			continue
		}
		ins = append(ins, *entry.Instruction)
	}
	if len(ins) == 0 {
		return models.BatchReport{}
	}
	g.log.Info("reconciling pending orders", logger.Int("count", len(ins)))
	return g.ProcessBatch(ctx, ins)
}

func (g *Guard) buy(ctx context.Context, s config.Strategy, in models.Instruction, orderID string) models.InstructionOutcome {
	if orderID == "" {
		st, err := g.breaker.State(ctx, s.Breaker)
		if err != nil {
			return failed(in, models.NewTransientUpstreamError("breaker state", in.Asset, err))
		}
		if st.Tripped {
			err := models.NewCircuitBreakerTrippedError(in.Asset, st.Reason)
			g.notify(ctx, domsvc.SeverityWarning, fmt.Sprintf("BUY %s skipped: circuit breaker tripped (%s)", in.Asset, st.Reason))
			out := outcome(in, models.OutcomeSkipped, models.ReasonCircuitBreaker)
			out.ErrorKind, out.Detail = err.Kind, err.Error()
			return out
		}

		if _, err := g.d.Positions.GetOpen(ctx, in.Asset); err == nil {
			return outcome(in, models.OutcomeSkipped, models.ReasonPositionExists)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return failed(in, models.NewTransientUpstreamError("get position", in.Asset, err))
		}

		quote, err := g.d.Exchange.Quote(ctx, in.Asset)
		if err != nil {
			return failed(in, models.NewTransientUpstreamError("quote", in.Asset, err))
		}
		if err := sizing.NewSizer(s.Sizing).CheckLiquidity(in.Asset, quote); err != nil {
			g.notify(ctx, domsvc.SeverityInfo, fmt.Sprintf("BUY %s skipped: %v", in.Asset, err))
			out := outcome(in, models.OutcomeSkipped, models.ReasonLiquidity)
			out.ErrorKind, out.Detail = models.KindLiquidityRejected, err.Error()
			return out
		}

		bal, err := g.d.Exchange.Balance(ctx)
		if err != nil {
			return failed(in, models.NewTransientUpstreamError("balance", in.Asset, err))
		}
		notional := CapNotional(in.Notional, bal.Available(), s.Sizing.Reserve, s.Sizing.MaxPosition)
		if notional < s.Sizing.MinOrder {
			out := outcome(in, models.OutcomeSkipped, models.ReasonInsufficientFunds)
			out.Detail = fmt.Sprintf("spendable %.0f below minimum order %.0f", notional, s.Sizing.MinOrder)
			return out
		}

		orderID, err = g.d.Exchange.SubmitMarketOrder(ctx, in.Asset, models.SideBuy, notional)
		if err != nil {
			g.notify(ctx, domsvc.SeverityWarning, fmt.Sprintf("BUY %s failed: %v", in.Asset, err))
			return failed(in, models.NewTransientUpstreamError("submit buy", in.Asset, err))
		}
		g.markSubmitted(ctx, in, orderID)
	}

	fill, out, ok := g.settle(ctx, s, in, orderID)
	if !ok {
		return out
	}

	stop, tp := risk.NewMonitor(s.Risk).InitialLevels(fill.Price)
	pos := &models.Position{
		Asset:        in.Asset,
		EntryPrice:   fill.Price,
		EntryTime:    fill.FilledAt,
		Quantity:     fill.Quantity,
		HighestPrice: fill.Price,
		StopLoss:     stop,
		TakeProfit:   tp,
		Status:       models.PositionOpen,
		OrderID:      orderID,
		SignalRef:    in.SignalRef,
	}
	if err := g.d.Positions.Create(ctx, pos); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return g.recordKeepingFailed(ctx, in, orderID, "create position", err)
		}
		existing, gerr := g.d.Positions.GetOpen(ctx, in.Asset)
		if gerr != nil || existing.OrderID != orderID {
			return g.recordKeepingFailed(ctx, in, orderID, "create position", err)
		}
	}

	g.appendTrade(ctx, in, fill, 0, 0)
	g.complete(ctx, in)
	g.notify(ctx, domsvc.SeverityInfo, fmt.Sprintf("BUY %s %.8g @ %.8g (notional %.0f, score %.3f)",
		in.Asset, fill.Quantity, fill.Price, fill.Notional, in.FusedScore))

	out = outcome(in, models.OutcomeExecuted, in.Reason)
	out.OrderID = orderID
	return out
}

func (g *Guard) sell(ctx context.Context, s config.Strategy, in models.Instruction, orderID string) models.InstructionOutcome {
	pos, err := g.d.Positions.GetOpen(ctx, in.Asset)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) && orderID == "" {
			return outcome(in, models.OutcomeSkipped, models.ReasonNoPosition)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return failed(in, models.NewTransientUpstreamError("get position", in.Asset, err))
		}
	}

	if orderID == "" {
		rule := s.Dispatch.Rule(in.Asset)
		qty := FloorQuantity(pos.Quantity, rule)
		if !MeetsMinimum(qty, rule) {
			out := outcome(in, models.OutcomeSkipped, models.ReasonBelowMinAmount)
			out.Detail = fmt.Sprintf("quantity %s below minimum %g", qty.String(), rule.MinAmount)
			return out
		}
		amount, _ := qty.Float64()

		orderID, err = g.d.Exchange.SubmitMarketOrder(ctx, in.Asset, models.SideSell, amount)
		if err != nil {
			g.notify(ctx, domsvc.SeverityWarning, fmt.Sprintf("SELL %s failed: %v", in.Asset, err))
			return failed(in, models.NewTransientUpstreamError("submit sell", in.Asset, err))
		}
		g.markSubmitted(ctx, in, orderID)
	}

	fill, out, ok := g.settle(ctx, s, in, orderID)
	if !ok {
		return out
	}

	entry := fill.Price
	closed := false
	if pos != nil {
		entry = pos.EntryPrice
		_, err := g.d.Positions.Close(ctx, in.Asset, fill.Price, fill.FilledAt)
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			return g.recordKeepingFailed(ctx, in, orderID, "close position", err)
		}
		closed = err == nil
	} else if prev, err := g.d.Trades.ByOrderID(ctx, orderID); err == nil {
		// resumed after the position was already closed
		entry = prev.EntryPrice
	}

	pnl := RealizedPnL(entry, fill.Price, fill.Quantity)
	appended := g.appendTrade(ctx, in, fill, entry, pnl)

	// a redelivery that neither closed the position nor added the trade was already counted
	if closed || appended {
		g.recordClose(ctx, s, in, pnl)
	}

	g.complete(ctx, in)
	g.notify(ctx, domsvc.SeverityInfo, fmt.Sprintf("SELL %s %.8g @ %.8g pnl %.0f (%s)",
		in.Asset, fill.Quantity, fill.Price, pnl, in.Reason))

	out = outcome(in, models.OutcomeExecuted, in.Reason)
	out.OrderID = orderID
	return out
}

// settle fetches the fill and validates it. ok is false when out must be returned as is.
func (g *Guard) settle(ctx context.Context, s config.Strategy, in models.Instruction, orderID string) (*models.Fill, models.InstructionOutcome, bool) {
	fill, err := g.awaitFill(ctx, s.Dispatch, orderID)
	if err != nil && !errors.Is(err, errNotFilled) {
		g.notify(ctx, domsvc.SeverityWarning, fmt.Sprintf("%s %s order %s: fill unavailable: %v", in.Side, in.Asset, orderID, err))
		out := failed(in, models.NewTransientUpstreamError("query fill", in.Asset, err))
		out.OrderID = orderID
		return nil, out, false
	}
	if !fill.Valid() {
		ferr := models.NewInvalidFillError(in.Asset, orderID, fill)
		g.log.Error("invalid fill, record keeping aborted",
			logger.String("asset", in.Asset),
			logger.String("order_id", orderID),
			logger.Error(ferr))
		g.notify(ctx, domsvc.SeverityCritical, fmt.Sprintf("%s %s order %s returned an invalid fill; check the exchange manually", in.Side, in.Asset, orderID))
		g.complete(ctx, in)
		out := failed(in, ferr)
		out.Reason = models.ReasonInvalidFill
		out.OrderID = orderID
		return nil, out, false
	}
	return fill, models.InstructionOutcome{}, true
}

// awaitFill returns the fill for orderID. A cached fill is returned unchanged on every call.
func (g *Guard) awaitFill(ctx context.Context, cfg config.DispatchConfig, orderID string) (*models.Fill, error) {
	if f, err := g.d.Fills.GetFill(ctx, orderID); err == nil {
		return f, nil
	}

	var last *models.Fill
	op := func() error {
		f, err := g.d.Exchange.QueryFill(ctx, orderID)
		if err != nil {
			return err
		}
		last = f
		if !f.Valid() {
			return errNotFilled
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(g.fillBackOff(cfg), ctx))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, errNotFilled) {
			return last, errNotFilled
		}
		return nil, err
	}

	if perr := g.d.Fills.PutFill(ctx, last); perr != nil {
		g.log.Warn("cache fill", logger.String("order_id", orderID), logger.Error(perr))
	}
	return last, nil
}

func (g *Guard) recordClose(ctx context.Context, s config.Strategy, in models.Instruction, pnl float64) {
	st, tripped, err := g.breaker.RecordClose(ctx, s.Breaker, pnl)
	if err != nil {
		g.log.Error("record close on breaker", logger.String("asset", in.Asset), logger.Error(err))
		return
	}
	g.d.Metrics.SetBreakerTripped(st.Tripped)
	if tripped {
		g.notify(ctx, domsvc.SeverityCritical, fmt.Sprintf("circuit breaker tripped: %s", st.Reason))
	}
}

// appendTrade reports whether this call stored the record. A duplicate order id means an
// earlier delivery already did.
func (g *Guard) appendTrade(ctx context.Context, in models.Instruction, f *models.Fill, entry, pnl float64) bool {
	rec := &models.TradeRecord{
		ID:             uuid.NewString(),
		OrderID:        f.OrderID,
		Asset:          in.Asset,
		Side:           in.Side,
		Price:          f.Price,
		Quantity:       f.Quantity,
		Notional:       f.Notional,
		EntryPrice:     entry,
		PnL:            pnl,
		Reason:         in.Reason,
		SignalRef:      in.SignalRef,
		IdempotencyKey: in.IdempotencyKey,
		ExecutedAt:     f.FilledAt,
	}
	err := g.d.Trades.Append(ctx, rec)
	switch {
	case err == nil:
		return true
	case errors.Is(err, repository.ErrDuplicateKey):
		return false
	}
	g.log.Error("append trade record",
		logger.String("asset", in.Asset),
		logger.String("order_id", f.OrderID),
		logger.Error(err))
	g.notify(ctx, domsvc.SeverityWarning, fmt.Sprintf("trade record for %s order %s not saved: %v", in.Asset, f.OrderID, err))
	return false
}

func (g *Guard) recordKeepingFailed(ctx context.Context, in models.Instruction, orderID, op string, err error) models.InstructionOutcome {
	g.log.Error(op+" after fill",
		logger.String("asset", in.Asset),
		logger.String("order_id", orderID),
		logger.Error(err))
	g.notify(ctx, domsvc.SeverityCritical, fmt.Sprintf("%s %s order %s filled but %s failed: %v", in.Side, in.Asset, orderID, op, err))
	out := failed(in, models.NewTransientUpstreamError(op, in.Asset, err))
	out.OrderID = orderID
	return out
}

func (g *Guard) markSubmitted(ctx context.Context, in models.Instruction, orderID string) {
	if err := g.d.Journal.MarkSubmitted(ctx, in, orderID); err != nil {
		g.log.Error("journal mark submitted",
			logger.String("key", in.IdempotencyKey),
			logger.String("order_id", orderID),
			logger.Error(err))
	}
}

func (g *Guard) complete(ctx context.Context, in models.Instruction) {
	if err := g.d.Journal.Complete(ctx, in.IdempotencyKey); err != nil {
		g.log.Error("journal complete", logger.String("key", in.IdempotencyKey), logger.Error(err))
	}
}

func (g *Guard) notify(ctx context.Context, sev domsvc.Severity, msg string) {
	if g.d.Notifier != nil {
		g.d.Notifier.Notify(ctx, sev, msg)
	}
}

func (g *Guard) audit(ctx context.Context, in models.Instruction, out models.InstructionOutcome) {
	if g.d.Audit == nil {
		return
	}
	d := models.DecisionBuy
	if in.Side == models.SideSell {
		d = models.DecisionSell
	}
	rec := models.AuditRecord{
		CycleID:   in.CycleID,
		Asset:     in.Asset,
		Stage:     models.StageDispatch,
		Decision:  d,
		Reason:    out.Reason,
		ErrorKind: out.ErrorKind,
		Detail:    out.Detail,
		CreatedAt: g.now().UTC(),
	}
	g.d.Metrics.RecordSuppression(models.StageDispatch, out.Reason)
	if err := g.d.Audit.AppendAudit(ctx, []models.AuditRecord{rec}); err != nil {
		g.log.Warn("append audit", logger.String("asset", in.Asset), logger.Error(err))
	}
}

func outcome(in models.Instruction, status models.OutcomeStatus, reason string) models.InstructionOutcome {
	return models.InstructionOutcome{Key: in.IdempotencyKey, Asset: in.Asset, Side: in.Side, Status: status, Reason: reason}
}

func failed(in models.Instruction, err *models.EngineError) models.InstructionOutcome {
	out := outcome(in, models.OutcomeFailed, models.ReasonExecutionError)
	out.ErrorKind = err.Kind
	out.Detail = err.Error()
	return out
}
