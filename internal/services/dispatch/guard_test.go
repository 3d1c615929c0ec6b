package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	store "TradeFusion/internal/repository"
	"TradeFusion/pkg/cache"
	"TradeFusion/pkg/config"
)

type fakeExchange struct {
	mu        sync.Mutex
	price     float64
	bid, ask  float64
	cash      float64
	invalid   bool
	panicOn   string
	seq       int
	submitted []string
	fills     map[string]*models.Fill
	queries   int
	queryErr  error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{price: 100, bid: 99.9, ask: 100.1, cash: 50000, fills: make(map[string]*models.Fill)}
}

func (e *fakeExchange) SubmitMarketOrder(_ context.Context, asset string, side models.Side, amount float64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if asset == e.panicOn {
		panic("exchange exploded")
	}
	e.seq++
	id := fmt.Sprintf("ord-%d", e.seq)
	e.submitted = append(e.submitted, fmt.Sprintf("%s %s", side, asset))

	qty := amount
	if side == models.SideBuy {
		qty = amount / e.price
	}
	e.fills[id] = &models.Fill{OrderID: id, Asset: asset, Side: side, Price: e.price, Quantity: qty, Notional: qty * e.price, FilledAt: time.Now()}
	return id, nil
}

func (e *fakeExchange) QueryFill(_ context.Context, orderID string) (*models.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries++
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	if e.invalid {
		return &models.Fill{OrderID: orderID}, nil
	}
	f, ok := e.fills[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	cp := *f
	return &cp, nil
}

func (e *fakeExchange) Quote(_ context.Context, asset string) (*models.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &models.Quote{Asset: asset, Bid: e.bid, Ask: e.ask, Last: e.price, At: time.Now()}, nil
}

func (e *fakeExchange) Balance(context.Context) (*models.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &models.Balance{Cash: e.cash}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[domsvc.Severity][]string
}

func (n *recordingNotifier) Notify(_ context.Context, sev domsvc.Severity, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.msgs == nil {
		n.msgs = make(map[domsvc.Severity][]string)
	}
	n.msgs[sev] = append(n.msgs[sev], msg)
}

func (n *recordingNotifier) count(sev domsvc.Severity) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs[sev])
}

type harness struct {
	guard     *Guard
	ex        *fakeExchange
	positions *store.MemoryPositionStore
	logs      *store.MemoryLog
	journal   *store.CacheJournal
	breaker   *store.CacheBreakerStore
	notifier  *recordingNotifier
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })

	h := &harness{
		ex:        newFakeExchange(),
		positions: store.NewMemoryPositionStore(),
		logs:      store.NewMemoryLog(),
		journal:   store.NewCacheJournal(mc, time.Hour),
		breaker:   store.NewCacheBreakerStore(mc),
		notifier:  &recordingNotifier{},
		now:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	h.guard = NewGuard(Deps{
		Exchange:  h.ex,
		Positions: h.positions,
		Trades:    h.logs,
		Journal:   h.journal,
		Fills:     store.NewCacheFillStore(mc, time.Hour),
		Audit:     h.logs,
		Breaker:   h.breaker,
		Notifier:  h.notifier,
		Config:    config.NewStore(config.Default()),
	},
		WithClock(func() time.Time { return h.now }),
		WithFillBackOff(func(cfg config.DispatchConfig) backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(cfg.FillAttempts-1))
		}),
	)
	return h
}

func buyIns(cycle, asset string, notional float64) models.Instruction {
	return models.Instruction{
		IdempotencyKey: models.InstructionKey(cycle, asset, models.SideBuy),
		CycleID:        cycle,
		Source:         models.SourceAnalysis,
		Asset:          asset,
		Side:           models.SideBuy,
		Notional:       notional,
		FusedScore:     0.35,
		Reason:         models.ReasonBuySignal,
	}
}

func sellIns(cycle, asset, reason string) models.Instruction {
	return models.Instruction{
		IdempotencyKey: models.InstructionKey(cycle, asset, models.SideSell),
		CycleID:        cycle,
		Source:         models.SourceRisk,
		Asset:          asset,
		Side:           models.SideSell,
		Reason:         reason,
	}
}

func (h *harness) openPosition(t *testing.T, asset string, entry, qty float64) {
	t.Helper()
	require.NoError(t, h.positions.Create(context.Background(), &models.Position{
		Asset:        asset,
		EntryPrice:   entry,
		EntryTime:    h.now.Add(-6 * time.Hour),
		Quantity:     qty,
		HighestPrice: entry,
		StopLoss:     entry * 0.95,
		TakeProfit:   entry * 1.25,
		OrderID:      "seed-" + asset,
	}))
}

func TestProcessBatch_BuyThenSellSameAssetOnlyBuyExecutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	report := h.guard.ProcessBatch(ctx, []models.Instruction{
		buyIns("c1", "ETH", 5000),
		sellIns("c1", "ETH", models.ReasonSellSignal),
	})

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, models.OutcomeExecuted, report.Outcomes[0].Status)
	assert.Equal(t, models.OutcomeSkipped, report.Outcomes[1].Status)
	assert.Equal(t, models.ReasonConflictInBatch, report.Outcomes[1].Reason)
	assert.Equal(t, []string{"BUY ETH"}, h.ex.submitted)

	pos, err := h.positions.GetOpen(ctx, "ETH")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 95.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 125.0, pos.TakeProfit, 1e-9)

	audit, err := h.logs.RecentAudit(ctx, "ETH", models.StageDispatch, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, models.ReasonConflictInBatch, audit[0].Reason)
}

func TestProcessBatch_DuplicateInBatch(t *testing.T) {
	h := newHarness(t)

	in := buyIns("c1", "SOL", 2000)
	report := h.guard.ProcessBatch(context.Background(), []models.Instruction{in, in})

	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, models.ReasonDuplicateInBatch, report.Outcomes[1].Reason)
	assert.Len(t, h.ex.submitted, 1)
}

func TestProcessBatch_RepeatedKeyIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := buyIns("c1", "ETH", 5000)
	first := h.guard.ProcessBatch(ctx, []models.Instruction{in})
	require.Equal(t, 1, first.Executed)

	second := h.guard.ProcessBatch(ctx, []models.Instruction{in})
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, models.OutcomeSkipped, second.Outcomes[0].Status)
	assert.Equal(t, models.ReasonAlreadyDispatched, second.Outcomes[0].Reason)
	assert.Len(t, h.ex.submitted, 1)
}

func TestProcessBatch_ResumesSubmittedWithoutResubmitting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := buyIns("c1", "ETH", 5000)
	h.ex.fills["ord-pre"] = &models.Fill{OrderID: "ord-pre", Asset: "ETH", Side: models.SideBuy, Price: 100, Quantity: 50, Notional: 5000, FilledAt: h.now}
	_, claimed, err := h.journal.Claim(ctx, in.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, h.journal.MarkSubmitted(ctx, in, "ord-pre"))

	report := h.guard.ProcessBatch(ctx, []models.Instruction{in})

	require.Equal(t, 1, report.Executed)
	assert.Equal(t, "ord-pre", report.Outcomes[0].OrderID)
	assert.Empty(t, h.ex.submitted)

	pos, err := h.positions.GetOpen(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "ord-pre", pos.OrderID)

	entry, claimed, err := h.journal.Claim(ctx, in.IdempotencyKey)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, models.JournalCompleted, entry.State)
	assert.Equal(t, "ord-pre", entry.OrderID)
}

func TestProcessBatch_InFlightClaimIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := buyIns("c1", "ETH", 5000)
	_, _, err := h.journal.Claim(ctx, in.IdempotencyKey)
	require.NoError(t, err)

	report := h.guard.ProcessBatch(ctx, []models.Instruction{in})
	assert.Equal(t, models.ReasonInFlight, report.Outcomes[0].Reason)
	assert.Empty(t, h.ex.submitted)
}

func TestAwaitFill_ReturnsCachedFill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := config.Default().Strategy.Dispatch

	id, err := h.ex.SubmitMarketOrder(ctx, "ETH", models.SideBuy, 1000)
	require.NoError(t, err)

	first, err := h.guard.awaitFill(ctx, cfg, id)
	require.NoError(t, err)
	queries := h.ex.queries

	h.ex.fills[id].Price = 250
	second, err := h.guard.awaitFill(ctx, cfg, id)
	require.NoError(t, err)

	assert.Equal(t, first.Price, second.Price)
	assert.Equal(t, first.Quantity, second.Quantity)
	assert.True(t, first.FilledAt.Equal(second.FilledAt))
	assert.Equal(t, queries, h.ex.queries)
}

func TestAwaitFill_ContextCancelledIsNotInvalid(t *testing.T) {
	h := newHarness(t)
	h.ex.invalid = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.guard.awaitFill(ctx, config.Default().Strategy.Dispatch, "ord-x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessBatch_InvalidFillAbortsRecordKeeping(t *testing.T) {
	h := newHarness(t)
	h.ex.invalid = true
	ctx := context.Background()

	in := buyIns("c1", "ETH", 5000)
	report := h.guard.ProcessBatch(ctx, []models.Instruction{in})

	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, models.OutcomeFailed, out.Status)
	assert.Equal(t, models.ReasonInvalidFill, out.Reason)
	assert.Equal(t, models.KindInvalidFill, out.ErrorKind)
	assert.Equal(t, config.Default().Strategy.Dispatch.FillAttempts, h.ex.queries)
	assert.Equal(t, 1, h.notifier.count(domsvc.SeverityCritical))

	_, err := h.positions.GetOpen(ctx, "ETH")
	assert.Error(t, err)
	closed, err := h.logs.ClosedTrades(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, closed)

	again := h.guard.ProcessBatch(ctx, []models.Instruction{in})
	assert.Equal(t, models.ReasonAlreadyDispatched, again.Outcomes[0].Reason)
	assert.Len(t, h.ex.submitted, 1)
}

func TestProcessBatch_TrippedBreakerSkipsBuys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	at := h.now.Add(-time.Hour)
	require.NoError(t, h.breaker.Save(ctx, &models.CircuitBreakerState{
		Tripped:           true,
		TrippedAt:         &at,
		Reason:            "3 consecutive losses",
		ConsecutiveLosses: 3,
		Day:               models.DayKey(h.now),
	}))
	h.openPosition(t, "SOL", 100, 5)

	report := h.guard.ProcessBatch(ctx, []models.Instruction{
		buyIns("c1", "ETH", 5000),
		sellIns("c1", "SOL", models.ReasonStopLoss),
	})

	assert.Equal(t, models.ReasonCircuitBreaker, report.Outcomes[0].Reason)
	assert.Equal(t, models.KindCircuitBreakerTripped, report.Outcomes[0].ErrorKind)
	assert.Equal(t, models.OutcomeExecuted, report.Outcomes[1].Status)
	assert.Equal(t, []string{"SELL SOL"}, h.ex.submitted)
	assert.Equal(t, 1, h.notifier.count(domsvc.SeverityWarning))
}

func TestProcessBatch_LossStreakTripsBreaker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ex.price = 90

	for _, a := range []string{"ETH", "SOL", "AVAX"} {
		h.openPosition(t, a, 100, 10)
	}
	report := h.guard.ProcessBatch(ctx, []models.Instruction{
		sellIns("c1", "ETH", models.ReasonStopLoss),
		sellIns("c1", "SOL", models.ReasonStopLoss),
		sellIns("c1", "AVAX", models.ReasonStopLoss),
	})
	require.Equal(t, 3, report.Executed)

	st, err := h.breaker.Load(ctx)
	require.NoError(t, err)
	assert.True(t, st.Tripped)
	assert.Equal(t, 3, st.ConsecutiveLosses)
	assert.InDelta(t, 300.0, st.DailyLoss, 1e-6)

	trades, err := h.logs.ClosedTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.InDelta(t, -100.0, trades[0].PnL, 1e-6)
	assert.InDelta(t, 100.0, trades[0].EntryPrice, 1e-9)

	next := h.guard.ProcessBatch(ctx, []models.Instruction{buyIns("c2", "ETH", 5000)})
	assert.Equal(t, models.ReasonCircuitBreaker, next.Outcomes[0].Reason)
}

func TestProcessBatch_LiquidityRejected(t *testing.T) {
	h := newHarness(t)
	h.ex.bid = 0

	report := h.guard.ProcessBatch(context.Background(), []models.Instruction{buyIns("c1", "XRP", 3000)})

	out := report.Outcomes[0]
	assert.Equal(t, models.OutcomeSkipped, out.Status)
	assert.Equal(t, models.ReasonLiquidity, out.Reason)
	assert.Equal(t, models.KindLiquidityRejected, out.ErrorKind)
	assert.Empty(t, h.ex.submitted)
}

func TestProcessBatch_CapsNotionalByBalance(t *testing.T) {
	h := newHarness(t)
	h.ex.cash = 1200

	report := h.guard.ProcessBatch(context.Background(), []models.Instruction{buyIns("c1", "ETH", 5000)})
	assert.Equal(t, models.ReasonInsufficientFunds, report.Outcomes[0].Reason)

	h.ex.cash = 4000
	report = h.guard.ProcessBatch(context.Background(), []models.Instruction{buyIns("c1", "ETH", 5000)})
	require.Equal(t, 1, report.Executed)

	rec, err := h.logs.ByOrderID(context.Background(), report.Outcomes[0].OrderID)
	require.NoError(t, err)
	assert.InDelta(t, 3000.0, rec.Notional, 1e-6)
}

func TestProcessBatch_PanicIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.ex.panicOn = "XRP"

	var report models.BatchReport
	assert.NotPanics(t, func() {
		report = h.guard.ProcessBatch(context.Background(), []models.Instruction{
			buyIns("c1", "XRP", 3000),
			buyIns("c1", "ETH", 3000),
		})
	})

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, models.OutcomeFailed, report.Outcomes[0].Status)
	assert.Equal(t, models.ReasonPanic, report.Outcomes[0].Reason)
	assert.Equal(t, models.OutcomeExecuted, report.Outcomes[1].Status)
	assert.Equal(t, 1, h.notifier.count(domsvc.SeverityCritical))
}

func TestProcessBatch_SellWithoutPositionReleasesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := sellIns("c1", "ETH", models.ReasonSellSignal)
	report := h.guard.ProcessBatch(ctx, []models.Instruction{in})
	assert.Equal(t, models.ReasonNoPosition, report.Outcomes[0].Reason)

	h.openPosition(t, "ETH", 80, 2)
	report = h.guard.ProcessBatch(ctx, []models.Instruction{in})
	require.Equal(t, 1, report.Executed)

	_, err := h.positions.GetOpen(ctx, "ETH")
	assert.Error(t, err)

	trades, err := h.logs.ClosedTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, 40.0, trades[0].PnL, 1e-6)
}

func TestProcessBatch_SellBelowMinimumIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.openPosition(t, "XRP", 1, 0.5)

	report := h.guard.ProcessBatch(context.Background(), []models.Instruction{sellIns("c1", "XRP", models.ReasonStopLoss)})
	assert.Equal(t, models.ReasonBelowMinAmount, report.Outcomes[0].Reason)
	assert.Empty(t, h.ex.submitted)
}

func TestProcessBatch_UnsettledBuyBlocksNewOrdersUntilReconciled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ex.queryErr = fmt.Errorf("503 service unavailable")

	first := h.guard.ProcessBatch(ctx, []models.Instruction{buyIns("c1", "ETH", 5000)})
	require.Len(t, first.Outcomes, 1)
	assert.Equal(t, models.OutcomeFailed, first.Outcomes[0].Status)
	assert.Equal(t, "ord-1", first.Outcomes[0].OrderID)

	second := h.guard.ProcessBatch(ctx, []models.Instruction{buyIns("c2", "ETH", 5000)})
	require.Len(t, second.Outcomes, 1)
	assert.Equal(t, models.OutcomeSkipped, second.Outcomes[0].Status)
	assert.Equal(t, models.ReasonOrderPending, second.Outcomes[0].Reason)
	assert.Equal(t, []string{"BUY ETH"}, h.ex.submitted)

	// still unavailable: the order stays pending
	stuck := h.guard.Reconcile(ctx)
	assert.Equal(t, 1, stuck.Failed)
	_, err := h.journal.Pending(ctx, "ETH")
	require.NoError(t, err)

	h.ex.queryErr = nil
	report := h.guard.Reconcile(ctx)
	require.Equal(t, 1, report.Executed)
	assert.Equal(t, "ord-1", report.Outcomes[0].OrderID)

	pos, err := h.positions.GetOpen(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", pos.OrderID)
	_, err = h.logs.ByOrderID(ctx, "ord-1")
	require.NoError(t, err)
	_, err = h.journal.Pending(ctx, "ETH")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	third := h.guard.ProcessBatch(ctx, []models.Instruction{buyIns("c3", "ETH", 5000)})
	assert.Equal(t, models.ReasonPositionExists, third.Outcomes[0].Reason)
	assert.Len(t, h.ex.submitted, 1)
	assert.Empty(t, h.guard.Reconcile(ctx).Outcomes)
}

func TestReconcile_InvalidFillClearsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ex.queryErr = fmt.Errorf("503 service unavailable")

	h.guard.ProcessBatch(ctx, []models.Instruction{buyIns("c1", "SOL", 2000)})

	h.ex.queryErr = nil
	h.ex.invalid = true
	report := h.guard.Reconcile(ctx)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, models.ReasonInvalidFill, report.Outcomes[0].Reason)
	assert.Equal(t, 1, h.notifier.count(domsvc.SeverityCritical))

	_, err := h.journal.Pending(ctx, "SOL")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProcessBatch_ResumedSellCountsLossOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openPosition(t, "ETH", 100, 10)
	h.ex.price = 90

	in := sellIns("c1", "ETH", models.ReasonStopLoss)
	first := h.guard.ProcessBatch(ctx, []models.Instruction{in})
	require.Equal(t, 1, first.Executed)
	orderID := first.Outcomes[0].OrderID

	// redelivered as if the process died before the journal was completed
	require.NoError(t, h.journal.MarkSubmitted(ctx, in, orderID))
	again := h.guard.ProcessBatch(ctx, []models.Instruction{in})
	require.Equal(t, 1, again.Executed)
	assert.Equal(t, orderID, again.Outcomes[0].OrderID)

	st, err := h.breaker.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsecutiveLosses)
	assert.InDelta(t, 100.0, st.DailyLoss, 1e-6)

	trades, err := h.logs.ClosedTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.InDelta(t, -100.0, trades[0].PnL, 1e-6)
	assert.Len(t, h.ex.submitted, 1)
}
