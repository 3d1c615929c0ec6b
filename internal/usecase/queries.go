package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/pkg/config"
)

// BreakerControl reads and clears the dispatch circuit breaker.
type BreakerControl interface {
	State(ctx context.Context, cfg config.BreakerConfig) (*models.CircuitBreakerState, error)
	Reset(ctx context.Context, reason string) (*models.CircuitBreakerState, error)
}

// Queries serves the read side of the API.
type Queries struct {
	signals   domrepo.SignalLog
	audit     domrepo.AuditLog
	positions domrepo.PositionStore
	quotes    domsvc.QuoteSource
	breaker   BreakerControl
	cfg       *config.Store

	trades   domrepo.TradeLog
	outcomes domrepo.OutcomeLog
	market   domsvc.MarketContextSource
}

type QueryOption func(*Queries)

func WithTradeLog(t domrepo.TradeLog) QueryOption {
	return func(q *Queries) { q.trades = t }
}

func WithOutcomeLog(o domrepo.OutcomeLog) QueryOption {
	return func(q *Queries) { q.outcomes = o }
}

func WithMarketContext(m domsvc.MarketContextSource) QueryOption {
	return func(q *Queries) { q.market = m }
}

func NewQueries(signals domrepo.SignalLog, audit domrepo.AuditLog, positions domrepo.PositionStore, quotes domsvc.QuoteSource, breaker BreakerControl, cfg *config.Store, opts ...QueryOption) *Queries {
	q := &Queries{signals: signals, audit: audit, positions: positions, quotes: quotes, breaker: breaker, cfg: cfg}
	for _, o := range opts {
		o(q)
	}
	return q
}

type SignalsParams struct {
	Asset string
	From  time.Time
	To    time.Time
	Limit int
}

// Signals returns recent signals, newest first. The window defaults to the last day.
func (q *Queries) Signals(ctx context.Context, p SignalsParams) ([]models.Signal, error) {
	if p.To.IsZero() {
		p.To = time.Now().UTC()
	}
	if p.From.IsZero() {
		p.From = p.To.Add(-24 * time.Hour)
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("%w: from must be <= to", domrepo.ErrInvalidInput)
	}
	p.Limit = clampLimit(p.Limit)

	out, err := q.signals.RecentSignals(ctx, strings.ToUpper(p.Asset), p.From, p.To, p.Limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	return out, nil
}

// Audit returns recent audit records, newest first.
func (q *Queries) Audit(ctx context.Context, asset string, stage models.Stage, limit int) ([]models.AuditRecord, error) {
	out, err := q.audit.RecentAudit(ctx, strings.ToUpper(asset), stage, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	return out, nil
}

// PositionView is an open position marked to the current quote.
type PositionView struct {
	models.Position
	Price            float64 `json:"price,omitempty"`
	UnrealizedReturn float64 `json:"unrealized_return"`
	QuoteError       string  `json:"quote_error,omitempty"`
}

func (q *Queries) Positions(ctx context.Context) ([]PositionView, error) {
	open, err := q.positions.ListOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	out := make([]PositionView, 0, len(open))
	for _, p := range open {
		v := PositionView{Position: *p}
		if q.quotes != nil {
			if quote, err := q.quotes.Quote(ctx, p.Asset); err != nil {
				v.QuoteError = err.Error()
			} else {
				v.Price = quote.Price()
				v.UnrealizedReturn = p.UnrealizedReturn(v.Price)
			}
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

// Outcomes returns graded signal outcomes since the given time, newest signal first.
func (q *Queries) Outcomes(ctx context.Context, asset string, since time.Time) ([]models.SignalOutcome, error) {
	if q.outcomes == nil {
		return []models.SignalOutcome{}, nil
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(-7 * 24 * time.Hour)
	}
	out, err := q.outcomes.RecentOutcomes(ctx, strings.ToUpper(asset), since)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	return out, nil
}

func (q *Queries) Breaker(ctx context.Context) (*models.CircuitBreakerState, error) {
	return q.breaker.State(ctx, q.cfg.Strategy().Breaker)
}

func (q *Queries) ResetBreaker(ctx context.Context, reason string) (*models.CircuitBreakerState, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: reason required", domrepo.ErrInvalidInput)
	}
	return q.breaker.Reset(ctx, reason)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 100
	case n > 1000:
		return 1000
	}
	return n
}
