package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	domsvc "TradeFusion/internal/domain/service"
	"TradeFusion/internal/middleware"
	"TradeFusion/pkg/metrics"
)

// QuoteBook keeps the latest quote per asset from the tick stream.
// A stale or missing entry is refreshed from the fallback source when one is set.
type QuoteBook struct {
	mu       sync.RWMutex
	quotes   map[string]models.Quote
	fallback domsvc.QuoteSource
	maxAge   time.Duration
	spread   float64
	metrics  domrepo.Metrics
	now      func() time.Time
}

var (
	_ domsvc.QuoteSource = (*QuoteBook)(nil)
	_ middleware.Proc    = (*QuoteBook)(nil)
)

type QuoteBookOption func(*QuoteBook)

// WithQuoteFallback sets the source used when the stream has nothing fresh.
func WithQuoteFallback(src domsvc.QuoteSource) QuoteBookOption {
	return func(b *QuoteBook) { b.fallback = src }
}

// WithSyntheticSpread fills a one-sided book with last*(1±spread/2).
func WithSyntheticSpread(spread float64) QuoteBookOption {
	return func(b *QuoteBook) {
		if spread > 0 {
			b.spread = spread
		}
	}
}

func WithQuoteClock(now func() time.Time) QuoteBookOption {
	return func(b *QuoteBook) { b.now = now }
}

func NewQuoteBook(maxAge time.Duration, m domrepo.Metrics, opts ...QuoteBookOption) *QuoteBook {
	if m == nil {
		m = metrics.Nop{}
	}
	b := &QuoteBook{
		quotes:  make(map[string]models.Quote),
		maxAge:  maxAge,
		metrics: m,
		now:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Process records a tick as the asset's latest quote.
func (b *QuoteBook) Process(_ context.Context, t *models.Tick) error {
	if t == nil || t.Price <= 0 {
		return fmt.Errorf("quote book: invalid tick")
	}
	b.Put(models.Quote{
		Asset: t.Symbol,
		Bid:   t.Bid,
		Ask:   t.Ask,
		Last:  t.Price,
		At:    time.Unix(t.Timestamp, 0).UTC(),
	})
	return nil
}

// Put stores q unless a newer quote for the asset is already held.
func (b *QuoteBook) Put(q models.Quote) {
	q.Asset = strings.ToUpper(q.Asset)
	q = b.fillBook(q)
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[q.Asset]; ok && cur.At.After(q.At) {
		return
	}
	b.quotes[q.Asset] = q
	b.metrics.RecordLastPrice(q.Asset, q.Price())
}

func (b *QuoteBook) fillBook(q models.Quote) models.Quote {
	if b.spread <= 0 || (q.Bid > 0 && q.Ask > 0) || q.Last <= 0 {
		return q
	}
	half := b.spread / 2
	q.Bid = q.Last * (1 - half)
	q.Ask = q.Last * (1 + half)
	return q
}

func (b *QuoteBook) fresh(q models.Quote) bool {
	return b.maxAge <= 0 || b.now().Sub(q.At) <= b.maxAge
}

// Quote returns a fresh quote or a stale data error.
func (b *QuoteBook) Quote(ctx context.Context, asset string) (*models.Quote, error) {
	asset = strings.ToUpper(asset)
	b.mu.RLock()
	q, ok := b.quotes[asset]
	b.mu.RUnlock()
	if ok && b.fresh(q) {
		return &q, nil
	}

	if b.fallback == nil {
		if !ok {
			return nil, models.NewStaleDataError("quote", asset, fmt.Errorf("no quote"))
		}
		return nil, models.NewStaleDataError("quote", asset, fmt.Errorf("last quote at %s", q.At.Format(time.RFC3339)))
	}

	fq, err := b.fallback.Quote(ctx, asset)
	if err != nil {
		b.metrics.RecordError("quote_fallback")
		return nil, models.NewTransientUpstreamError("quote", asset, err)
	}
	if fq.At.IsZero() {
		fq.At = b.now().UTC()
	}
	if !b.fresh(*fq) {
		return nil, models.NewStaleDataError("quote", asset, fmt.Errorf("fallback quote at %s", fq.At.Format(time.RFC3339)))
	}
	fq.Asset = asset
	b.Put(*fq)

	b.mu.RLock()
	out := b.quotes[asset]
	b.mu.RUnlock()
	return &out, nil
}

// Snapshot returns a copy of every held quote.
func (b *QuoteBook) Snapshot() map[string]models.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]models.Quote, len(b.quotes))
	for k, v := range b.quotes {
		out[k] = v
	}
	return out
}
