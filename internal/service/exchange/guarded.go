package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/service"
	"TradeFusion/internal/service/ratelimit"
	pkghttp "TradeFusion/pkg/http"
	"TradeFusion/pkg/logger"
)

// Limiter keys for exchange calls.
const (
	KeyOrders = "exchange:orders"
	KeyReads  = "exchange:reads"
)

// Guarded wraps an Exchange with a transport circuit breaker, a rate limiter and
// retries on read calls. Order submission is never retried.
type Guarded struct {
	inner   service.Exchange
	cb      *gobreaker.CircuitBreaker
	limiter *ratelimit.Limiter
	retries uint64
	backOff func() backoff.BackOff
	log     *logger.Logger
}

var _ service.Exchange = (*Guarded)(nil)

type GuardedOption func(*Guarded)

func WithReadRetries(n uint64) GuardedOption {
	return func(g *Guarded) { g.retries = n }
}

func WithBackOff(f func() backoff.BackOff) GuardedOption {
	return func(g *Guarded) { g.backOff = f }
}

func WithGuardLogger(l *logger.Logger) GuardedOption {
	return func(g *Guarded) { g.log = l }
}

// WithBreakerSettings overrides the trip threshold and the open-state timeout.
func WithBreakerSettings(consecutive uint32, timeout time.Duration) GuardedOption {
	return func(g *Guarded) { g.cb = newBreaker(consecutive, timeout, g) }
}

func NewGuarded(inner service.Exchange, limiter *ratelimit.Limiter, opts ...GuardedOption) *Guarded {
	g := &Guarded{
		inner:   inner,
		limiter: limiter,
		retries: 3,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		log: logger.Nop(),
	}
	g.cb = newBreaker(5, 30*time.Second, g)
	for _, o := range opts {
		o(g)
	}
	return g
}

func newBreaker(consecutive uint32, timeout time.Duration, g *Guarded) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: "exchange"}
	st.Interval = time.Minute
	st.Timeout = timeout
	st.ReadyToTrip = func(c gobreaker.Counts) bool {
		return c.ConsecutiveFailures >= consecutive
	}
	// client errors are answers, not transport failures
	st.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		var se *pkghttp.StatusError
		if errors.As(err, &se) {
			return !se.Temporary()
		}
		return errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrUnknownOrder)
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		g.log.Warn("exchange breaker state change",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	return gobreaker.NewCircuitBreaker(st)
}

// State exposes the transport breaker state.
func (g *Guarded) State() string { return g.cb.State().String() }

func (g *Guarded) exec(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, key); err != nil {
			return nil, err
		}
	}
	return g.cb.Execute(fn)
}

func (g *Guarded) read(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	var out interface{}
	op := func() error {
		v, err := g.exec(ctx, KeyReads, fn)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			var se *pkghttp.StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(g.backOff(), g.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Guarded) SubmitMarketOrder(ctx context.Context, asset string, side models.Side, amount float64) (string, error) {
	v, err := g.exec(ctx, KeyOrders, func() (interface{}, error) {
		return g.inner.SubmitMarketOrder(ctx, asset, side, amount)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *Guarded) QueryFill(ctx context.Context, orderID string) (*models.Fill, error) {
	v, err := g.read(ctx, func() (interface{}, error) { return g.inner.QueryFill(ctx, orderID) })
	if err != nil {
		return nil, err
	}
	return v.(*models.Fill), nil
}

func (g *Guarded) Quote(ctx context.Context, asset string) (*models.Quote, error) {
	v, err := g.read(ctx, func() (interface{}, error) { return g.inner.Quote(ctx, asset) })
	if err != nil {
		return nil, models.NewTransientUpstreamError("quote", asset, err)
	}
	return v.(*models.Quote), nil
}

func (g *Guarded) Balance(ctx context.Context) (*models.Balance, error) {
	v, err := g.read(ctx, func() (interface{}, error) { return g.inner.Balance(ctx) })
	if err != nil {
		return nil, models.NewTransientUpstreamError("balance", "", err)
	}
	return v.(*models.Balance), nil
}
