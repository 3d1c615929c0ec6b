package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/service"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownOrder      = errors.New("unknown order")
)

// Paper simulates immediate market fills at the live quote: buys lift the ask,
// sells hit the bid. Cash and holdings are kept in memory.
type Paper struct {
	quotes   service.QuoteSource
	mu       sync.Mutex
	cash     float64
	holdings map[string]float64
	fills    map[string]models.Fill
	now      func() time.Time
}

var _ service.Exchange = (*Paper)(nil)

func NewPaper(quotes service.QuoteSource, cash float64) *Paper {
	return &Paper{
		quotes:   quotes,
		cash:     cash,
		holdings: make(map[string]float64),
		fills:    make(map[string]models.Fill),
		now:      time.Now,
	}
}

func (p *Paper) SubmitMarketOrder(ctx context.Context, asset string, side models.Side, amount float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("paper %s %s: amount must be positive", side, asset)
	}
	asset = strings.ToUpper(asset)
	q, err := p.quotes.Quote(ctx, asset)
	if err != nil {
		return "", fmt.Errorf("paper quote %s: %w", asset, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fill := models.Fill{OrderID: uuid.New().String(), Asset: asset, Side: side, FilledAt: p.now().UTC()}
	switch side {
	case models.SideBuy:
		price := q.Ask
		if price <= 0 {
			price = q.Price()
		}
		if price <= 0 {
			return "", fmt.Errorf("paper buy %s: no price", asset)
		}
		if amount > p.cash {
			return "", fmt.Errorf("paper buy %s %.2f: %w", asset, amount, ErrInsufficientFunds)
		}
		fill.Price = price
		fill.Notional = amount
		fill.Quantity = amount / price
		p.cash -= amount
		p.holdings[asset] += fill.Quantity
	case models.SideSell:
		price := q.Bid
		if price <= 0 {
			price = q.Price()
		}
		if price <= 0 {
			return "", fmt.Errorf("paper sell %s: no price", asset)
		}
		held := p.holdings[asset]
		if amount > held {
			return "", fmt.Errorf("paper sell %s %.8f (held %.8f): %w", asset, amount, held, ErrInsufficientFunds)
		}
		fill.Price = price
		fill.Quantity = amount
		fill.Notional = amount * price
		p.cash += fill.Notional
		if p.holdings[asset] = held - amount; p.holdings[asset] <= 1e-12 {
			delete(p.holdings, asset)
		}
	default:
		return "", fmt.Errorf("paper %s: unknown side %q", asset, side)
	}
	p.fills[fill.OrderID] = fill
	return fill.OrderID, nil
}

func (p *Paper) QueryFill(_ context.Context, orderID string) (*models.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fills[orderID]
	if !ok {
		return nil, fmt.Errorf("paper fill %s: %w", orderID, ErrUnknownOrder)
	}
	return &f, nil
}

func (p *Paper) Quote(ctx context.Context, asset string) (*models.Quote, error) {
	return p.quotes.Quote(ctx, strings.ToUpper(asset))
}

func (p *Paper) Balance(context.Context) (*models.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	assets := make(map[string]float64, len(p.holdings))
	for k, v := range p.holdings {
		assets[k] = v
	}
	return &models.Balance{Cash: p.cash, Assets: assets}, nil
}
