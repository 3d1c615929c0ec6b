package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
)

type staticQuotes map[string]models.Quote

func (s staticQuotes) Quote(_ context.Context, asset string) (*models.Quote, error) {
	q, ok := s[asset]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &q, nil
}

func TestPaperRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{"ETH": {Asset: "ETH", Bid: 99, Ask: 100, Last: 99.5}}, 10000)

	id, err := p.SubmitMarketOrder(ctx, "eth", models.SideBuy, 5000)
	require.NoError(t, err)
	f, err := p.QueryFill(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, f.Price)
	assert.Equal(t, 50.0, f.Quantity)
	assert.Equal(t, "ETH", f.Asset)

	b, _ := p.Balance(ctx)
	assert.Equal(t, 5000.0, b.Cash)
	assert.Equal(t, 50.0, b.Assets["ETH"])

	id, err = p.SubmitMarketOrder(ctx, "ETH", models.SideSell, 50)
	require.NoError(t, err)
	f, _ = p.QueryFill(ctx, id)
	assert.Equal(t, 99.0, f.Price)
	assert.Equal(t, 4950.0, f.Notional)

	b, _ = p.Balance(ctx)
	assert.Equal(t, 9950.0, b.Cash)
	assert.Empty(t, b.Assets)
}

func TestPaperRejectsOverspend(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{"ETH": {Bid: 99, Ask: 100}}, 100)

	_, err := p.SubmitMarketOrder(ctx, "ETH", models.SideBuy, 500)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = p.SubmitMarketOrder(ctx, "ETH", models.SideSell, 1)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = p.SubmitMarketOrder(ctx, "SOL", models.SideBuy, 10)
	assert.Error(t, err)
}

func TestPaperUnknownOrder(t *testing.T) {
	_, err := NewPaper(staticQuotes{}, 0).QueryFill(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownOrder)
}
