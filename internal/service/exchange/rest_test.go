package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeFusion/internal/domain/models"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func expectedSignature(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSubmitMarketBuySignsRequest(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		nonce := r.Header.Get("ACCESS-NONCE")
		assert.Equal(t, "key", r.Header.Get("ACCESS-KEY"))
		assert.Equal(t, expectedSignature("secret", nonce+srvURL+"/api/exchange/orders"+string(body)), r.Header.Get("ACCESS-SIGNATURE"))

		var req orderRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "eth_jpy", req.Pair)
		assert.Equal(t, "market_buy", req.OrderType)
		assert.Equal(t, "5000", req.MarketBuyAmount)
		assert.Empty(t, req.Amount)
		_, _ = w.Write([]byte(`{"success":true,"id":12345}`))
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(srv.URL, "key", "secret", "JPY", time.Second, WithClock(fixedClock()))
	id, err := c.SubmitMarketOrder(context.Background(), "ETH", models.SideBuy, 4999.6)
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
}

func TestSubmitMarketSellUsesQuantity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "market_sell", req.OrderType)
		assert.Equal(t, "0.12345678", req.Amount)
		_, _ = w.Write([]byte(`{"success":true,"id":"77"}`))
	}))
	defer srv.Close()

	id, err := NewClient(srv.URL, "k", "s", "JPY", time.Second).SubmitMarketOrder(context.Background(), "SOL", models.SideSell, 0.123456789)
	require.NoError(t, err)
	assert.Equal(t, "77", id)
}

func TestSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"Amount is too small"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", "s", "JPY", time.Second).SubmitMarketOrder(context.Background(), "BTC", models.SideBuy, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")
}

func TestNonceIsStrictlyIncreasing(t *testing.T) {
	c := NewClient("http://x", "k", "s", "JPY", time.Second, WithClock(fixedClock()))
	a, b := c.nonce(), c.nonce()
	assert.Less(t, a, b)
}

func TestQueryFillAggregatesTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/exchange/orders/transactions", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("order_id"))
		_, _ = w.Write([]byte(`{"success":true,"transactions":[
			{"order_id":42,"pair":"eth_jpy","side":"buy","created_at":"2026-03-02T09:00:01Z","funds":{"eth":"0.01","jpy":"-3000"}},
			{"order_id":42,"pair":"eth_jpy","side":"buy","created_at":"2026-03-02T09:00:02Z","funds":{"eth":"0.02","jpy":"-6030"}}
		]}`))
	}))
	defer srv.Close()

	f, err := NewClient(srv.URL, "k", "s", "JPY", time.Second).QueryFill(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "ETH", f.Asset)
	assert.Equal(t, models.SideBuy, f.Side)
	assert.InDelta(t, 0.03, f.Quantity, 1e-12)
	assert.InDelta(t, 9030, f.Notional, 1e-9)
	assert.InDelta(t, 301000, f.Price, 1e-6)
	assert.Equal(t, 2, f.FilledAt.Second())
	assert.True(t, f.Valid())
}

func TestQueryFillNotYetExecuted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"transactions":[]}`))
	}))
	defer srv.Close()

	f, err := NewClient(srv.URL, "k", "s", "JPY", time.Second).QueryFill(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", f.OrderID)
	assert.False(t, f.Valid())
}

func TestQuoteParsesTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "btc_jpy", r.URL.Query().Get("pair"))
		assert.Empty(t, r.Header.Get("ACCESS-KEY"))
		_, _ = w.Write([]byte(`{"last":10000000,"bid":9999000,"ask":10001000,"timestamp":1772442000}`))
	}))
	defer srv.Close()

	q, err := NewClient(srv.URL, "k", "s", "JPY", time.Second).Quote(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", q.Asset)
	assert.Equal(t, 9999000.0, q.Bid)
	assert.InDelta(t, 0.0002, q.Spread(), 1e-9)
	assert.Equal(t, int64(1772442000), q.At.Unix())
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"jpy":"120000.5","jpy_reserved":"20000","eth":"0.5","eth_reserved":"0","btc":"0"}`))
	}))
	defer srv.Close()

	b, err := NewClient(srv.URL, "k", "s", "JPY", time.Second).Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 120000.5, b.Cash)
	assert.Equal(t, 20000.0, b.Reserved)
	assert.Equal(t, 100000.5, b.Available())
	assert.Equal(t, map[string]float64{"ETH": 0.5}, b.Assets)
}

func TestBalanceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", "s", "JPY", time.Second).Balance(context.Background())
	assert.Error(t, err)
}
