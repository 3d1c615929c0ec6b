package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/service"
	pkghttp "TradeFusion/pkg/http"
)

// Client talks to a Coincheck-style spot exchange. Requests are signed with
// HMAC-SHA256 over nonce + full URL + body.
type Client struct {
	baseURL   string
	apiKey    string
	secret    string
	quote     string
	http      *pkghttp.Client
	now       func() time.Time
	mu        sync.Mutex
	lastNonce int64
}

var _ service.Exchange = (*Client)(nil)

type ClientOption func(*Client)

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(baseURL, apiKey, secret, quoteAsset string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		secret:  secret,
		quote:   strings.ToLower(quoteAsset),
		http:    pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Pair maps an asset to the exchange pair name, e.g. ETH -> eth_jpy.
func (c *Client) Pair(asset string) string {
	return strings.ToLower(asset) + "_" + c.quote
}

// nonce is strictly increasing microseconds.
func (c *Client) nonce() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.now().UnixMicro()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return strconv.FormatInt(n, 10)
}

func (c *Client) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, signed bool, dest interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if signed {
		nonce := c.nonce()
		headers["ACCESS-KEY"] = c.apiKey
		headers["ACCESS-NONCE"] = nonce
		headers["ACCESS-SIGNATURE"] = c.sign(nonce + u + string(payload))
	}

	opts := &pkghttp.RequestOptions{Method: method, URL: u, Headers: headers}
	if payload != nil {
		opts.Body = payload
	}
	if err := c.http.SendAndParse(ctx, opts, dest); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// apiResult is the common success envelope.
type apiResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (r apiResult) err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("exchange returned success=false")
	}
	return fmt.Errorf("exchange error: %s", r.Error)
}

type orderRequest struct {
	Pair            string `json:"pair"`
	OrderType       string `json:"order_type"`
	MarketBuyAmount string `json:"market_buy_amount,omitempty"`
	Amount          string `json:"amount,omitempty"`
}

type orderResponse struct {
	apiResult
	ID json.Number `json:"id"`
}

// SubmitMarketOrder places a market order. BUY amount is quote notional, SELL amount is base quantity.
func (c *Client) SubmitMarketOrder(ctx context.Context, asset string, side models.Side, amount float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("submit %s %s: amount must be positive", side, asset)
	}
	req := orderRequest{Pair: c.Pair(asset)}
	switch side {
	case models.SideBuy:
		req.OrderType = "market_buy"
		req.MarketBuyAmount = decimal.NewFromFloat(amount).Round(0).String()
	case models.SideSell:
		req.OrderType = "market_sell"
		req.Amount = decimal.NewFromFloat(amount).Truncate(8).String()
	default:
		return "", fmt.Errorf("submit %s: unknown side %q", asset, side)
	}

	var resp orderResponse
	if err := c.do(ctx, pkghttp.MethodPost, "/api/exchange/orders", nil, req, true, &resp); err != nil {
		return "", err
	}
	if err := resp.err(); err != nil {
		return "", fmt.Errorf("submit %s %s: %w", side, asset, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit %s %s: empty order id", side, asset)
	}
	return resp.ID.String(), nil
}

type transaction struct {
	OrderID   json.Number       `json:"order_id"`
	Pair      string            `json:"pair"`
	Side      string            `json:"side"`
	Funds     map[string]string `json:"funds"`
	CreatedAt time.Time         `json:"created_at"`
}

type transactionsResponse struct {
	apiResult
	Transactions []transaction `json:"transactions"`
}

// QueryFill aggregates the order's transactions. An order with no executions yet
// returns a zero-quantity fill.
func (c *Client) QueryFill(ctx context.Context, orderID string) (*models.Fill, error) {
	q := url.Values{}
	q.Set("order_id", orderID)
	q.Set("limit", "100")

	var resp transactionsResponse
	if err := c.do(ctx, pkghttp.MethodGet, "/api/exchange/orders/transactions", q, nil, true, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, fmt.Errorf("query fill %s: %w", orderID, err)
	}
	return aggregateFill(orderID, c.quote, resp.Transactions)
}

// aggregateFill sums funds across transactions. Funds carry mixed signs so magnitudes are used.
func aggregateFill(orderID, quote string, txs []transaction) (*models.Fill, error) {
	fill := &models.Fill{OrderID: orderID}
	if len(txs) == 0 {
		return fill, nil
	}
	base, _, _ := strings.Cut(txs[0].Pair, "_")
	fill.Asset = strings.ToUpper(base)
	fill.Side = models.Side(strings.ToUpper(txs[0].Side))

	qty, notional := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		b, err := parseAmount(tx.Funds[base])
		if err != nil {
			return nil, fmt.Errorf("fill %s: base funds: %w", orderID, err)
		}
		q, err := parseAmount(tx.Funds[quote])
		if err != nil {
			return nil, fmt.Errorf("fill %s: quote funds: %w", orderID, err)
		}
		qty = qty.Add(b.Abs())
		notional = notional.Add(q.Abs())
		if tx.CreatedAt.After(fill.FilledAt) {
			fill.FilledAt = tx.CreatedAt
		}
	}
	if qty.IsZero() {
		return fill, nil
	}
	fill.Quantity = qty.InexactFloat64()
	fill.Notional = notional.InexactFloat64()
	fill.Price = notional.Div(qty).InexactFloat64()
	return fill, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

type tickerResponse struct {
	Last      json.Number `json:"last"`
	Bid       json.Number `json:"bid"`
	Ask       json.Number `json:"ask"`
	Timestamp int64       `json:"timestamp"`
}

// Quote reads the public ticker.
func (c *Client) Quote(ctx context.Context, asset string) (*models.Quote, error) {
	q := url.Values{}
	q.Set("pair", c.Pair(asset))

	var resp tickerResponse
	if err := c.do(ctx, pkghttp.MethodGet, "/api/ticker", q, nil, false, &resp); err != nil {
		return nil, err
	}
	quote := &models.Quote{Asset: strings.ToUpper(asset), At: c.now().UTC()}
	for _, f := range []struct {
		raw json.Number
		dst *float64
	}{{resp.Last, &quote.Last}, {resp.Bid, &quote.Bid}, {resp.Ask, &quote.Ask}} {
		if f.raw == "" {
			continue
		}
		v, err := f.raw.Float64()
		if err != nil {
			return nil, fmt.Errorf("ticker %s: %w", asset, err)
		}
		*f.dst = v
	}
	if resp.Timestamp > 0 {
		quote.At = time.Unix(resp.Timestamp, 0).UTC()
	}
	return quote, nil
}

// Balance reads the account balance. Keys are currency codes with an optional
// _reserved suffix; values are decimal strings.
func (c *Client) Balance(ctx context.Context) (*models.Balance, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, pkghttp.MethodGet, "/api/accounts/balance", nil, nil, true, &raw); err != nil {
		return nil, err
	}
	var ok bool
	if s, found := raw["success"]; found {
		_ = json.Unmarshal(s, &ok)
	}
	if !ok {
		return nil, errors.New("balance: exchange returned success=false")
	}

	bal := &models.Balance{Assets: make(map[string]float64)}
	for k, v := range raw {
		if k == "success" || strings.HasSuffix(k, "_reserved") || strings.HasSuffix(k, "_lend_in_use") ||
			strings.HasSuffix(k, "_lent") || strings.HasSuffix(k, "_debt") {
			continue
		}
		amt, err := rawAmount(v)
		if err != nil {
			continue
		}
		if k == c.quote {
			bal.Cash = amt
			if r, err := rawAmount(raw[k+"_reserved"]); err == nil {
				bal.Reserved = r
			}
			continue
		}
		if amt > 0 {
			bal.Assets[strings.ToUpper(k)] = amt
		}
	}
	return bal, nil
}

// rawAmount accepts both "1.5" and 1.5.
func rawAmount(v json.RawMessage) (float64, error) {
	if len(v) == 0 {
		return 0, errors.New("missing")
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, err
	}
	return f, nil
}
