package ticker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/service"
	"TradeFusion/pkg/logger"
)

// Client is a TickStream over a Finnhub-style trade websocket.
type Client struct {
	apiKey         string
	websocketURL   string
	feeds          map[string]string // feed symbol -> asset
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex // guards conn writes and state
	conn      *websocket.Conn
	connected bool
}

var _ service.TickStream = (*Client)(nil)

// New creates a stream. symbols maps asset to the feed symbol, e.g. ETH -> BINANCE:ETHUSDT.
func New(apiKey, websocketURL string, symbols map[string]string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) *Client {
	feeds := make(map[string]string, len(symbols))
	for asset, feed := range symbols {
		feeds[feed] = asset
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		feeds:          feeds,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log.Component("ticker"),
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("ticker url: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("token", c.apiKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("ticker connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("connected", logger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to every configured feed symbol.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return errors.New("ticker not connected")
	}
	for feed := range c.feeds {
		msg := map[string]string{"type": "subscribe", "symbol": feed}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", feed, err)
		}
		c.log.Debug("subscribed", logger.String("symbol", feed))
	}
	return nil
}

type feedTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type feedMessage struct {
	Type string      `json:"type"`
	Data []feedTrade `json:"data"`
}

// decode turns a frame into ticks for known feeds. Non-trade frames yield nothing.
func (c *Client) decode(b []byte) []*models.Tick {
	var m feedMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return nil
	}
	out := make([]*models.Tick, 0, len(m.Data))
	for _, d := range m.Data {
		asset, ok := c.feeds[d.S]
		if !ok {
			continue
		}
		out = append(out, &models.Tick{Symbol: asset, Timestamp: d.T / 1000, Price: d.P, Volume: d.V})
	}
	return out
}

// Read streams ticks and errors. The tick channel drops on backpressure.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn == conn && conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				}
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		if conn == nil {
			errs <- errors.New("ticker conn nil")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("ticker read: %w", err)
				}
				return
			}
			for _, t := range c.decode(b) {
				select {
				case ticks <- t:
				default:
				}
			}
		}
	}()

	return ticks, errs
}

// Reconnect closes, waits the reconnect delay and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
