package models

import "time"

// MarketContext is the macro snapshot written by the external context collector.
// Nil fields mean the collector had no data for that input.
type MarketContext struct {
	FearGreed      *int      `json:"fear_greed,omitempty"`
	FundingScore   *float64  `json:"funding_score,omitempty"`
	DominanceScore *float64  `json:"dominance_score,omitempty"`
	FundingRateAvg *float64  `json:"funding_rate_avg,omitempty"`
	BTCDominance   *float64  `json:"btc_dominance,omitempty"`
	Score          *float64  `json:"score,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// IsFresh reports whether the snapshot is younger than window.
func (m *MarketContext) IsFresh(now time.Time, window time.Duration) bool {
	if m == nil || m.ObservedAt.IsZero() {
		return false
	}
	return now.Sub(m.ObservedAt) <= window
}

// Quote is the top of book for one asset.
type Quote struct {
	Asset string    `json:"asset"`
	Bid   float64   `json:"bid"`
	Ask   float64   `json:"ask"`
	Last  float64   `json:"last"`
	At    time.Time `json:"at"`
}

// Mid returns the bid/ask midpoint, or Last when the book is one-sided.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Spread returns (ask-bid)/mid. A one-sided book reports -1.
func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return -1
	}
	return (q.Ask - q.Bid) / q.Mid()
}

// Price returns the best executable reference price.
func (q Quote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return q.Mid()
}

// Tick is a single trade print from the live stream.
type Tick struct {
	Symbol    string
	Timestamp int64 // unix seconds
	Price     float64
	Volume    float64
	Bid       float64
	Ask       float64
}

// Candle represents an OHLCV bucket.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Closes extracts close prices in order.
func Closes(cs []Candle) []float64 {
	out := make([]float64, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Close)
	}
	return out
}

// Balance is the exchange account balance in quote currency plus held assets.
type Balance struct {
	Cash     float64            `json:"cash"`
	Reserved float64            `json:"reserved"`
	Assets   map[string]float64 `json:"assets,omitempty"`
}

// Available returns cash not locked in open orders.
func (b Balance) Available() float64 { return b.Cash - b.Reserved }
