package models

import "time"

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Fill is the executed result of an order, fetched by order id.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Asset    string    `json:"asset"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Notional float64   `json:"notional"`
	FilledAt time.Time `json:"filled_at"`
}

// Valid reports whether the fill carries a usable price and size.
func (f *Fill) Valid() bool {
	return f != nil && f.Price > 0 && f.Quantity > 0
}

// TradeRecord is the immutable record of a completed fill.
type TradeRecord struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	Asset          string    `json:"asset"`
	Side           Side      `json:"side"`
	Price          float64   `json:"price"`
	Quantity       float64   `json:"quantity"`
	Notional       float64   `json:"notional"`
	EntryPrice     float64   `json:"entry_price,omitempty"`
	PnL            float64   `json:"pnl"`
	Reason         string    `json:"reason,omitempty"`
	SignalRef      string    `json:"signal_ref,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// TradeStats summarizes closed trades for Kelly sizing.
type TradeStats struct {
	Samples int     `json:"samples"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"`
	WinLoss float64 `json:"win_loss_ratio"`
}

// StatsFromTrades builds stats from closed SELL records. Zero pnl counts as a loss.
func StatsFromTrades(trades []TradeRecord) TradeStats {
	var st TradeStats
	var sumWin, sumLoss float64
	for _, t := range trades {
		if t.Side != SideSell {
			continue
		}
		st.Samples++
		if t.PnL > 0 {
			st.Wins++
			sumWin += t.PnL
		} else {
			st.Losses++
			sumLoss += -t.PnL
		}
	}
	if st.Samples == 0 {
		return st
	}
	st.WinRate = float64(st.Wins) / float64(st.Samples)
	if st.Wins > 0 {
		st.AvgWin = sumWin / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLoss = sumLoss / float64(st.Losses)
	}
	if st.AvgLoss > 0 {
		st.WinLoss = st.AvgWin / st.AvgLoss
	}
	return st
}
