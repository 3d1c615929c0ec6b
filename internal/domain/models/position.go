package models

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is the single open holding per asset. Peak and stop only move up.
type Position struct {
	Asset        string         `json:"asset"`
	EntryPrice   float64        `json:"entry_price"`
	EntryTime    time.Time      `json:"entry_time"`
	Quantity     float64        `json:"quantity"`
	HighestPrice float64        `json:"highest_price"`
	StopLoss     float64        `json:"stop_loss"`
	TakeProfit   float64        `json:"take_profit"`
	Status       PositionStatus `json:"status"`
	ExitPrice    float64        `json:"exit_price,omitempty"`
	ExitTime     *time.Time     `json:"exit_time,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	SignalRef    string         `json:"signal_ref,omitempty"`
}

// IsOpen reports whether the position is still held.
func (p *Position) IsOpen() bool { return p != nil && p.Status == PositionOpen }

// HeldFor returns the holding duration at now.
func (p *Position) HeldFor(now time.Time) time.Duration {
	if p == nil || p.EntryTime.IsZero() {
		return 0
	}
	return now.Sub(p.EntryTime)
}

// UnrealizedReturn returns price/entry - 1.
func (p *Position) UnrealizedReturn(price float64) float64 {
	if p == nil || p.EntryPrice <= 0 {
		return 0
	}
	return price/p.EntryPrice - 1
}
