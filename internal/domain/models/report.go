package models

import "time"

// PerformanceWindow aggregates closed trades over one window.
type PerformanceWindow struct {
	Window   string  `json:"window"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
	BestPnL  float64 `json:"best_pnl"`
	WorstPnL float64 `json:"worst_pnl"`

	// WinRateLow and WinRateHigh bound the win rate with a 95% Wilson interval.
	WinRateLow  float64 `json:"win_rate_low"`
	WinRateHigh float64 `json:"win_rate_high"`
}

// SignalStats summarizes the signals of one day.
type SignalStats struct {
	Total        int            `json:"total"`
	Buy          int            `json:"buy"`
	Sell         int            `json:"sell"`
	Hold         int            `json:"hold"`
	Degraded     int            `json:"degraded"`
	AvgScore     float64        `json:"avg_score"`
	Distribution map[string]int `json:"distribution"`
}

// OutcomeStats is the graded hit rate of BUY and SELL signals at one horizon.
type OutcomeStats struct {
	Horizon string  `json:"horizon"`
	Graded  int     `json:"graded"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Draws   int     `json:"draws"`
	HitRate float64 `json:"hit_rate"`
}

// PositionSummary is an open position in the daily report.
type PositionSummary struct {
	Asset      string  `json:"asset"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	HeldHours  float64 `json:"held_hours"`
}

// DailyReport is the end of day summary sent to the notification channel.
type DailyReport struct {
	Date          string               `json:"date"`
	GeneratedAt   time.Time            `json:"generated_at"`
	Trades        []PerformanceWindow  `json:"trades"`
	Signals       SignalStats          `json:"signals"`
	Outcomes      []OutcomeStats       `json:"outcomes"`
	Positions     []PositionSummary    `json:"positions"`
	MarketContext *MarketContext       `json:"market_context,omitempty"`
	Breaker       *CircuitBreakerState `json:"breaker,omitempty"`

	// Errors lists the sections that could not be built.
	Errors []string `json:"errors,omitempty"`
}
