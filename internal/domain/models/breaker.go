package models

import "time"

// CircuitBreakerState gates new entries after a loss streak or a daily loss cap.
type CircuitBreakerState struct {
	Tripped           bool       `json:"tripped"`
	TrippedAt         *time.Time `json:"tripped_at,omitempty"`
	Reason            string     `json:"reason,omitempty"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	DailyLoss         float64    `json:"daily_loss"`
	Day               string     `json:"day"`
}

// DayKey returns the UTC calendar day used for daily loss accounting.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }
