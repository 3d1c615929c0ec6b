package models

import "time"

// Grade is the verdict on a signal's direction after a horizon has passed.
type Grade string

const (
	GradeWin  Grade = "WIN"
	GradeLoss Grade = "LOSS"
	GradeDraw Grade = "DRAW"
)

// SignalOutcome is the price movement observed one horizon after a BUY or SELL signal.
// Percentages are relative to EntryPrice, in percent.
type SignalOutcome struct {
	SignalID        string    `json:"signal_id"`
	Asset           string    `json:"asset"`
	Decision        Decision  `json:"decision"`
	SignalAt        time.Time `json:"signal_at"`
	Horizon         string    `json:"horizon"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	ChangePct       float64   `json:"change_pct"`
	MaxFavorablePct float64   `json:"max_favorable_pct"`
	MaxAdversePct   float64   `json:"max_adverse_pct"`
	Grade           Grade     `json:"grade"`
	CheckedAt       time.Time `json:"checked_at"`
}

// GradeMove grades a price change against the signal direction. A move within
// threshold (percent) either way is a draw.
func GradeMove(d Decision, changePct, threshold float64) Grade {
	if d == DecisionSell {
		changePct = -changePct
	}
	switch {
	case changePct > threshold:
		return GradeWin
	case changePct < -threshold:
		return GradeLoss
	}
	return GradeDraw
}
