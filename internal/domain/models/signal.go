package models

import "time"

// Decision is the per-asset outcome of one analysis cycle.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// Signal is the append-only record of one asset's evaluation in one cycle.
type Signal struct {
	ID            string           `json:"id"`
	CycleID       string           `json:"cycle_id"`
	Asset         string           `json:"asset"`
	Timestamp     time.Time        `json:"timestamp"`
	FusedScore    float64          `json:"fused_score"`
	BuyThreshold  float64          `json:"buy_threshold"`
	SellThreshold float64          `json:"sell_threshold"`
	Decision      Decision         `json:"decision"`
	Reason        string           `json:"reason,omitempty"`
	Weights       FusionWeights    `json:"weights"`
	Components    []ComponentScore `json:"components"`
	Degraded      []string         `json:"degraded,omitempty"`
}

// Stage names where an audit record was produced.
type Stage string

const (
	StageAnalysis Stage = "analysis"
	StageRisk     Stage = "risk"
	StageDispatch Stage = "dispatch"
)

// AuditRecord captures every suppressed, skipped or degraded decision.
type AuditRecord struct {
	CycleID   string    `json:"cycle_id"`
	Asset     string    `json:"asset"`
	Stage     Stage     `json:"stage"`
	Decision  Decision  `json:"decision,omitempty"`
	Reason    string    `json:"reason"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Suppression reasons shared by the analysis, risk and dispatch stages.
const (
	ReasonMinHold            = "min_hold"
	ReasonMaxPositions       = "max_positions"
	ReasonBelowBuyThreshold  = "below_buy_threshold"
	ReasonAboveSellThreshold = "above_sell_threshold"
	ReasonSellSignal         = "sell_signal"
	ReasonRiskExit           = "risk_exit"
	ReasonBuySignal          = "buy_signal"
	ReasonNoEdge             = "no_edge"
	ReasonZeroAllocation     = "zero_allocation"
	ReasonDegraded           = "degraded_component"
	ReasonStopLoss           = "stop_loss"
	ReasonTrailingStop       = "trailing_stop"
	ReasonTakeProfit         = "take_profit"
	ReasonConflictInBatch    = "conflict_in_batch"
	ReasonDuplicateInBatch   = "duplicate_in_batch"
	ReasonAlreadyDispatched  = "already_dispatched"
	ReasonInFlight           = "in_flight"
	ReasonOrderPending       = "order_pending"
	ReasonCircuitBreaker     = "circuit_breaker"
	ReasonPositionExists     = "position_exists"
	ReasonNoPosition         = "no_position"
	ReasonLiquidity          = "liquidity_rejected"
	ReasonInsufficientFunds  = "insufficient_balance"
	ReasonBelowMinAmount     = "below_min_amount"
	ReasonInvalidFill        = "invalid_fill"
	ReasonExecutionError     = "execution_error"
	ReasonPanic              = "panic"
)
