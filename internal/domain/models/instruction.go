package models

import (
	"time"

	"github.com/google/uuid"
)

// InstructionSource names the trigger that produced an instruction.
type InstructionSource string

const (
	SourceAnalysis InstructionSource = "analysis"
	SourceRisk     InstructionSource = "risk"
	SourceManual   InstructionSource = "manual"
)

// Instruction is a dispatchable order intent. BUY carries Notional, SELL carries the full position.
type Instruction struct {
	IdempotencyKey string            `json:"idempotency_key"`
	CycleID        string            `json:"cycle_id"`
	Source         InstructionSource `json:"source"`
	Asset          string            `json:"asset"`
	Side           Side              `json:"side"`
	Notional       float64           `json:"notional,omitempty"`
	FusedScore     float64           `json:"fused_score"`
	Reason         string            `json:"reason,omitempty"`
	SignalRef      string            `json:"signal_ref,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

var instructionNamespace = uuid.MustParse("5b0b1b7e-4c1e-4d55-9a3c-7f7d8c1d2e10")

// InstructionKey derives a deterministic idempotency key so a retried trigger reuses it.
func InstructionKey(cycleID, asset string, side Side) string {
	return uuid.NewSHA1(instructionNamespace, []byte(cycleID+"|"+asset+"|"+string(side))).String()
}

// OutcomeStatus is the per-instruction dispatch result.
type OutcomeStatus string

const (
	OutcomeExecuted OutcomeStatus = "executed"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeFailed   OutcomeStatus = "failed"
)

// InstructionOutcome reports what happened to one instruction.
type InstructionOutcome struct {
	Key       string        `json:"key"`
	Asset     string        `json:"asset"`
	Side      Side          `json:"side"`
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	OrderID   string        `json:"order_id,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// BatchReport summarizes a processed batch. Dispatch reports, never raises.
type BatchReport struct {
	BatchID  string               `json:"batch_id"`
	Outcomes []InstructionOutcome `json:"outcomes"`
	Executed int                  `json:"executed"`
	Skipped  int                  `json:"skipped"`
	Failed   int                  `json:"failed"`
}

// Add appends an outcome and updates the counters.
func (r *BatchReport) Add(o InstructionOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeExecuted:
		r.Executed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// JournalState tracks an idempotency key through dispatch.
type JournalState string

const (
	JournalClaimed   JournalState = "claimed"
	JournalSubmitted JournalState = "submitted"
	JournalCompleted JournalState = "completed"
)

// JournalEntry is the persisted record of one dispatched instruction. A submitted
// entry carries its instruction so an unsettled order can be resumed without the
// original trigger.
type JournalEntry struct {
	Key         string       `json:"key"`
	State       JournalState `json:"state"`
	OrderID     string       `json:"order_id,omitempty"`
	Instruction *Instruction `json:"instruction,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
