package repository

import (
	"context"
	"time"

	"TradeFusion/internal/domain/models"
)

// PositionStore holds at most one OPEN position per asset. Every write is conditional on status.
type PositionStore interface {
	// GetOpen returns the open position or ErrNotFound.
	GetOpen(ctx context.Context, asset string) (*models.Position, error)
	// Create opens a position. Returns ErrConflict if one is already open.
	Create(ctx context.Context, p *models.Position) error
	// UpdatePeakAndStop raises peak and stop. Lower values are ignored. Returns ErrConflict if not open.
	UpdatePeakAndStop(ctx context.Context, asset string, highest, stop float64) error
	// Close marks the position closed. Returns ErrConflict if not open.
	Close(ctx context.Context, asset string, exitPrice float64, exitTime time.Time) (*models.Position, error)
	ListOpen(ctx context.Context) ([]*models.Position, error)
}

// SignalLog is the append-only signal log.
type SignalLog interface {
	AppendSignals(ctx context.Context, signals []models.Signal) error
	RecentSignals(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.Signal, error)
}

// OutcomeLog stores graded signal outcomes, one per signal and horizon.
type OutcomeLog interface {
	AppendOutcomes(ctx context.Context, outcomes []models.SignalOutcome) error
	// RecentOutcomes returns outcomes of signals emitted at or after since, newest signal
	// first. Empty asset matches all.
	RecentOutcomes(ctx context.Context, asset string, since time.Time) ([]models.SignalOutcome, error)
}

// AuditLog records suppressed, skipped and degraded decisions.
type AuditLog interface {
	AppendAudit(ctx context.Context, records []models.AuditRecord) error
	RecentAudit(ctx context.Context, asset string, stage models.Stage, limit int) ([]models.AuditRecord, error)
}

// TradeLog is the immutable trade record store. Append is idempotent on OrderID: a
// repeated order id keeps the first record and returns ErrDuplicateKey.
type TradeLog interface {
	Append(ctx context.Context, t *models.TradeRecord) error
	ByOrderID(ctx context.Context, orderID string) (*models.TradeRecord, error)
	// ClosedTrades returns up to limit SELL records, newest first. Filtering happens in the
	// store so the caller never depends on a page of mixed records containing what it needs.
	ClosedTrades(ctx context.Context, limit int) ([]models.TradeRecord, error)
}

// DispatchJournal records idempotency keys of dispatched instructions.
type DispatchJournal interface {
	// Claim stores a claimed entry when the key is new. When it exists, the stored entry is returned with claimed=false.
	Claim(ctx context.Context, key string) (entry *models.JournalEntry, claimed bool, err error)
	// MarkSubmitted records the exchange order id and marks the instruction's asset
	// as pending until Complete.
	MarkSubmitted(ctx context.Context, in models.Instruction, orderID string) error
	// Pending returns the submitted, unsettled entry for asset or ErrNotFound.
	Pending(ctx context.Context, asset string) (*models.JournalEntry, error)
	Complete(ctx context.Context, key string) error
	// Release drops a claim that never reached the exchange.
	Release(ctx context.Context, key string) error
}

// FillCache memoizes fills by order id so repeated queries return the same result.
type FillCache interface {
	GetFill(ctx context.Context, orderID string) (*models.Fill, error)
	PutFill(ctx context.Context, f *models.Fill) error
}

// BreakerStore persists circuit breaker state.
type BreakerStore interface {
	// Load returns a zero state when nothing has been saved yet.
	Load(ctx context.Context) (*models.CircuitBreakerState, error)
	Save(ctx context.Context, st *models.CircuitBreakerState) error
	// Lock serializes read-modify-write cycles across workers.
	Lock(ctx context.Context, ttl time.Duration) (unlock func(), err error)
}

// InstructionPublisher hands instructions to the dispatch path.
type InstructionPublisher interface {
	PublishInstructions(ctx context.Context, ins []models.Instruction) error
}

type Metrics interface {
	RecordSignal(asset string, decision models.Decision, fused float64)
	RecordDispatch(side models.Side, status models.OutcomeStatus, reason string)
	RecordSuppression(stage models.Stage, reason string)
	RecordError(kind string)
	RecordLastPrice(asset string, price float64)
	RecordLatency(op string, seconds float64)
	SetBreakerTripped(tripped bool)
	SetOpenPositions(n int)
}
