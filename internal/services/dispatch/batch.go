package dispatch

import (
	"github.com/google/uuid"

	"TradeFusion/internal/domain/models"
)

// BatchContext tracks what executed inside one ProcessBatch call. It is never shared between calls.
type BatchContext struct {
	ID       string
	executed map[string]models.Side
}

func NewBatchContext() *BatchContext {
	return &BatchContext{ID: uuid.NewString(), executed: make(map[string]models.Side)}
}

// Admit reports whether an instruction may run given what already executed in this batch.
func (b *BatchContext) Admit(asset string, side models.Side) (string, bool) {
	prev, ok := b.executed[asset]
	if !ok {
		return "", true
	}
	if prev == side {
		return models.ReasonDuplicateInBatch, false
	}
	return models.ReasonConflictInBatch, false
}

// Executed records a completed execution.
func (b *BatchContext) Executed(asset string, side models.Side) {
	b.executed[asset] = side
}
