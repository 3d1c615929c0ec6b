package metrics

import (
	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
)

// Nop discards everything.
type Nop struct{}

var _ repository.Metrics = Nop{}

func (Nop) RecordSignal(string, models.Decision, float64) {}
func (Nop) RecordDispatch(models.Side, models.OutcomeStatus, string) {}
func (Nop) RecordSuppression(models.Stage, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) SetBreakerTripped(bool) {}
func (Nop) SetOpenPositions(int) {}
