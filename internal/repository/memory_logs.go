package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
)

// MemoryLog is an in-process signal, audit, outcome and trade log.
type MemoryLog struct {
	mu       sync.RWMutex
	signals  []models.Signal
	audit    []models.AuditRecord
	outcomes map[string]models.SignalOutcome
	trades   []models.TradeRecord
	byOrder  map[string]int
}

var (
	_ repository.SignalLog  = (*MemoryLog)(nil)
	_ repository.AuditLog   = (*MemoryLog)(nil)
	_ repository.OutcomeLog = (*MemoryLog)(nil)
	_ repository.TradeLog   = (*MemoryLog)(nil)
)

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byOrder: make(map[string]int), outcomes: make(map[string]models.SignalOutcome)}
}

func (l *MemoryLog) AppendSignals(_ context.Context, signals []models.Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, signals...)
	return nil
}

// RecentSignals returns signals in [from, to], newest first. Empty asset matches all.
func (l *MemoryLog) RecentSignals(_ context.Context, asset string, from, to time.Time, limit int) ([]models.Signal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.Signal
	for i := len(l.signals) - 1; i >= 0; i-- {
		s := l.signals[i]
		if asset != "" && s.Asset != asset {
			continue
		}
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLog) AppendAudit(_ context.Context, records []models.AuditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audit = append(l.audit, records...)
	return nil
}

// RecentAudit returns audit records newest first. Empty asset or stage matches all.
func (l *MemoryLog) RecentAudit(_ context.Context, asset string, stage models.Stage, limit int) ([]models.AuditRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.AuditRecord
	for i := len(l.audit) - 1; i >= 0; i-- {
		r := l.audit[i]
		if asset != "" && r.Asset != asset {
			continue
		}
		if stage != "" && r.Stage != stage {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AppendOutcomes keeps the latest outcome per signal and horizon.
func (l *MemoryLog) AppendOutcomes(_ context.Context, outcomes []models.SignalOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range outcomes {
		l.outcomes[o.SignalID+"|"+o.Horizon] = o
	}
	return nil
}

func (l *MemoryLog) RecentOutcomes(_ context.Context, asset string, since time.Time) ([]models.SignalOutcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.SignalOutcome
	for _, o := range l.outcomes {
		if asset != "" && o.Asset != asset {
			continue
		}
		if o.SignalAt.Before(since) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SignalAt.Equal(out[j].SignalAt) {
			return out[i].SignalAt.After(out[j].SignalAt)
		}
		return out[i].Horizon < out[j].Horizon
	})
	return out, nil
}

// Append stores a trade once per order id. A repeated order id returns ErrDuplicateKey.
func (l *MemoryLog) Append(_ context.Context, t *models.TradeRecord) error {
	if t == nil || t.OrderID == "" {
		return repository.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byOrder[t.OrderID]; exists {
		return repository.ErrDuplicateKey
	}
	l.byOrder[t.OrderID] = len(l.trades)
	l.trades = append(l.trades, *t)
	return nil
}

func (l *MemoryLog) ByOrderID(_ context.Context, orderID string) (*models.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.byOrder[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t := l.trades[i]
	return &t, nil
}

func (l *MemoryLog) ClosedTrades(_ context.Context, limit int) ([]models.TradeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.TradeRecord
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].Side != models.SideSell {
			continue
		}
		out = append(out, l.trades[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
