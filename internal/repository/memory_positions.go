package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
)

// MemoryPositionStore keeps positions in process. Open positions are keyed by asset.
type MemoryPositionStore struct {
	mu     sync.RWMutex
	open   map[string]*models.Position
	closed []*models.Position
}

var _ repository.PositionStore = (*MemoryPositionStore)(nil)

func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{open: make(map[string]*models.Position)}
}

func (s *MemoryPositionStore) GetOpen(_ context.Context, asset string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.open[asset]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryPositionStore) Create(_ context.Context, p *models.Position) error {
	if p == nil || p.Asset == "" || p.EntryPrice <= 0 || p.Quantity <= 0 {
		return repository.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.open[p.Asset]; exists {
		return repository.ErrConflict
	}
	cp := *p
	cp.Status = models.PositionOpen
	s.open[p.Asset] = &cp
	return nil
}

func (s *MemoryPositionStore) UpdatePeakAndStop(_ context.Context, asset string, highest, stop float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.open[asset]
	if !ok {
		return repository.ErrConflict
	}
	if highest > p.HighestPrice {
		p.HighestPrice = highest
	}
	if stop > p.StopLoss {
		p.StopLoss = stop
	}
	return nil
}

func (s *MemoryPositionStore) Close(_ context.Context, asset string, exitPrice float64, exitTime time.Time) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.open[asset]
	if !ok {
		return nil, repository.ErrConflict
	}
	delete(s.open, asset)

	t := exitTime.UTC()
	p.Status = models.PositionClosed
	p.ExitPrice = exitPrice
	p.ExitTime = &t
	s.closed = append(s.closed, p)

	cp := *p
	return &cp, nil
}

// ListOpen returns open positions sorted by asset.
func (s *MemoryPositionStore) ListOpen(_ context.Context) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Position, 0, len(s.open))
	for _, p := range s.open {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}
