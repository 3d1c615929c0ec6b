package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
	"TradeFusion/pkg/cache"
)

const (
	breakerStateKey = "breaker:state"
	breakerLockKey  = "breaker:lock"
)

var ErrLockBusy = errors.New("breaker lock busy")

// CacheBreakerStore persists breaker state in a cache.Service and serializes updates with TryLock.
type CacheBreakerStore struct {
	cache    cache.Service
	lockWait time.Duration
}

var _ repository.BreakerStore = (*CacheBreakerStore)(nil)

func NewCacheBreakerStore(c cache.Service) *CacheBreakerStore {
	return &CacheBreakerStore{cache: c, lockWait: time.Second}
}

func (s *CacheBreakerStore) Load(ctx context.Context) (*models.CircuitBreakerState, error) {
	var st models.CircuitBreakerState
	if err := s.cache.Get(ctx, breakerStateKey, &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return &models.CircuitBreakerState{}, nil
		}
		return nil, err
	}
	return &st, nil
}

func (s *CacheBreakerStore) Save(ctx context.Context, st *models.CircuitBreakerState) error {
	return s.cache.Set(ctx, breakerStateKey, st, 0)
}

// Lock polls TryLock until acquired or lockWait elapses.
func (s *CacheBreakerStore) Lock(ctx context.Context, ttl time.Duration) (func(), error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = s.lockWait

	op := func() error {
		ok, err := s.cache.TryLock(ctx, breakerLockKey, ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockBusy
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return func() {
		_ = s.cache.Unlock(context.Background(), breakerLockKey)
	}, nil
}
