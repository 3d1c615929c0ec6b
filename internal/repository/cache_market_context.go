package repository

import (
	"context"
	"errors"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/service"
	"TradeFusion/pkg/cache"
)

const marketContextKey = "market:context"

// CacheMarketContext reads the snapshot written by the context collector.
type CacheMarketContext struct {
	cache cache.Service
}

var _ service.MarketContextSource = (*CacheMarketContext)(nil)

func NewCacheMarketContext(c cache.Service) *CacheMarketContext {
	return &CacheMarketContext{cache: c}
}

// Current returns nil without error when no snapshot has been written.
func (s *CacheMarketContext) Current(ctx context.Context) (*models.MarketContext, error) {
	var mc models.MarketContext
	if err := s.cache.Get(ctx, marketContextKey, &mc); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &mc, nil
}

// Put stores a snapshot. ttl bounds how long a dead collector's data lingers.
func (s *CacheMarketContext) Put(ctx context.Context, mc *models.MarketContext, ttl time.Duration) error {
	return s.cache.Set(ctx, marketContextKey, mc, ttl)
}
