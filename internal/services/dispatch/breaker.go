package dispatch

import (
	"context"
	"fmt"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
	"TradeFusion/pkg/config"
)

const breakerLockTTL = 10 * time.Second

// Breaker suspends new entries after a loss streak or when the daily loss cap is hit.
type Breaker struct {
	store repository.BreakerStore
	now   func() time.Time
}

func NewBreaker(store repository.BreakerStore, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{store: store, now: now}
}

// State loads the current state, rolling the day and clearing an expired trip.
func (b *Breaker) State(ctx context.Context, cfg config.BreakerConfig) (*models.CircuitBreakerState, error) {
	st, err := b.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load breaker: %w", err)
	}
	if !b.refresh(st, cfg) {
		return st, nil
	}

	unlock, err := b.store.Lock(ctx, breakerLockTTL)
	if err != nil {
		// lock busy: serve the refreshed view unpersisted
		return st, nil
	}
	defer unlock()

	st, err = b.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load breaker: %w", err)
	}
	if b.refresh(st, cfg) {
		if err := b.store.Save(ctx, st); err != nil {
			return nil, fmt.Errorf("save breaker: %w", err)
		}
	}
	return st, nil
}

// RecordClose folds a realized pnl into the state. tripped is true when this close tripped it.
func (b *Breaker) RecordClose(ctx context.Context, cfg config.BreakerConfig, pnl float64) (*models.CircuitBreakerState, bool, error) {
	unlock, err := b.store.Lock(ctx, breakerLockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("lock breaker: %w", err)
	}
	defer unlock()

	st, err := b.store.Load(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("load breaker: %w", err)
	}
	b.refresh(st, cfg)

	if pnl < 0 {
		st.ConsecutiveLosses++
		st.DailyLoss += -pnl
	} else {
		st.ConsecutiveLosses = 0
	}

	tripped := false
	if !st.Tripped {
		switch {
		case st.ConsecutiveLosses >= cfg.MaxConsecutiveLosses:
			st.Reason = fmt.Sprintf("%d consecutive losses", st.ConsecutiveLosses)
			tripped = true
		case st.DailyLoss >= cfg.DailyLossLimit:
			st.Reason = fmt.Sprintf("daily loss %.0f reached limit %.0f", st.DailyLoss, cfg.DailyLossLimit)
			tripped = true
		}
		if tripped {
			now := b.now().UTC()
			st.Tripped = true
			st.TrippedAt = &now
		}
	}

	if err := b.store.Save(ctx, st); err != nil {
		return nil, false, fmt.Errorf("save breaker: %w", err)
	}
	return st, tripped, nil
}

// Reset clears a trip manually.
func (b *Breaker) Reset(ctx context.Context, reason string) (*models.CircuitBreakerState, error) {
	unlock, err := b.store.Lock(ctx, breakerLockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock breaker: %w", err)
	}
	defer unlock()

	st, err := b.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load breaker: %w", err)
	}
	st.Tripped = false
	st.TrippedAt = nil
	st.ConsecutiveLosses = 0
	st.Reason = "reset: " + reason
	if err := b.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save breaker: %w", err)
	}
	return st, nil
}

// refresh applies day rollover and cooldown expiry in place. Returns true when st changed.
func (b *Breaker) refresh(st *models.CircuitBreakerState, cfg config.BreakerConfig) bool {
	now := b.now()
	changed := false

	if day := models.DayKey(now); st.Day != day {
		st.Day = day
		st.DailyLoss = 0
		changed = true
	}
	if st.Tripped && st.TrippedAt != nil && now.Sub(*st.TrippedAt) >= cfg.Cooldown {
		st.Tripped = false
		st.TrippedAt = nil
		st.ConsecutiveLosses = 0
		st.Reason = ""
		changed = true
	}
	return changed
}
