package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
	"TradeFusion/pkg/cache"
)

// CacheJournal implements DispatchJournal with SETNX claims on a cache.Service.
type CacheJournal struct {
	cache cache.Service
	ttl   time.Duration
	now   func() time.Time
}

var _ repository.DispatchJournal = (*CacheJournal)(nil)

func NewCacheJournal(c cache.Service, ttl time.Duration) *CacheJournal {
	return &CacheJournal{cache: c, ttl: ttl, now: time.Now}
}

func journalKey(key string) string { return cache.Key("journal", key) }

func pendingKey(asset string) string { return cache.Key("journal", "pending", asset) }

func (j *CacheJournal) Claim(ctx context.Context, key string) (*models.JournalEntry, bool, error) {
	entry := &models.JournalEntry{Key: key, State: models.JournalClaimed, UpdatedAt: j.now().UTC()}
	ok, err := j.cache.SetNX(ctx, journalKey(key), entry, j.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return entry, true, nil
	}

	var existing models.JournalEntry
	if err := j.cache.Get(ctx, journalKey(key), &existing); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			// expired between SETNX and GET
			return j.Claim(ctx, key)
		}
		return nil, false, fmt.Errorf("read claim %s: %w", key, err)
	}
	return &existing, false, nil
}

// MarkSubmitted stores the entry without expiry: an order that has not settled
// must stay resumable, and the pending index blocks new orders on its asset.
func (j *CacheJournal) MarkSubmitted(ctx context.Context, in models.Instruction, orderID string) error {
	cp := in
	entry := models.JournalEntry{
		Key:         in.IdempotencyKey,
		State:       models.JournalSubmitted,
		OrderID:     orderID,
		Instruction: &cp,
		UpdatedAt:   j.now().UTC(),
	}
	if err := j.cache.Set(ctx, journalKey(in.IdempotencyKey), entry, 0); err != nil {
		return fmt.Errorf("mark submitted %s: %w", in.IdempotencyKey, err)
	}
	if err := j.cache.Set(ctx, pendingKey(in.Asset), in.IdempotencyKey, 0); err != nil {
		return fmt.Errorf("mark pending %s: %w", in.Asset, err)
	}
	return nil
}

func (j *CacheJournal) Pending(ctx context.Context, asset string) (*models.JournalEntry, error) {
	var key string
	if err := j.cache.Get(ctx, pendingKey(asset), &key); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("pending %s: %w", asset, err)
	}

	var entry models.JournalEntry
	err := j.cache.Get(ctx, journalKey(key), &entry)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("pending %s: %w", asset, err)
	}
	if err != nil || entry.State != models.JournalSubmitted {
		// stale index left by an interrupted Complete
		if derr := j.cache.Delete(ctx, pendingKey(asset)); derr != nil {
			return nil, derr
		}
		return nil, repository.ErrNotFound
	}
	return &entry, nil
}

// Complete keeps the order id recorded by MarkSubmitted and clears the asset's
// pending index when it still points at key.
func (j *CacheJournal) Complete(ctx context.Context, key string) error {
	var entry models.JournalEntry
	if err := j.cache.Get(ctx, journalKey(key), &entry); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return err
	}
	entry.Key = key
	entry.State = models.JournalCompleted
	entry.UpdatedAt = j.now().UTC()
	if err := j.cache.Set(ctx, journalKey(key), entry, j.ttl); err != nil {
		return err
	}
	if entry.Instruction != nil {
		return j.clearPending(ctx, entry.Instruction.Asset, key)
	}
	return nil
}

func (j *CacheJournal) Release(ctx context.Context, key string) error {
	return j.cache.Delete(ctx, journalKey(key))
}

func (j *CacheJournal) clearPending(ctx context.Context, asset, key string) error {
	var current string
	if err := j.cache.Get(ctx, pendingKey(asset), &current); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil
		}
		return err
	}
	if current != key {
		return nil
	}
	return j.cache.Delete(ctx, pendingKey(asset))
}

// CacheFillStore implements FillCache.
type CacheFillStore struct {
	cache cache.Service
	ttl   time.Duration
}

var _ repository.FillCache = (*CacheFillStore)(nil)

func NewCacheFillStore(c cache.Service, ttl time.Duration) *CacheFillStore {
	return &CacheFillStore{cache: c, ttl: ttl}
}

func (s *CacheFillStore) GetFill(ctx context.Context, orderID string) (*models.Fill, error) {
	var f models.Fill
	if err := s.cache.Get(ctx, cache.Key("fill", orderID), &f); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *CacheFillStore) PutFill(ctx context.Context, f *models.Fill) error {
	if f == nil || f.OrderID == "" {
		return repository.ErrInvalidInput
	}
	return s.cache.Set(ctx, cache.Key("fill", f.OrderID), f, s.ttl)
}
