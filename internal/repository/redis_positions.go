package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
)

const (
	maxCASAttempts  = 3
	closedHistoryN  = 500
	positionsPrefix = "positions"
)

// KEYS[1] open position, KEYS[2] open asset set. ARGV[1] json, ARGV[2] asset.
var createPositionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`)

// KEYS[1] open position, KEYS[2] open asset set. ARGV[1] asset. Returns the removed json.
var takePositionScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
	return false
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return v
`)

// RedisPositionStore keeps one open position per asset. Create and Close are Lua scripts,
// peak and stop updates use WATCH.
type RedisPositionStore struct {
	client *redis.Client
	prefix string
}

var _ repository.PositionStore = (*RedisPositionStore)(nil)

func NewRedisPositionStore(client *redis.Client, prefix string) *RedisPositionStore {
	if prefix == "" {
		prefix = "tradefusion"
	}
	return &RedisPositionStore{client: client, prefix: prefix}
}

func (s *RedisPositionStore) openKey(asset string) string {
	return fmt.Sprintf("%s:%s:open:%s", s.prefix, positionsPrefix, asset)
}

func (s *RedisPositionStore) setKey() string {
	return fmt.Sprintf("%s:%s:open", s.prefix, positionsPrefix)
}

func (s *RedisPositionStore) closedKey() string {
	return fmt.Sprintf("%s:%s:closed", s.prefix, positionsPrefix)
}

func (s *RedisPositionStore) GetOpen(ctx context.Context, asset string) (*models.Position, error) {
	data, err := s.client.Get(ctx, s.openKey(asset)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get position %s: %w", asset, err)
	}
	var p models.Position
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", asset, err)
	}
	return &p, nil
}

func (s *RedisPositionStore) Create(ctx context.Context, p *models.Position) error {
	if p == nil || p.Asset == "" || p.EntryPrice <= 0 || p.Quantity <= 0 {
		return repository.ErrInvalidInput
	}
	cp := *p
	cp.Status = models.PositionOpen
	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}

	n, err := createPositionScript.Run(ctx, s.client, []string{s.openKey(p.Asset), s.setKey()}, data, p.Asset).Int()
	if err != nil {
		return fmt.Errorf("create position %s: %w", p.Asset, err)
	}
	if n == 0 {
		return repository.ErrConflict
	}
	return nil
}

// UpdatePeakAndStop only ever raises the stored values.
func (s *RedisPositionStore) UpdatePeakAndStop(ctx context.Context, asset string, highest, stop float64) error {
	key := s.openKey(asset)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return repository.ErrConflict
			}
			return err
		}
		var p models.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if highest <= p.HighestPrice && stop <= p.StopLoss {
			return nil
		}
		if highest > p.HighestPrice {
			p.HighestPrice = highest
		}
		if stop > p.StopLoss {
			p.StopLoss = stop
		}
		out, err := json.Marshal(&p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxCASAttempts; i++ {
		err := s.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("update position %s: %w", asset, err)
		}
		return err
	}
	return repository.ErrConflict
}

func (s *RedisPositionStore) Close(ctx context.Context, asset string, exitPrice float64, exitTime time.Time) (*models.Position, error) {
	data, err := takePositionScript.Run(ctx, s.client, []string{s.openKey(asset), s.setKey()}, asset).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("close position %s: %w", asset, err)
	}

	var p models.Position
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode position %s: %w", asset, err)
	}
	t := exitTime.UTC()
	p.Status = models.PositionClosed
	p.ExitPrice = exitPrice
	p.ExitTime = &t

	if out, err := json.Marshal(&p); err == nil {
		pipe := s.client.Pipeline()
		pipe.LPush(ctx, s.closedKey(), out)
		pipe.LTrim(ctx, s.closedKey(), 0, closedHistoryN-1)
		if _, err := pipe.Exec(ctx); err != nil {
			return &p, fmt.Errorf("record closed position %s: %w", asset, err)
		}
	}
	return &p, nil
}

// ListOpen returns open positions sorted by asset.
func (s *RedisPositionStore) ListOpen(ctx context.Context) ([]*models.Position, error) {
	assets, err := s.client.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	if len(assets) == 0 {
		return nil, nil
	}
	sort.Strings(assets)

	keys := make([]string, len(assets))
	for i, a := range assets {
		keys[i] = s.openKey(a)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	out := make([]*models.Position, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p models.Position
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, &p)
	}
	return out, nil
}
