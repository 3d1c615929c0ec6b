package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is the key/value store behind the dispatch journal, fill cache,
// breaker state, market context and job locks. Values are JSON except
// strings and byte slices, which are stored raw. A zero expiration keeps the
// key until deleted.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Locker
}

// Locker hands out expiring exclusive locks. Unlock only releases a lock this
// instance still holds; one that expired and was taken by another process is
// left alone.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// lockOwner identifies lock holders. One per cache instance.
func lockOwner() string { return uuid.NewString() }

func lockKey(key string) string { return "lock:" + key }

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	return json.Marshal(value)
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, dest)
}
