package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"TradeFusion/internal/domain/models"
)

// CHTickStore persists ticks so the candle view stays fed.
type CHTickStore struct {
	db     *sql.DB
	table  string
	source string
}

func NewCHTickStore(db *sql.DB, database, source string) *CHTickStore {
	return &CHTickStore{db: db, table: qualify(database, "ticks"), source: source}
}

// StoreBatch inserts ticks in multi-row chunks. Ticks without symbol or timestamp are dropped.
func (s *CHTickStore) StoreBatch(ctx context.Context, ticks []*models.Tick) error {
	const chunkSize = 2000
	for start := 0; start < len(ticks); start += chunkSize {
		end := start + chunkSize
		if end > len(ticks) {
			end = len(ticks)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, t := range ticks[start:end] {
			if t == nil || t.Symbol == "" || t.Timestamp == 0 {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, time.Unix(t.Timestamp, 0).UTC(), t.Symbol, t.Price, t.Volume, t.Bid, t.Ask, s.source)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, symbol, price, volume, bid, ask, source) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert ticks: %w", err)
		}
	}
	return nil
}

func (s *CHTickStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
