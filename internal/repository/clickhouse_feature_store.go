package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TradeFusion/internal/domain/models"
	domrepo "TradeFusion/internal/domain/repository"
	pkgch "TradeFusion/pkg/clickhouse"
	applogger "TradeFusion/pkg/logger"
)

// CandleSchema creates the tick table and the hourly candle view the analysis cycle reads.
var CandleSchema = []string{
	`CREATE DATABASE IF NOT EXISTS {db}`,
	`CREATE TABLE IF NOT EXISTS {db}.ticks (
		ts     DateTime64(3, 'UTC'),
		symbol LowCardinality(String),
		price  Float64,
		volume Float64,
		bid    Float64,
		ask    Float64,
		source LowCardinality(String)
	) ENGINE = MergeTree ORDER BY (symbol, ts) TTL toDateTime(ts) + INTERVAL 30 DAY`,
	`CREATE TABLE IF NOT EXISTS {db}.candles_1h (
		bucket DateTime('UTC'),
		symbol LowCardinality(String),
		open   AggregateFunction(argMin, Float64, DateTime64(3, 'UTC')),
		high   SimpleAggregateFunction(max, Float64),
		low    SimpleAggregateFunction(min, Float64),
		close  AggregateFunction(argMax, Float64, DateTime64(3, 'UTC')),
		vol    SimpleAggregateFunction(sum, Float64)
	) ENGINE = AggregatingMergeTree ORDER BY (symbol, bucket)`,
	`CREATE MATERIALIZED VIEW IF NOT EXISTS {db}.candles_1h_mv TO {db}.candles_1h AS
		SELECT toStartOfHour(ts) AS bucket, symbol,
			argMinState(price, ts) AS open, max(price) AS high, min(price) AS low,
			argMaxState(price, ts) AS close, sum(volume) AS vol
		FROM {db}.ticks GROUP BY bucket, symbol`,
}

// CHFeatureStore implements FeatureStore backed by ClickHouse.
type CHFeatureStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

var _ domrepo.FeatureStore = (*CHFeatureStore)(nil)

func NewCHFeatureStore(db *sql.DB, database string) *CHFeatureStore {
	return &CHFeatureStore{db: db, table: qualify(database, "candles_1h"), l: applogger.Nop()}
}

// qualify prefixes table with database, defaulting to the engine's own database.
func qualify(database, table string) string {
	if database == "" {
		database = pkgch.DefaultDatabase
	}
	return database + "." + table
}

// SetLogger injects a structured logger.
func (s *CHFeatureStore) SetLogger(l *applogger.Logger) { s.l = l }

const candleSelect = `
	SELECT bucket, symbol, argMinMerge(open), max(high), min(low), argMaxMerge(close), sum(vol)
	FROM %s
	WHERE symbol = ? %s
	GROUP BY bucket, symbol
	ORDER BY bucket %s
	%s`

func (s *CHFeatureStore) GetCandles(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	start := time.Now()
	q := fmt.Sprintf(candleSelect, s.table, "AND bucket >= ? AND bucket <= ?", "ASC", "")
	out, err := s.query(ctx, q, symbol, from.UTC(), to.UTC())
	if err != nil {
		s.l.Error("clickhouse get_candles error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get candles: %w", err)
	}
	s.l.Debug("clickhouse get_candles ok",
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// GetLatestNCandles returns the newest n candles in ascending order.
func (s *CHFeatureStore) GetLatestNCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error) {
	start := time.Now()
	q := fmt.Sprintf(candleSelect, s.table, "", "DESC", "LIMIT ?")
	tmp, err := s.query(ctx, q, symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_candles error",
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	s.l.Debug("clickhouse latest_candles ok",
		applogger.String("symbol", symbol),
		applogger.Int("limit", n),
		applogger.Int("rows", len(tmp)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return tmp, nil
}

func (s *CHFeatureStore) query(ctx context.Context, q string, args ...interface{}) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
