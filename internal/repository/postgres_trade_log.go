package repository

import (
	"context"
	"fmt"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
	"TradeFusion/pkg/postgres"
)

// TradeLogSchema creates the trade_records table. order_id is unique so Append is idempotent.
var TradeLogSchema = []string{
	`CREATE TABLE IF NOT EXISTS trade_records (
		id              UUID PRIMARY KEY,
		order_id        TEXT NOT NULL UNIQUE,
		asset           TEXT NOT NULL,
		side            TEXT NOT NULL,
		price           DOUBLE PRECISION NOT NULL,
		quantity        DOUBLE PRECISION NOT NULL,
		notional        DOUBLE PRECISION NOT NULL,
		entry_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
		pnl             DOUBLE PRECISION NOT NULL DEFAULT 0,
		reason          TEXT NOT NULL DEFAULT '',
		signal_ref      TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL,
		executed_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS trade_records_side_executed_idx ON trade_records (side, executed_at DESC)`,
}

// PostgresTradeLog implements TradeLog on Postgres.
type PostgresTradeLog struct {
	pool *postgres.Pool
}

var _ repository.TradeLog = (*PostgresTradeLog)(nil)

func NewPostgresTradeLog(pool *postgres.Pool) *PostgresTradeLog {
	return &PostgresTradeLog{pool: pool}
}

const tradeColumns = `id, order_id, asset, side, price, quantity, notional, entry_price, pnl,
	reason, signal_ref, idempotency_key, executed_at`

// Append inserts a trade once per order id. A repeated order id keeps the first record
// and returns ErrDuplicateKey.
func (s *PostgresTradeLog) Append(ctx context.Context, t *models.TradeRecord) error {
	if t == nil || t.OrderID == "" || t.ID == "" {
		return repository.ErrInvalidInput
	}
	query := `INSERT INTO trade_records (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		t.ID, t.OrderID, t.Asset, string(t.Side), t.Price, t.Quantity, t.Notional, t.EntryPrice, t.PnL,
		t.Reason, t.SignalRef, t.IdempotencyKey, t.ExecutedAt,
	)
	if err != nil {
		if postgres.IsDuplicateKey(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrDuplicateKey
	}
	return nil
}

func (s *PostgresTradeLog) ByOrderID(ctx context.Context, orderID string) (*models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_records WHERE order_id = $1`

	var t models.TradeRecord
	var side string
	err := s.pool.QueryRow(ctx, query, orderID).Scan(
		&t.ID, &t.OrderID, &t.Asset, &side, &t.Price, &t.Quantity, &t.Notional, &t.EntryPrice, &t.PnL,
		&t.Reason, &t.SignalRef, &t.IdempotencyKey, &t.ExecutedAt,
	)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record: %w", err)
	}
	t.Side = models.Side(side)
	return &t, nil
}

// ClosedTrades filters SELL records in the query so the limit counts closed trades only.
func (s *PostgresTradeLog) ClosedTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trade_records
		WHERE side = $1
		ORDER BY executed_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, string(models.SideSell), limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var t models.TradeRecord
		var side string
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.Asset, &side, &t.Price, &t.Quantity, &t.Notional, &t.EntryPrice, &t.PnL,
			&t.Reason, &t.SignalRef, &t.IdempotencyKey, &t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}
		t.Side = models.Side(side)
		out = append(out, t)
	}
	return out, rows.Err()
}
