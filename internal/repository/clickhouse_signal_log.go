package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
)

// SignalLogSchema creates the signal and audit tables.
var SignalLogSchema = []string{
	`CREATE DATABASE IF NOT EXISTS {db}`,
	`CREATE TABLE IF NOT EXISTS {db}.signals (
		id             String,
		cycle_id       String,
		asset          LowCardinality(String),
		ts             DateTime64(3, 'UTC'),
		fused_score    Float64,
		buy_threshold  Float64,
		sell_threshold Float64,
		decision       LowCardinality(String),
		reason         String,
		weights        String,
		components     String,
		degraded       String
	) ENGINE = MergeTree ORDER BY (asset, ts)`,
	`CREATE TABLE IF NOT EXISTS {db}.decision_audit (
		cycle_id   String,
		asset      LowCardinality(String),
		stage      LowCardinality(String),
		decision   LowCardinality(String),
		reason     String,
		error_kind LowCardinality(String),
		detail     String,
		created_at DateTime64(3, 'UTC')
	) ENGINE = MergeTree ORDER BY (stage, asset, created_at)`,
	`CREATE TABLE IF NOT EXISTS {db}.signal_outcomes (
		signal_id         String,
		asset             LowCardinality(String),
		decision          LowCardinality(String),
		signal_ts         DateTime64(3, 'UTC'),
		horizon           LowCardinality(String),
		entry_price       Float64,
		exit_price        Float64,
		change_pct        Float64,
		max_favorable_pct Float64,
		max_adverse_pct   Float64,
		grade             LowCardinality(String),
		checked_at        DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(checked_at) ORDER BY (asset, signal_id, horizon)`,
}

const insertChunk = 1000

// ClickHouseSignalLog implements SignalLog, AuditLog and OutcomeLog on ClickHouse.
type ClickHouseSignalLog struct {
	db           *sql.DB
	signalTable  string
	auditTable   string
	outcomeTable string
}

var (
	_ repository.SignalLog  = (*ClickHouseSignalLog)(nil)
	_ repository.AuditLog   = (*ClickHouseSignalLog)(nil)
	_ repository.OutcomeLog = (*ClickHouseSignalLog)(nil)
)

func NewClickHouseSignalLog(db *sql.DB, database string) *ClickHouseSignalLog {
	return &ClickHouseSignalLog{
		db:           db,
		signalTable:  qualify(database, "signals"),
		auditTable:   qualify(database, "decision_audit"),
		outcomeTable: qualify(database, "signal_outcomes"),
	}
}

func (s *ClickHouseSignalLog) AppendSignals(ctx context.Context, signals []models.Signal) error {
	for start := 0; start < len(signals); start += insertChunk {
		end := start + insertChunk
		if end > len(signals) {
			end = len(signals)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*12)
		for _, sg := range signals[start:end] {
			weights, err := json.Marshal(sg.Weights)
			if err != nil {
				return fmt.Errorf("encode weights: %w", err)
			}
			components, err := json.Marshal(sg.Components)
			if err != nil {
				return fmt.Errorf("encode components: %w", err)
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				sg.ID, sg.CycleID, sg.Asset, sg.Timestamp.UTC(),
				sg.FusedScore, sg.BuyThreshold, sg.SellThreshold,
				string(sg.Decision), sg.Reason,
				string(weights), string(components), strings.Join(sg.Degraded, ","),
			)
		}
		q := fmt.Sprintf(`INSERT INTO %s (id, cycle_id, asset, ts, fused_score, buy_threshold, sell_threshold,
			decision, reason, weights, components, degraded) VALUES %s`, s.signalTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert signals: %w", err)
		}
	}
	return nil
}

// RecentSignals returns signals in [from, to], newest first. Empty asset matches all.
func (s *ClickHouseSignalLog) RecentSignals(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.Signal, error) {
	where := "ts >= ? AND ts <= ?"
	args := []interface{}{from.UTC(), to.UTC()}
	if asset != "" {
		where += " AND asset = ?"
		args = append(args, asset)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT id, cycle_id, asset, ts, fused_score, buy_threshold, sell_threshold,
		decision, reason, weights, components, degraded
		FROM %s WHERE %s ORDER BY ts DESC LIMIT ?`, s.signalTable, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var sg models.Signal
		var decision, weights, components, degraded string
		if err := rows.Scan(&sg.ID, &sg.CycleID, &sg.Asset, &sg.Timestamp, &sg.FusedScore,
			&sg.BuyThreshold, &sg.SellThreshold, &decision, &sg.Reason,
			&weights, &components, &degraded); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sg.Decision = models.Decision(decision)
		if err := json.Unmarshal([]byte(weights), &sg.Weights); err != nil {
			return nil, fmt.Errorf("decode weights: %w", err)
		}
		if err := json.Unmarshal([]byte(components), &sg.Components); err != nil {
			return nil, fmt.Errorf("decode components: %w", err)
		}
		if degraded != "" {
			sg.Degraded = strings.Split(degraded, ",")
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *ClickHouseSignalLog) AppendAudit(ctx context.Context, records []models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*8)
	for _, r := range records {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, r.CycleID, r.Asset, string(r.Stage), string(r.Decision),
			r.Reason, string(r.ErrorKind), r.Detail, r.CreatedAt.UTC())
	}
	q := fmt.Sprintf(`INSERT INTO %s (cycle_id, asset, stage, decision, reason, error_kind, detail, created_at) VALUES %s`,
		s.auditTable, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// RecentAudit returns audit records newest first. Empty asset or stage matches all.
func (s *ClickHouseSignalLog) RecentAudit(ctx context.Context, asset string, stage models.Stage, limit int) ([]models.AuditRecord, error) {
	var conds []string
	var args []interface{}
	if asset != "" {
		conds = append(conds, "asset = ?")
		args = append(args, asset)
	}
	if stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, string(stage))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT cycle_id, asset, stage, decision, reason, error_kind, detail, created_at
		FROM %s%s ORDER BY created_at DESC LIMIT ?`, s.auditTable, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var st, decision, kind string
		if err := rows.Scan(&r.CycleID, &r.Asset, &st, &decision, &r.Reason, &kind, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.Stage, r.Decision, r.ErrorKind = models.Stage(st), models.Decision(decision), models.ErrorKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendOutcomes inserts graded outcomes. A rewritten (signal, horizon) pair is collapsed
// to the latest check by the table engine.
func (s *ClickHouseSignalLog) AppendOutcomes(ctx context.Context, outcomes []models.SignalOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	values := make([]string, 0, len(outcomes))
	args := make([]interface{}, 0, len(outcomes)*12)
	for _, o := range outcomes {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, o.SignalID, o.Asset, string(o.Decision), o.SignalAt.UTC(), o.Horizon,
			o.EntryPrice, o.ExitPrice, o.ChangePct, o.MaxFavorablePct, o.MaxAdversePct,
			string(o.Grade), o.CheckedAt.UTC())
	}
	q := fmt.Sprintf(`INSERT INTO %s (signal_id, asset, decision, signal_ts, horizon, entry_price, exit_price,
		change_pct, max_favorable_pct, max_adverse_pct, grade, checked_at) VALUES %s`,
		s.outcomeTable, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert outcomes: %w", err)
	}
	return nil
}

func (s *ClickHouseSignalLog) RecentOutcomes(ctx context.Context, asset string, since time.Time) ([]models.SignalOutcome, error) {
	where := "signal_ts >= ?"
	args := []interface{}{since.UTC()}
	if asset != "" {
		where += " AND asset = ?"
		args = append(args, asset)
	}
	q := fmt.Sprintf(`SELECT signal_id, asset, decision, signal_ts, horizon, entry_price, exit_price,
		change_pct, max_favorable_pct, max_adverse_pct, grade, checked_at
		FROM %s FINAL WHERE %s ORDER BY signal_ts DESC, horizon`, s.outcomeTable, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.SignalOutcome
	for rows.Next() {
		var o models.SignalOutcome
		var decision, grade string
		if err := rows.Scan(&o.SignalID, &o.Asset, &decision, &o.SignalAt, &o.Horizon, &o.EntryPrice, &o.ExitPrice,
			&o.ChangePct, &o.MaxFavorablePct, &o.MaxAdversePct, &grade, &o.CheckedAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Decision, o.Grade = models.Decision(decision), models.Grade(grade)
		out = append(out, o)
	}
	return out, rows.Err()
}
