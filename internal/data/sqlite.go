package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// persistenceSink stores execution records and rule stats in sqlite.
type persistenceSink struct {
	db *sql.DB
}

// NewPersistenceSink opens (or creates) the records database.
func NewPersistenceSink(dbPath string) (repo.PersistenceSink, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_records (
			id TEXT PRIMARY KEY,
			rule_name TEXT NOT NULL,
			content_snapshot TEXT NOT NULL DEFAULT '',
			matched INTEGER NOT NULL DEFAULT 0,
			executed INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_records_rule_name ON execution_records(rule_name)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS rule_stats (
			rule_name TEXT PRIMARY KEY,
			trigger_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_triggered_at INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats table: %w", err)
	}

	return &persistenceSink{db: db}, nil
}

// AppendRecord stores one execution record.
func (r *persistenceSink) AppendRecord(ctx context.Context, rec *domain.ExecutionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_records
			(id, rule_name, content_snapshot, matched, executed, success, result, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.RuleName,
		rec.ContentSnapshot,
		boolToInt(rec.Matched),
		boolToInt(rec.Executed),
		boolToInt(rec.Success),
		rec.Result,
		rec.ErrorMessage,
		rec.At.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// UpsertStats bumps trigger plus success or failure for a rule.
func (r *persistenceSink) UpsertStats(ctx context.Context, ruleName string, success bool) error {
	now := time.Now().Unix()
	successInc, failureInc := 0, 1
	if success {
		successInc, failureInc = 1, 0
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rule_stats (rule_name, trigger_count, success_count, failure_count, last_triggered_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(rule_name) DO UPDATE SET
			trigger_count = trigger_count + 1,
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			last_triggered_at = excluded.last_triggered_at
	`, ruleName, successInc, failureInc, now)
	if err != nil {
		return fmt.Errorf("failed to upsert stats: %w", err)
	}
	return nil
}

// LoadStats returns every persisted rollup.
func (r *persistenceSink) LoadStats(ctx context.Context) (map[string]domain.RuleStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rule_name, trigger_count, success_count, failure_count, last_triggered_at
		FROM rule_stats
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.RuleStats)
	for rows.Next() {
		var name string
		var st domain.RuleStats
		var lastTriggered int64
		if err := rows.Scan(&name, &st.TriggerCount, &st.SuccessCount, &st.FailureCount, &lastTriggered); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		if lastTriggered > 0 {
			st.LastTriggeredAt = time.Unix(lastTriggered, 0)
		}
		out[name] = st
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (r *persistenceSink) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
