package repo

import (
	"context"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
)

// PersistenceSink stores execution records and per-rule statistics.
// Writes are best-effort from the pipeline's point of view: a sink
// failure is logged but never fails an evaluation.
type PersistenceSink interface {
	// AppendRecord stores one execution record.
	AppendRecord(ctx context.Context, rec *domain.ExecutionRecord) error

	// UpsertStats bumps the trigger counter and one of the
	// success/failure counters for a rule.
	UpsertStats(ctx context.Context, ruleName string, success bool) error

	// LoadStats returns the persisted per-rule rollups, used to warm
	// the in-memory statistics at startup.
	LoadStats(ctx context.Context) (map[string]domain.RuleStats, error)

	// Close releases the sink.
	Close() error
}
