package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
)

// ExecutionLog records every match/execution attempt and rolls up
// per-rule statistics. Record creation and the stats increment happen
// under one lock, so there is never a record without its stats update.
// The sink is best-effort; its failures are logged and swallowed.
type ExecutionLog struct {
	sink repo.PersistenceSink

	mu    sync.Mutex
	stats map[string]*domain.RuleStats
	total int64
}

// NewExecutionLog creates a log over an optional persistence sink.
func NewExecutionLog(sink repo.PersistenceSink) *ExecutionLog {
	return &ExecutionLog{
		sink:  sink,
		stats: make(map[string]*domain.RuleStats),
	}
}

// Warm hydrates the in-memory rollups from the sink, so counters
// survive restarts.
func (l *ExecutionLog) Warm(ctx context.Context) error {
	if l.sink == nil {
		return nil
	}
	persisted, err := l.sink.LoadStats(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, st := range persisted {
		cp := st
		l.stats[name] = &cp
	}
	return nil
}

// Record appends one execution record and bumps the owning rule's
// counters atomically with respect to this evaluation.
func (l *ExecutionLog) Record(ctx context.Context, rec *domain.ExecutionRecord) {
	l.mu.Lock()
	st, ok := l.stats[rec.RuleName]
	if !ok {
		st = &domain.RuleStats{}
		l.stats[rec.RuleName] = st
	}
	if rec.Matched {
		st.TriggerCount++
		st.LastTriggeredAt = rec.At
	}
	if rec.Executed {
		if rec.Success {
			st.SuccessCount++
		} else {
			st.FailureCount++
		}
	}
	l.mu.Unlock()

	if l.sink == nil {
		return
	}
	if err := l.sink.AppendRecord(ctx, rec); err != nil {
		fmt.Printf("[Log] Failed to persist record for %s: %v\n", rec.RuleName, err)
	}
	if rec.Executed {
		if err := l.sink.UpsertStats(ctx, rec.RuleName, rec.Success); err != nil {
			fmt.Printf("[Log] Failed to persist stats for %s: %v\n", rec.RuleName, err)
		}
	}
}

// MessageSettled counts one detected message as fully processed
// (successfully or permanently failed).
func (l *ExecutionLog) MessageSettled() {
	l.mu.Lock()
	l.total++
	l.mu.Unlock()
}

// TotalProcessed returns how many detected messages have settled.
func (l *ExecutionLog) TotalProcessed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// StatsFor returns a copy of one rule's rollup.
func (l *ExecutionLog) StatsFor(ruleName string) (domain.RuleStats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.stats[ruleName]
	if !ok {
		return domain.RuleStats{}, false
	}
	return *st, true
}

// StatsSnapshot returns a copy of every rule's rollup.
func (l *ExecutionLog) StatsSnapshot() map[string]domain.RuleStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]domain.RuleStats, len(l.stats))
	for name, st := range l.stats {
		out[name] = *st
	}
	return out
}

// NewRecord builds a record with the snapshot truncation applied.
func NewRecord(ruleName string, msg *domain.Message) *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		ID:              uuid.NewString(),
		RuleName:        ruleName,
		ContentSnapshot: domain.TruncateContent(msg.Content),
		At:              time.Now(),
	}
}
