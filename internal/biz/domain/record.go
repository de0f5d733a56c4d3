package domain

import (
	"time"
	"unicode/utf8"
)

// snapshotLimit bounds how much message content an ExecutionRecord keeps.
const snapshotLimit = 200

// ExecutionRecord is one append-only row describing a single
// (rule, message) evaluation. Created once, never mutated.
type ExecutionRecord struct {
	ID              string
	RuleName        string
	ContentSnapshot string
	Matched         bool
	Executed        bool
	Success         bool
	Result          string
	ErrorMessage    string
	At              time.Time
}

// RuleStats is the derived per-rule rollup. Counters are monotonic.
type RuleStats struct {
	TriggerCount    int64
	SuccessCount    int64
	FailureCount    int64
	LastTriggeredAt time.Time
}

// Outcome is the result of executing one action against one message.
type Outcome struct {
	Success bool
	Detail  string
}

// TruncateContent trims content to the snapshot limit, respecting
// rune boundaries.
func TruncateContent(s string) string {
	if utf8.RuneCountInString(s) <= snapshotLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:snapshotLimit])
}
