package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ActionType identifies the action variant of a rule.
type ActionType string

const (
	ActionAutoReply ActionType = "auto_reply"
	ActionForward   ActionType = "forward"
	ActionNotify    ActionType = "notify"
)

// RuleDefinition is one named, prioritized pairing of a condition and
// an action. Definitions are immutable after load; the whole set is
// replaced atomically on reload.
type RuleDefinition struct {
	Name        string
	Description string
	Priority    int
	Enabled     bool
	Condition   Condition
	Action      Action
}

// Condition is a conjunction of optional clauses. Absent clauses are
// vacuously true; all present clauses must hold.
type Condition struct {
	Platform        string
	SenderPattern   *regexp.Regexp
	ContentContains string
	ContentRegex    *regexp.Regexp
	TimeRange       *TimeRange
}

// Empty reports whether no clause is present.
func (c *Condition) Empty() bool {
	return c.Platform == "" &&
		c.SenderPattern == nil &&
		c.ContentContains == "" &&
		c.ContentRegex == nil &&
		c.TimeRange == nil
}

// Matches evaluates the condition against a message at the given time.
// Regex clauses are case-sensitive; operators opt into folding with (?i).
func (c *Condition) Matches(msg *Message, now time.Time) (bool, error) {
	if c.Platform != "" && msg.Platform != c.Platform {
		return false, nil
	}
	if c.SenderPattern != nil && !c.SenderPattern.MatchString(msg.Sender) {
		return false, nil
	}
	if c.ContentContains != "" && !strings.Contains(msg.Content, c.ContentContains) {
		return false, nil
	}
	if c.ContentRegex != nil && !c.ContentRegex.MatchString(msg.Content) {
		return false, nil
	}
	if c.TimeRange != nil {
		ok, err := c.TimeRange.Contains(now)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Action is a tagged variant; exactly one branch is set per rule.
type Action struct {
	Type      ActionType
	AutoReply *AutoReplyAction
	Forward   *ForwardAction
	Notify    *NotifyAction
}

// AutoReplyAction replies to the message sender. Reply text resolves
// by priority: Message literal, Template, AI completion, fixed fallback.
type AutoReplyAction struct {
	Message  string
	Template string
	UseAI    bool
	AIPrompt string
}

// ForwardAction relays the message to another target on the same platform.
type ForwardAction struct {
	Target   string
	Template string
}

// NotifyAction fans the message out to configured notification channels.
type NotifyAction struct {
	Channels []string
}

// TimeRange is a time-of-day window, in minutes since midnight.
// Start > End means the range wraps past midnight (e.g. 22:00-06:00).
type TimeRange struct {
	Start int
	End   int
}

const minutesPerDay = 24 * 60

// ParseTimeRange parses "HH:MM-HH:MM".
func ParseTimeRange(s string) (*TimeRange, error) {
	var sh, sm, eh, em int
	if _, err := fmt.Sscanf(s, "%d:%d-%d:%d", &sh, &sm, &eh, &em); err != nil {
		return nil, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	if sh < 0 || sh > 23 || eh < 0 || eh > 23 || sm < 0 || sm > 59 || em < 0 || em > 59 {
		return nil, fmt.Errorf("invalid time range %q: out of bounds", s)
	}
	return &TimeRange{Start: sh*60 + sm, End: eh*60 + em}, nil
}

// Contains reports whether t's time of day falls inside the range.
// Boundaries are inclusive.
func (r *TimeRange) Contains(t time.Time) (bool, error) {
	if r.Start < 0 || r.Start >= minutesPerDay || r.End < 0 || r.End >= minutesPerDay {
		return false, fmt.Errorf("time range out of bounds: %d-%d", r.Start, r.End)
	}
	cur := t.Hour()*60 + t.Minute()
	if r.Start <= r.End {
		return r.Start <= cur && cur <= r.End, nil
	}
	// Wraps past midnight.
	return cur >= r.Start || cur <= r.End, nil
}

func (r *TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}
