package usecase

import (
	"fmt"
	"time"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
)

// RuleError is a per-rule evaluation failure. The failing rule is
// excluded from the match set; matching continues for the rest.
type RuleError struct {
	RuleName string
	Err      error
}

// MatchResult is the outcome of evaluating one message against the
// active rule set.
type MatchResult struct {
	// Rules are all enabled matching rules, in priority order.
	// All-matching: callers wanting first-match-wins apply that
	// policy themselves.
	Rules []*domain.RuleDefinition

	// Errors holds per-rule evaluation failures.
	Errors []RuleError

	// Blocked is set when the sender was rejected by the blacklist or
	// the whitelist. No rules were evaluated and the default reply
	// must not run.
	Blocked bool
}

// RuleEngine evaluates messages against the rule store.
type RuleEngine struct {
	store *RuleStore
}

// NewRuleEngine creates an engine over the given store.
func NewRuleEngine(store *RuleStore) *RuleEngine {
	return &RuleEngine{store: store}
}

// Match returns every enabled rule whose condition holds for msg at
// now, in stored priority order. A condition failure for one rule never
// aborts evaluation of the remaining rules.
func (e *RuleEngine) Match(msg *domain.Message, now time.Time) MatchResult {
	set := e.store.Rules()

	if _, banned := set.Blacklist[msg.Sender]; banned {
		fmt.Printf("[Engine] Sender %q is blacklisted, skipping\n", msg.Sender)
		return MatchResult{Blocked: true}
	}
	if len(set.Whitelist) > 0 {
		if _, ok := set.Whitelist[msg.Sender]; !ok {
			fmt.Printf("[Engine] Sender %q not on whitelist, skipping\n", msg.Sender)
			return MatchResult{Blocked: true}
		}
	}

	var result MatchResult
	for _, rule := range set.Rules {
		if !rule.Enabled {
			continue
		}
		ok, err := rule.Condition.Matches(msg, now)
		if err != nil {
			result.Errors = append(result.Errors, RuleError{
				RuleName: rule.Name,
				Err:      fmt.Errorf("%w: %v", domain.ErrConditionEvaluation, err),
			})
			continue
		}
		if ok {
			result.Rules = append(result.Rules, rule)
		}
	}
	return result
}

// Fallback returns the catch-all rule to run when nothing matched, or
// nil when no default reply is configured.
func (e *RuleEngine) Fallback() *domain.RuleDefinition {
	return e.store.Rules().DefaultRule
}
