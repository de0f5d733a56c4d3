package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"
	"time"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
)

// DefaultRuleName is the pseudo-rule name under which the optional
// catch-all reply is recorded.
const DefaultRuleName = "default"

// RuleSet is one immutable, priority-sorted snapshot of the rules plus
// the global sender filters. Readers always see a complete set.
type RuleSet struct {
	Rules       []*domain.RuleDefinition
	DefaultRule *domain.RuleDefinition
	Blacklist   map[string]struct{}
	Whitelist   map[string]struct{}
	LoadedAt    time.Time
}

// RuleStore loads, validates and priority-sorts rule definitions, and
// swaps the active set atomically so in-flight match operations always
// complete against a single consistent snapshot.
type RuleStore struct {
	source  repo.RuleSource
	current atomic.Pointer[RuleSet]
}

// NewRuleStore creates a store backed by the given source. Call Load
// before handing the store to the engine.
func NewRuleStore(source repo.RuleSource) *RuleStore {
	s := &RuleStore{source: source}
	s.current.Store(&RuleSet{})
	return s
}

// Rules returns the current snapshot.
func (s *RuleStore) Rules() *RuleSet {
	return s.current.Load()
}

// Load parses and validates the rule source and publishes the new set.
// Any validation failure leaves the active set untouched.
func (s *RuleStore) Load(ctx context.Context) error {
	doc, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	set, err := compileDocument(doc)
	if err != nil {
		return err
	}

	s.current.Store(set)
	fmt.Printf("[Rules] Loaded %d rules\n", len(set.Rules))
	return nil
}

// Reload re-runs Load. A malformed rule file must not partially apply
// and must not disable already-loaded rules; Load already guarantees
// that, so Reload only adds the log line.
func (s *RuleStore) Reload(ctx context.Context) error {
	fmt.Println("[Rules] Reloading rules...")
	if err := s.Load(ctx); err != nil {
		fmt.Printf("[Rules] Reload rejected, previous set stays active: %v\n", err)
		return err
	}
	return nil
}

func compileDocument(doc *domain.RuleDocument) (*RuleSet, error) {
	rules := make([]*domain.RuleDefinition, 0, len(doc.Rules))
	seen := make(map[string]struct{}, len(doc.Rules))

	for i := range doc.Rules {
		spec := &doc.Rules[i]
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", domain.ErrConfiguration, i)
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule name %q", domain.ErrConfiguration, spec.Name)
		}
		seen[spec.Name] = struct{}{}

		rule, err := compileRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	// Priority descending; stable sort keeps load order on ties.
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	set := &RuleSet{
		Rules:     rules,
		Blacklist: toSet(doc.Blacklist),
		Whitelist: toSet(doc.Whitelist),
		LoadedAt:  time.Now(),
	}
	if doc.DefaultReply != nil && doc.DefaultReply.Enabled {
		set.DefaultRule = &domain.RuleDefinition{
			Name:        DefaultRuleName,
			Description: "catch-all reply when no rule matches",
			Enabled:     true,
			Action: domain.Action{
				Type:      domain.ActionAutoReply,
				AutoReply: &domain.AutoReplyAction{Message: doc.DefaultReply.Message},
			},
		}
	}
	return set, nil
}

func compileRule(spec *domain.RuleSpec) (*domain.RuleDefinition, error) {
	if spec.If.Empty() && spec.Then.Empty() {
		return nil, fmt.Errorf("%w: rule %q has no condition clauses and no action", domain.ErrConfiguration, spec.Name)
	}

	cond, err := compileCondition(&spec.If)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %q: %v", domain.ErrConfiguration, spec.Name, err)
	}

	action, err := compileAction(&spec.Then)
	if err != nil {
		return nil, fmt.Errorf("%w: rule %q: %v", domain.ErrConfiguration, spec.Name, err)
	}

	return &domain.RuleDefinition{
		Name:        spec.Name,
		Description: spec.Description,
		Priority:    spec.Priority,
		Enabled:     spec.Enabled,
		Condition:   *cond,
		Action:      *action,
	}, nil
}

func compileCondition(spec *domain.ConditionSpec) (*domain.Condition, error) {
	cond := &domain.Condition{
		Platform:        spec.Platform,
		ContentContains: spec.ContentContains,
	}
	if spec.Sender != "" {
		re, err := regexp.Compile(spec.Sender)
		if err != nil {
			return nil, fmt.Errorf("invalid sender pattern: %v", err)
		}
		cond.SenderPattern = re
	}
	if spec.ContentRegex != "" {
		re, err := regexp.Compile(spec.ContentRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid content regex: %v", err)
		}
		cond.ContentRegex = re
	}
	if spec.TimeRange != "" {
		tr, err := domain.ParseTimeRange(spec.TimeRange)
		if err != nil {
			return nil, err
		}
		cond.TimeRange = tr
	}
	return cond, nil
}

func compileAction(spec *domain.ActionSpec) (*domain.Action, error) {
	switch domain.ActionType(spec.Action) {
	case domain.ActionAutoReply:
		return &domain.Action{
			Type: domain.ActionAutoReply,
			AutoReply: &domain.AutoReplyAction{
				Message:  spec.Message,
				Template: spec.Template,
				UseAI:    spec.UseAI,
				AIPrompt: spec.AIPrompt,
			},
		}, nil
	case domain.ActionForward:
		if spec.Target == "" {
			return nil, fmt.Errorf("forward action requires a target")
		}
		return &domain.Action{
			Type:    domain.ActionForward,
			Forward: &domain.ForwardAction{Target: spec.Target, Template: spec.Template},
		}, nil
	case domain.ActionNotify:
		return &domain.Action{
			Type:   domain.ActionNotify,
			Notify: &domain.NotifyAction{Channels: spec.NotifyChannels},
		}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", spec.Action)
	}
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
