package data

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
)

// Rule file YAML shapes. Two layouts are accepted: a bare list of
// rules, or a document with top-level rules/default_reply/blacklist/
// whitelist keys.

type ruleDocumentYAML struct {
	Rules        []ruleYAML        `yaml:"rules"`
	DefaultReply *defaultReplyYAML `yaml:"default_reply"`
	Blacklist    []string          `yaml:"blacklist"`
	Whitelist    []string          `yaml:"whitelist"`
}

type ruleYAML struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Priority    int           `yaml:"priority"`
	Enabled     *bool         `yaml:"enabled"`
	If          conditionYAML `yaml:"if"`
	Then        actionYAML    `yaml:"then"`
}

type conditionYAML struct {
	Platform        string `yaml:"platform"`
	Sender          string `yaml:"sender"`
	ContentContains string `yaml:"content_contains"`
	ContentRegex    string `yaml:"content_regex"`
	TimeRange       string `yaml:"time_range"`
}

type actionYAML struct {
	Action         string   `yaml:"action"`
	Message        string   `yaml:"message"`
	Template       string   `yaml:"message_template"`
	UseAI          bool     `yaml:"use_ai"`
	AIPrompt       string   `yaml:"ai_prompt"`
	Target         string   `yaml:"target"`
	NotifyChannels []string `yaml:"notify_channels"`
}

type defaultReplyYAML struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`
}

// ruleFileSource loads rules from one YAML file.
type ruleFileSource struct {
	path string
}

// NewRuleFileSource creates a rule source over a YAML file.
func NewRuleFileSource(path string) repo.RuleSource {
	return &ruleFileSource{path: path}
}

func (s *ruleFileSource) Load(_ context.Context) (*domain.RuleDocument, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	var doc ruleDocumentYAML
	// Bare list form first, then document form.
	var list []ruleYAML
	if err := yaml.Unmarshal(raw, &list); err == nil {
		doc.Rules = list
	} else if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", s.path, err)
	}

	out := &domain.RuleDocument{
		Blacklist: doc.Blacklist,
		Whitelist: doc.Whitelist,
	}
	if doc.DefaultReply != nil {
		out.DefaultReply = &domain.DefaultReplySpec{
			Enabled: doc.DefaultReply.Enabled,
			Message: doc.DefaultReply.Message,
		}
	}
	for _, r := range doc.Rules {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		out.Rules = append(out.Rules, domain.RuleSpec{
			Name:        r.Name,
			Description: r.Description,
			Priority:    r.Priority,
			Enabled:     enabled,
			If: domain.ConditionSpec{
				Platform:        r.If.Platform,
				Sender:          r.If.Sender,
				ContentContains: r.If.ContentContains,
				ContentRegex:    r.If.ContentRegex,
				TimeRange:       r.If.TimeRange,
			},
			Then: domain.ActionSpec{
				Action:         r.Then.Action,
				Message:        r.Then.Message,
				Template:       r.Then.Template,
				UseAI:          r.Then.UseAI,
				AIPrompt:       r.Then.AIPrompt,
				Target:         r.Then.Target,
				NotifyChannels: r.Then.NotifyChannels,
			},
		})
	}
	return out, nil
}
