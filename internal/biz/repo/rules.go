package repo

import (
	"context"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
)

// RuleSource yields the raw rule document from its declarative backing
// (a YAML file in practice). Parsing errors surface here; validation
// and compilation happen in the rule store.
type RuleSource interface {
	Load(ctx context.Context) (*domain.RuleDocument, error)
}
