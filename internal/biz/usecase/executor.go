package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/domain"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
)

// fallbackReply is sent when an auto-reply rule resolves to nothing.
const fallbackReply = "收到您的消息"

// ActionExecutor executes a rule's action against a message. Senders
// are registered by channel name; a message's reply goes out through
// the sender registered under its platform.
type ActionExecutor struct {
	senders map[string]repo.ChannelSender
	ai      repo.AIComplete
}

// NewActionExecutor creates an executor. ai may be nil when no AI
// collaborator is configured.
func NewActionExecutor(senders map[string]repo.ChannelSender, ai repo.AIComplete) *ActionExecutor {
	if senders == nil {
		senders = map[string]repo.ChannelSender{}
	}
	return &ActionExecutor{senders: senders, ai: ai}
}

// Execute runs one action against one message. The returned error
// carries the class: domain.ErrConfiguration failures are not retry
// candidates, domain.ErrActionExecution failures are.
func (x *ActionExecutor) Execute(ctx context.Context, action *domain.Action, msg *domain.Message) (domain.Outcome, error) {
	switch action.Type {
	case domain.ActionAutoReply:
		return x.autoReply(ctx, action.AutoReply, msg)
	case domain.ActionForward:
		return x.forward(ctx, action.Forward, msg)
	case domain.ActionNotify:
		return x.notify(ctx, action.Notify, msg)
	default:
		return domain.Outcome{}, fmt.Errorf("%w: unknown action type %q", domain.ErrConfiguration, action.Type)
	}
}

func (x *ActionExecutor) autoReply(ctx context.Context, a *domain.AutoReplyAction, msg *domain.Message) (domain.Outcome, error) {
	text, err := x.resolveReply(ctx, a, msg)
	if err != nil {
		return domain.Outcome{}, err
	}

	sender, ok := x.senders[msg.Platform]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: no sender registered for platform %q", domain.ErrConfiguration, msg.Platform)
	}
	if err := sender.Send(ctx, msg.Sender, text); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: reply to %s: %v", domain.ErrActionExecution, msg.Sender, err)
	}

	fmt.Printf("[Executor] Replied to %s: %s\n", msg.Sender, domain.TruncateContent(text))
	return domain.Outcome{Success: true, Detail: "replied: " + text}, nil
}

// resolveReply picks the reply text by priority: literal message,
// template, AI completion, fixed fallback.
func (x *ActionExecutor) resolveReply(ctx context.Context, a *domain.AutoReplyAction, msg *domain.Message) (string, error) {
	if a.Message != "" {
		return a.Message, nil
	}
	if a.Template != "" {
		return RenderTemplate(a.Template, msg)
	}
	if a.UseAI {
		if x.ai == nil {
			return "", fmt.Errorf("%w: rule uses AI but no AI collaborator is configured", domain.ErrConfiguration)
		}
		text, err := x.ai.Complete(ctx, a.AIPrompt, msg.Content)
		if err != nil {
			return "", fmt.Errorf("%w: AI completion: %v", domain.ErrActionExecution, err)
		}
		return text, nil
	}
	return fallbackReply, nil
}

func (x *ActionExecutor) forward(ctx context.Context, a *domain.ForwardAction, msg *domain.Message) (domain.Outcome, error) {
	// Validated at load time too; a missing target here is a
	// configuration error, not a retry candidate.
	if a.Target == "" {
		return domain.Outcome{}, fmt.Errorf("%w: forward action has no target", domain.ErrConfiguration)
	}

	text := msg.Content
	if a.Template != "" {
		rendered, err := RenderTemplate(a.Template, msg)
		if err != nil {
			return domain.Outcome{}, err
		}
		text = rendered
	}

	sender, ok := x.senders[msg.Platform]
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: no sender registered for platform %q", domain.ErrConfiguration, msg.Platform)
	}
	if err := sender.Send(ctx, a.Target, text); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: forward to %s: %v", domain.ErrActionExecution, a.Target, err)
	}

	fmt.Printf("[Executor] Forwarded message from %s to %s\n", msg.Sender, a.Target)
	return domain.Outcome{Success: true, Detail: "forwarded to " + a.Target}, nil
}

// notify fans out to every configured channel. Best-effort: one channel
// failing does not stop the others, and the outcome succeeds iff at
// least one channel succeeded.
func (x *ActionExecutor) notify(ctx context.Context, a *domain.NotifyAction, msg *domain.Message) (domain.Outcome, error) {
	if len(a.Channels) == 0 {
		return domain.Outcome{}, fmt.Errorf("%w: notify action has no channels", domain.ErrConfiguration)
	}

	text := fmt.Sprintf("[%s] %s: %s", msg.Platform, msg.Sender, msg.Content)
	var delivered, failed []string
	for _, name := range a.Channels {
		ch, ok := x.senders[name]
		if !ok {
			fmt.Printf("[Executor] Notify channel %q not registered\n", name)
			failed = append(failed, name)
			continue
		}
		if err := ch.Send(ctx, name, text); err != nil {
			fmt.Printf("[Executor] Notify via %q failed: %v\n", name, err)
			failed = append(failed, name)
			continue
		}
		delivered = append(delivered, name)
	}

	if len(delivered) == 0 {
		return domain.Outcome{}, fmt.Errorf("%w: all notify channels failed: %s",
			domain.ErrActionExecution, strings.Join(failed, ", "))
	}
	return domain.Outcome{Success: true, Detail: "notified " + strings.Join(delivered, ", ")}, nil
}

var placeholderRe = regexp.MustCompile(`\{([a-z]+)\}`)

// RenderTemplate substitutes {platform} {sender} {receiver} {content}
// {type} with the message's fields. An unresolved placeholder is a
// template error, never silently blanked.
func RenderTemplate(tpl string, msg *domain.Message) (string, error) {
	fields := map[string]string{
		"platform": msg.Platform,
		"sender":   msg.Sender,
		"receiver": msg.Receiver,
		"content":  msg.Content,
		"type":     string(msg.Type),
	}

	var unresolved []string
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := fields[name]
		if !ok {
			unresolved = append(unresolved, name)
			return m
		}
		return v
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("%w: unresolved template placeholders: %s",
			domain.ErrConfiguration, strings.Join(unresolved, ", "))
	}
	return out, nil
}
