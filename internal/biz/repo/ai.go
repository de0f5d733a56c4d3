package repo

import "context"

// AIComplete is the pluggable text-completion capability used by
// auto-reply rules with use_ai set. Calls are fallible external
// operations and are retried at the task level, not here.
type AIComplete interface {
	// Complete generates reply text. prompt is the rule's instruction,
	// input is the inbound message content.
	Complete(ctx context.Context, prompt, input string) (string, error)
}
