package repo

import "context"

// ChannelSender delivers text to a target on one messaging platform or
// notification channel. The executor holds one sender per registered
// channel name; replies go out through the sender registered under the
// message's platform.
type ChannelSender interface {
	Send(ctx context.Context, target, text string) error
}
