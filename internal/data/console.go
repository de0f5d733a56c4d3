package data

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
)

// consoleSender is a ChannelSender that prints outgoing text and
// optionally appends it to an outbox file. Used as the default channel
// in development and as a cheap notification channel.
type consoleSender struct {
	outboxPath string
	mu         sync.Mutex
}

// NewConsoleSender creates a console sender. outboxPath may be empty
// to print only.
func NewConsoleSender(outboxPath string) repo.ChannelSender {
	return &consoleSender{outboxPath: outboxPath}
}

func (c *consoleSender) Send(_ context.Context, target, text string) error {
	fmt.Printf("[Send] %s <- %s\n", target, text)

	if c.outboxPath == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := os.OpenFile(c.outboxPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\t%s\t%s\n", time.Now().Format(time.RFC3339), target, text)
	return err
}
