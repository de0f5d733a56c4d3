package feishu

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// Client sends text messages to Feishu chats. It backs both the
// "feishu" notification channel and forwarding targets that are Feishu
// chat IDs. Implements the ChannelSender collaborator interface.
type Client struct {
	larkCli *lark.Client
	chatID  string
}

// NewClient creates a Feishu sender. chatID is the default chat used
// when a notify target is just the channel name rather than a chat ID.
func NewClient(appID, appSecret, chatID string) *Client {
	return &Client{
		larkCli: lark.NewClient(appID, appSecret),
		chatID:  chatID,
	}
}

// Send delivers text to the given chat. When target is the channel
// name "feishu" or empty, the configured default chat is used.
func (c *Client) Send(ctx context.Context, target, text string) error {
	chatID := target
	if chatID == "" || chatID == "feishu" {
		chatID = c.chatID
	}
	if chatID == "" {
		return fmt.Errorf("no feishu chat configured")
	}

	content := map[string]string{"text": text}
	contentJSON, _ := json.Marshal(content)

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}

	fmt.Printf("[Feishu] Message sent to %s\n", chatID)
	return nil
}
