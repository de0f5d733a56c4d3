package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultSystemPrompt = "You are an auto-reply assistant. Write a short, polite reply to the incoming message. Answer in the language of the message."

// Client generates reply text through an OpenAI-compatible API.
// Implements the AIComplete collaborator interface.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates a client. baseURL may be empty for the OpenAI
// default, which also allows pointing at compatible providers.
func NewClient(apiKey, baseURL, model string) *Client {
	if model == "" {
		model = "gpt-4-turbo-preview"
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Complete generates reply text for the inbound message content.
// prompt is the rule's ai_prompt; empty falls back to a generic
// auto-reply instruction.
func (c *Client) Complete(ctx context.Context, prompt, input string) (string, error) {
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return resp.Choices[0].Message.Content, nil
}
