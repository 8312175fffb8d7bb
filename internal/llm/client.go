// Package llm wraps the language-model backend behind a single call.
package llm

import (
	"context"
	"fmt"

	"github.com/frankchat/tokengate/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// persona is the fixed system directive prepended to every conversation.
const persona = "You are an AI assistant named Frank."

type Client struct {
	api   *openai.Client
	model string
}

func New(apiKey, model string) *Client {
	return &Client{
		api:   openai.NewClient(apiKey),
		model: model,
	}
}

// Complete forwards the conversation, persona first, and returns the single
// completion text.
func (c *Client) Complete(ctx context.Context, msgs []models.ChatMessage) (string, error) {
	chat := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	chat = append(chat, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: persona,
	})
	for _, m := range msgs {
		chat = append(chat, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: chat,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
