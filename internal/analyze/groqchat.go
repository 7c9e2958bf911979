package analyze

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// GroqChat calls the Groq chat completion endpoint (OpenAI-compatible
// /v1/chat/completions).
type GroqChat struct {
	client *openai.Client
}

// NewGroqChat creates a chat client for the given credential and base URL.
func NewGroqChat(apiKey, baseURL string) *GroqChat {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &GroqChat{client: openai.NewClientWithConfig(cfg)}
}

// Complete sends one chat completion request and returns the raw message
// content of the first choice.
func (g *GroqChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
