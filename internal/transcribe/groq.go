package transcribe

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// GroqClient calls the Groq audio transcription endpoint (OpenAI-compatible
// /v1/audio/transcriptions). Any OpenAI-compatible base URL works.
type GroqClient struct {
	client *openai.Client
}

// NewGroqClient creates a transcription client for the given credential and
// base URL.
func NewGroqClient(apiKey, baseURL string) *GroqClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &GroqClient{client: openai.NewClientWithConfig(cfg)}
}

// Transcribe sends the audio file and returns the transcribed text.
func (g *GroqClient) Transcribe(ctx context.Context, audioPath string, opts Opts) (string, error) {
	resp, err := g.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       opts.Model,
		FilePath:    audioPath,
		Language:    opts.Language,
		Temperature: opts.Temperature,
		Format:      openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	return resp.Text, nil
}
