package transcribe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Attempt is one model configuration in the bounded attempt policy.
type Attempt struct {
	Model       string
	Temperature float32
}

// Config is the adapter's immutable configuration, fixed at construction.
type Config struct {
	Primary  Attempt
	Fallback Attempt
	Language string
	MaxBytes int64
	Timeout  time.Duration
}

// Adapter wraps a Provider with the two-attempt policy: one primary model
// configuration and exactly one fallback. No open-ended retry.
type Adapter struct {
	provider Provider
	cfg      Config
	log      zerolog.Logger
}

// NewAdapter creates a transcription adapter.
func NewAdapter(provider Provider, cfg Config, log zerolog.Logger) *Adapter {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Adapter{
		provider: provider,
		cfg:      cfg,
		log:      log.With().Str("component", "transcribe").Logger(),
	}
}

// Transcribe runs the bounded attempt policy against one audio file.
// MaxBytes is the provider's limit, which can be tighter than the upload cap.
func (a *Adapter) Transcribe(ctx context.Context, audioPath string) Result {
	info, err := os.Stat(audioPath)
	if err != nil {
		return failure(fmt.Sprintf("audio file not found: %s", audioPath))
	}
	if info.Size() > a.cfg.MaxBytes {
		return failure(fmt.Sprintf("file too large for transcription (max %d bytes, got %d)",
			a.cfg.MaxBytes, info.Size()))
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	text, err := a.attempt(ctx, audioPath, a.cfg.Primary)
	if err == nil {
		return success(text, a.cfg.Language, 0.95)
	}
	a.log.Warn().Err(err).Str("model", a.cfg.Primary.Model).Msg("primary transcription failed, trying fallback")

	text, fbErr := a.attempt(ctx, audioPath, a.cfg.Fallback)
	if fbErr == nil {
		return success(text, a.cfg.Language, 0.8)
	}
	a.log.Error().Err(fbErr).Str("model", a.cfg.Fallback.Model).Msg("fallback transcription failed")

	return failure(fmt.Sprintf("fallback transcription failed: %v", fbErr))
}

func (a *Adapter) attempt(ctx context.Context, audioPath string, at Attempt) (string, error) {
	return a.provider.Transcribe(ctx, audioPath, Opts{
		Model:       at.Model,
		Temperature: at.Temperature,
		Language:    a.cfg.Language,
	})
}

func success(text, language string, confidence float64) Result {
	return Result{
		Success:         true,
		Text:            strings.TrimSpace(text),
		Language:        language,
		ConfidenceScore: confidence,
	}
}

func failure(msg string) Result {
	return Result{Success: false, Err: msg}
}
