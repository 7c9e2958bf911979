package analyze

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Analysis is the structured insight extracted from a transcript. Summary is
// always non-empty, even on total failure.
type Analysis struct {
	Topic           string
	Sentiment       string
	Language        string
	ActionItems     []string
	Summary         string
	ConfidenceScore float64
	Success         bool
	Err             string
}

// ChatRequest is one chat completion call.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// ChatProvider is the interface to a hosted chat completion backend.
type ChatProvider interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

const systemPrompt = "You are an expert text analyst. Respond ONLY with a valid JSON object containing insights."

// builtinFallbacks are appended after the configured model, so a bad model
// name in the environment degrades instead of breaking analysis outright.
var builtinFallbacks = []string{
	"llama-3.1-8b-instant",
	"llama-3.1-70b-versatile",
}

// Analyzer runs transcript analysis across an ordered model list, taking the
// first model that yields parseable JSON.
type Analyzer struct {
	provider ChatProvider
	models   []string
	log      zerolog.Logger
}

// NewAnalyzer creates an analyzer. The configured model is tried first,
// followed by the built-in fallbacks, with duplicates removed.
func NewAnalyzer(provider ChatProvider, model string, log zerolog.Logger) *Analyzer {
	models := make([]string, 0, 1+len(builtinFallbacks))
	seen := make(map[string]bool)
	for _, m := range append([]string{model}, builtinFallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return &Analyzer{
		provider: provider,
		models:   models,
		log:      log.With().Str("component", "analyze").Logger(),
	}
}

// Models returns the resolved model order. Useful for startup logging.
func (a *Analyzer) Models() []string {
	out := make([]string, len(a.models))
	copy(out, a.models)
	return out
}

// Analyze extracts insights from transcript text. Each model gets one
// attempt; a transport error or unparseable response moves on to the next.
// When every model fails the result carries the fixed failure payload and
// the diagnostic from the last attempt.
func (a *Analyzer) Analyze(ctx context.Context, text string) Analysis {
	prompt := buildPrompt(text)
	var lastErr string

	for _, model := range a.models {
		raw, err := a.provider.Complete(ctx, ChatRequest{
			Model:       model,
			System:      systemPrompt,
			User:        prompt,
			Temperature: 0.2,
			MaxTokens:   800,
		})
		if err != nil {
			lastErr = fmt.Sprintf("model %s: %v", model, err)
			a.log.Warn().Err(err).Str("model", model).Msg("analysis request failed")
			continue
		}

		obj, ok := ExtractJSONObject(raw)
		if !ok {
			lastErr = fmt.Sprintf("model %s: no JSON object in response", model)
			a.log.Warn().Str("model", model).Msg("analysis response had no JSON object")
			continue
		}

		analysis, err := ApplyDefaults(obj)
		if err != nil {
			lastErr = fmt.Sprintf("model %s: malformed JSON: %v", model, err)
			a.log.Warn().Err(err).Str("model", model).Msg("analysis response was malformed JSON")
			continue
		}

		if analysis.Summary == noSummary {
			analysis.Summary = LocalSummary(text)
		}
		analysis.Success = true
		a.log.Debug().Str("model", model).Str("topic", analysis.Topic).Msg("analysis complete")
		return analysis
	}

	a.log.Error().Str("last_error", lastErr).Msg("all analysis models exhausted")
	return failedAnalysis(lastErr)
}

// failedAnalysis is the fixed payload for model exhaustion. The summary is
// still non-empty so downstream consumers never see a blank record.
func failedAnalysis(diag string) Analysis {
	if diag == "" {
		diag = "all model attempts failed"
	}
	return Analysis{
		Topic:           "Analysis failed",
		Sentiment:       "neutral",
		Language:        "en",
		ActionItems:     []string{},
		Summary:         "Analysis failed due to an error",
		ConfidenceScore: 0.0,
		Success:         false,
		Err:             diag,
	}
}

func buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("You are an expert text analyzer. Analyze the following text and provide insights in a strict JSON format.\n\n")
	b.WriteString("Text to analyze: \"")
	b.WriteString(text)
	b.WriteString("\"\n\n")
	b.WriteString(`Rules:
- Be concise but informative
- Identify key themes and subjects
- Extract actionable insights
- Keep the summary under 100 words
- If the text appears to be a test message, indicate that in the topic

Required JSON structure:
{
    "topic": "Main subject or theme of the text",
    "sentiment": "positive/negative/neutral",
    "language": "en/es/etc",
    "action_items": ["Action 1", "Action 2"],
    "summary": "Brief but meaningful summary",
    "confidence_score": 0.95
}

Respond ONLY with that JSON object.
`)
	return b.String()
}
