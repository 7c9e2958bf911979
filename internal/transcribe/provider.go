package transcribe

import "context"

// Provider is the interface to a speech-to-text backend. It returns raw
// text; attempt policy and failure shaping live in the Adapter.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts Opts) (string, error)
}

// Opts are per-attempt options for a transcription request.
type Opts struct {
	Model       string
	Temperature float32
	Language    string
}

// Result is the uniform outcome the pipeline consumes. All failure subtypes
// (missing file, oversize, provider errors) collapse into one message;
// callers log or display it but never branch on it.
type Result struct {
	Success         bool
	Text            string
	Err             string
	Language        string
	ConfidenceScore float64
}
