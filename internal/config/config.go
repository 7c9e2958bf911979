package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Groq (or any OpenAI-compatible) provider credentials. Transcription
	// and analysis both go through this endpoint.
	GroqAPIKey  string `env:"GROQ_API_KEY"`
	GroqBaseURL string `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`

	UploadDir          string `env:"UPLOAD_DIR" envDefault:"./uploads"`
	InboxDir           string `env:"INBOX_DIR"`
	MaxUploadBytes     int64  `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	MaxTranscribeBytes int64  `env:"MAX_TRANSCRIBE_BYTES" envDefault:"26214400"`
	AllowedExtensions  string `env:"ALLOWED_EXTENSIONS" envDefault:".wav,.mp3,.m4a"`

	TranscribeModel         string        `env:"TRANSCRIBE_MODEL" envDefault:"whisper-large-v3"`
	TranscribeFallbackModel string        `env:"TRANSCRIBE_FALLBACK_MODEL" envDefault:"whisper-large-v3-turbo"`
	TranscribeTimeout       time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"120s"`
	AnalysisModel           string        `env:"ANALYSIS_MODEL" envDefault:"llama-3.1-70b-versatile"`
	AnalysisTimeout         time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"60s"`

	PipelineWorkers   int           `env:"PIPELINE_WORKERS" envDefault:"4"`
	PipelineQueueSize int           `env:"PIPELINE_QUEUE_SIZE" envDefault:"64"`
	StaleAfter        time.Duration `env:"STALE_AFTER" envDefault:"30m"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ReadTimeout covers the whole request body, so it has to leave room
	// for a full-size audio upload on a slow link.
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"120s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	S3 S3Config `envPrefix:"S3_"`
}

// S3Config configures the optional audio archive. Archiving is disabled
// unless a bucket is set.
type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	UploadDir   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.UploadDir != "" {
		cfg.UploadDir = overrides.UploadDir
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxTranscribeBytes > c.MaxUploadBytes {
		return fmt.Errorf("MAX_TRANSCRIBE_BYTES (%d) must not exceed MAX_UPLOAD_BYTES (%d)",
			c.MaxTranscribeBytes, c.MaxUploadBytes)
	}
	if c.PipelineWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be >= 1, got %d", c.PipelineWorkers)
	}
	if c.PipelineQueueSize < 1 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must be >= 1, got %d", c.PipelineQueueSize)
	}
	return nil
}

// APIKeyConfigured reports whether the provider credential looks usable.
// Placeholder values from a copied .env template count as unconfigured.
func (c *Config) APIKeyConfigured() bool {
	key := strings.TrimSpace(c.GroqAPIKey)
	return key != "" && key != "your-groq-api-key-here"
}

// Extensions returns the allowed upload extensions, lowercased, with dots.
func (c *Config) Extensions() []string {
	var exts []string
	for _, e := range strings.Split(c.AllowedExtensions, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}
