package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/insight-engine/internal/analyze"
	"github.com/snarg/insight-engine/internal/api"
	"github.com/snarg/insight-engine/internal/archive"
	"github.com/snarg/insight-engine/internal/config"
	"github.com/snarg/insight-engine/internal/database"
	"github.com/snarg/insight-engine/internal/intake"
	"github.com/snarg/insight-engine/internal/metrics"
	"github.com/snarg/insight-engine/internal/pipeline"
	"github.com/snarg/insight-engine/internal/transcribe"

	"github.com/prometheus/client_golang/prometheus"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "db", "", "database url (overrides DATABASE_URL)")
	flag.StringVar(&overrides.UploadDir, "upload-dir", "", "upload directory (overrides UPLOAD_DIR)")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("insight-engine starting")

	if !cfg.APIKeyConfigured() {
		log.Warn().Msg("GROQ_API_KEY not configured, uploads will be refused")
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema setup failed")
	}

	// Hosted speech-to-text and analysis clients
	transcriber := transcribe.NewAdapter(
		transcribe.NewGroqClient(cfg.GroqAPIKey, cfg.GroqBaseURL),
		transcribe.Config{
			Primary:  transcribe.Attempt{Model: cfg.TranscribeModel, Temperature: 0.2},
			Fallback: transcribe.Attempt{Model: cfg.TranscribeFallbackModel, Temperature: 0.0},
			Language: "en",
			MaxBytes: cfg.MaxTranscribeBytes,
			Timeout:  cfg.TranscribeTimeout,
		},
		log,
	)

	analyzer := analyze.NewAnalyzer(
		analyze.NewGroqChat(cfg.GroqAPIKey, cfg.GroqBaseURL),
		cfg.AnalysisModel,
		log,
	)
	log.Info().Strs("models", analyzer.Models()).Msg("analysis model order resolved")

	// Optional S3 archive
	var uploader *archive.Uploader
	if cfg.S3.Enabled() {
		store, err := archive.NewS3Store(cfg.S3, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create s3 archive")
		}
		headCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.HeadBucket(headCtx); err != nil {
			log.Warn().Err(err).Str("bucket", cfg.S3.Bucket).Msg("s3 bucket check failed, archiving may not work")
		}
		cancel()

		uploader = archive.NewUploader(store, cfg.PipelineQueueSize, log)
		uploader.Start(2)
		defer uploader.Stop()
	}

	// Processing pipeline
	gate := intake.NewGate(cfg.UploadDir, cfg.Extensions(), cfg.MaxUploadBytes)
	proc := pipeline.NewProcessor(pipeline.Options{
		Gate:        gate,
		Store:       db,
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Archiver:    archiverOrNil(uploader),
		Workers:     cfg.PipelineWorkers,
		QueueSize:   cfg.PipelineQueueSize,
		Log:         log,
	})
	proc.Start()
	defer proc.Stop()

	// Stale-record reconciler: crash recovery at startup, then periodic
	reconciler := pipeline.NewReconciler(db, cfg.StaleAfter, cfg.ReconcileInterval, log)
	reconciler.Start()
	defer reconciler.Stop()

	// Optional inbox directory watcher
	var watcher *intake.Watcher
	if cfg.InboxDir != "" {
		watcher = intake.NewWatcher(cfg.InboxDir, gate, proc, log)
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Str("inbox_dir", cfg.InboxDir).Msg("failed to start inbox watcher")
		}
		defer watcher.Stop()
	}

	// Scrape-time gauges
	prometheus.MustRegister(metrics.NewCollector(db.Pool, proc))

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config: cfg,
		Insights: api.NewInsightsHandler(
			proc, db, cfg.MaxUploadBytes, cfg.APIKeyConfigured(), log),
		Health: api.NewHealthHandler(
			db, proc, watcherOrNil(watcher), archiveOrNil(uploader),
			cfg.APIKeyConfigured(), version, startTime),
		Log: httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("insight-engine stopped")
}

// A nil *T stored in an interface is not a nil interface, so the optional
// components get converted explicitly.

func archiverOrNil(u *archive.Uploader) pipeline.Archiver {
	if u == nil {
		return nil
	}
	return u
}

func watcherOrNil(w *intake.Watcher) api.WatcherSource {
	if w == nil {
		return nil
	}
	return w
}

func archiveOrNil(u *archive.Uploader) api.ArchiveSource {
	if u == nil {
		return nil
	}
	return u
}
