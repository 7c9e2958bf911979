package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/snarg/insight-engine/internal/analyze"
	"github.com/snarg/insight-engine/internal/database"
	"github.com/snarg/insight-engine/internal/intake"
	"github.com/snarg/insight-engine/internal/metrics"
	"github.com/snarg/insight-engine/internal/transcribe"
)

// ErrQueueFull is returned by Submit when the processing queue has no room.
// The caller should surface backpressure (HTTP 503) rather than block.
var ErrQueueFull = errors.New("processing queue full")

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("processor stopped")

// fallbackSummary keeps the summary column non-empty on paths where no
// transcript text exists to summarize.
const fallbackSummary = "No summary available"

// Store is the persistence surface the processor needs.
type Store interface {
	CreateInsight(ctx context.Context, filename, filePath string) (*database.Insight, error)
	UpdateInsight(ctx context.Context, id string, upd database.InsightUpdate) (*database.Insight, error)
	DeleteInsight(ctx context.Context, id string) (bool, error)
}

// Transcriber converts one audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) transcribe.Result
}

// TextAnalyzer extracts structured insights from transcript text.
type TextAnalyzer interface {
	Analyze(ctx context.Context, text string) analyze.Analysis
}

// Archiver receives terminal-state audio files for long-term storage.
type Archiver interface {
	Enqueue(insightID, filePath string)
}

type job struct {
	insightID string
	filePath  string
}

// Processor owns the upload-to-insight flow: accept a file, persist a
// pending record, and run transcription plus analysis on a bounded worker
// pool. Every record it touches ends in a terminal state with a non-empty
// summary.
type Processor struct {
	gate        *intake.Gate
	store       Store
	transcriber Transcriber
	analyzer    TextAnalyzer
	archiver    Archiver // may be nil
	log         zerolog.Logger

	jobs    chan job
	workers int
	wg      sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	stopped  atomic.Bool
	stopOnce sync.Once

	completed atomic.Int64
	failed    atomic.Int64
}

type Options struct {
	Gate        *intake.Gate
	Store       Store
	Transcriber Transcriber
	Analyzer    TextAnalyzer
	Archiver    Archiver
	Workers     int
	QueueSize   int
	Log         zerolog.Logger
}

func NewProcessor(opts Options) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		gate:        opts.Gate,
		store:       opts.Store,
		transcriber: opts.Transcriber,
		analyzer:    opts.Analyzer,
		archiver:    opts.Archiver,
		log:         opts.Log.With().Str("component", "pipeline").Logger(),
		jobs:        make(chan job, opts.QueueSize),
		workers:     opts.Workers,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker pool.
func (p *Processor) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Info().Int("workers", p.workers).Int("queue_size", cap(p.jobs)).Msg("pipeline started")
}

// Stop refuses new submissions, drains the queue, and waits for in-flight
// jobs to reach a terminal state before returning.
func (p *Processor) Stop() {
	p.stopped.Store(true)
	p.stopOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
	p.cancel()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("pipeline stopped")
}

// Submit validates and stores an uploaded file, creates its pending record,
// and enqueues it for processing. On a full queue both the file and the
// record are rolled back so a retry starts clean.
func (p *Processor) Submit(ctx context.Context, filename string, r io.Reader) (*database.Insight, error) {
	if p.stopped.Load() {
		return nil, ErrStopped
	}

	path, err := p.gate.Save(filename, r)
	if err != nil {
		switch {
		case errors.Is(err, intake.ErrBadExtension):
			metrics.SubmissionsRejectedTotal.WithLabelValues("extension").Inc()
		case errors.Is(err, intake.ErrTooLarge):
			metrics.SubmissionsRejectedTotal.WithLabelValues("size").Inc()
		}
		return nil, err
	}

	in, err := p.store.CreateInsight(ctx, filename, path)
	if err != nil {
		p.gate.Remove(path)
		return nil, err
	}

	select {
	case p.jobs <- job{insightID: in.ID, filePath: path}:
	default:
		metrics.SubmissionsRejectedTotal.WithLabelValues("queue_full").Inc()
		if _, delErr := p.store.DeleteInsight(ctx, in.ID); delErr != nil {
			p.log.Error().Err(delErr).Str("insight_id", in.ID).Msg("rollback delete failed")
		}
		p.gate.Remove(path)
		return nil, ErrQueueFull
	}

	p.log.Info().
		Str("insight_id", in.ID).
		Str("filename", filename).
		Int("queue_depth", len(p.jobs)).
		Msg("file accepted")
	return in, nil
}

// Stats for the health endpoint.
type Stats struct {
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	QueueDepth    int   `json:"queue_depth"`
	QueueCapacity int   `json:"queue_capacity"`
	Workers       int   `json:"workers"`
}

func (p *Processor) Stats() Stats {
	return Stats{
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		QueueDepth:    len(p.jobs),
		QueueCapacity: cap(p.jobs),
		Workers:       p.workers,
	}
}

// QueueDepth implements metrics.PipelineStats.
func (p *Processor) QueueDepth() int { return len(p.jobs) }

// QueueCapacity implements metrics.PipelineStats.
func (p *Processor) QueueCapacity() int { return cap(p.jobs) }

// Workers implements metrics.PipelineStats.
func (p *Processor) Workers() int { return p.workers }

func (p *Processor) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.processJob(j)
	}
}

// processJob runs one record from pending to a terminal state. A panic in
// any stage marks the record failed instead of killing the worker.
func (p *Processor) processJob(j job) {
	log := p.log.With().Str("insight_id", j.insightID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic while processing insight")
			p.finalize(j, database.InsightUpdate{
				ProcessingStatus: ptr(database.StatusFailed),
				Transcription:    ptr(fmt.Sprintf("Processing failed: %v", r)),
				Summary:          ptr(fallbackSummary),
			}, false)
		}
	}()

	if _, err := p.store.UpdateInsight(p.ctx, j.insightID, database.InsightUpdate{
		ProcessingStatus: ptr(database.StatusProcessing),
	}); err != nil {
		log.Error().Err(err).Msg("failed to mark insight processing")
	}

	tr := p.transcriber.Transcribe(p.ctx, j.filePath)
	if !tr.Success {
		metrics.TranscriptionsTotal.WithLabelValues("failure").Inc()
		log.Warn().Str("error", tr.Err).Msg("transcription failed")
		p.finalize(j, database.InsightUpdate{
			ProcessingStatus: ptr(database.StatusFailed),
			Transcription:    ptr("Transcription failed: " + tr.Err),
			Summary:          ptr(fallbackSummary),
		}, false)
		return
	}
	metrics.TranscriptionsTotal.WithLabelValues("success").Inc()

	analysis := p.analyzer.Analyze(p.ctx, tr.Text)
	status := database.StatusCompleted
	outcome := "success"
	if !analysis.Success {
		status = database.StatusFailed
		outcome = "failure"
	}
	metrics.AnalysesTotal.WithLabelValues(outcome).Inc()

	p.finalize(j, database.InsightUpdate{
		ProcessingStatus: ptr(status),
		Transcription:    ptr(tr.Text),
		Topic:            ptr(analysis.Topic),
		Sentiment:        ptr(analysis.Sentiment),
		Language:         ptr(analysis.Language),
		ActionItems:      &analysis.ActionItems,
		Summary:          ptr(analysis.Summary),
		ConfidenceScore:  ptr(analysis.ConfidenceScore),
	}, status == database.StatusCompleted)

	log.Info().
		Str("status", status).
		Str("topic", analysis.Topic).
		Float64("confidence", analysis.ConfidenceScore).
		Msg("insight processed")
}

// finalize writes the terminal update, bumps counters, and hands the audio
// file to the archiver. The update context is detached from p.ctx so a
// shutdown mid-job still records the outcome.
func (p *Processor) finalize(j job, upd database.InsightUpdate, ok bool) {
	if _, err := p.store.UpdateInsight(context.Background(), j.insightID, upd); err != nil {
		p.log.Error().Err(err).Str("insight_id", j.insightID).Msg("failed to write terminal state")
	}

	if ok {
		p.completed.Add(1)
		metrics.InsightsProcessedTotal.WithLabelValues(database.StatusCompleted).Inc()
	} else {
		p.failed.Add(1)
		metrics.InsightsProcessedTotal.WithLabelValues(database.StatusFailed).Inc()
	}

	if p.archiver != nil {
		p.archiver.Enqueue(j.insightID, j.filePath)
	}
}

func ptr[T any](v T) *T { return &v }
