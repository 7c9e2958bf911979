package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/insight-engine/internal/analyze"
	"github.com/snarg/insight-engine/internal/database"
	"github.com/snarg/insight-engine/internal/intake"
	"github.com/snarg/insight-engine/internal/transcribe"
)

// fakeStore is an in-memory Store with the same partial-update semantics as
// the real one.
type fakeStore struct {
	mu       sync.Mutex
	insights map[string]*database.Insight
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{insights: make(map[string]*database.Insight)}
}

func (s *fakeStore) CreateInsight(ctx context.Context, filename, filePath string) (*database.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	in := &database.Insight{
		ID:               fmt.Sprintf("insight-%d", s.nextID),
		Filename:         filename,
		FilePath:         filePath,
		ProcessingStatus: database.StatusPending,
		CreatedAt:        time.Now(),
	}
	s.insights[in.ID] = in
	cp := *in
	return &cp, nil
}

func (s *fakeStore) UpdateInsight(ctx context.Context, id string, upd database.InsightUpdate) (*database.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.insights[id]
	if !ok {
		return nil, nil
	}
	if upd.ProcessingStatus != nil {
		in.ProcessingStatus = *upd.ProcessingStatus
	}
	if upd.Transcription != nil {
		in.Transcription = upd.Transcription
	}
	if upd.Topic != nil {
		in.Topic = upd.Topic
	}
	if upd.Sentiment != nil {
		in.Sentiment = upd.Sentiment
	}
	if upd.Language != nil {
		in.Language = upd.Language
	}
	if upd.ActionItems != nil {
		enc := database.EncodeActionItems(*upd.ActionItems)
		in.ActionItems = &enc
	}
	if upd.Summary != nil {
		in.Summary = *upd.Summary
	}
	if upd.ConfidenceScore != nil {
		in.ConfidenceScore = upd.ConfidenceScore
	}
	now := time.Now()
	in.UpdatedAt = &now
	cp := *in
	return &cp, nil
}

func (s *fakeStore) DeleteInsight(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.insights[id]
	delete(s.insights, id)
	return ok, nil
}

func (s *fakeStore) get(id string) *database.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.insights[id]
	if !ok {
		return nil
	}
	cp := *in
	return &cp
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.insights)
}

// waitTerminal polls until the record leaves pending/processing.
func (s *fakeStore) waitTerminal(t *testing.T, id string) *database.Insight {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		in := s.get(id)
		if in != nil && (in.ProcessingStatus == database.StatusCompleted || in.ProcessingStatus == database.StatusFailed) {
			return in
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("insight %s never reached a terminal state", id)
	return nil
}

type fakeTranscriber struct {
	result transcribe.Result
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) transcribe.Result {
	return f.result
}

type fakeAnalyzer struct {
	analysis analyze.Analysis
	panicMsg string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) analyze.Analysis {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.analysis
}

type fakeArchiver struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeArchiver) Enqueue(insightID, filePath string) {
	f.mu.Lock()
	f.entries = append(f.entries, insightID)
	f.mu.Unlock()
}

func (f *fakeArchiver) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.entries...)
}

func goodTranscription() transcribe.Result {
	return transcribe.Result{
		Success:         true,
		Text:            "Buy milk. Call Bob tomorrow.",
		Language:        "en",
		ConfidenceScore: 0.95,
	}
}

func goodAnalysis() analyze.Analysis {
	return analyze.Analysis{
		Topic:           "Errands",
		Sentiment:       "neutral",
		Language:        "en",
		ActionItems:     []string{"Buy milk", "Call Bob"},
		Summary:         "A short list of errands.",
		ConfidenceScore: 0.9,
		Success:         true,
	}
}

type procOpts struct {
	transcriber Transcriber
	analyzer    TextAnalyzer
	archiver    Archiver
	workers     int
	queueSize   int
}

func newTestProcessor(t *testing.T, store Store, o procOpts) *Processor {
	t.Helper()
	if o.workers == 0 {
		o.workers = 1
	}
	if o.queueSize == 0 {
		o.queueSize = 4
	}
	gate := intake.NewGate(t.TempDir(), []string{".wav", ".mp3", ".m4a"}, 1<<20)
	return NewProcessor(Options{
		Gate:        gate,
		Store:       store,
		Transcriber: o.transcriber,
		Analyzer:    o.analyzer,
		Archiver:    o.archiver,
		Workers:     o.workers,
		QueueSize:   o.queueSize,
		Log:         zerolog.Nop(),
	})
}

func TestProcessCompleted(t *testing.T) {
	store := newFakeStore()
	arch := &fakeArchiver{}
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: goodTranscription()},
		analyzer:    &fakeAnalyzer{analysis: goodAnalysis()},
		archiver:    arch,
	})
	p.Start()
	defer p.Stop()

	in, err := p.Submit(context.Background(), "meeting.wav", strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if in.ProcessingStatus != database.StatusPending {
		t.Errorf("initial status = %q, want pending", in.ProcessingStatus)
	}

	final := store.waitTerminal(t, in.ID)
	if final.ProcessingStatus != database.StatusCompleted {
		t.Fatalf("status = %q, want completed", final.ProcessingStatus)
	}
	if final.Transcription == nil || *final.Transcription != "Buy milk. Call Bob tomorrow." {
		t.Errorf("Transcription = %v", final.Transcription)
	}
	if final.Topic == nil || *final.Topic != "Errands" {
		t.Errorf("Topic = %v", final.Topic)
	}
	if final.Summary != "A short list of errands." {
		t.Errorf("Summary = %q", final.Summary)
	}
	if got := database.DecodeActionItems(final.ActionItems); len(got) != 2 {
		t.Errorf("ActionItems = %v", got)
	}
	if final.ConfidenceScore == nil || *final.ConfidenceScore != 0.9 {
		t.Errorf("ConfidenceScore = %v", final.ConfidenceScore)
	}

	p.Stop()
	if ids := arch.ids(); len(ids) != 1 || ids[0] != in.ID {
		t.Errorf("archived ids = %v", ids)
	}
}

func TestProcessTranscriptionFailure(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: transcribe.Result{Success: false, Err: "audio file not found: x"}},
		analyzer:    &fakeAnalyzer{analysis: goodAnalysis()},
	})
	p.Start()
	defer p.Stop()

	in, err := p.Submit(context.Background(), "broken.mp3", strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := store.waitTerminal(t, in.ID)
	if final.ProcessingStatus != database.StatusFailed {
		t.Fatalf("status = %q, want failed", final.ProcessingStatus)
	}
	if final.Transcription == nil || !strings.HasPrefix(*final.Transcription, "Transcription failed: ") {
		t.Errorf("Transcription = %v, want failure diagnostic", final.Transcription)
	}
	if final.Summary == "" {
		t.Error("Summary empty after terminal state")
	}
}

func TestProcessAnalysisFailure(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: goodTranscription()},
		analyzer: &fakeAnalyzer{analysis: analyze.Analysis{
			Topic:           "Analysis failed",
			Sentiment:       "neutral",
			Language:        "en",
			ActionItems:     []string{},
			Summary:         "Analysis failed due to an error",
			ConfidenceScore: 0.0,
			Success:         false,
			Err:             "all models exhausted",
		}},
	})
	p.Start()
	defer p.Stop()

	in, err := p.Submit(context.Background(), "meeting.wav", strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := store.waitTerminal(t, in.ID)
	if final.ProcessingStatus != database.StatusFailed {
		t.Fatalf("status = %q, want failed", final.ProcessingStatus)
	}
	// The transcript survives even though analysis failed.
	if final.Transcription == nil || *final.Transcription != "Buy milk. Call Bob tomorrow." {
		t.Errorf("Transcription = %v", final.Transcription)
	}
	if final.Summary != "Analysis failed due to an error" {
		t.Errorf("Summary = %q", final.Summary)
	}
}

func TestProcessPanicMarksFailed(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: goodTranscription()},
		analyzer:    &fakeAnalyzer{panicMsg: "boom"},
	})
	p.Start()
	defer p.Stop()

	in, err := p.Submit(context.Background(), "meeting.wav", strings.NewReader("audio"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := store.waitTerminal(t, in.ID)
	if final.ProcessingStatus != database.StatusFailed {
		t.Fatalf("status = %q, want failed", final.ProcessingStatus)
	}
	if final.Transcription == nil || !strings.HasPrefix(*final.Transcription, "Processing failed: ") {
		t.Errorf("Transcription = %v", final.Transcription)
	}
	if final.Summary == "" {
		t.Error("Summary empty after panic")
	}
}

func TestSubmitRejectsBadExtension(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: goodTranscription()},
		analyzer:    &fakeAnalyzer{analysis: goodAnalysis()},
	})
	p.Start()
	defer p.Stop()

	_, err := p.Submit(context.Background(), "notes.txt", strings.NewReader("text"))
	if !errors.Is(err, intake.ErrBadExtension) {
		t.Fatalf("err = %v, want ErrBadExtension", err)
	}
	if store.count() != 0 {
		t.Errorf("record created for rejected upload")
	}
}

func TestSubmitQueueFullRollsBack(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: goodTranscription()},
		analyzer:    &fakeAnalyzer{analysis: goodAnalysis()},
		queueSize:   1,
	})
	// Workers never started, so the single queue slot fills and stays full.

	if _, err := p.Submit(context.Background(), "first.wav", strings.NewReader("a")); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := p.Submit(context.Background(), "second.wav", strings.NewReader("b"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}

	if store.count() != 1 {
		t.Errorf("store has %d records, want 1 after rollback", store.count())
	}
	entries, err := os.ReadDir(p.gate.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("upload dir has %d files, want 1 after rollback", len(entries))
	}
}

func TestSubmitAfterStop(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: goodTranscription()},
		analyzer:    &fakeAnalyzer{analysis: goodAnalysis()},
	})
	p.Start()
	p.Stop()

	_, err := p.Submit(context.Background(), "late.wav", strings.NewReader("a"))
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, procOpts{
		transcriber: &fakeTranscriber{result: goodTranscription()},
		analyzer:    &fakeAnalyzer{analysis: goodAnalysis()},
		workers:     2,
		queueSize:   8,
	})
	p.Start()

	var ids []string
	for i := 0; i < 5; i++ {
		in, err := p.Submit(context.Background(), fmt.Sprintf("f%d.wav", i), strings.NewReader("a"))
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		ids = append(ids, in.ID)
	}
	p.Stop()

	for _, id := range ids {
		in := store.get(id)
		if in == nil || in.ProcessingStatus != database.StatusCompleted {
			t.Errorf("insight %s not completed after Stop", id)
		}
	}
	if got := p.Stats().Completed; got != 5 {
		t.Errorf("Stats().Completed = %d, want 5", got)
	}
}
