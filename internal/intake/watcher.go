package intake

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/insight-engine/internal/database"
	"github.com/snarg/insight-engine/internal/metrics"
)

// Submitter accepts a validated audio stream and starts processing for it.
// Implemented by the pipeline processor.
type Submitter interface {
	Submit(ctx context.Context, filename string, r io.Reader) (*database.Insight, error)
}

// Watcher monitors an inbox directory for dropped audio files and submits
// them through the same intake path as HTTP uploads. This gives scripted
// producers a way in without speaking multipart HTTP.
type Watcher struct {
	gate     *Gate
	sink     Submitter
	inboxDir string
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesIngested atomic.Int64
	filesSkipped  atomic.Int64
	status        atomic.Value // string: "starting", "watching", "stopped"
}

// WatcherStatus is the watcher state reported by the health endpoint.
type WatcherStatus struct {
	Status        string `json:"status"`
	InboxDir      string `json:"inbox_dir"`
	FilesIngested int64  `json:"files_ingested"`
	FilesSkipped  int64  `json:"files_skipped"`
}

// NewWatcher creates an inbox watcher. It does nothing until Start.
func NewWatcher(inboxDir string, gate *Gate, sink Submitter, log zerolog.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		gate:           gate,
		sink:           sink,
		inboxDir:       inboxDir,
		log:            log.With().Str("component", "inbox-watcher").Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
	}
	w.status.Store("starting")
	return w
}

// Start creates the inbox directory if absent, begins watching it, and
// sweeps any files already present.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.inboxDir, 0o755); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.inboxDir); err != nil {
		fsw.Close()
		return err
	}
	w.watcher = fsw

	go w.watchLoop()

	// Sweep files that arrived while we weren't running.
	go w.sweepExisting()

	w.log.Info().Str("inbox_dir", w.inboxDir).Msg("inbox watcher started")
	return nil
}

// Stop closes the fsnotify watcher and cancels in-flight submissions.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.log.Info().
		Int64("files_ingested", w.filesIngested.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher state for the health endpoint.
func (w *Watcher) Status() *WatcherStatus {
	s, _ := w.status.Load().(string)
	return &WatcherStatus{
		Status:        s,
		InboxDir:      w.inboxDir,
		FilesIngested: w.filesIngested.Load(),
		FilesSkipped:  w.filesSkipped.Load(),
	}
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			if !w.gate.Validate(event.Name) {
				continue
			}
			w.scheduleIngest(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleIngest debounces file ingestion by 500ms so the file is fully
// written before we read it.
func (w *Watcher) scheduleIngest(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.ingestFile(path)
	})
}

// ingestFile submits one inbox file and removes it on success. Failures
// leave the file in place for the next sweep.
func (w *Watcher) ingestFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to open inbox file")
		return
	}
	defer f.Close()

	in, err := w.sink.Submit(w.ctx, filepath.Base(path), f)
	if err != nil {
		w.filesSkipped.Add(1)
		w.log.Warn().Err(err).Str("path", path).Msg("inbox file rejected")
		return
	}

	if err := os.Remove(path); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to remove ingested inbox file")
	}

	w.filesIngested.Add(1)
	metrics.InsightsSubmittedTotal.WithLabelValues("inbox").Inc()
	w.log.Info().
		Str("insight_id", in.ID).
		Str("filename", in.Filename).
		Msg("inbox file ingested")
}

// sweepExisting processes files already sitting in the inbox at startup.
func (w *Watcher) sweepExisting() {
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		w.log.Warn().Err(err).Msg("inbox sweep failed")
		w.status.Store("watching")
		return
	}

	for _, e := range entries {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.inboxDir, e.Name())
		if !w.gate.Validate(path) {
			w.filesSkipped.Add(1)
			continue
		}
		w.ingestFile(path)
	}

	w.status.Store("watching")
}
