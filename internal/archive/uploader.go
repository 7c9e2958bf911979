package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Uploader handles background archive uploads without blocking the
// processing pipeline. The audio file stays on local disk, so a dropped or
// failed upload loses nothing.
type Uploader struct {
	store    *S3Store
	ch       chan uploadJob
	log      zerolog.Logger
	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	uploaded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

type uploadJob struct {
	insightID string
	filePath  string
}

// NewUploader creates an async archive uploader with the given buffer size.
func NewUploader(store *S3Store, bufferSize int, log zerolog.Logger) *Uploader {
	return &Uploader{
		store: store,
		ch:    make(chan uploadJob, bufferSize),
		log:   log.With().Str("component", "archive-uploader").Logger(),
	}
}

// Enqueue schedules one file for archival under the insight's ID.
// Non-blocking: drops with a warning if the buffer is full or the uploader
// is stopped.
func (u *Uploader) Enqueue(insightID, filePath string) {
	if u.stopped.Load() {
		return
	}
	select {
	case u.ch <- uploadJob{insightID: insightID, filePath: filePath}:
	default:
		u.dropped.Add(1)
		u.log.Warn().Str("insight_id", insightID).Msg("archive queue full, skipping (file safe on disk)")
	}
}

// Start launches worker goroutines.
func (u *Uploader) Start(workers int) {
	for i := 0; i < workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", workers).Int("buffer", cap(u.ch)).Msg("archive uploader started")
}

// Stop signals workers to drain and waits for in-flight uploads.
func (u *Uploader) Stop() {
	u.stopped.Store(true)
	u.stopOnce.Do(func() { close(u.ch) })
	u.wg.Wait()
	u.log.Info().
		Int64("uploaded", u.uploaded.Load()).
		Int64("failed", u.failed.Load()).
		Int64("dropped", u.dropped.Load()).
		Msg("archive uploader stopped")
}

// Stats returns cumulative upload counts for the health endpoint.
func (u *Uploader) Stats() (uploaded, failed, dropped int64) {
	return u.uploaded.Load(), u.failed.Load(), u.dropped.Load()
}

func (u *Uploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		u.upload(job)
	}
}

// upload reads the file inside the worker so the queue holds only paths,
// not audio payloads.
func (u *Uploader) upload(job uploadJob) {
	data, err := os.ReadFile(job.filePath)
	if err != nil {
		u.failed.Add(1)
		u.log.Warn().Err(err).Str("insight_id", job.insightID).Msg("archive read failed")
		return
	}

	ext := filepath.Ext(job.filePath)
	key := job.insightID + ext

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = u.store.Save(ctx, key, data, ContentTypeFromExt(ext))
	cancel()
	if err != nil {
		u.failed.Add(1)
		u.log.Error().Err(err).Str("key", key).Msg("archive upload failed (file safe on disk)")
		return
	}

	u.uploaded.Add(1)
	u.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("archived audio file")
}
