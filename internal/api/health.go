package api

import (
	"net/http"
	"time"

	"github.com/snarg/insight-engine/internal/database"
	"github.com/snarg/insight-engine/internal/intake"
	"github.com/snarg/insight-engine/internal/pipeline"
)

type HealthResponse struct {
	Status        string                `json:"status"`
	Version       string                `json:"version"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	Checks        map[string]string     `json:"checks"`
	Pipeline      *pipeline.Stats       `json:"pipeline,omitempty"`
	InboxWatcher  *intake.WatcherStatus `json:"inbox_watcher,omitempty"`
	Archive       map[string]int64      `json:"archive,omitempty"`
}

// PipelineSource exposes live processor stats to the health endpoint.
type PipelineSource interface {
	Stats() pipeline.Stats
}

// WatcherSource exposes inbox watcher state to the health endpoint.
type WatcherSource interface {
	Status() *intake.WatcherStatus
}

// ArchiveSource exposes archive uploader counters to the health endpoint.
type ArchiveSource interface {
	Stats() (uploaded, failed, dropped int64)
}

type HealthHandler struct {
	db               *database.DB
	proc             PipelineSource
	watcher          WatcherSource
	archive          ArchiveSource
	apiKeyConfigured bool
	version          string
	startTime        time.Time
}

// NewHealthHandler creates the health endpoint. proc, watcher, and archive
// may be nil for components that are not running.
func NewHealthHandler(db *database.DB, proc PipelineSource, watcher WatcherSource, archive ArchiveSource, apiKeyConfigured bool, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:               db,
		proc:             proc,
		watcher:          watcher,
		archive:          archive,
		apiKeyConfigured: apiKeyConfigured,
		version:          version,
		startTime:        startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	// A missing API key is reported but does not fail the service: reads
	// and deletes still work, only new uploads are refused.
	if h.apiKeyConfigured {
		checks["api_key"] = "configured"
	} else {
		checks["api_key"] = "missing"
		if status == "healthy" {
			status = "degraded"
		}
	}

	var pipelineStats *pipeline.Stats
	if h.proc != nil {
		stats := h.proc.Stats()
		pipelineStats = &stats
		if stats.QueueCapacity > 0 && stats.QueueDepth >= stats.QueueCapacity {
			checks["pipeline"] = "saturated"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["pipeline"] = "ok"
		}
	} else {
		checks["pipeline"] = "not_running"
	}

	var watcherStatus *intake.WatcherStatus
	if h.watcher != nil {
		watcherStatus = h.watcher.Status()
		checks["inbox_watcher"] = watcherStatus.Status
	} else {
		checks["inbox_watcher"] = "not_configured"
	}

	var archiveStats map[string]int64
	if h.archive != nil {
		uploaded, failed, dropped := h.archive.Stats()
		archiveStats = map[string]int64{
			"uploaded": uploaded,
			"failed":   failed,
			"dropped":  dropped,
		}
		checks["archive"] = "ok"
	} else {
		checks["archive"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Pipeline:      pipelineStats,
		InboxWatcher:  watcherStatus,
		Archive:       archiveStats,
	})
}
