package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/insight-engine/internal/database"
	"github.com/snarg/insight-engine/internal/intake"
	"github.com/snarg/insight-engine/internal/metrics"
	"github.com/snarg/insight-engine/internal/pipeline"
)

// Submitter accepts a validated upload and starts processing. Implemented by
// the pipeline processor.
type Submitter interface {
	Submit(ctx context.Context, filename string, r io.Reader) (*database.Insight, error)
}

// InsightStore is the persistence surface the read/delete endpoints need.
type InsightStore interface {
	GetInsight(ctx context.Context, id string) (*database.Insight, error)
	ListInsights(ctx context.Context) ([]database.Insight, error)
	DeleteInsight(ctx context.Context, id string) (bool, error)
}

// InsightsHandler serves the insights resource.
type InsightsHandler struct {
	submitter        Submitter
	store            InsightStore
	maxUploadBytes   int64
	apiKeyConfigured bool
	log              zerolog.Logger
}

func NewInsightsHandler(submitter Submitter, store InsightStore, maxUploadBytes int64, apiKeyConfigured bool, log zerolog.Logger) *InsightsHandler {
	return &InsightsHandler{
		submitter:        submitter,
		store:            store,
		maxUploadBytes:   maxUploadBytes,
		apiKeyConfigured: apiKeyConfigured,
		log:              log.With().Str("handler", "insights").Logger(),
	}
}

// Routes registers the insights endpoints.
func (h *InsightsHandler) Routes(r chi.Router) {
	r.Post("/insights", h.Upload)
	r.Get("/insights", h.List)
	r.Get("/insights/{id}", h.Get)
	r.Delete("/insights/{id}", h.Delete)
}

// Upload handles POST /api/v1/insights. Accepts a multipart form with a
// "file" field and responds 202 with the pending record; processing happens
// asynchronously.
func (h *InsightsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.apiKeyConfigured {
		WriteErrorDetail(w, http.StatusBadRequest, "service not configured",
			"GROQ_API_KEY is not set; uploads cannot be processed")
		return
	}

	// One extra byte so an at-cap body parses and oversize detection happens
	// in the intake gate with a clean diagnostic.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1)

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid upload", "multipart form must contain a \"file\" field")
		return
	}
	defer file.Close()

	in, err := h.submitter.Submit(r.Context(), header.Filename, file)
	switch {
	case errors.Is(err, intake.ErrBadExtension):
		WriteErrorDetail(w, http.StatusBadRequest, "unsupported file type",
			"allowed extensions: .wav, .mp3, .m4a")
		return
	case errors.Is(err, intake.ErrTooLarge):
		WriteError(w, http.StatusBadRequest, "file too large")
		return
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrStopped):
		WriteError(w, http.StatusServiceUnavailable, "processing queue full, retry later")
		return
	case err != nil:
		h.log.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
		WriteError(w, http.StatusInternalServerError, "failed to accept upload")
		return
	}

	metrics.InsightsSubmittedTotal.WithLabelValues("upload").Inc()
	WriteJSON(w, http.StatusAccepted, in.API())
}

// List handles GET /api/v1/insights.
func (h *InsightsHandler) List(w http.ResponseWriter, r *http.Request) {
	insights, err := h.store.ListInsights(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list insights failed")
		WriteError(w, http.StatusInternalServerError, "failed to list insights")
		return
	}

	out := make([]database.InsightAPI, len(insights))
	for i := range insights {
		out[i] = insights[i].API()
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"insights": out,
		"count":    len(out),
	})
}

// Get handles GET /api/v1/insights/{id}. Clients poll this until
// processing_status reaches completed or failed.
func (h *InsightsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.store.GetInsight(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("insight_id", id).Msg("get insight failed")
		WriteError(w, http.StatusInternalServerError, "failed to load insight")
		return
	}
	if in == nil {
		WriteError(w, http.StatusNotFound, "insight not found")
		return
	}
	WriteJSON(w, http.StatusOK, in.API())
}

// Delete handles DELETE /api/v1/insights/{id}. Removes the record and the
// audio file; a file already gone is not an error.
func (h *InsightsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	in, err := h.store.GetInsight(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("insight_id", id).Msg("get insight failed")
		WriteError(w, http.StatusInternalServerError, "failed to load insight")
		return
	}
	if in == nil {
		WriteError(w, http.StatusNotFound, "insight not found")
		return
	}

	if _, err := h.store.DeleteInsight(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("insight_id", id).Msg("delete insight failed")
		WriteError(w, http.StatusInternalServerError, "failed to delete insight")
		return
	}

	if err := os.Remove(in.FilePath); err != nil && !os.IsNotExist(err) {
		h.log.Warn().Err(err).Str("path", in.FilePath).Msg("failed to remove audio file")
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"deleted": true,
		"id":      id,
	})
}
