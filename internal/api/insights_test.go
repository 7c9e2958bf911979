package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/insight-engine/internal/database"
	"github.com/snarg/insight-engine/internal/intake"
	"github.com/snarg/insight-engine/internal/pipeline"
)

type mockSubmitter struct {
	insight     *database.Insight
	err         error
	gotFilename string
}

func (m *mockSubmitter) Submit(ctx context.Context, filename string, r io.Reader) (*database.Insight, error) {
	m.gotFilename = filename
	io.Copy(io.Discard, r)
	if m.err != nil {
		return nil, m.err
	}
	return m.insight, nil
}

type mockStore struct {
	insights map[string]*database.Insight
	listErr  error
}

func (m *mockStore) GetInsight(ctx context.Context, id string) (*database.Insight, error) {
	in, ok := m.insights[id]
	if !ok {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

func (m *mockStore) ListInsights(ctx context.Context) ([]database.Insight, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []database.Insight{}
	for _, in := range m.insights {
		out = append(out, *in)
	}
	return out, nil
}

func (m *mockStore) DeleteInsight(ctx context.Context, id string) (bool, error) {
	_, ok := m.insights[id]
	delete(m.insights, id)
	return ok, nil
}

func pendingInsight(id, filePath string) *database.Insight {
	return &database.Insight{
		ID:               id,
		Filename:         "meeting.wav",
		FilePath:         filePath,
		ProcessingStatus: database.StatusPending,
		CreatedAt:        time.Now(),
	}
}

func newTestRouter(sub Submitter, store InsightStore, apiKeyConfigured bool) http.Handler {
	h := NewInsightsHandler(sub, store, 1<<20, apiKeyConfigured, zerolog.Nop())
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		h.Routes(r)
	})
	return r
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestUploadAccepted(t *testing.T) {
	sub := &mockSubmitter{insight: pendingInsight("abc-123", "/tmp/abc.wav")}
	router := newTestRouter(sub, &mockStore{}, true)

	body, ct := multipartBody(t, "file", "meeting.wav", []byte("audio-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/insights", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if sub.gotFilename != "meeting.wav" {
		t.Errorf("submitter got filename %q", sub.gotFilename)
	}

	var resp database.InsightAPI
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "abc-123" || resp.ProcessingStatus != database.StatusPending {
		t.Errorf("response = %+v", resp)
	}
	if resp.ActionItems == nil {
		t.Error("action_items should serialize as [], not null")
	}
}

func TestUploadWithoutAPIKey(t *testing.T) {
	sub := &mockSubmitter{insight: pendingInsight("abc", "")}
	router := newTestRouter(sub, &mockStore{}, false)

	body, ct := multipartBody(t, "file", "meeting.wav", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/insights", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if sub.gotFilename != "" {
		t.Error("submitter called despite missing API key")
	}
}

func TestUploadMissingFileField(t *testing.T) {
	router := newTestRouter(&mockSubmitter{}, &mockStore{}, true)

	body, ct := multipartBody(t, "wrong_field", "meeting.wav", []byte("audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/insights", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad_extension", intake.ErrBadExtension, http.StatusBadRequest},
		{"too_large", intake.ErrTooLarge, http.StatusBadRequest},
		{"queue_full", pipeline.ErrQueueFull, http.StatusServiceUnavailable},
		{"stopped", pipeline.ErrStopped, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockSubmitter{err: tt.err}, &mockStore{}, true)

			body, ct := multipartBody(t, "file", "meeting.wav", []byte("audio"))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/insights", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetInsight(t *testing.T) {
	store := &mockStore{insights: map[string]*database.Insight{
		"abc": pendingInsight("abc", "/tmp/abc.wav"),
	}}
	router := newTestRouter(&mockSubmitter{}, store, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/insights/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp database.InsightAPI
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "abc" {
		t.Errorf("ID = %q", resp.ID)
	}
}

func TestGetInsightNotFound(t *testing.T) {
	router := newTestRouter(&mockSubmitter{}, &mockStore{insights: map[string]*database.Insight{}}, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/insights/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListInsights(t *testing.T) {
	store := &mockStore{insights: map[string]*database.Insight{
		"a": pendingInsight("a", ""),
		"b": pendingInsight("b", ""),
	}}
	router := newTestRouter(&mockSubmitter{}, store, true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/insights", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Insights []database.InsightAPI `json:"insights"`
		Count    int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 || len(resp.Insights) != 2 {
		t.Errorf("count = %d, insights = %d", resp.Count, len(resp.Insights))
	}
}

func TestDeleteInsightRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.wav")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := &mockStore{insights: map[string]*database.Insight{
		"abc": pendingInsight("abc", path),
	}}
	router := newTestRouter(&mockSubmitter{}, store, true)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/insights/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("audio file still present after delete")
	}
	if len(store.insights) != 0 {
		t.Error("record still present after delete")
	}
}

func TestDeleteInsightMissingFileStillSucceeds(t *testing.T) {
	store := &mockStore{insights: map[string]*database.Insight{
		"abc": pendingInsight("abc", filepath.Join(t.TempDir(), "never-existed.wav")),
	}}
	router := newTestRouter(&mockSubmitter{}, store, true)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/insights/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDeleteInsightNotFound(t *testing.T) {
	router := newTestRouter(&mockSubmitter{}, &mockStore{insights: map[string]*database.Insight{}}, true)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/insights/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
