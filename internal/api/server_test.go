package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/align"
	"github.com/snarg/diarist/internal/config"
	"github.com/snarg/diarist/internal/pipeline"
)

// mockProcessor implements Processor for testing.
type mockProcessor struct {
	lastUpload pipeline.Upload
	lastBody   string
	err        error
	storeErr   error
	discarded  []string
}

func (m *mockProcessor) Process(ctx context.Context, up pipeline.Upload) (*pipeline.Result, error) {
	m.lastUpload = up
	if up.Body != nil {
		b, _ := io.ReadAll(up.Body)
		m.lastBody = string(b)
	}
	if m.err != nil {
		return nil, m.err
	}
	labeled := align.Merge([]align.TranscriptSegment{{Start: 0, End: 2, Text: "Bonjour"}}, nil)
	return &pipeline.Result{
		Success:        true,
		FullTranscript: align.FormatTranscript(labeled),
		Speakers:       align.Aggregate(labeled),
		Segments:       labeled,
		Language:       "fr",
		Mode:           align.ModeAlternating,
	}, nil
}

func (m *mockProcessor) Store(ctx context.Context, up pipeline.Upload) (pipeline.Upload, error) {
	if m.storeErr != nil {
		return up, m.storeErr
	}
	up.Key = "2026-10-14/" + up.RequestID + "-" + up.Filename
	up.Body = nil
	return up, nil
}

func (m *mockProcessor) Discard(ctx context.Context, key string) error {
	m.discarded = append(m.discarded, key)
	return nil
}

// mockQueue implements JobQueue for testing.
type mockQueue struct {
	jobs     map[string]pipeline.Job
	enqueued []pipeline.Upload
	err      error
}

func (m *mockQueue) Enqueue(up pipeline.Upload, source string, done pipeline.DoneFunc) (pipeline.Job, error) {
	if m.err != nil {
		return pipeline.Job{}, m.err
	}
	m.enqueued = append(m.enqueued, up)
	j := pipeline.Job{ID: up.RequestID, Status: pipeline.StatusQueued, Source: source, Filename: up.Filename}
	m.jobs[j.ID] = j
	return j, nil
}

func (m *mockQueue) Get(id string) (pipeline.Job, bool) {
	j, ok := m.jobs[id]
	return j, ok
}

func (m *mockQueue) Stats() pipeline.QueueStats {
	return pipeline.QueueStats{Tracked: len(m.jobs)}
}

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func newTestRouter(t *testing.T, proc *mockProcessor, jobs *mockQueue, token string) http.Handler {
	t.Helper()
	cfg := &config.Config{AuthToken: token, MaxUploadMB: 1}
	var jq JobQueue
	if jobs != nil {
		jq = jobs
	}
	return NewRouter(ServerOptions{
		Config:    cfg,
		Processor: proc,
		Jobs:      jq,
		Health: NewHealthHandler(HealthOptions{
			STT:         STTInfo{Provider: "whisper", Model: "large-v3"},
			Diarization: "ok",
			StorageType: "local",
			Jobs:        jq,
			Version:     "test",
			StartTime:   time.Now(),
		}),
		WebFS: fstest.MapFS{"index.html": {Data: []byte("<html>Transcription</html>")}},
		Log:   zerolog.Nop(),
	})
}

func buildMultipartForm(t *testing.T, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestProcess_Success(t *testing.T) {
	proc := &mockProcessor{}
	router := newTestRouter(t, proc, nil, "")

	body, ct := buildMultipartForm(t, "audio", []byte("fake-audio-data"), "meeting.m4a")
	req := httptest.NewRequest("POST", "/process", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if proc.lastUpload.Filename != "meeting.m4a" {
		t.Errorf("Filename = %q", proc.lastUpload.Filename)
	}
	if proc.lastUpload.RequestID != "req-42" {
		t.Errorf("RequestID = %q", proc.lastUpload.RequestID)
	}
	if proc.lastBody != "fake-audio-data" {
		t.Errorf("body = %q", proc.lastBody)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if string(resp["success"]) != "true" {
		t.Errorf("success = %s", resp["success"])
	}
	if !strings.Contains(string(resp["full_transcript"]), "SPEAKER_00: Bonjour") {
		t.Errorf("full_transcript = %s", resp["full_transcript"])
	}
}

func TestProcess_BadUpload(t *testing.T) {
	router := newTestRouter(t, &mockProcessor{}, nil, "")

	t.Run("missing_audio_field", func(t *testing.T) {
		body, ct := buildMultipartForm(t, "file", []byte("x"), "a.wav")
		req := httptest.NewRequest("POST", "/process", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assertProcessError(t, rec, http.StatusBadRequest)
	})

	t.Run("not_multipart", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/process", strings.NewReader(`{"audio":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assertProcessError(t, rec, http.StatusBadRequest)
	})

	t.Run("empty_file", func(t *testing.T) {
		body, ct := buildMultipartForm(t, "audio", []byte{}, "a.wav")
		req := httptest.NewRequest("POST", "/process", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assertProcessError(t, rec, http.StatusBadRequest)
	})

	t.Run("too_large", func(t *testing.T) {
		body, ct := buildMultipartForm(t, "audio", bytes.Repeat([]byte("x"), 3<<20), "a.wav")
		req := httptest.NewRequest("POST", "/process", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assertProcessError(t, rec, http.StatusBadRequest)
		if !strings.Contains(rec.Body.String(), "too large") {
			t.Errorf("body = %s", rec.Body.String())
		}
	})
}

func TestProcess_Failure(t *testing.T) {
	router := newTestRouter(t, &mockProcessor{err: errors.New("transcribe: whisper API error (status 500)")}, nil, "")

	body, ct := buildMultipartForm(t, "audio", []byte("x"), "a.wav")
	req := httptest.NewRequest("POST", "/process", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assertProcessError(t, rec, http.StatusInternalServerError)
	if strings.Contains(rec.Body.String(), "whisper") {
		t.Errorf("internal error leaked to client: %s", rec.Body.String())
	}
}

func assertProcessError(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Errorf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var body ProcessError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body.Success || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestProcess_Auth(t *testing.T) {
	router := newTestRouter(t, &mockProcessor{}, nil, "secret123")

	body, ct := buildMultipartForm(t, "audio", []byte("x"), "a.wav")
	req := httptest.NewRequest("POST", "/process", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	// Health stays open
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
}

func TestJobs(t *testing.T) {
	jobs := &mockQueue{jobs: map[string]pipeline.Job{}}
	router := newTestRouter(t, &mockProcessor{}, jobs, "")

	body, ct := buildMultipartForm(t, "audio", []byte("x"), "call.wav")
	req := httptest.NewRequest("POST", "/api/v1/jobs", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Request-ID", "job-7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/api/v1/jobs/job-7" {
		t.Errorf("Location = %q", loc)
	}
	if len(jobs.enqueued) != 1 || jobs.enqueued[0].Key == "" || jobs.enqueued[0].Body != nil {
		t.Errorf("enqueued = %+v, want stored upload", jobs.enqueued)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/jobs/job-7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var job pipeline.Job
	json.Unmarshal(rec.Body.Bytes(), &job)
	if job.ID != "job-7" || job.Status != pipeline.StatusQueued || job.Source != "api" {
		t.Errorf("job = %+v", job)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/jobs/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", rec.Code)
	}
}

func TestJobs_QueueFull(t *testing.T) {
	proc := &mockProcessor{}
	jobs := &mockQueue{jobs: map[string]pipeline.Job{}, err: pipeline.ErrQueueFull}
	router := newTestRouter(t, proc, jobs, "")

	body, ct := buildMultipartForm(t, "audio", []byte("x"), "call.wav")
	req := httptest.NewRequest("POST", "/api/v1/jobs", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if len(proc.discarded) != 1 {
		t.Errorf("discarded = %v, want the stored upload removed", proc.discarded)
	}
}

func TestJobs_DuplicateID(t *testing.T) {
	proc := &mockProcessor{}
	jobs := &mockQueue{jobs: map[string]pipeline.Job{}, err: pipeline.ErrDuplicate}
	router := newTestRouter(t, proc, jobs, "")

	body, ct := buildMultipartForm(t, "audio", []byte("x"), "call.wav")
	req := httptest.NewRequest("POST", "/api/v1/jobs", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Request-ID", "same")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	if len(proc.discarded) != 1 || proc.discarded[0] != "2026-10-14/same-call.wav" {
		t.Errorf("discarded = %v", proc.discarded)
	}
}

func TestJobs_NotConfigured(t *testing.T) {
	router := newTestRouter(t, &mockProcessor{}, nil, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/jobs/x", nil))
	if rec.Code == http.StatusOK {
		t.Errorf("job routes served without a queue")
	}
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router := newTestRouter(t, &mockProcessor{}, &mockQueue{jobs: map[string]pipeline.Job{}}, "")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

		var resp HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Status != "healthy" {
			t.Errorf("Status = %q", resp.Status)
		}
		if resp.Checks["diarization"] != "ok" || resp.Checks["queue"] != "ok" || resp.Checks["mqtt"] != "not_configured" {
			t.Errorf("Checks = %v", resp.Checks)
		}
		if resp.STT.Provider != "whisper" || resp.Queue == nil {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		h := NewHealthHandler(HealthOptions{Diarization: "unavailable", MQTT: fakeConn(false), StartTime: time.Now()})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))

		var resp HealthResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Status != "degraded" {
			t.Errorf("Status = %q, want degraded", resp.Status)
		}
		if resp.Checks["mqtt"] != "disconnected" || resp.Checks["watcher"] != "not_configured" {
			t.Errorf("Checks = %v", resp.Checks)
		}
	})
}

func TestWebHandler(t *testing.T) {
	router := newTestRouter(t, &mockProcessor{}, nil, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Transcription") {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/missing.js", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing asset: expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, &mockProcessor{}, nil, "")

	// Generate one instrumented request first
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/health", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "diarist_http_requests_total") {
		t.Error("missing diarist_http_requests_total")
	}
}
