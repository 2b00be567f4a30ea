package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/pipeline"
)

// Processor runs the pipeline. *pipeline.Processor implements it.
type Processor interface {
	Process(ctx context.Context, up pipeline.Upload) (*pipeline.Result, error)
	Store(ctx context.Context, up pipeline.Upload) (pipeline.Upload, error)
	Discard(ctx context.Context, key string) error
}

// JobQueue is the async job queue. *pipeline.WorkerPool implements it.
type JobQueue interface {
	Enqueue(up pipeline.Upload, source string, done pipeline.DoneFunc) (pipeline.Job, error)
	Get(id string) (pipeline.Job, bool)
	Stats() pipeline.QueueStats
}

// ProcessHandler serves the synchronous and async processing endpoints.
type ProcessHandler struct {
	proc        Processor
	jobs        JobQueue
	maxUploadMB int64
	log         zerolog.Logger
}

// NewProcessHandler creates a new process handler. jobs may be nil, in which
// case the job routes are not registered.
func NewProcessHandler(proc Processor, jobs JobQueue, maxUploadMB int64, log zerolog.Logger) *ProcessHandler {
	return &ProcessHandler{
		proc:        proc,
		jobs:        jobs,
		maxUploadMB: maxUploadMB,
		log:         log.With().Str("handler", "process").Logger(),
	}
}

// Routes registers the processing endpoints.
func (h *ProcessHandler) Routes(r chi.Router) {
	r.Post("/process", h.Process)
	if h.jobs != nil {
		r.Post("/api/v1/jobs", h.CreateJob)
		r.Get("/api/v1/jobs/{id}", h.GetJob)
	}
}

// Process handles POST /process.
// Accepts a multipart form with the recording in the "audio" field and
// responds with the full result once processing finishes.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	up, cleanup, err := h.readUpload(r)
	if err != nil {
		WriteProcessError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	res, err := h.proc.Process(r.Context(), up)
	if err != nil {
		h.log.Error().Err(err).Str("request_id", up.RequestID).Str("filename", up.Filename).Msg("processing failed")
		WriteProcessError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	WriteJSON(w, http.StatusOK, res)
}

// CreateJob handles POST /api/v1/jobs.
// Stores the recording, queues it and responds 202 with the job id.
func (h *ProcessHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	up, cleanup, err := h.readUpload(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	stored, err := h.proc.Store(r.Context(), up)
	if err != nil {
		h.log.Error().Err(err).Str("request_id", up.RequestID).Msg("failed to store upload")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	job, err := h.jobs.Enqueue(stored, "api", nil)
	if err != nil {
		if derr := h.proc.Discard(r.Context(), stored.Key); derr != nil {
			h.log.Warn().Err(derr).Str("key", stored.Key).Msg("failed to discard rejected upload")
		}
		switch {
		case errors.Is(err, pipeline.ErrDuplicate):
			WriteErrorDetail(w, http.StatusConflict, "job already exists", "X-Request-ID "+stored.RequestID+" is already in use")
		case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrStopped):
			w.Header().Set("Retry-After", "30")
			WriteErrorDetail(w, http.StatusServiceUnavailable, "job queue unavailable", err.Error())
		default:
			WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"id":     job.ID,
		"status": job.Status,
	})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *ProcessHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// readUpload extracts the "audio" file from a multipart form. The returned
// cleanup closes the file and removes multipart temp files.
func (h *ProcessHandler) readUpload(r *http.Request) (pipeline.Upload, func(), error) {
	noop := func() {}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pipeline.Upload{}, noop, fmt.Errorf("file too large (max %d MB)", h.maxUploadMB)
		}
		return pipeline.Upload{}, noop, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		r.MultipartForm.RemoveAll()
		return pipeline.Upload{}, noop, errors.New(`missing "audio" file field`)
	}
	cleanup := func() {
		file.Close()
		r.MultipartForm.RemoveAll()
	}
	if header.Size == 0 {
		cleanup()
		return pipeline.Upload{}, noop, errors.New("empty audio file")
	}

	return pipeline.Upload{
		RequestID:   RequestIDFrom(r.Context()),
		Filename:    header.Filename,
		ContentType: contentType(header),
		Body:        file,
		ReceivedAt:  time.Now(),
	}, cleanup, nil
}

func contentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
