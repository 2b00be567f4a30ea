package api

import (
	"net/http"
	"time"

	"github.com/snarg/diarist/internal/pipeline"
)

type HealthResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Checks        map[string]string    `json:"checks"`
	STT           STTInfo              `json:"stt"`
	Queue         *pipeline.QueueStats `json:"queue,omitempty"`
	Watcher       *WatcherStatusData   `json:"watcher,omitempty"`
}

// STTInfo names the transcription backend in use.
type STTInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// HealthOptions wires the components the health endpoint reports on. Nil
// sources are reported as not_configured.
type HealthOptions struct {
	STT STTInfo
	// Diarization is the startup probe outcome: "ok", "unavailable" or
	// "not_configured".
	Diarization string
	StorageType string
	Jobs        JobQueue
	MQTT        ConnectionSource
	Watcher     WatcherSource
	Version     string
	StartTime   time.Time
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	if opts.Diarization == "" {
		opts.Diarization = "not_configured"
	}
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"stt":         "ok",
		"diarization": h.opts.Diarization,
		"storage":     h.opts.StorageType,
	}
	status := "healthy"

	// Running without diarization after a failed probe still serves requests
	// through the alternating fallback.
	if h.opts.Diarization == "unavailable" {
		status = "degraded"
	}

	resp := HealthResponse{
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		STT:           h.opts.STT,
	}

	// Job queue check
	if h.opts.Jobs != nil {
		stats := h.opts.Jobs.Stats()
		resp.Queue = &stats
		checks["queue"] = "ok"
	} else {
		checks["queue"] = "not_configured"
	}

	// MQTT check
	if h.opts.MQTT != nil {
		if h.opts.MQTT.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			status = "degraded"
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// File watcher check
	if h.opts.Watcher != nil {
		if ws := h.opts.Watcher.Status(); ws != nil {
			checks["watcher"] = ws.Status
			resp.Watcher = ws
		}
	} else {
		checks["watcher"] = "not_configured"
	}

	resp.Status = status
	resp.Checks = checks
	WriteJSON(w, http.StatusOK, resp)
}
