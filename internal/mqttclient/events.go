package mqttclient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/metrics"
	"github.com/snarg/diarist/internal/pipeline"
)

// Publisher sends a payload to a topic. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// JobEvent is the payload published when a job finishes.
type JobEvent struct {
	JobID      string            `json:"job_id"`
	Status     string            `json:"status"`
	Source     string            `json:"source"`
	Filename   string            `json:"filename"`
	Error      string            `json:"error,omitempty"`
	Language   string            `json:"language,omitempty"`
	Mode       string            `json:"mode,omitempty"`
	Segments   int               `json:"segments"`
	Speakers   map[string]string `json:"speakers,omitempty"` // id -> speaking time
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// JobTopic returns {prefix}/jobs/{id}/{status}.
func JobTopic(prefix, id, status string) string {
	prefix = strings.TrimRight(prefix, "/")
	return prefix + "/jobs/" + id + "/" + status
}

// NewJobNotifier returns a DoneFunc publishing each finished job. Publish
// failures are logged and never fail the job.
func NewJobNotifier(p Publisher, prefix string, log zerolog.Logger) pipeline.DoneFunc {
	log = log.With().Str("component", "mqtt-events").Logger()
	return func(j pipeline.Job) {
		ev := JobEvent{
			JobID:      j.ID,
			Status:     string(j.Status),
			Source:     j.Source,
			Filename:   j.Filename,
			Error:      j.Error,
			FinishedAt: j.FinishedAt,
		}
		if j.Result != nil {
			ev.Language = j.Result.Language
			ev.Mode = string(j.Result.Mode)
			ev.Segments = len(j.Result.Segments)
			if j.Result.Speakers != nil {
				ev.Speakers = j.Result.Summary()
			}
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("job_id", j.ID).Msg("marshal job event")
			return
		}
		topic := JobTopic(prefix, j.ID, ev.Status)
		if err := p.Publish(topic, payload); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("job event publish failed")
			return
		}
		metrics.MQTTPublishedTotal.Inc()
		log.Debug().Str("topic", topic).Msg("job event published")
	}
}
