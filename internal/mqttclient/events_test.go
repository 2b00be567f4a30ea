package mqttclient

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/align"
	"github.com/snarg/diarist/internal/pipeline"
)

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.err
}

func TestJobTopic(t *testing.T) {
	if got := JobTopic("diarist/", "abc", "completed"); got != "diarist/jobs/abc/completed" {
		t.Errorf("JobTopic = %q", got)
	}
}

func TestJobNotifier_Completed(t *testing.T) {
	labeled := align.Merge([]align.TranscriptSegment{
		{Start: 0, End: 3, Text: "Bonjour"},
		{Start: 3, End: 8, Text: "Salut"},
	}, nil)
	finished := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	job := pipeline.Job{
		ID:       "abc",
		Status:   pipeline.StatusCompleted,
		Source:   "api",
		Filename: "call.wav",
		Result: &pipeline.Result{
			Success:  true,
			Segments: labeled,
			Speakers: align.Aggregate(labeled),
			Language: "fr",
			Mode:     align.ModeAlternating,
		},
		FinishedAt: &finished,
	}

	pub := &fakePublisher{}
	NewJobNotifier(pub, "diarist", zerolog.Nop())(job)

	if len(pub.topics) != 1 || pub.topics[0] != "diarist/jobs/abc/completed" {
		t.Fatalf("topics = %v", pub.topics)
	}
	var ev JobEvent
	if err := json.Unmarshal(pub.payloads[0], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Segments != 2 || ev.Language != "fr" || ev.Mode != "alternating_fallback" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Speakers["SPEAKER_00"] != "0:00:03" || ev.Speakers["SPEAKER_01"] != "0:00:05" {
		t.Errorf("speakers = %v", ev.Speakers)
	}
}

func TestJobNotifier_FailedAndPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	notify := NewJobNotifier(pub, "diarist", zerolog.Nop())

	// Must not panic without a result, and must swallow the publish error.
	notify(pipeline.Job{ID: "x", Status: pipeline.StatusFailed, Error: "transcribe: boom"})

	if len(pub.topics) != 1 || pub.topics[0] != "diarist/jobs/x/failed" {
		t.Fatalf("topics = %v", pub.topics)
	}
	var ev JobEvent
	json.Unmarshal(pub.payloads[0], &ev)
	if ev.Error != "transcribe: boom" || ev.Speakers != nil {
		t.Errorf("event = %+v", ev)
	}
}
