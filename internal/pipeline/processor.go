// Package pipeline runs a recording through transcription, diarization and
// speaker alignment, synchronously or through a bounded job queue.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/align"
	"github.com/snarg/diarist/internal/diarization"
	"github.com/snarg/diarist/internal/metrics"
	"github.com/snarg/diarist/internal/storage"
	"github.com/snarg/diarist/internal/transcribe"
)

// Upload is one recording to process. Exactly one source is used, checked in
// this order: Path names a local file processed in place, Key names an
// already stored upload, Body is stored before processing.
type Upload struct {
	RequestID   string
	Filename    string
	ContentType string
	Path        string
	Key         string
	Body        io.Reader
	ReceivedAt  time.Time
}

// Result is the outcome of processing a recording.
type Result struct {
	Success         bool                   `json:"success"`
	FullTranscript  string                 `json:"full_transcript"`
	Speakers        *align.Speakers        `json:"speakers"`
	Segments        []align.LabeledSegment `json:"segments"`
	Language        string                 `json:"language"`
	Mode            align.Mode             `json:"mode"`
	LanguageRetried bool                   `json:"language_retried"`
}

// ProcessorOptions configures a Processor. Diarizer may be nil, in which case
// speakers are assigned by the alternating fallback.
type ProcessorOptions struct {
	Store             storage.AudioStore
	STT               transcribe.Provider
	Diarizer          diarization.Diarizer
	Preprocess        bool
	PreferredLanguage string
	Temperature       float64
	Log               zerolog.Logger
}

// Processor runs the transcription and alignment pipeline. It holds no
// per-request state and is safe for concurrent use.
type Processor struct {
	opts ProcessorOptions
	log  zerolog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(opts ProcessorOptions) *Processor {
	if opts.Preprocess && !transcribe.CheckSox() {
		opts.Log.Warn().Msg("PREPROCESS_AUDIO=true but sox not found in PATH; preprocessing disabled")
		opts.Preprocess = false
	}
	return &Processor{
		opts: opts,
		log:  opts.Log.With().Str("component", "processor").Logger(),
	}
}

// DiarizationEnabled reports whether a diarization backend is wired.
func (p *Processor) DiarizationEnabled() bool { return p.opts.Diarizer != nil }

// Process runs one recording through the pipeline.
func (p *Processor) Process(ctx context.Context, up Upload) (*Result, error) {
	res, err := p.process(ctx, up)
	if err != nil {
		metrics.RecordingsProcessedTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RecordingsProcessedTotal.WithLabelValues("success").Inc()
	return res, nil
}

func (p *Processor) process(ctx context.Context, up Upload) (*Result, error) {
	start := time.Now()
	log := p.log.With().Str("request_id", up.RequestID).Str("filename", up.Filename).Logger()

	// 1. Resolve a local audio file
	audioPath, cleanup, err := p.localAudio(ctx, up)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// 2. Audio preprocessing (optional)
	transcribePath := audioPath
	if p.opts.Preprocess {
		t := time.Now()
		processed, cleanupPre, err := transcribe.Preprocess(ctx, audioPath)
		observeStage("preprocess", t)
		if err != nil {
			log.Warn().Err(err).Msg("preprocessing failed, using original audio")
		} else {
			transcribePath = processed
			defer cleanupPre()
		}
	}

	// 3. Transcribe, retrying with the preferred language when detection disagrees
	t := time.Now()
	stt, retried, err := transcribe.TranscribePreferred(ctx, p.opts.STT, transcribePath,
		transcribe.TranscribeOpts{Temperature: p.opts.Temperature}, p.opts.PreferredLanguage)
	observeStage("transcribe", t)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if retried {
		metrics.LanguageRetriesTotal.Inc()
		log.Info().Str("preferred", p.opts.PreferredLanguage).Msg("detected language differs, transcribed again with preferred language")
	}

	// 4. Diarize. The original audio is used; preprocessing targets the STT model.
	var d *align.Diarization
	if p.opts.Diarizer != nil {
		t := time.Now()
		turns, err := p.opts.Diarizer.Diarize(ctx, audioPath)
		observeStage("diarize", t)
		if err != nil {
			return nil, fmt.Errorf("diarize: %w", err)
		}
		d = &align.Diarization{Turns: turns}
	}

	// 5. Align and aggregate
	labeled, mode, ids := align.MergeWithMode(stt.Segments, d)
	metrics.SegmentsLabeledTotal.WithLabelValues(string(mode)).Add(float64(len(labeled)))

	res := &Result{
		Success:         true,
		FullTranscript:  align.FormatTranscript(labeled),
		Speakers:        align.Aggregate(labeled),
		Segments:        labeled,
		Language:        stt.Language,
		Mode:            mode,
		LanguageRetried: retried,
	}

	log.Info().
		Str("provider", p.opts.STT.Name()).
		Str("language", stt.Language).
		Str("mode", string(mode)).
		Strs("diarized_speakers", ids).
		Int("segments", len(labeled)).
		Int("speakers", res.Speakers.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("recording processed")

	return res, nil
}

// localAudio stores the upload when it carries a body and returns a local
// path for the recording.
func (p *Processor) localAudio(ctx context.Context, up Upload) (string, func(), error) {
	noop := func() {}
	if up.Path != "" {
		return up.Path, noop, nil
	}
	if up.Key == "" {
		stored, err := p.Store(ctx, up)
		if err != nil {
			return "", noop, err
		}
		up = stored
	}

	path, cleanup, err := storage.Materialize(ctx, p.opts.Store, up.Key)
	if err != nil {
		return "", noop, fmt.Errorf("fetch upload: %w", err)
	}
	return path, cleanup, nil
}

// Store saves the upload body and returns the upload with Key set and Body
// cleared, ready to be processed after the request that carried it is gone.
func (p *Processor) Store(ctx context.Context, up Upload) (Upload, error) {
	if up.Body == nil {
		return up, fmt.Errorf("upload has no body")
	}
	if up.ReceivedAt.IsZero() {
		up.ReceivedAt = time.Now()
	}
	key := storage.Key(up.ReceivedAt, up.RequestID, up.Filename)

	t := time.Now()
	if err := p.opts.Store.Save(ctx, key, up.Body, up.ContentType); err != nil {
		return up, fmt.Errorf("store upload: %w", err)
	}
	observeStage("store", t)

	up.Key = key
	up.Body = nil
	return up, nil
}

// Discard removes an upload saved by Store that will not be processed.
func (p *Processor) Discard(ctx context.Context, key string) error {
	if err := p.opts.Store.Delete(ctx, key); err != nil {
		return fmt.Errorf("discard upload: %w", err)
	}
	return nil
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Summary maps each speaker to its formatted speaking time, for compact event
// payloads.
func (r *Result) Summary() map[string]string {
	out := make(map[string]string, r.Speakers.Len())
	for _, id := range r.Speakers.IDs() {
		out[id] = r.Speakers.Get(id).Duration
	}
	return out
}

// ExtensionAllowed reports whether filename has an audio extension the
// pipeline accepts.
func ExtensionAllowed(filename string) bool {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return false
	}
	_, ok := AudioExtensions[strings.ToLower(filename[i:])]
	return ok
}

// AudioExtensions are the recording formats accepted for processing.
var AudioExtensions = map[string]string{
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
}
