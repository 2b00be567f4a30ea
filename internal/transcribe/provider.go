package transcribe

import (
	"context"
	"fmt"

	"github.com/snarg/diarist/internal/align"
	"github.com/snarg/diarist/internal/config"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "whisper", "deepinfra", "elevenlabs"
	Model() string // model identifier for logs
}

// TranscribeOpts are per-request options. Zero-value fields are omitted from
// the request.
type TranscribeOpts struct {
	Temperature float64
	Language    string // ISO-639-1; empty = auto-detect
	Prompt      string
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string                    // detected or forced language code
	Duration float64                   // audio duration in seconds, 0 if unknown
	Segments []align.TranscriptSegment // ordered by start
}

// New builds the provider selected by STT_PROVIDER.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.STTProvider {
	case "whisper":
		return NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout), nil
	case "deepinfra":
		return NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, cfg.WhisperTimeout), nil
	case "elevenlabs":
		return NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.WhisperTimeout), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}
}
