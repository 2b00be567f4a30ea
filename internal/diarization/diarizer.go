// Package diarization provides speaker-turn backends. A backend returns the
// turns of a recording in the order it produced them; label assignment is
// left to the align package.
package diarization

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/align"
	"github.com/snarg/diarist/internal/config"
)

// Diarizer produces speaker turns for an audio file.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]align.SpeakerTurn, error)
	Name() string
	// Check probes whether the backend can serve requests.
	Check(ctx context.Context) error
}

// New builds the backend selected by DIARIZATION_BACKEND. It returns a nil
// Diarizer for "none".
func New(cfg *config.Config, log zerolog.Logger) (Diarizer, error) {
	switch cfg.DiarizationBackend {
	case "", "none":
		return nil, nil
	case "service":
		return NewServiceClient(cfg.DiarizationURL, cfg.HFAuthToken, cfg.DiarizationTimeout), nil
	case "script":
		return NewScriptRunner(ScriptOptions{
			Python:  cfg.DiarizationPython,
			Script:  cfg.DiarizationScript,
			HFToken: cfg.HFAuthToken,
			Timeout: cfg.DiarizationTimeout,
			Log:     log.With().Str("component", "diarization").Logger(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown diarization backend %q", cfg.DiarizationBackend)
	}
}
