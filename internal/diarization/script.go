package diarization

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/align"
)

// ScriptOptions configures a ScriptRunner.
type ScriptOptions struct {
	Python  string // interpreter, "python3" when empty
	Script  string
	HFToken string
	Timeout time.Duration
	Log     zerolog.Logger
}

// ScriptRunner runs a local diarization script once per file:
//
//	python3 <script> --audio <path>
//
// The script prints the JSON payload on stdout. HF_AUTH_TOKEN is passed
// through the environment.
type ScriptRunner struct {
	opts ScriptOptions
	log  zerolog.Logger
}

// NewScriptRunner creates a runner for the given script.
func NewScriptRunner(opts ScriptOptions) *ScriptRunner {
	if opts.Python == "" {
		opts.Python = "python3"
	}
	return &ScriptRunner{opts: opts, log: opts.Log}
}

// Name returns the backend name.
func (sr *ScriptRunner) Name() string { return "script" }

// Diarize runs the script and parses its stdout.
func (sr *ScriptRunner) Diarize(ctx context.Context, audioPath string) ([]align.SpeakerTurn, error) {
	if sr.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sr.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, sr.opts.Python, sr.opts.Script, "--audio", audioPath)
	cmd.Env = append(os.Environ(), "HF_AUTH_TOKEN="+sr.opts.HFToken)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if stderr.Len() > 0 {
		sr.log.Debug().Str("stderr", lastBytes(stderr.Bytes(), 2048)).Msg("diarization script output")
	}
	if err != nil {
		// A script that reports {"error": ...} before exiting non-zero.
		if _, perr := parsePayload(stdout.Bytes()); perr != nil && !errors.Is(perr, errNoPayload) {
			return nil, perr
		}
		return nil, fmt.Errorf("diarization script: %w: %s", err, lastBytes(stderr.Bytes(), 512))
	}

	turns, err := parsePayload(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	sr.log.Debug().
		Int("turns", len(turns)).
		Dur("elapsed", time.Since(start)).
		Msg("diarization script complete")
	return turns, nil
}

// Check verifies the interpreter, the script and the token are present.
func (sr *ScriptRunner) Check(ctx context.Context) error {
	if sr.opts.HFToken == "" {
		return errors.New("HF_AUTH_TOKEN not set")
	}
	if _, err := exec.LookPath(sr.opts.Python); err != nil {
		return fmt.Errorf("interpreter %q: %w", sr.opts.Python, err)
	}
	if _, err := os.Stat(sr.opts.Script); err != nil {
		return fmt.Errorf("diarization script: %w", err)
	}
	return nil
}

func lastBytes(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
