package transcribe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// CheckSox reports whether sox is in PATH. The lookup runs once.
var CheckSox = sync.OnceValue(func() bool {
	_, err := exec.LookPath("sox")
	return err == nil
})

// Preprocess converts audio to what Whisper models expect using sox:
//   - Resample to 16kHz mono
//   - Highpass at 80Hz to drop rumble and mains hum
//   - Normalize volume
//
// Returns the path to a temporary WAV file and a cleanup function.
// If sox is unavailable, returns the original path with a no-op cleanup.
func Preprocess(ctx context.Context, inputPath string) (string, func(), error) {
	noop := func() {}

	if !CheckSox() {
		return inputPath, noop, nil
	}

	tmp, err := os.CreateTemp("", "diarist-preprocess-*.wav")
	if err != nil {
		return inputPath, noop, fmt.Errorf("create temp file: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()

	cmd := exec.CommandContext(ctx, "sox",
		inputPath, outPath,
		"rate", "16000",
		"channels", "1",
		"highpass", "80",
		"norm",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return inputPath, noop, fmt.Errorf("sox preprocess: %w: %s", err, out)
	}

	cleanup := func() {
		os.Remove(outPath)
	}
	return outPath, cleanup, nil
}
