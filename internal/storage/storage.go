package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/config"
)

// AudioStore abstracts upload storage backends.
type AudioStore interface {
	// Save stores audio data. key format: {YYYY-MM-DD}/{request-id}-{filename}
	Save(ctx context.Context, key string, r io.Reader, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// Open returns a reader for the audio file.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an audio file exists.
	Exists(ctx context.Context, key string) bool

	// Delete removes the audio file. Missing files are not an error.
	Delete(ctx context.Context, key string) error

	// Type returns "local" or "s3".
	Type() string
}

// New creates an AudioStore based on config. S3 is used when a bucket is
// configured; otherwise uploads stay under uploadDir. Returns an error if S3
// is configured but unreachable.
func New(cfg config.S3Config, uploadDir string, log zerolog.Logger) (AudioStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(uploadDir), nil
	}

	s3store := NewS3Store(cfg, log)

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces a client-supplied filename to a safe base name.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "audio"
	}
	if len(name) > 128 {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:128-len(ext)] + ext
	}
	return name
}

// Key builds the storage key for an upload received at t.
func Key(t time.Time, requestID, filename string) string {
	return t.UTC().Format("2006-01-02") + "/" + requestID + "-" + SanitizeFilename(filename)
}

// Materialize returns a local path for key. Files that exist only remotely
// are copied to a temp file, which the returned cleanup removes.
func Materialize(ctx context.Context, store AudioStore, key string) (string, func(), error) {
	noop := func() {}
	if p := store.LocalPath(key); p != "" {
		return p, noop, nil
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		return "", noop, fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "diarist-*"+path.Ext(key))
	if err != nil {
		return "", noop, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", noop, fmt.Errorf("fetch %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", noop, fmt.Errorf("close: %w", err)
	}
	return tmpPath, func() { os.Remove(tmpPath) }, nil
}
