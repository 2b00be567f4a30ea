// Package ingest watches an inbox directory and queues new recordings for
// processing, writing results next to them.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/api"
	"github.com/snarg/diarist/internal/pipeline"
)

const (
	// ResultSuffix is appended to a recording's file name, extension
	// included, for its JSON result.
	ResultSuffix = ".diarist.json"
	// TranscriptSuffix is appended for the plain-text transcript.
	TranscriptSuffix = ".txt"
)

// Enqueuer accepts uploads for async processing. *pipeline.WorkerPool
// implements it.
type Enqueuer interface {
	Enqueue(up pipeline.Upload, source string, done pipeline.DoneFunc) (pipeline.Job, error)
}

// WatcherOptions configures a FileWatcher.
type WatcherOptions struct {
	Dir       string
	OutputDir string // "" writes results alongside the recording
	Backfill  bool
	Debounce  time.Duration
	// RetryDelay is how long to wait before offering a file again when the
	// queue is full.
	RetryDelay time.Duration
	Queue      Enqueuer
	Log        zerolog.Logger
}

// FileWatcher monitors an inbox directory for new recordings and enqueues
// them on the job queue.
type FileWatcher struct {
	opts WatcherOptions
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	inFlight       map[string]bool
	stopped        bool

	// Stats
	filesQueued  atomic.Int64
	filesSkipped atomic.Int64
	filesFailed  atomic.Int64
	status       atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

// NewFileWatcher creates a watcher; call Start to begin watching.
func NewFileWatcher(opts WatcherOptions) *FileWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 10 * time.Second
	}
	fw := &FileWatcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		done:           make(chan struct{}),
		debounceTimers: make(map[string]*time.Timer),
		inFlight:       make(map[string]bool),
	}
	fw.status.Store("starting")
	return fw
}

// Start initializes the fsnotify watcher, adds all existing directories, and
// begins watching for new files. If backfill is enabled, recordings without
// a result are queued in a background goroutine.
func (fw *FileWatcher) Start() error {
	if err := os.MkdirAll(fw.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	if fw.opts.OutputDir != "" {
		if err := os.MkdirAll(fw.opts.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	// Walk the directory tree and add all directories to fsnotify.
	dirCount := 0
	err = filepath.WalkDir(fw.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil // continue walking
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.opts.Dir).
		Msg("file watcher initialized")

	go fw.watchLoop()

	if fw.opts.Backfill {
		go fw.backfill()
	} else {
		fw.status.Store("watching")
	}

	return nil
}

// Stop closes the fsnotify watcher and cancels pending debounce timers.
// Jobs already queued still complete and write their results.
func (fw *FileWatcher) Stop() {
	fw.debounceMu.Lock()
	if fw.stopped {
		fw.debounceMu.Unlock()
		return
	}
	fw.stopped = true
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.status.Store("stopped")
	close(fw.done)
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	fw.log.Info().
		Int64("files_queued", fw.filesQueued.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Int64("files_failed", fw.filesFailed.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (fw *FileWatcher) Status() *api.WatcherStatusData {
	s, _ := fw.status.Load().(string)
	return &api.WatcherStatusData{
		Status:       s,
		WatchDir:     fw.opts.Dir,
		FilesQueued:  fw.filesQueued.Load(),
		FilesSkipped: fw.filesSkipped.Load(),
		FilesFailed:  fw.filesFailed.Load(),
	}
}

// watchLoop is the main event loop that processes fsnotify events.
func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New directory: add it to the watch set so recordings dropped
			// into new subdirectories are seen.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.watcher.Add(event.Name); err != nil {
					fw.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
				} else {
					fw.log.Debug().Str("path", event.Name).Msg("watching new directory")
				}
				continue
			}

			if !isRecording(event.Name) {
				continue
			}

			fw.scheduleProcess(event.Name, fw.opts.Debounce)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess debounces file processing. This coalesces rapid
// Create+Write events and ensures the file is fully written before queuing.
func (fw *FileWatcher) scheduleProcess(path string, delay time.Duration) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if fw.stopped || fw.inFlight[path] {
		return
	}
	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(delay)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(delay, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		fw.enqueueFile(path)
	})
}

// enqueueFile queues a recording unless it already has a result or is
// already queued.
func (fw *FileWatcher) enqueueFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return // removed before the debounce fired
	}
	if fw.hasResult(path) {
		fw.filesSkipped.Add(1)
		return
	}

	fw.debounceMu.Lock()
	if fw.stopped || fw.inFlight[path] {
		fw.debounceMu.Unlock()
		return
	}
	fw.inFlight[path] = true
	fw.debounceMu.Unlock()

	job, err := fw.opts.Queue.Enqueue(pipeline.Upload{
		Filename:   filepath.Base(path),
		Path:       path,
		ReceivedAt: time.Now(),
	}, "watch", func(j pipeline.Job) { fw.finish(path, j) })
	if err != nil {
		fw.clearInFlight(path)
		if errors.Is(err, pipeline.ErrQueueFull) {
			fw.log.Warn().Str("path", path).Dur("retry_in", fw.opts.RetryDelay).Msg("job queue full, will retry")
			fw.scheduleProcess(path, fw.opts.RetryDelay)
			return
		}
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to queue recording")
		return
	}

	fw.filesQueued.Add(1)
	fw.log.Info().Str("path", path).Str("job_id", job.ID).Msg("recording queued")
}

// finish writes the job outcome next to the recording. Failed jobs get a
// result file too, so they are not picked up again by the next backfill.
func (fw *FileWatcher) finish(path string, j pipeline.Job) {
	defer fw.clearInFlight(path)

	if j.Status == pipeline.StatusFailed {
		fw.filesFailed.Add(1)
		fw.writeFile(fw.resultPath(path), mustJSON(map[string]any{"success": false, "error": j.Error}))
		return
	}
	if j.Result == nil {
		return
	}
	fw.writeFile(fw.resultPath(path), mustJSON(j.Result))
	fw.writeFile(fw.outputPath(path, TranscriptSuffix), []byte(j.Result.FullTranscript+"\n"))
}

func (fw *FileWatcher) clearInFlight(path string) {
	fw.debounceMu.Lock()
	delete(fw.inFlight, path)
	fw.debounceMu.Unlock()
}

func (fw *FileWatcher) hasResult(path string) bool {
	_, err := os.Stat(fw.resultPath(path))
	return err == nil
}

func (fw *FileWatcher) resultPath(path string) string {
	return fw.outputPath(path, ResultSuffix)
}

// outputPath maps a recording to an output file in OutputDir, or beside the
// recording when no output directory is set. The recording's extension stays
// in the name so a.wav and a.mp4 get separate results.
func (fw *FileWatcher) outputPath(path, suffix string) string {
	base := filepath.Base(path) + suffix
	if fw.opts.OutputDir == "" {
		return filepath.Join(filepath.Dir(path), base)
	}
	// Keep the inbox's subdirectory layout.
	rel, err := filepath.Rel(fw.opts.Dir, filepath.Dir(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = "."
	}
	return filepath.Join(fw.opts.OutputDir, rel, base)
}

// writeFile writes data atomically via temp file + rename.
func (fw *FileWatcher) writeFile(path string, data []byte) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fw.log.Error().Err(err).Str("path", path).Msg("failed to create output dir")
		return
	}
	tmp, err := os.CreateTemp(dir, ".diarist-*.tmp")
	if err != nil {
		fw.log.Error().Err(err).Str("path", path).Msg("failed to create output file")
		return
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpPath)
		fw.log.Error().Err(errors.Join(werr, cerr)).Str("path", path).Msg("failed to write output file")
		return
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		fw.log.Error().Err(err).Str("path", path).Msg("failed to write output file")
		return
	}
	fw.log.Debug().Str("path", path).Msg("output written")
}

// backfill scans the watch directory for recordings without a result and
// queues them oldest first.
func (fw *FileWatcher) backfill() {
	fw.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry

	_ = filepath.WalkDir(fw.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isRecording(path) {
			return nil
		}
		if fw.hasResult(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})

	// Sort oldest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	fw.log.Info().Int("files", len(files)).Msg("backfill starting")

	for _, f := range files {
		select {
		case <-fw.done:
			fw.log.Info().Msg("backfill interrupted by shutdown")
			return
		default:
		}
		fw.enqueueFile(f.path)
	}

	fw.status.Store("watching")
	fw.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}

// isRecording reports whether path looks like a recording to process. Hidden
// and temporary files are ignored.
func isRecording(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return pipeline.ExtensionAllowed(name)
}

func mustJSON(v any) []byte {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		b, _ = json.Marshal(map[string]any{"success": false, "error": err.Error()})
	}
	return append(b, '\n')
}
