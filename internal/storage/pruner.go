package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadPruner evicts local uploads older than the retention period.
type UploadPruner struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewUploadPruner creates a pruner for dir. A zero retention disables it.
func NewUploadPruner(dir string, retention time.Duration, log zerolog.Logger) *UploadPruner {
	interval := time.Hour
	if retention > 0 && retention/4 < interval {
		interval = max(retention/4, time.Minute)
	}
	return &UploadPruner{
		dir:       dir,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "upload-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *UploadPruner) Start() {
	go p.loop()
}

func (p *UploadPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *UploadPruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.prune(time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			p.prune(now)
		case <-p.stop:
			return
		}
	}
}

// prune removes files modified before now-retention and returns how many
// were removed.
func (p *UploadPruner) prune(now time.Time) int {
	if p.retention <= 0 {
		return 0
	}

	cutoff := now.Add(-p.retention)
	var prunedCount int
	var prunedBytes int64

	filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		// In-flight atomic writes
		if strings.HasPrefix(d.Name(), ".audio-") {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			prunedCount++
			prunedBytes += info.Size()
		}
		return nil
	})

	p.removeEmptyDirs()

	if prunedCount > 0 {
		p.log.Info().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Msg("upload prune complete")
	}
	return prunedCount
}

// removeEmptyDirs drops empty date directories.
func (p *UploadPruner) removeEmptyDirs() {
	entries, _ := os.ReadDir(p.dir)
	for _, dateDir := range entries {
		if !dateDir.IsDir() {
			continue
		}
		datePath := filepath.Join(p.dir, dateDir.Name())
		remaining, _ := os.ReadDir(datePath)
		if len(remaining) == 0 {
			os.Remove(datePath)
		}
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
