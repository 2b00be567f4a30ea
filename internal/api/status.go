package api

// WatcherStatusData represents the status of the watch-folder ingester.
type WatcherStatusData struct {
	Status       string `json:"status"` // "starting", "backfilling", "watching", "stopped"
	WatchDir     string `json:"watch_dir"`
	FilesQueued  int64  `json:"files_queued"`
	FilesSkipped int64  `json:"files_skipped"`
	FilesFailed  int64  `json:"files_failed"`
}

// WatcherSource reports watcher state. *ingest.FileWatcher implements it;
// api owns the interface so ingest can import api without a cycle.
type WatcherSource interface {
	Status() *WatcherStatusData
}

// ConnectionSource reports whether a broker connection is up.
type ConnectionSource interface {
	IsConnected() bool
}
