package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/diarist/internal/metrics"
)

// Runner processes one upload. *Processor implements it.
type Runner interface {
	Process(ctx context.Context, up Upload) (*Result, error)
}

// JobStatus is the lifecycle state of an async job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Finished reports whether the job reached a terminal status.
func (s JobStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("job queue is stopped")
	ErrDuplicate = errors.New("job id already exists")
)

// Job is a snapshot of an async job.
type Job struct {
	ID         string     `json:"id"`
	Status     JobStatus  `json:"status"`
	Source     string     `json:"source"` // "api" or "watch"
	Filename   string     `json:"filename"`
	Error      string     `json:"error,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// DoneFunc is called once a job reaches a terminal status.
type DoneFunc func(Job)

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Active    int   `json:"active"`
	Tracked   int   `json:"tracked"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// WorkerPoolOptions configures the job worker pool.
type WorkerPoolOptions struct {
	Runner    Runner
	Workers   int
	QueueSize int
	// JobTimeout bounds a single job; zero means no limit.
	JobTimeout time.Duration
	// Retention is how long finished jobs stay queryable; zero keeps them
	// until shutdown.
	Retention time.Duration
	// Notify, when set, is called for every finished job after its own DoneFunc.
	Notify DoneFunc
	Log    zerolog.Logger
}

type queuedJob struct {
	id     string
	upload Upload
	done   DoneFunc
}

// WorkerPool runs uploads asynchronously on a fixed number of workers and
// tracks their status.
type WorkerPool struct {
	queue  chan queuedJob
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*Job
	started bool
	stopped bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewWorkerPool creates a new job worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:     make(chan queuedJob, opts.QueueSize),
		opts:      opts,
		log:       opts.Log.With().Str("component", "jobs").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*Job),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Start launches the worker goroutines and the retention sweep.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	wp.started = true
	wp.mu.Unlock()
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	go wp.sweepLoop()
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("job worker pool started")
}

// Stop rejects new jobs, lets workers drain the queue and waits for them.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	started := wp.started
	close(wp.queue)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.cancel()
	close(wp.sweepStop)
	if started {
		<-wp.sweepDone
	}
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("job worker pool stopped")
}

// Enqueue adds an upload to the queue and returns its queued snapshot.
// done may be nil. Returns ErrQueueFull, ErrStopped or ErrDuplicate (the
// upload's RequestID is already tracked) when the job is not accepted.
func (wp *WorkerPool) Enqueue(up Upload, source string, done DoneFunc) (Job, error) {
	id := up.RequestID
	if id == "" {
		id = uuid.NewString()
		up.RequestID = id
	}
	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		Source:    source,
		Filename:  up.Filename,
		CreatedAt: time.Now().UTC(),
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.stopped {
		return Job{}, ErrStopped
	}
	if _, ok := wp.jobs[id]; ok {
		return Job{}, ErrDuplicate
	}
	select {
	case wp.queue <- queuedJob{id: id, upload: up, done: done}:
	default:
		return Job{}, ErrQueueFull
	}
	wp.jobs[id] = job
	metrics.JobsTotal.WithLabelValues(string(StatusQueued)).Inc()
	return *job, nil
}

// Get returns a snapshot of the job with the given id.
func (wp *WorkerPool) Get(id string) (Job, bool) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	j, ok := wp.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   wp.Pending(),
		Active:    wp.Active(),
		Tracked:   wp.Tracked(),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// Pending returns the number of jobs waiting for a worker.
func (wp *WorkerPool) Pending() int { return len(wp.queue) }

// Active returns the number of jobs being processed.
func (wp *WorkerPool) Active() int { return int(wp.active.Load()) }

// Tracked returns the number of jobs in the status store.
func (wp *WorkerPool) Tracked() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return len(wp.jobs)
}

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int { return wp.opts.Workers }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for qj := range wp.queue {
		wp.run(log, qj)
	}
}

func (wp *WorkerPool) run(log zerolog.Logger, qj queuedJob) {
	wp.active.Add(1)
	defer wp.active.Add(-1)

	started := time.Now().UTC()
	wp.update(qj.id, func(j *Job) {
		j.Status = StatusProcessing
		j.StartedAt = &started
	})

	ctx := wp.ctx
	if wp.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
		defer cancel()
	}

	res, err := wp.opts.Runner.Process(ctx, qj.upload)

	finished := time.Now().UTC()
	snap := wp.update(qj.id, func(j *Job) {
		j.FinishedAt = &finished
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusCompleted
		j.Result = res
	})

	if err != nil {
		wp.failed.Add(1)
		log.Warn().Err(err).Str("job_id", qj.id).Str("filename", qj.upload.Filename).Msg("job failed")
	} else {
		wp.completed.Add(1)
		log.Debug().Str("job_id", qj.id).Dur("elapsed", finished.Sub(started)).Msg("job complete")
	}
	metrics.JobsTotal.WithLabelValues(string(snap.Status)).Inc()

	if qj.done != nil {
		qj.done(snap)
	}
	if wp.opts.Notify != nil {
		wp.opts.Notify(snap)
	}
}

// update applies fn to the tracked job and returns the new snapshot.
func (wp *WorkerPool) update(id string, fn func(*Job)) Job {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	j, ok := wp.jobs[id]
	if !ok {
		// Swept while running; track it again so the final state is visible.
		j = &Job{ID: id}
		wp.jobs[id] = j
	}
	fn(j)
	return *j
}

func (wp *WorkerPool) sweepLoop() {
	defer close(wp.sweepDone)
	if wp.opts.Retention <= 0 {
		<-wp.sweepStop
		return
	}

	interval := min(wp.opts.Retention/2, time.Minute)
	interval = max(interval, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := wp.sweep(now); n > 0 {
				wp.log.Debug().Int("removed", n).Msg("expired jobs removed")
			}
		case <-wp.sweepStop:
			return
		}
	}
}

// sweep removes finished jobs that finished before now-Retention.
func (wp *WorkerPool) sweep(now time.Time) int {
	cutoff := now.Add(-wp.opts.Retention)
	wp.mu.Lock()
	defer wp.mu.Unlock()
	n := 0
	for id, j := range wp.jobs {
		if j.Status.Finished() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(wp.jobs, id)
			n++
		}
	}
	return n
}
