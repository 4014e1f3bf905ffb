package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ytdlpvpn/ytdlp-vpn/internal/location"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

const (
	// DefaultHistoryWindow is how many finished jobs Status reports
	DefaultHistoryWindow = 10
	// DefaultIdleInterval is how long the worker waits on an empty backlog
	DefaultIdleInterval = 1 * time.Second
)

// ErrURLRequired is returned by Submit for a blank URL
var ErrURLRequired = errors.New("url is required")

// Processor runs a single job to completion. It must always return an
// outcome; the queue recovers panics but a well-behaved processor never
// lets one escape.
type Processor interface {
	Process(ctx context.Context, job Job) Outcome
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, job Job) Outcome

func (f ProcessorFunc) Process(ctx context.Context, job Job) Outcome {
	return f(ctx, job)
}

// Config holds queue and worker settings
type Config struct {
	HistoryWindow int
	IdleInterval  time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HistoryWindow: DefaultHistoryWindow,
		IdleInterval:  DefaultIdleInterval,
	}
}

// Snapshot is a consistent copy of the queue at one instant
type Snapshot struct {
	Current       *Job  `json:"current"`
	Queued        []Job `json:"queued"`
	RecentHistory []Job `json:"recent_history"`
	WorkerRunning bool  `json:"worker_running"`
}

// Queue holds the backlog, the in-flight slot and the history of one
// process. A single mutex guards all three plus the id counter and every
// job's lifecycle fields; it is never held while a job is processed.
type Queue struct {
	// emitMu is taken before mu by every mutation and held until its event
	// has been delivered, so notifiers see transitions in order.
	emitMu sync.Mutex

	mu      sync.Mutex
	backlog []*Job
	current *Job
	history []*Job
	nextID  int64

	window    int
	processor Processor
	notifier  Notifiers
	worker    *Worker
	log       *logger.Logger
}

// NewQueue creates an empty queue whose worker is not yet running.
// A nil cfg uses DefaultConfig.
func NewQueue(cfg *Config, processor Processor, notifiers ...Notifier) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	idle := cfg.IdleInterval
	if idle <= 0 {
		idle = DefaultIdleInterval
	}

	q := &Queue{
		nextID:    1,
		window:    window,
		processor: processor,
		notifier:  Notifiers(notifiers),
		log:       logger.Default().WithComponent("queue"),
	}
	q.worker = newWorker(q, idle)
	return q
}

// Worker returns the queue's worker for lifecycle control
func (q *Queue) Worker() *Worker {
	return q.worker
}

// Submit appends a new job to the backlog, starts the worker if it is not
// running and returns a snapshot of the queued job.
func (q *Queue) Submit(ctx context.Context, req Request) (Job, error) {
	if strings.TrimSpace(req.URL) == "" {
		return Job{}, ErrURLRequired
	}

	format := req.FormatSpec
	if format == "" {
		format = DefaultFormat
	}

	var country string
	if req.AutoVPN {
		country = location.DetectCountry(req.URL)
	}

	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	job := &Job{
		ID:              q.nextID,
		URL:             req.URL,
		AutoVPN:         req.AutoVPN,
		PreferredCity:   req.PreferredCity,
		OutputDir:       req.OutputDir,
		FormatSpec:      format,
		Status:          StatusQueued,
		AddedAt:         time.Now(),
		DetectedCountry: country,
	}
	q.nextID++
	q.backlog = append(q.backlog, job)
	snap := job.snapshot()
	ev := q.eventLocked(EventJobQueued, snap)
	q.mu.Unlock()

	q.log.Info(ctx, "job queued", map[string]interface{}{
		"job_id":           snap.ID,
		"url":              snap.URL,
		"detected_country": country,
	})
	q.notify(ctx, ev)

	q.worker.ensure()
	q.worker.wakeUp()

	return snap, nil
}

// Status returns the in-flight job, the backlog in order and the most
// recent history entries, oldest first.
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Queued:        make([]Job, 0, len(q.backlog)),
		RecentHistory: make([]Job, 0, min(len(q.history), q.window)),
		WorkerRunning: q.worker.IsRunning(),
	}
	if q.current != nil {
		c := q.current.snapshot()
		snap.Current = &c
	}
	for _, j := range q.backlog {
		snap.Queued = append(snap.Queued, j.snapshot())
	}
	start := len(q.history) - q.window
	if start < 0 {
		start = 0
	}
	for _, j := range q.history[start:] {
		snap.RecentHistory = append(snap.RecentHistory, j.snapshot())
	}
	return snap
}

// Get returns a copy of the job with the given id wherever it currently is
func (q *Queue) Get(id int64) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.ID == id {
		return q.current.snapshot(), true
	}
	for _, j := range q.backlog {
		if j.ID == id {
			return j.snapshot(), true
		}
	}
	for _, j := range q.history {
		if j.ID == id {
			return j.snapshot(), true
		}
	}
	return Job{}, false
}

// Cancel removes a job that has not started yet and records it as failed.
// In-flight and finished jobs are left untouched and false is returned.
func (q *Queue) Cancel(ctx context.Context, id int64) bool {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	idx := -1
	for i, j := range q.backlog {
		if j.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}

	job := q.backlog[idx]
	q.backlog = append(q.backlog[:idx], q.backlog[idx+1:]...)
	now := time.Now()
	job.Status = StatusFailed
	job.Error = CancelledMessage
	job.ErrorCode = CodeCancelled
	job.CompletedAt = &now
	q.history = append(q.history, job)
	ev := q.eventLocked(EventJobCancelled, job.snapshot())
	q.mu.Unlock()

	q.log.Info(ctx, "job cancelled", map[string]interface{}{"job_id": id})
	q.notify(ctx, ev)
	return true
}

// ClearHistory drops every finished job and returns how many were removed.
// The backlog and the in-flight job are not affected.
func (q *Queue) ClearHistory(ctx context.Context) int {
	q.mu.Lock()
	n := len(q.history)
	q.history = nil
	q.mu.Unlock()

	q.log.Info(ctx, "history cleared", map[string]interface{}{"removed": n})
	return n
}

// next moves the head of the backlog into the in-flight slot.
// The slot must be empty; there is only one worker.
func (q *Queue) next(ctx context.Context) (Job, bool) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	if len(q.backlog) == 0 {
		q.mu.Unlock()
		return Job{}, false
	}

	job := q.backlog[0]
	q.backlog[0] = nil
	q.backlog = q.backlog[1:]
	now := time.Now()
	job.Status = StatusDownloading
	job.StartedAt = &now
	q.current = job
	snap := job.snapshot()
	ev := q.eventLocked(EventJobStarted, snap)
	q.mu.Unlock()

	q.log.Info(ctx, "job started", map[string]interface{}{
		"job_id": snap.ID,
		"url":    snap.URL,
	})
	q.notify(ctx, ev)
	return snap, true
}

// finish records the outcome on the in-flight job and moves it to history
func (q *Queue) finish(ctx context.Context, id int64, out Outcome) {
	q.emitMu.Lock()
	defer q.emitMu.Unlock()

	q.mu.Lock()
	job := q.current
	if job == nil || job.ID != id {
		q.mu.Unlock()
		q.log.Error(ctx, "finished job is not in flight", nil, map[string]interface{}{"job_id": id})
		return
	}

	now := time.Now()
	job.CompletedAt = &now
	job.VPNConfig = out.VPNConfig
	evType := EventJobCompleted
	if out.Failed() {
		job.Status = StatusFailed
		job.Error = out.Error
		job.ErrorCode = out.Code
		if job.ErrorCode == "" {
			job.ErrorCode = CodeInternal
		}
		evType = EventJobFailed
	} else {
		job.Status = StatusCompleted
		job.Result = out.Result
		if job.Result == "" {
			job.Result = "Download successful!"
		}
	}
	q.history = append(q.history, job)
	q.current = nil
	snap := job.snapshot()
	ev := q.eventLocked(evType, snap)
	q.mu.Unlock()

	fields := map[string]interface{}{
		"job_id":      snap.ID,
		"status":      string(snap.Status),
		"duration_ms": snap.Duration().Milliseconds(),
	}
	if snap.ErrorCode != "" {
		fields["error_code"] = string(snap.ErrorCode)
	}
	q.log.Info(ctx, "job finished", fields)
	q.notify(ctx, ev)
}

// process runs the job, converting an escaped panic into a failure
func (q *Queue) process(ctx context.Context, job Job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error(ctx, "job processing panicked", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"job_id": job.ID,
			})
			out = Outcome{Error: fmt.Sprintf("Error: %v", r), Code: CodeInternal}
		}
	}()

	if q.processor == nil {
		return Outcome{Error: "Error: no processor configured", Code: CodeInternal}
	}
	return q.processor.Process(ctx, job)
}

func (q *Queue) eventLocked(t EventType, job Job) Event {
	return Event{
		Type:        t,
		Job:         job,
		QueueLength: len(q.backlog),
		InFlight:    q.current != nil,
		Timestamp:   time.Now(),
	}
}

func (q *Queue) notify(ctx context.Context, ev Event) {
	if len(q.notifier) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error(ctx, "event notifier panicked", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"event": string(ev.Type),
			})
		}
	}()
	q.notifier.Notify(ctx, ev)
}
