package download

import (
	"context"
	"time"
)

// EventType names a job lifecycle transition
type EventType string

const (
	EventJobQueued    EventType = "job_queued"
	EventJobStarted   EventType = "job_started"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
)

// Event is emitted after every job transition, outside the queue lock.
// QueueLength and InFlight describe the queue right after the transition.
type Event struct {
	Type        EventType `json:"type"`
	Job         Job       `json:"job"`
	QueueLength int       `json:"queue_length"`
	InFlight    bool      `json:"in_flight"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier receives job events. Implementations run on the submitting or
// worker goroutine, must not block for long and must not call the queue's
// Submit or Cancel.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, e Event)

func (f NotifierFunc) Notify(ctx context.Context, e Event) {
	f(ctx, e)
}

// Notifiers fans an event out to each notifier in order
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, e Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// JobRecorder is the metrics sink fed by MetricsNotifier
type JobRecorder interface {
	IncCounter(name string)
	ObserveJobDuration(d time.Duration)
	SetDownloadQueueLength(length int64)
	SetJobsInFlight(n int64)
}

// MetricsNotifier translates events into counters and gauges
func MetricsNotifier(r JobRecorder) Notifier {
	return NotifierFunc(func(ctx context.Context, e Event) {
		r.IncCounter(string(e.Type))
		r.SetDownloadQueueLength(int64(e.QueueLength))
		inFlight := int64(0)
		if e.InFlight {
			inFlight = 1
		}
		r.SetJobsInFlight(inFlight)

		if e.Type == EventJobCompleted || e.Type == EventJobFailed {
			if d := e.Job.Duration(); d > 0 {
				r.ObserveJobDuration(d)
			}
		}
	})
}
