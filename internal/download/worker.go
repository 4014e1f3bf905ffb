package download

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/ytdlpvpn/ytdlp-vpn/internal/errors"
	"github.com/ytdlpvpn/ytdlp-vpn/internal/logger"
)

// Worker drains a queue one job at a time. It is started lazily by the
// first submission and can be started and stopped explicitly by the host.
type Worker struct {
	queue *Queue
	idle  time.Duration
	wake  chan struct{}
	log   *logger.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
}

func newWorker(q *Queue, idle time.Duration) *Worker {
	return &Worker{
		queue: q,
		idle:  idle,
		wake:  make(chan struct{}, 1),
		log:   logger.Default().WithComponent("worker"),
	}
}

// Start launches the worker loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start() {
	w.ensure()
}

func (w *Worker) ensure() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	// A loop stopped moments ago may still be finishing its job; the new
	// loop waits for it so there is never more than one job in flight.
	prev := w.done

	ctx, cancel := context.WithCancel(context.Background())
	w.running = true
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.cancel = cancel

	go w.loop(ctx, prev, w.stopChan, w.done)

	w.log.Info(ctx, "worker started", map[string]interface{}{
		"idle_interval_ms": w.idle.Milliseconds(),
	})
}

// Stop asks the worker to exit after the job in flight and waits until it
// has. If ctx ends first the running job's context is cancelled, which
// kills its external command, and ctx.Err() is returned.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopChan)
	done, cancel := w.done, w.cancel
	w.mu.Unlock()

	select {
	case <-done:
		cancel()
		w.log.Info(ctx, "worker stopped gracefully")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		w.log.Warn(ctx, "worker shutdown timed out, in-flight job aborted")
		return ctx.Err()
	}
}

// IsRunning returns whether the worker loop is currently active
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// wakeUp cuts an idle wait short. It never blocks.
func (w *Worker) wakeUp() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) loop(ctx context.Context, prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if prev != nil {
		<-prev
	}

	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		job, ok := w.queue.next(ctx)
		if !ok {
			timer.Reset(w.idle)
			select {
			case <-stop:
				return
			case <-w.wake:
			case <-timer.C:
			}
			continue
		}

		jobCtx := apperrors.WithRequestID(ctx, apperrors.JobRequestID(job.ID))
		out := w.queue.process(jobCtx, job)
		w.queue.finish(jobCtx, job.ID, out)
	}
}
