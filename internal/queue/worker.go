// Package queue runs jobs one at a time on a single background goroutine.
// Enqueueing never blocks; observers follow progress on the events channel.
package queue

import (
	"context"
	"log/slog"
	"sync"
)

type EventType int

const (
	EventStarted EventType = iota
	EventFinished
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event reports one state change of a job. Result is set on EventFinished,
// Err on EventFailed.
type Event[J any] struct {
	Type   EventType
	Job    J
	Result any
	Err    error
}

// Runner executes one job. The returned value is forwarded on the finished
// event; a non-nil error fails the job without touching later jobs.
type Runner[J any] func(ctx context.Context, job J) (any, error)

// Worker owns a FIFO queue drained by a single goroutine, so at most one job
// is ever in flight.
type Worker[J any] struct {
	run    Runner[J]
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []J
	stopped bool
	running bool

	events chan Event[J]
	done   chan struct{}
}

func NewWorker[J any](run Runner[J], logger *slog.Logger) *Worker[J] {
	w := &Worker[J]{
		run:    run,
		logger: logger,
		events: make(chan Event[J], 64),
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Enqueue appends a job to the queue and returns immediately. It reports
// false once the worker has been stopped.
func (w *Worker[J]) Enqueue(job J) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.pending = append(w.pending, job)
	w.cond.Signal()
	return true
}

// Len returns the number of jobs waiting to run, excluding the one in flight.
func (w *Worker[J]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Events exposes job state changes. The channel is buffered and slow
// consumers lose events rather than stalling the worker; it is closed when
// the run loop exits.
func (w *Worker[J]) Events() <-chan Event[J] {
	return w.events
}

// Stop lets the in-flight job finish, discards everything still pending, and
// waits for the run loop to exit. Safe to call more than once.
func (w *Worker[J]) Stop() {
	running := w.halt()
	if running {
		<-w.done
	}
}

// halt marks the worker stopped without waiting, so it is safe to call from
// the run loop's own context watcher.
func (w *Worker[J]) halt() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.pending = nil
	w.cond.Broadcast()
	return w.running
}

// Run drains the queue until Stop is called or ctx is cancelled. It must be
// called at most once.
func (w *Worker[J]) Run(ctx context.Context) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		close(w.done)
		close(w.events)
		return
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		close(w.done)
		close(w.events)
	}()

	cancelWatch := context.AfterFunc(ctx, func() { w.halt() })
	defer cancelWatch()

	for {
		w.mu.Lock()
		for len(w.pending) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		job := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		w.emit(Event[J]{Type: EventStarted, Job: job})
		result, err := w.run(ctx, job)
		if err != nil {
			w.logger.Error("job failed", "error", err)
			w.emit(Event[J]{Type: EventFailed, Job: job, Err: err})
			continue
		}
		w.emit(Event[J]{Type: EventFinished, Job: job, Result: result})
	}
}

func (w *Worker[J]) emit(ev Event[J]) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("worker event dropped", "event", ev.Type.String())
	}
}
