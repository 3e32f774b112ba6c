package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collectEvents drains n events or fails the test after a timeout.
func collectEvents(t *testing.T, ch <-chan Event[int], n int) []Event[int] {
	t.Helper()
	var events []Event[int]
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events channel closed after %d events, want %d", len(events), n)
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events, want %d", len(events), n)
		}
	}
	return events
}

func TestWorkerRunsJobsInOrder(t *testing.T) {
	var mu sync.Mutex
	var ran []int
	w := NewWorker(func(_ context.Context, job int) (any, error) {
		mu.Lock()
		ran = append(ran, job)
		mu.Unlock()
		return job * 10, nil
	}, testLogger())

	for _, j := range []int{1, 2, 3} {
		if !w.Enqueue(j) {
			t.Fatalf("Enqueue(%d) returned false", j)
		}
	}
	go w.Run(context.Background())

	events := collectEvents(t, w.Events(), 6)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 3 || ran[0] != 1 || ran[1] != 2 || ran[2] != 3 {
		t.Errorf("jobs ran out of order: %v", ran)
	}
	// Events alternate started/finished per job, in queue order.
	for i, j := range []int{1, 2, 3} {
		started, finished := events[2*i], events[2*i+1]
		if started.Type != EventStarted || started.Job != j {
			t.Errorf("event %d = %+v, want started %d", 2*i, started, j)
		}
		if finished.Type != EventFinished || finished.Job != j {
			t.Errorf("event %d = %+v, want finished %d", 2*i+1, finished, j)
		}
		if finished.Result != j*10 {
			t.Errorf("job %d result = %v, want %d", j, finished.Result, j*10)
		}
	}
}

func TestWorkerOneJobInFlight(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	w := NewWorker(func(_ context.Context, _ int) (any, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}, testLogger())

	go w.Run(context.Background())
	for i := 0; i < 5; i++ {
		w.Enqueue(i)
	}
	collectEvents(t, w.Events(), 10)
	w.Stop()

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("max in flight = %d, want 1", got)
	}
}

func TestWorkerFailureIsolation(t *testing.T) {
	boom := errors.New("boom")
	w := NewWorker(func(_ context.Context, job int) (any, error) {
		if job == 2 {
			return nil, boom
		}
		return nil, nil
	}, testLogger())

	go w.Run(context.Background())
	for _, j := range []int{1, 2, 3} {
		w.Enqueue(j)
	}
	events := collectEvents(t, w.Events(), 6)
	w.Stop()

	if events[3].Type != EventFailed || !errors.Is(events[3].Err, boom) {
		t.Errorf("job 2 event = %+v, want failed", events[3])
	}
	if events[5].Type != EventFinished || events[5].Job != 3 {
		t.Errorf("job 3 event = %+v, want finished", events[5])
	}
}

func TestWorkerStopDiscardsPending(t *testing.T) {
	release := make(chan struct{})
	var ran atomic.Int32
	w := NewWorker(func(_ context.Context, _ int) (any, error) {
		ran.Add(1)
		<-release
		return nil, nil
	}, testLogger())

	go w.Run(context.Background())
	for i := 0; i < 3; i++ {
		w.Enqueue(i)
	}

	// Wait until the first job is in flight.
	ev := <-w.Events()
	if ev.Type != EventStarted {
		t.Fatalf("first event = %+v, want started", ev)
	}

	stopDone := make(chan struct{})
	go func() {
		w.Stop()
		close(stopDone)
	}()

	// Stop clears the pending queue before waiting on the in-flight job.
	// Release the job only once that has happened, or the loop would drain
	// the remaining jobs first.
	waitUntil := time.Now().Add(5 * time.Second)
	for w.Len() != 0 {
		if time.Now().After(waitUntil) {
			t.Fatal("pending jobs were not discarded")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	if got := ran.Load(); got != 1 {
		t.Errorf("%d jobs ran, want 1 (pending discarded)", got)
	}
	if w.Len() != 0 {
		t.Errorf("Len = %d after Stop", w.Len())
	}
	if w.Enqueue(99) {
		t.Error("Enqueue succeeded after Stop")
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(func(_ context.Context, _ int) (any, error) {
		return nil, nil
	}, testLogger())

	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit on context cancel")
	}
	if w.Enqueue(1) {
		t.Error("Enqueue succeeded after context cancel")
	}
}

func TestWorkerLen(t *testing.T) {
	w := NewWorker(func(_ context.Context, _ int) (any, error) {
		return nil, nil
	}, testLogger())
	w.Enqueue(1)
	w.Enqueue(2)
	if got := w.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}
