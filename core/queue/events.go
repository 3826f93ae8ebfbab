package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// EventType identifies a point in the worker lifecycle or the job pipeline.
type EventType string

const (
	EventWorkerStart    EventType = "worker.start"
	EventWorkerPaused   EventType = "worker.paused"
	EventWorkerUnpaused EventType = "worker.unpaused"
	EventWorkerStopping EventType = "worker.stopping"
	EventWorkerStopped  EventType = "worker.stopped"
	EventWorkerError    EventType = "worker.error"

	EventPoll     EventType = "job.poll"
	EventProcess  EventType = "job.process"
	EventExecute  EventType = "job.execute"
	EventJobStart EventType = "job.start"
	EventSuccess  EventType = "job.success"
	EventFailure  EventType = "job.failure"
	EventSkipped  EventType = "job.skipped"
)

// Vetoable reports whether listeners may cancel the step announced by the event.
func (t EventType) Vetoable() bool {
	return t == EventPoll || t == EventProcess || t == EventExecute
}

// Event describes what a worker is about to do or has just done.
type Event struct {
	Type      EventType
	Worker    string
	Queue     string     // queue or channel name, empty for worker events
	Execution *Execution // nil for worker and poll events
	Err       error      // failure cause for EventFailure and EventWorkerError
	At        time.Time
}

// Decision is the answer of a listener.
type Decision int

const (
	// Continue lets the worker proceed.
	Continue Decision = iota
	// Veto cancels the announced step. It is ignored for events that are not vetoable.
	Veto
)

// Listener observes worker events. Listeners run synchronously in registration
// order, on the worker goroutine for job events and on the caller's goroutine
// for events raised by Stop, Pause and Unpause. A slow listener slows the worker down.
type Listener func(ctx context.Context, evt Event) Decision

// Observe adapts a function that never vetoes into a Listener.
func Observe(fn func(ctx context.Context, evt Event)) Listener {
	return func(ctx context.Context, evt Event) Decision {
		fn(ctx, evt)
		return Continue
	}
}

type subscription struct {
	types []EventType // empty means every event
	fn    Listener
}

// listeners is an ordered list of subscriptions.
type listeners struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

func (l *listeners) add(fn Listener, types ...EventType) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, subscription{types: types, fn: fn})
}

// emit invokes matching listeners in order. The first veto of a vetoable event
// stops the remaining listeners from being called.
func (l *listeners) emit(ctx context.Context, evt Event) Decision {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	l.mu.RLock()
	subs := l.subs
	l.mu.RUnlock()

	for _, s := range subs {
		if len(s.types) > 0 && !slices.Contains(s.types, evt.Type) {
			continue
		}
		if l.call(ctx, s.fn, evt) == Veto && evt.Type.Vetoable() {
			return Veto
		}
	}
	return Continue
}

// call runs one listener; a panicking listener counts as Continue.
func (l *listeners) call(ctx context.Context, fn Listener, evt Event) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Continue
			l.logger.ErrorContext(ctx, "event listener panicked",
				logger.Event(string(evt.Type)),
				logger.Worker(evt.Worker),
				slog.String("panic", fmt.Sprint(r)),
				logger.Stack())
		}
	}()
	return fn(ctx, evt)
}
