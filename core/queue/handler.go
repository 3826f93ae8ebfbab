package queue

import (
	"context"
	"encoding/json"
	"sync"
)

type (
	// Handler defines the interface for job processors.
	// All job handlers must implement Name() to identify the job type
	// and Handle() to process the job payload.
	Handler interface {
		// Name returns the job type used for handler resolution.
		Name() string
		// Handle processes the job with the given payload.
		// The payload is provided as raw JSON and must be unmarshaled by the handler.
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// Resolver finds the handler for a job type.
	Resolver interface {
		Resolve(jobType string) (Handler, bool)
	}

	// JobHandlerFunc is a type-safe handler function.
	// The generic type T represents the expected payload structure.
	JobHandlerFunc[T any] func(ctx context.Context, payload T) error
)

// NewJobHandler creates a type-safe handler.
// The job type is derived from the payload type, matching NewJob.
func NewJobHandler[T any](handler JobHandlerFunc[T]) Handler {
	var payload T
	return &jobHandler[T]{
		name:    qualifiedStructName(payload),
		handler: handler,
	}
}

// NewNamedJobHandler creates a type-safe handler for an explicit job type, matching NewNamedJob.
func NewNamedJobHandler[T any](name string, handler JobHandlerFunc[T]) Handler {
	return &jobHandler[T]{
		name:    name,
		handler: handler,
	}
}

type jobHandler[T any] struct {
	name    string
	handler JobHandlerFunc[T]
}

func (h *jobHandler[T]) Name() string {
	return h.name
}

func (h *jobHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t); err != nil {
			return err
		}
	}
	return h.handler(ctx, t)
}

// Registry is a Resolver backed by a map of handlers keyed by job type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a registry holding the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register(handlers...)
	return r
}

// Register adds handlers, replacing any previous handler for the same job type.
// Nil handlers are ignored.
func (r *Registry) Register(handlers ...Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		r.handlers[h.Name()] = h
	}
}

// Resolve implements Resolver.
func (r *Registry) Resolve(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
