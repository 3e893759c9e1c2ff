// Package registry maps job names to the code that runs them.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"agenda4go/internal/agenda"

	"github.com/cockroachdb/errors"
)

// Handler runs the payload for one job execution. Returning an error causes
// the engine to reschedule the job for retry (unless wrapped with
// agenda.NoRetry; agenda.RetryAfter sets the delay before that retry);
// returning nil marks it finished.
type Handler interface {
	Name() string
	Run(ctx context.Context, job *agenda.ScheduledJob, payload any) error
}

// Typed[T] adapts a strongly-typed callback into a Handler by round-tripping
// the job's Data map through JSON into T. This is Go's answer to a generic
// callback registered against a reified type token: the decode closure below
// captures T at registration time, so Lookup callers never need to know it.
type Typed[T any] struct {
	name string
	fn   func(ctx context.Context, job *agenda.ScheduledJob, payload T) error
}

// NewTyped builds a Handler for name that decodes each job's Data into T
// before invoking fn.
func NewTyped[T any](name string, fn func(ctx context.Context, job *agenda.ScheduledJob, payload T) error) *Typed[T] {
	return &Typed[T]{name: name, fn: fn}
}

func (h *Typed[T]) Name() string { return h.name }

func (h *Typed[T]) Run(ctx context.Context, job *agenda.ScheduledJob, payload any) error {
	var typed T
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return agenda.NoRetry(errors.Wrapf(err, "encode payload for job %q", h.name))
		}
		if err := json.Unmarshal(buf, &typed); err != nil {
			return agenda.NoRetry(errors.Wrapf(err, "decode payload for job %q into %T", h.name, typed))
		}
	}
	return h.fn(ctx, job, typed)
}

// Registry looks handlers up by name. It is built once at startup: Define
// fails fast on a duplicate name rather than silently shadowing the first
// registration, mirroring JobHandlerRegistry's construction-time
// Collectors.toUnmodifiableMap failure.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a Registry from zero or more handlers, returning
// agenda.ErrDuplicateHandler if any two share a name.
func New(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if err := r.Define(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Define adds a handler, failing if the name is already registered.
func (r *Registry) Define(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if name == "" {
		return errors.Mark(errors.Newf("handler has empty name"), agenda.ErrInvalidArgument)
	}
	if _, exists := r.handlers[name]; exists {
		return errors.Mark(fmt.Errorf("job name %q registered twice", name), agenda.ErrDuplicateHandler)
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler for name, or agenda.ErrUnknownHandler.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, errors.Mark(errors.Newf("no handler registered for job %q", name), agenda.ErrUnknownHandler)
	}
	return h, nil
}

// Names returns every registered job name, for diagnostics/snapshotting.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
