package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/finbase/stockpulse/pkg/control"
	"github.com/finbase/stockpulse/pkg/types"
)

// RunContext is everything a stage sees while executing one module
type RunContext struct {
	TaskID    string
	SessionID string
	Request   types.AnalysisRequest

	// State accumulates outputs across stages; each stage's returned map
	// is merged into it by the runner
	State map[string]any

	// Handle carries the task's stop latch and pause gate; stages park
	// at it before any slow work
	Handle *control.Handle

	// Report surfaces intra-stage activity to the progress tracker
	Report func(message string, node types.NodeStatus)

	// CachedOutput looks up an acceptable prior-run output for a node;
	// nil until the runner wires it
	CachedOutput func(node string) (map[string]any, bool)
}

// Stage executes one pipeline module and returns its output fragment
type Stage func(ctx context.Context, rc *RunContext) (map[string]any, error)

// Error wraps a stage failure. Recoverable failures fail the stage but
// let the pipeline continue; fatal ones fail the task.
type Error struct {
	Module      string
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	kind := "fatal"
	if e.Recoverable {
		kind = "recoverable"
	}
	return fmt.Sprintf("%s failure in %s: %v", kind, e.Module, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverablef builds a recoverable stage error
func Recoverablef(module, format string, args ...any) error {
	return &Error{Module: module, Recoverable: true, Err: fmt.Errorf(format, args...)}
}

// Fatalf builds a fatal stage error
func Fatalf(module, format string, args ...any) error {
	return &Error{Module: module, Recoverable: false, Err: fmt.Errorf(format, args...)}
}

// IsRecoverable reports whether a stage error allows the pipeline to
// continue past the failed module.
func IsRecoverable(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Recoverable
}

// Registry maps module names to their stage implementations
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register binds a stage to a module name, replacing any prior binding
func (r *Registry) Register(module string, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[module] = stage
}

// Unregister removes a module's stage binding
func (r *Registry) Unregister(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stages, module)
}

// Get returns the stage for a module
func (r *Registry) Get(module string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[module]
	return s, ok
}

// Modules returns the registered module names
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.stages))
	for m := range r.stages {
		out = append(out, m)
	}
	return out
}
