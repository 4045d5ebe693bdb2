// Package executor provides implementations of the queue's executor
// contract: a registry dispatching on operation kind, and the concrete
// executors behind it.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/opqueue/internal/queue"
)

// Registry routes operations to the executor registered for their kind.
// An unknown kind is a permanent failure: retrying cannot make a handler
// appear.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]queue.Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[string]queue.Executor),
		logger:    logger.With("component", "executor_registry"),
	}
}

// Register binds an executor to a kind, replacing any previous binding.
func (r *Registry) Register(kind string, e queue.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = e
	r.logger.Info("executor registered", "kind", kind)
}

// Execute dispatches to the executor registered for kind.
func (r *Registry) Execute(ctx context.Context, kind, label string, payload json.RawMessage) (queue.Result, error) {
	r.mu.RLock()
	e, ok := r.executors[kind]
	r.mu.RUnlock()

	if !ok {
		return queue.Result{
			Success:   false,
			Err:       fmt.Sprintf("no executor registered for kind %q", kind),
			Permanent: true,
		}, nil
	}
	return e.Execute(ctx, kind, label, payload)
}
