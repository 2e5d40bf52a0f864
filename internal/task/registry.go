package task

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// NameStats aggregates per-handler execution statistics.
type NameStats struct {
	Executed    int64   `json:"executed"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	TimedOut    int64   `json:"timed_out"`
	Cancelled   int64   `json:"cancelled"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// Registry maps task names to handlers and tracks execution statistics
// per name. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	stats    map[string]*NameStats
	logger   *slog.Logger
}

// NewRegistry creates an empty task registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		stats:    make(map[string]*NameStats),
		logger:   logger,
	}
}

// Register binds a handler to a task name. Registering the same name
// twice replaces the previous handler; registration happens at startup,
// before the scheduler runs.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("task name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for task %q must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		r.logger.Warn("replacing registered task handler", "task_name", name)
	}
	r.handlers[name] = handler

	r.logger.Info("task handler registered", "task_name", name)
	return nil
}

// Resolve returns the handler registered under name.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return handler, nil
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordExecution folds one finished execution into the per-name stats.
// Duration only contributes to the running average on success.
func (r *Registry) RecordExecution(name string, status Status, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[name]
	if !ok {
		s = &NameStats{}
		r.stats[name] = s
	}

	s.Executed++
	switch status {
	case StatusSuccess:
		s.Succeeded++
		// Incremental mean over successful runs only.
		s.AvgDuration += (duration.Seconds() - s.AvgDuration) / float64(s.Succeeded)
	case StatusFailed:
		s.Failed++
	case StatusTimeout:
		s.TimedOut++
	case StatusCancelled:
		s.Cancelled++
	}
}

// Stats returns a copy of the per-name statistics.
func (r *Registry) Stats() map[string]NameStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]NameStats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}
