// Package service composes the task subsystem behind a single facade:
// submissions pass through the configured middleware stack (rate
// limiting, retry with circuit breaking) before reaching the scheduler,
// and queries fan out to the scheduler, registry, and result cache.
package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mkessler/taskstation/internal/cache"
	"github.com/mkessler/taskstation/internal/task"
)

// Statistics aggregates the subsystem-wide counters exposed over HTTP.
type Statistics struct {
	Scheduler    task.SchedulerStats       `json:"scheduler"`
	Cache        *cache.Stats              `json:"cache,omitempty"`
	Tasks        map[string]task.NameStats `json:"tasks"`
	SuccessRate  float64                   `json:"success_rate"`
	TasksPerHour float64                   `json:"tasks_per_hour"`
}

// RegistryInfo describes the registered task names and their per-name
// execution statistics.
type RegistryInfo struct {
	Names []string                  `json:"names"`
	Stats map[string]task.NameStats `json:"stats"`
}

// TaskService is the facade the API layer talks to.
type TaskService struct {
	scheduler *task.Scheduler
	registry  *task.Registry
	cache     *cache.Cache
	submit    SubmitFunc
	logger    *slog.Logger
}

// NewTaskService wires the facade. results may be nil when caching is
// disabled; middlewares wrap submission outermost-first.
func NewTaskService(scheduler *task.Scheduler, registry *task.Registry, results *cache.Cache, logger *slog.Logger, middlewares ...Middleware) *TaskService {
	s := &TaskService{
		scheduler: scheduler,
		registry:  registry,
		cache:     results,
		logger:    logger,
	}
	s.submit = Chain(scheduler.Submit, middlewares...)
	return s
}

// Submit runs a submission through the middleware stack.
func (s *TaskService) Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error) {
	return s.submit(ctx, req)
}

// Status returns a snapshot of the task with the given ID.
func (s *TaskService) Status(id uuid.UUID) (*task.Task, error) {
	return s.scheduler.GetStatus(id)
}

// Cancel cancels a non-terminal task.
func (s *TaskService) Cancel(id uuid.UUID) error {
	return s.scheduler.Cancel(id)
}

// List returns the active (pending or running) tasks, paginated.
// limit <= 0 means no bound.
func (s *TaskService) List(limit, offset int) []*task.Task {
	return paginate(s.scheduler.List(), limit, offset)
}

// History returns terminal tasks, most recent first, optionally filtered
// by status. limit <= 0 means no bound.
func (s *TaskService) History(status task.Status, limit int) []*task.Task {
	all := s.scheduler.History()
	if status != "" {
		filtered := all[:0]
		for _, t := range all {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		all = filtered
	}
	return paginate(all, limit, 0)
}

// Statistics returns the combined subsystem counters.
func (s *TaskService) Statistics() Statistics {
	sched := s.scheduler.Statistics()

	stats := Statistics{
		Scheduler: sched,
		Tasks:     s.registry.Stats(),
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		stats.Cache = &cs
	}
	if sched.Completed > 0 {
		stats.SuccessRate = float64(sched.Succeeded) / float64(sched.Completed)
	}
	if sched.UptimeSecs > 0 {
		stats.TasksPerHour = float64(sched.Completed) / (sched.UptimeSecs / 3600)
	}
	return stats
}

// Registry returns the registered task names and their stats.
func (s *TaskService) Registry() RegistryInfo {
	return RegistryInfo{
		Names: s.registry.Names(),
		Stats: s.registry.Stats(),
	}
}

func paginate(ts []*task.Task, limit, offset int) []*task.Task {
	if offset > 0 {
		if offset >= len(ts) {
			return []*task.Task{}
		}
		ts = ts[offset:]
	}
	if limit > 0 && len(ts) > limit {
		ts = ts[:limit]
	}
	return ts
}
