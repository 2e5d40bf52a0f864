package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors surfaced synchronously to submitters and queriers.
var (
	// ErrTaskNotFound is returned when a task ID is unknown or the task
	// has already been purged from the history window.
	ErrTaskNotFound = errors.New("task not found")

	// ErrQueueFull is returned when the pending queue has reached its
	// configured bound. Submission never blocks waiting for space.
	ErrQueueFull = errors.New("task queue is full")

	// ErrHandlerNotFound is returned when no handler is registered under
	// the requested task name.
	ErrHandlerNotFound = errors.New("task handler not found")

	// ErrTaskTerminal is returned when an operation (such as cancellation)
	// targets a task that already reached a terminal state.
	ErrTaskTerminal = errors.New("task is in a terminal state")
)

// Status represents the current state of a task.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Kind distinguishes handlers that run to completion on a worker from
// handlers that may suspend internally on I/O. Both are bounded by the
// task timeout; the kind is informational for handlers and clients.
type Kind string

const (
	KindSync  Kind = "sync"
	KindAsync Kind = "async"
)

// Handler is the uniform invocation capability implemented by every
// registered task. Implementations must honor ctx cancellation: the
// scheduler reclaims the worker slot at the deadline whether or not the
// handler stops promptly, and side effects after cancellation are the
// handler's own responsibility.
type Handler interface {
	Run(ctx context.Context, params map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Task is a unit of schedulable work. All mutable fields are owned by the
// scheduler; only the worker currently executing a task mutates it, under
// the scheduler's lock. Query APIs hand out snapshots, never the live
// struct.
type Task struct {
	ID       uuid.UUID      `json:"id"`
	Name     string         `json:"name"`
	Kind     Kind           `json:"kind"`
	Params   map[string]any `json:"params,omitempty"`
	Priority int            `json:"priority"`
	Status   Status         `json:"status"`

	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
	RetryCount int           `json:"retry_count"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result is set iff the task succeeded; Error iff it failed or
	// timed out.
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// CallbackURL, when set, receives a webhook POST once the task
	// reaches a terminal state.
	CallbackURL string `json:"callback_url,omitempty"`

	// seq breaks priority ties in submission order. Written once at
	// submission, before the task is shared.
	seq uint64
}

// snapshot returns a copy safe to hand to callers outside the scheduler
// lock. Params and Result are shared by reference; callers must treat
// them as read-only.
func (t *Task) snapshot() *Task {
	c := *t
	return &c
}

// SubmitRequest describes a task submission. Zero values for Timeout and
// MaxRetries mean "use the scheduler defaults"; a negative MaxRetries
// means "no retries".
type SubmitRequest struct {
	Name        string
	Kind        Kind
	Params      map[string]any
	Priority    int
	Timeout     time.Duration
	MaxRetries  int
	CallbackURL string
}
