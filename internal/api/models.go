package api

import (
	"time"

	"github.com/mkessler/taskstation/internal/task"
)

// SubmitTaskRequest is the POST /tasks/submit payload.
type SubmitTaskRequest struct {
	Name     string         `json:"name" validate:"required,min=1,max=128"`
	Kind     string         `json:"kind" validate:"omitempty,oneof=sync async"`
	Params   map[string]any `json:"params"`
	Priority int            `json:"priority" validate:"gte=0,lte=100"`

	// TimeoutSeconds zero means the server default.
	TimeoutSeconds int `json:"timeout_seconds" validate:"gte=0,lte=86400"`

	// MaxRetries zero means the server default; -1 disables retries.
	MaxRetries int `json:"max_retries" validate:"gte=-1,lte=10"`

	// CallbackURL, when set, receives a webhook POST with the terminal
	// task state.
	CallbackURL string `json:"callback_url" validate:"omitempty,http_url"`
}

// SubmitTaskResponse acknowledges an accepted submission.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse is the task DTO returned by status and listing endpoints.
type TaskResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Priority    int            `json:"priority"`
	Status      string         `json:"status"`
	Params      map[string]any `json:"params,omitempty"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	TimeoutSecs float64        `json:"timeout_seconds"`
	SubmittedAt time.Time      `json:"submitted_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// NewTaskResponse converts a task snapshot into its API representation.
func NewTaskResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID.String(),
		Name:        t.Name,
		Kind:        string(t.Kind),
		Priority:    t.Priority,
		Status:      string(t.Status),
		Params:      t.Params,
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		TimeoutSecs: t.Timeout.Seconds(),
		SubmittedAt: t.SubmittedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Result:      t.Result,
		Error:       t.Error,
	}
}

// TaskListResponse wraps a page of task DTOs.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
	Count int            `json:"count"`
}

// NewTaskListResponse converts task snapshots into a list payload.
func NewTaskListResponse(tasks []*task.Task) TaskListResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, NewTaskResponse(t))
	}
	return TaskListResponse{Tasks: out, Count: len(out)}
}
