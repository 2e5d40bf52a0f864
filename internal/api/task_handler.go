package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkessler/taskstation/internal/api/shared"
	"github.com/mkessler/taskstation/internal/service"
	"github.com/mkessler/taskstation/internal/task"
)

// TaskHandler exposes the task subsystem over HTTP. Handlers stay thin:
// decode, validate, delegate to the service, map errors.
type TaskHandler struct {
	service *service.TaskService
	logger  *slog.Logger
}

// NewTaskHandler creates a task API handler.
func NewTaskHandler(svc *service.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		service: svc,
		logger:  logger,
	}
}

// Submit handles POST /tasks/submit.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	// RealIP middleware has already normalized RemoteAddr; it keys the
	// rate limiter per client.
	ctx := service.WithClientKey(r.Context(), r.RemoteAddr)

	snap, err := h.service.Submit(ctx, task.SubmitRequest{
		Name:        req.Name,
		Kind:        task.Kind(req.Kind),
		Params:      req.Params,
		Priority:    req.Priority,
		Timeout:     time.Duration(req.TimeoutSeconds) * time.Second,
		MaxRetries:  req.MaxRetries,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: snap.ID.String(),
		Status: string(snap.Status),
	})
}

// GetStatus handles GET /tasks/{id}/status.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	snap, err := h.service.Status(id)
	if err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(snap))
}

// Cancel handles DELETE /tasks/{id}.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if err := h.service.Cancel(id); err != nil {
		shared.RespondWithError(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
		"task_id": id.String(),
		"status":  string(task.StatusCancelled),
	})
}

// List handles GET /tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskListResponse(h.service.List(limit, offset)))
}

// History handles GET /tasks/history.
func (h *TaskHandler) History(w http.ResponseWriter, r *http.Request) {
	status := task.Status(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit", 0)

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskListResponse(h.service.History(status, limit)))
}

// Statistics handles GET /tasks/statistics.
func (h *TaskHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.service.Statistics())
}

// Registry handles GET /tasks/registry.
func (h *TaskHandler) Registry(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.service.Registry())
}

// taskID parses the {id} route parameter, responding 400 on garbage.
func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID", err)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
