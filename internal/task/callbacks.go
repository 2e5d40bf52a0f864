package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallbackFunc receives a terminal task snapshot. It runs on a delivery
// goroutine, never on a worker; panics are contained.
type CallbackFunc func(t *Task)

// CallbackStats is a snapshot of the callback delivery counters.
type CallbackStats struct {
	Registered   int64 `json:"registered"`
	Executed     int64 `json:"executed"`
	Failed       int64 `json:"failed"`
	WebhooksSent int64 `json:"webhooks_sent"`
	Retries      int64 `json:"retries_attempted"`
}

// webhookPayload is the body POSTed to webhook targets.
type webhookPayload struct {
	TaskID       string    `json:"task_id"`
	TaskName     string    `json:"task_name"`
	Status       string    `json:"status"`
	Result       any       `json:"result,omitempty"`
	Error        string    `json:"error,omitempty"`
	DurationSecs float64   `json:"duration_seconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// callback is one registered completion hook: either an in-process
// function or a webhook URL, optionally filtered to a single terminal
// status.
type callback struct {
	id     uuid.UUID
	status Status
	fn     CallbackFunc
	url    string
}

func (c *callback) matches(s Status) bool {
	return c.status == "" || c.status == s
}

// CallbackManager delivers completion notifications when tasks reach a
// terminal state. Callbacks are registered per task and fire once; the
// scheduler hands in the terminal snapshot and delivery happens off the
// worker path. Failed webhook deliveries are retried a bounded number
// of times.
type CallbackManager struct {
	client *http.Client
	logger *slog.Logger

	// webhookRetries and retryDelay are fixed at construction;
	// retryDelay is short-circuited in tests.
	webhookRetries int
	retryDelay     time.Duration

	mu        sync.Mutex
	callbacks map[uuid.UUID][]*callback

	registered, executed, failed int64
	webhooksSent, retries        int64

	wg sync.WaitGroup
}

// NewCallbackManager creates a callback manager with a 30-second webhook
// timeout and three delivery attempts per webhook.
func NewCallbackManager(logger *slog.Logger) *CallbackManager {
	return &CallbackManager{
		client:         &http.Client{Timeout: 30 * time.Second},
		logger:         logger,
		webhookRetries: 3,
		retryDelay:     time.Second,
		callbacks:      make(map[uuid.UUID][]*callback),
	}
}

// OnCompletion registers fn to run when taskID reaches a terminal state.
// An empty status matches any terminal state. Returns the callback ID.
func (m *CallbackManager) OnCompletion(taskID uuid.UUID, status Status, fn CallbackFunc) uuid.UUID {
	return m.register(taskID, &callback{id: uuid.New(), status: status, fn: fn})
}

// WebhookOnCompletion registers a webhook POST to url when taskID
// reaches a terminal state. An empty status matches any terminal state.
func (m *CallbackManager) WebhookOnCompletion(taskID uuid.UUID, status Status, url string) uuid.UUID {
	return m.register(taskID, &callback{id: uuid.New(), status: status, url: url})
}

func (m *CallbackManager) register(taskID uuid.UUID, cb *callback) uuid.UUID {
	m.mu.Lock()
	m.callbacks[taskID] = append(m.callbacks[taskID], cb)
	m.registered++
	m.mu.Unlock()

	m.logger.Debug("callback registered",
		"callback_id", cb.id,
		"task_id", taskID,
		"status_filter", string(cb.status),
		"webhook", cb.url != "")
	return cb.id
}

// Remove drops all callbacks registered for taskID, returning how many
// were removed.
func (m *CallbackManager) Remove(taskID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := len(m.callbacks[taskID])
	delete(m.callbacks, taskID)
	return count
}

// Notify dispatches the callbacks matching the task's terminal status.
// The snapshot must be terminal; delivery runs on its own goroutine and
// the registrations for the task are consumed.
func (m *CallbackManager) Notify(t *Task) {
	m.mu.Lock()
	registered := m.callbacks[t.ID]
	delete(m.callbacks, t.ID)
	m.mu.Unlock()

	matching := make([]*callback, 0, len(registered)+1)
	for _, cb := range registered {
		if cb.matches(t.Status) {
			matching = append(matching, cb)
		}
	}
	if t.CallbackURL != "" {
		matching = append(matching, &callback{id: uuid.New(), url: t.CallbackURL})
	}
	if len(matching) == 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for _, cb := range matching {
			m.deliver(cb, t)
		}
	}()
}

// deliver runs one callback, containing panics and retrying webhooks.
func (m *CallbackManager) deliver(cb *callback, t *Task) {
	if cb.fn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.count(&m.failed)
					m.logger.Error("callback panicked",
						"callback_id", cb.id,
						"task_id", t.ID,
						"panic", r)
				}
			}()
			cb.fn(t)
			m.count(&m.executed)
		}()
		return
	}

	var lastErr error
	for attempt := 1; attempt <= m.webhookRetries; attempt++ {
		if attempt > 1 {
			m.count(&m.retries)
			time.Sleep(m.retryDelay)
		}
		if lastErr = m.postWebhook(cb.url, t); lastErr == nil {
			m.count(&m.executed)
			m.count(&m.webhooksSent)
			m.logger.Debug("webhook delivered",
				"callback_id", cb.id,
				"task_id", t.ID,
				"url", cb.url)
			return
		}
		m.logger.Warn("webhook delivery failed",
			"callback_id", cb.id,
			"task_id", t.ID,
			"attempt", attempt,
			"error", lastErr)
	}

	m.count(&m.failed)
	m.logger.Error("webhook abandoned after retries",
		"callback_id", cb.id,
		"task_id", t.ID,
		"url", cb.url,
		"error", lastErr)
}

func (m *CallbackManager) postWebhook(url string, t *Task) error {
	var duration time.Duration
	if t.StartedAt != nil && t.CompletedAt != nil {
		duration = t.CompletedAt.Sub(*t.StartedAt)
	}

	body, err := json.Marshal(webhookPayload{
		TaskID:       t.ID.String(),
		TaskName:     t.Name,
		Status:       string(t.Status),
		Result:       t.Result,
		Error:        t.Error,
		DurationSecs: duration.Seconds(),
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	resp, err := m.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Stats returns a snapshot of the delivery counters.
func (m *CallbackManager) Stats() CallbackStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CallbackStats{
		Registered:   m.registered,
		Executed:     m.executed,
		Failed:       m.failed,
		WebhooksSent: m.webhooksSent,
		Retries:      m.retries,
	}
}

// Drain blocks until in-flight deliveries finish or ctx expires.
func (m *CallbackManager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("callback drain interrupted: %w", ctx.Err())
	}
}

func (m *CallbackManager) count(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}
