package task

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCallbackManager() *CallbackManager {
	m := NewCallbackManager(testLogger())
	m.retryDelay = time.Millisecond
	return m
}

func drain(t *testing.T, m *CallbackManager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Drain(ctx))
}

func terminalTask(status Status) *Task {
	now := time.Now()
	started := now.Add(-time.Second)
	return &Task{
		ID:          uuid.New(),
		Name:        "report",
		Status:      status,
		Result:      "done",
		StartedAt:   &started,
		CompletedAt: &now,
	}
}

func TestCallbackOnCompletionFires(t *testing.T) {
	m := newTestCallbackManager()

	var got atomic.Value
	tk := terminalTask(StatusSuccess)
	m.OnCompletion(tk.ID, "", func(t *Task) { got.Store(t) })

	m.Notify(tk)
	drain(t, m)

	delivered, ok := got.Load().(*Task)
	require.True(t, ok, "callback must receive the snapshot")
	assert.Equal(t, tk.ID, delivered.ID)
	assert.Equal(t, StatusSuccess, delivered.Status)
	assert.Equal(t, int64(1), m.Stats().Executed)
}

func TestCallbackStatusFilter(t *testing.T) {
	m := newTestCallbackManager()

	var onSuccess, onFailure int64
	tk := terminalTask(StatusFailed)
	m.OnCompletion(tk.ID, StatusSuccess, func(*Task) { atomic.AddInt64(&onSuccess, 1) })
	m.OnCompletion(tk.ID, StatusFailed, func(*Task) { atomic.AddInt64(&onFailure, 1) })

	m.Notify(tk)
	drain(t, m)

	assert.Equal(t, int64(0), atomic.LoadInt64(&onSuccess))
	assert.Equal(t, int64(1), atomic.LoadInt64(&onFailure))
}

func TestCallbacksFireOnce(t *testing.T) {
	m := newTestCallbackManager()

	var fired int64
	tk := terminalTask(StatusSuccess)
	m.OnCompletion(tk.ID, "", func(*Task) { atomic.AddInt64(&fired, 1) })

	m.Notify(tk)
	m.Notify(tk)
	drain(t, m)

	assert.Equal(t, int64(1), atomic.LoadInt64(&fired), "registrations are consumed on delivery")
}

func TestCallbackPanicContained(t *testing.T) {
	m := newTestCallbackManager()

	var after int64
	tk := terminalTask(StatusSuccess)
	m.OnCompletion(tk.ID, "", func(*Task) { panic("callback bug") })
	m.OnCompletion(tk.ID, "", func(*Task) { atomic.AddInt64(&after, 1) })

	m.Notify(tk)
	drain(t, m)

	assert.Equal(t, int64(1), atomic.LoadInt64(&after), "later callbacks still run")
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Executed)
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestCallbackManager()
	tk := terminalTask(StatusSuccess)
	m.WebhookOnCompletion(tk.ID, "", srv.URL)

	m.Notify(tk)
	drain(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, tk.ID.String(), payload.TaskID)
	assert.Equal(t, "report", payload.TaskName)
	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "done", payload.Result)
	assert.InDelta(t, 1.0, payload.DurationSecs, 0.1)
	assert.Equal(t, int64(1), m.Stats().WebhooksSent)
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestCallbackManager()
	tk := terminalTask(StatusSuccess)
	m.WebhookOnCompletion(tk.ID, "", srv.URL)

	m.Notify(tk)
	drain(t, m)

	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.WebhooksSent)
	assert.Equal(t, int64(2), stats.Retries)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestWebhookAbandonedAfterRetries(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestCallbackManager()
	tk := terminalTask(StatusFailed)
	m.WebhookOnCompletion(tk.ID, "", srv.URL)

	m.Notify(tk)
	drain(t, m)

	assert.Equal(t, int64(3), atomic.LoadInt64(&hits), "bounded delivery attempts")
	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.WebhooksSent)
}

func TestCallbackURLOnTaskTriggersWebhook(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// No registration needed: the submission-level URL is enough.
	m := newTestCallbackManager()
	tk := terminalTask(StatusSuccess)
	tk.CallbackURL = srv.URL

	m.Notify(tk)
	drain(t, m)

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestRemoveCallbacks(t *testing.T) {
	m := newTestCallbackManager()

	var fired int64
	tk := terminalTask(StatusSuccess)
	m.OnCompletion(tk.ID, "", func(*Task) { atomic.AddInt64(&fired, 1) })
	m.OnCompletion(tk.ID, "", func(*Task) { atomic.AddInt64(&fired, 1) })

	assert.Equal(t, 2, m.Remove(tk.ID))
	assert.Equal(t, 0, m.Remove(tk.ID))

	m.Notify(tk)
	drain(t, m)
	assert.Equal(t, int64(0), atomic.LoadInt64(&fired))
}
