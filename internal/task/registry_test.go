package task

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, params map[string]any) (any, error) {
		return params["value"], nil
	})
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry(testLogger())

	require.NoError(t, r.Register("echo", echoHandler()))

	h, err := r.Resolve("echo")
	require.NoError(t, err)

	out, err := h.Run(context.Background(), map[string]any{"value": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry(testLogger())

	_, err := r.Resolve("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	r := NewRegistry(testLogger())

	assert.Error(t, r.Register("", echoHandler()))
	assert.Error(t, r.Register("nil-handler", nil))
}

func TestRegistryReplaceKeepsLatest(t *testing.T) {
	r := NewRegistry(testLogger())

	require.NoError(t, r.Register("job", HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return "first", nil
	})))
	require.NoError(t, r.Register("job", HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return "second", nil
	})))

	h, err := r.Resolve("job")
	require.NoError(t, err)
	out, _ := h.Run(context.Background(), nil)
	assert.Equal(t, "second", out)
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry(testLogger())

	require.NoError(t, r.Register("zeta", echoHandler()))
	require.NoError(t, r.Register("alpha", echoHandler()))
	require.NoError(t, r.Register("mid", echoHandler()))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestRegistryStats(t *testing.T) {
	r := NewRegistry(testLogger())

	r.RecordExecution("job", StatusSuccess, 2*time.Second)
	r.RecordExecution("job", StatusSuccess, 4*time.Second)
	r.RecordExecution("job", StatusFailed, time.Second)
	r.RecordExecution("job", StatusTimeout, time.Second)
	r.RecordExecution("other", StatusCancelled, 0)

	stats := r.Stats()
	job := stats["job"]
	assert.Equal(t, int64(4), job.Executed)
	assert.Equal(t, int64(2), job.Succeeded)
	assert.Equal(t, int64(1), job.Failed)
	assert.Equal(t, int64(1), job.TimedOut)
	// Average over successful runs only: (2 + 4) / 2.
	assert.InDelta(t, 3.0, job.AvgDuration, 0.001)

	assert.Equal(t, int64(1), stats["other"].Cancelled)
}
