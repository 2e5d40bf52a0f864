package retry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 2.0}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestPolicyDelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 10.0, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 5*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestPolicyDelayJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Multiplier: 1.0, Jitter: true}

	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	o := NewOrchestrator(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}, nil, testLogger())

	calls := 0
	result, err := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	o := NewOrchestrator(Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2}, nil, testLogger())

	calls := 0
	result, err := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	o := NewOrchestrator(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1}, nil, testLogger())

	calls := 0
	boom := errors.New("boom")
	_, err := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestExecuteNonRetryableErrorPropagates(t *testing.T) {
	fatal := errors.New("fatal")
	policy := Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Multiplier:  1,
		RetryIf:     func(err error) bool { return !errors.Is(err, fatal) },
	}
	o := NewOrchestrator(policy, nil, testLogger())

	calls := 0
	_, err := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return nil, fatal
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls)
}

func TestExecuteBackoffElapsedTime(t *testing.T) {
	// Two retries with base 50ms and multiplier 2 must wait at least
	// 50ms+100ms before the third attempt succeeds.
	o := NewOrchestrator(Policy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, Multiplier: 2}, nil, testLogger())

	calls := 0
	start := time.Now()
	result, err := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		if calls <= 2 {
			return nil, errors.New("transient")
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestExecuteContextCancelledDuringBackoff(t *testing.T) {
	o := NewOrchestrator(Policy{MaxAttempts: 3, BaseDelay: time.Minute, Multiplier: 1}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := o.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteRejectedWhileCircuitOpen(t *testing.T) {
	breaker := NewCircuitBreaker(1, time.Minute)
	o := NewOrchestrator(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1}, breaker, testLogger())

	// First call trips the breaker.
	_, err := o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	// Subsequent call is rejected without invoking the operation.
	calls := 0
	_, err = o.Execute(context.Background(), func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)
}
