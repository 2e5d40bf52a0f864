package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkessler/taskstation/internal/ratelimit"
	"github.com/mkessler/taskstation/internal/retry"
	"github.com/mkessler/taskstation/internal/task"
)

// SubmitFunc is the submission capability the middleware stack wraps.
type SubmitFunc func(ctx context.Context, req task.SubmitRequest) (*task.Task, error)

// Middleware decorates a SubmitFunc. The stack is assembled explicitly
// in Chain, so the wrapping order is configuration, not convention.
type Middleware func(next SubmitFunc) SubmitFunc

// Chain wraps base with the given middlewares; the first listed runs
// outermost.
func Chain(base SubmitFunc, middlewares ...Middleware) SubmitFunc {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

type contextKey string

const clientKeyContextKey contextKey = "client_key"

// WithClientKey tags ctx with the submitter identity used for rate
// limiting. The API layer derives it from the client address.
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, clientKeyContextKey, key)
}

// ClientKeyFromContext returns the submitter identity, or "global" when
// none was attached.
func ClientKeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(clientKeyContextKey).(string); ok && key != "" {
		return key
	}
	return "global"
}

// RateLimitMiddleware rejects submissions the limiter does not admit.
// Rejection is immediate; nothing reaches the layers below.
func RateLimitMiddleware(limiter ratelimit.Limiter, logger *slog.Logger) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, req task.SubmitRequest) (*task.Task, error) {
			key := ClientKeyFromContext(ctx)
			if err := limiter.Admit(key); err != nil {
				logger.Warn("submission rejected by rate limiter",
					"client_key", key,
					"task_name", req.Name)
				return nil, fmt.Errorf("submission for %q: %w", req.Name, err)
			}
			return next(ctx, req)
		}
	}
}

// RetryMiddleware runs submission through the orchestrator, picking up
// its circuit breaker. The orchestrator's RetryIf policy decides which
// submission errors are worth another attempt; sentinel rejections such
// as a full queue pass through immediately but still count against the
// breaker.
func RetryMiddleware(orchestrator *retry.Orchestrator) Middleware {
	return func(next SubmitFunc) SubmitFunc {
		return func(ctx context.Context, req task.SubmitRequest) (*task.Task, error) {
			result, err := orchestrator.Execute(ctx, func(ctx context.Context) (any, error) {
				return next(ctx, req)
			})
			if err != nil {
				return nil, err
			}
			snap, ok := result.(*task.Task)
			if !ok {
				return nil, fmt.Errorf("unexpected submission result type %T", result)
			}
			return snap, nil
		}
	}
}
