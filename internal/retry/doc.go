// Package retry provides retry-with-backoff orchestration and a
// three-state circuit breaker. The Orchestrator wraps an arbitrary
// operation; the scheduler reuses Policy for its re-enqueue backoff.
package retry
