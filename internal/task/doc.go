// Package task implements the asynchronous task execution core: the task
// model and its state machine, the handler registry, a priority queue with
// FIFO tie-breaking, and the scheduler that runs tasks across a bounded
// worker pool with per-task timeouts and retry-with-backoff.
//
// Tasks move through the states pending -> running -> {success, failed,
// timeout}; running returns to pending only on the retry path, and any
// non-terminal task can be cancelled. Terminal states are final.
package task
