package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkessler/taskstation/internal/retry"
)

// ResultStore is the sink for successful task results. The scheduler
// writes through it after each success and, when result reuse is
// enabled, consults it before enqueueing. *cache.Cache satisfies it.
type ResultStore interface {
	Get(ctx context.Context, key string) (any, error)
	Put(ctx context.Context, key string, value any, ttl, taskDuration time.Duration) error
}

// SchedulerConfig holds the scheduler's operational parameters.
type SchedulerConfig struct {
	// MaxWorkers fixes the number of worker goroutines; at most this
	// many tasks run concurrently.
	MaxWorkers int

	// QueueSize bounds the pending queue. Submissions beyond it fail
	// fast with ErrQueueFull.
	QueueSize int

	// DefaultTimeout applies to submissions with a zero timeout.
	DefaultTimeout time.Duration

	// DefaultMaxRetries applies to submissions with zero max retries.
	DefaultMaxRetries int

	// PollInterval bounds how long an idle worker sleeps before
	// re-checking the queue. Wakeups on submission make it a backstop,
	// not the primary latency path.
	PollInterval time.Duration

	// CleanupInterval and MaxHistoryAge govern purging of terminal
	// tasks from the in-memory history.
	CleanupInterval time.Duration
	MaxHistoryAge   time.Duration

	// ResultTTL is passed through to the result store on success. Zero
	// means the store's default.
	ResultTTL time.Duration

	// ReuseCachedResults short-circuits submission when the result
	// store already holds a value under the task's key. Only useful
	// together with a content-based KeyFunc.
	ReuseCachedResults bool
}

// SchedulerStats is a point-in-time snapshot of scheduler state.
type SchedulerStats struct {
	Submitted   int64   `json:"submitted"`
	Completed   int64   `json:"completed"`
	Pending     int     `json:"pending"`
	Running     int     `json:"running"`
	Succeeded   int64   `json:"succeeded"`
	Failed      int64   `json:"failed"`
	TimedOut    int64   `json:"timed_out"`
	Cancelled   int64   `json:"cancelled"`
	Retries     int64   `json:"retries"`
	MaxWorkers  int     `json:"max_workers"`
	Utilization float64 `json:"worker_utilization"`
	UptimeSecs  float64 `json:"uptime_seconds"`
}

// Scheduler owns the task lifecycle: it accepts submissions into a
// bounded priority queue, runs them on a fixed worker pool with per-task
// timeouts, retries failures with backoff, and retains terminal tasks
// for a bounded history window.
//
// All task state transitions happen under the scheduler's lock, which is
// never held across handler execution or result-store I/O.
type Scheduler struct {
	cfg       SchedulerConfig
	registry  *Registry
	results   ResultStore
	keyFn     KeyFunc
	backoff   retry.Policy
	callbacks *CallbackManager
	logger    *slog.Logger

	mu          sync.Mutex
	tasks       map[uuid.UUID]*Task
	cancels     map[uuid.UUID]context.CancelFunc
	retryTimers map[uuid.UUID]*time.Timer
	running     int
	seq         uint64

	submitted, completed         int64
	succeeded, failed            int64
	timedOut, cancelled, retried int64

	queue *Queue
	wake  chan struct{}

	ctx       context.Context
	cancelCtx context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// NewScheduler creates a scheduler. results may be nil, which disables
// result caching; keyFn nil defaults to IDKey.
func NewScheduler(cfg SchedulerConfig, registry *Registry, results ResultStore, keyFn KeyFunc, backoff retry.Policy, logger *slog.Logger) *Scheduler {
	if keyFn == nil {
		keyFn = IDKey
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &Scheduler{
		cfg:         cfg,
		registry:    registry,
		results:     results,
		keyFn:       keyFn,
		backoff:     backoff,
		logger:      logger,
		tasks:       make(map[uuid.UUID]*Task),
		cancels:     make(map[uuid.UUID]context.CancelFunc),
		retryTimers: make(map[uuid.UUID]*time.Timer),
		queue:       NewQueue(cfg.QueueSize),
		wake:        make(chan struct{}, 1),
	}
}

// SetCallbacks installs the completion-callback manager. Call before
// Start; terminal tasks are then announced through it.
func (s *Scheduler) SetCallbacks(m *CallbackManager) {
	s.callbacks = m
}

// notifyTerminal hands a terminal snapshot to the callback manager.
func (s *Scheduler) notifyTerminal(snap *Task) {
	if s.callbacks != nil {
		s.callbacks.Notify(snap)
	}
}

// Start launches the worker pool and the history cleanup loop.
func (s *Scheduler) Start() {
	s.ctx, s.cancelCtx = context.WithCancel(context.Background())
	s.startedAt = time.Now()

	for i := 0; i < s.cfg.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}

	if s.cfg.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}

	s.logger.Info("scheduler started",
		"max_workers", s.cfg.MaxWorkers,
		"queue_size", s.cfg.QueueSize)
}

// Stop cancels all running tasks and waits for the workers to drain, or
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	for id, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, id)
	}
	s.mu.Unlock()

	s.cancelCtx()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown timed out: %w", ctx.Err())
	}
}

// Submit validates the request, assigns defaults, and enqueues the task.
// It returns a snapshot of the accepted task; execution is asynchronous.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if _, err := s.registry.Resolve(req.Name); err != nil {
		return nil, err
	}

	t := &Task{
		ID:          uuid.New(),
		Name:        req.Name,
		Kind:        req.Kind,
		Params:      req.Params,
		Priority:    req.Priority,
		Status:      StatusPending,
		Timeout:     req.Timeout,
		MaxRetries:  req.MaxRetries,
		CallbackURL: req.CallbackURL,
		SubmittedAt: time.Now(),
	}
	if t.Kind == "" {
		t.Kind = KindSync
	}
	if t.Timeout <= 0 {
		t.Timeout = s.cfg.DefaultTimeout
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = s.cfg.DefaultMaxRetries
	} else if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}

	if s.cfg.ReuseCachedResults && s.results != nil {
		if v, err := s.results.Get(ctx, s.keyFn(t)); err == nil {
			return s.completeFromCache(t, v), nil
		}
	}

	s.mu.Lock()
	s.seq++
	t.seq = s.seq
	s.tasks[t.ID] = t
	s.submitted++
	s.mu.Unlock()

	if err := s.queue.Enqueue(t); err != nil {
		s.mu.Lock()
		delete(s.tasks, t.ID)
		s.submitted--
		s.mu.Unlock()
		return nil, err
	}

	s.signal()

	s.logger.Debug("task submitted",
		"task_id", t.ID,
		"task_name", t.Name,
		"priority", t.Priority)
	return t.snapshot(), nil
}

// completeFromCache records a task that never ran because its result was
// already cached.
func (s *Scheduler) completeFromCache(t *Task, value any) *Task {
	now := time.Now()
	t.Status = StatusSuccess
	t.Result = value
	t.StartedAt = &now
	t.CompletedAt = &now

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.submitted++
	s.completed++
	s.succeeded++
	snap := t.snapshot()
	s.mu.Unlock()

	s.notifyTerminal(snap)

	s.logger.Debug("task served from result cache", "task_id", t.ID, "task_name", t.Name)
	return snap
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// workerLoop drains the queue, sleeping on the wake channel between
// tasks with the poll interval as an upper bound.
func (s *Scheduler) workerLoop(id int) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if s.ctx.Err() != nil {
			return
		}
		if t := s.queue.Dequeue(); t != nil {
			s.execute(id, t)
			continue
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// execute runs one task to a terminal state or a retry re-enqueue. The
// worker regains control at the task deadline whether or not the handler
// returns; a handler that ignores cancellation leaks its goroutine, not
// the worker slot.
func (s *Scheduler) execute(workerID int, t *Task) {
	s.mu.Lock()
	if t.Status != StatusPending {
		// Cancelled between dequeue and execution.
		s.mu.Unlock()
		return
	}
	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
	s.running++

	runCtx, cancelRun := context.WithTimeout(s.ctx, t.Timeout)
	s.cancels[t.ID] = cancelRun
	s.mu.Unlock()

	defer cancelRun()

	s.logger.Debug("task started",
		"task_id", t.ID,
		"task_name", t.Name,
		"worker", workerID,
		"attempt", t.RetryCount+1)

	handler, err := s.registry.Resolve(t.Name)
	if err != nil {
		s.finalize(t, nil, err)
		return
	}

	type outcome struct {
		value any
		err   error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		v, err := handler.Run(runCtx, t.Params)
		resultCh <- outcome{value: v, err: err}
	}()

	var res outcome
	select {
	case res = <-resultCh:
	case <-runCtx.Done():
		res = outcome{err: runCtx.Err()}
	}

	s.finalize(t, res.value, res.err)
}

// finalize applies the execution outcome under the lock: success,
// terminal failure, timeout, cancellation, or a retry re-enqueue.
func (s *Scheduler) finalize(t *Task, value any, runErr error) {
	now := time.Now()
	var duration time.Duration
	if t.StartedAt != nil {
		duration = now.Sub(*t.StartedAt)
	}

	s.mu.Lock()
	delete(s.cancels, t.ID)
	s.running--

	// Cancel set the terminal state already; the worker just confirms
	// the slot release.
	if t.Status == StatusCancelled {
		snap := t.snapshot()
		s.mu.Unlock()
		s.registry.RecordExecution(t.Name, StatusCancelled, duration)
		s.notifyTerminal(snap)
		s.logger.Info("task cancelled during execution", "task_id", t.ID, "task_name", t.Name)
		return
	}

	switch {
	case runErr == nil:
		t.Status = StatusSuccess
		t.Result = value
		t.CompletedAt = &now
		s.completed++
		s.succeeded++

	case errors.Is(runErr, context.DeadlineExceeded):
		// Timeouts are terminal; an operation too slow once is assumed
		// too slow always.
		t.Status = StatusTimeout
		t.Error = fmt.Sprintf("task exceeded timeout of %s", t.Timeout)
		t.CompletedAt = &now
		s.completed++
		s.timedOut++

	case errors.Is(runErr, context.Canceled):
		// Scheduler shutdown pulled the context out from under the
		// handler.
		t.Status = StatusCancelled
		t.Error = "task cancelled by shutdown"
		t.CompletedAt = &now
		s.completed++
		s.cancelled++

	case t.RetryCount < t.MaxRetries:
		t.RetryCount++
		t.Status = StatusPending
		t.StartedAt = nil
		s.retried++
		delay := s.backoff.Delay(t.RetryCount)
		s.retryTimers[t.ID] = time.AfterFunc(delay, func() { s.requeue(t) })
		s.mu.Unlock()

		s.logger.Warn("task failed, retry scheduled",
			"task_id", t.ID,
			"task_name", t.Name,
			"retry", t.RetryCount,
			"max_retries", t.MaxRetries,
			"delay", delay,
			"error", runErr)
		return

	default:
		t.Status = StatusFailed
		t.Error = runErr.Error()
		t.CompletedAt = &now
		s.completed++
		s.failed++
	}

	status := t.Status
	snap := t.snapshot()
	s.mu.Unlock()

	s.registry.RecordExecution(t.Name, status, duration)
	s.notifyTerminal(snap)

	if status == StatusSuccess {
		s.storeResult(t, value, duration)
		s.logger.Info("task succeeded",
			"task_id", t.ID,
			"task_name", t.Name,
			"duration", duration,
			"retries", t.RetryCount)
	} else {
		s.logger.Warn("task reached terminal failure",
			"task_id", t.ID,
			"task_name", t.Name,
			"status", status,
			"duration", duration,
			"error", t.Error)
	}
}

// storeResult writes a successful result through the result store. Cache
// failures never fail the task.
func (s *Scheduler) storeResult(t *Task, value any, duration time.Duration) {
	if s.results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.results.Put(ctx, s.keyFn(t), value, s.cfg.ResultTTL, duration); err != nil {
		s.logger.Warn("failed to cache task result", "task_id", t.ID, "error", err)
	}
}

// requeue returns a retrying task to the queue once its backoff elapses.
func (s *Scheduler) requeue(t *Task) {
	s.mu.Lock()
	delete(s.retryTimers, t.ID)
	if t.Status != StatusPending {
		// Cancelled while waiting out the backoff.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.queue.Enqueue(t); err != nil {
		now := time.Now()
		s.mu.Lock()
		t.Status = StatusFailed
		t.Error = fmt.Sprintf("retry abandoned: %v", err)
		t.CompletedAt = &now
		s.completed++
		s.failed++
		snap := t.snapshot()
		s.mu.Unlock()

		s.registry.RecordExecution(t.Name, StatusFailed, 0)
		s.notifyTerminal(snap)
		s.logger.Error("failed to re-enqueue retry", "task_id", t.ID, "error", err)
		return
	}

	s.signal()
	s.logger.Debug("retry re-enqueued", "task_id", t.ID, "retry", t.RetryCount)
}

// Cancel moves a non-terminal task to cancelled. Queued tasks and
// retry-pending tasks are withdrawn immediately; running tasks have
// their context cancelled and transition without waiting for the handler
// to notice.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	s.mu.Lock()

	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status)
	}

	now := time.Now()
	wasRunning := t.Status == StatusRunning

	if t.Status == StatusPending {
		s.queue.Remove(id)
		if timer, ok := s.retryTimers[id]; ok {
			timer.Stop()
			delete(s.retryTimers, id)
		}
	}

	t.Status = StatusCancelled
	t.CompletedAt = &now
	s.completed++
	s.cancelled++

	var cancelRun context.CancelFunc
	if wasRunning {
		cancelRun = s.cancels[id]
	}
	snap := t.snapshot()
	s.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	} else {
		// Never started, so the worker path will not record or
		// announce it.
		s.registry.RecordExecution(t.Name, StatusCancelled, 0)
		s.notifyTerminal(snap)
	}

	s.logger.Info("task cancelled", "task_id", id, "was_running", wasRunning)
	return nil
}

// GetStatus returns a snapshot of the task with the given ID.
func (s *Scheduler) GetStatus(id uuid.UUID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.snapshot(), nil
}

// List returns snapshots of all non-terminal tasks, pending before
// running, oldest submission first within each group.
func (s *Scheduler) List() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0)
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			out = append(out, t.snapshot())
		}
	}
	sortTasks(out, func(a, b *Task) bool {
		if a.Status != b.Status {
			return a.Status == StatusPending
		}
		return a.seq < b.seq
	})
	return out
}

// History returns snapshots of terminal tasks, most recently completed
// first.
func (s *Scheduler) History() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0)
	for _, t := range s.tasks {
		if t.Status.Terminal() {
			out = append(out, t.snapshot())
		}
	}
	sortTasks(out, func(a, b *Task) bool {
		at, bt := a.SubmittedAt, b.SubmittedAt
		if a.CompletedAt != nil {
			at = *a.CompletedAt
		}
		if b.CompletedAt != nil {
			bt = *b.CompletedAt
		}
		return at.After(bt)
	})
	return out
}

// Statistics returns a snapshot of the scheduler counters.
func (s *Scheduler) Statistics() SchedulerStats {
	pending := s.queue.Len()

	s.mu.Lock()
	defer s.mu.Unlock()

	utilization := 0.0
	if s.cfg.MaxWorkers > 0 {
		utilization = float64(s.running) / float64(s.cfg.MaxWorkers)
	}
	uptime := 0.0
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt).Seconds()
	}

	return SchedulerStats{
		Submitted:   s.submitted,
		Completed:   s.completed,
		Pending:     pending,
		Running:     s.running,
		Succeeded:   s.succeeded,
		Failed:      s.failed,
		TimedOut:    s.timedOut,
		Cancelled:   s.cancelled,
		Retries:     s.retried,
		MaxWorkers:  s.cfg.MaxWorkers,
		Utilization: utilization,
		UptimeSecs:  uptime,
	}
}

func sortTasks(ts []*Task, less func(a, b *Task) bool) {
	sort.Slice(ts, func(i, j int) bool { return less(ts[i], ts[j]) })
}

// cleanupLoop periodically purges terminal tasks older than the history
// window.
func (s *Scheduler) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if purged := s.purgeHistory(); purged > 0 {
				s.logger.Info("purged task history", "purged", purged)
			}
		}
	}
}

// purgeHistory drops terminal tasks whose completion is older than
// MaxHistoryAge. Returns the number removed.
func (s *Scheduler) purgeHistory() int {
	cutoff := time.Now().Add(-s.cfg.MaxHistoryAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, t := range s.tasks {
		if t.Status.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			purged++
		}
	}
	return purged
}
