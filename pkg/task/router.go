// Package task runs background work for the bot: per-group serialised queues with
// deduplication, bounded retries and periodic jobs.
package task

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scragly/dreaf/pkg/log"
)

// TaskHandler is a function that processes a task payload.
type TaskHandler func(ctx context.Context, payload any) error

// TaskOptions configures how a task should be dispatched and executed.
type TaskOptions struct {
	// GroupKey serialises execution of tasks that share it. Redemption batches use
	// the game account so one session never runs two batches at once.
	GroupKey string

	// IdempotencyKey deduplicates tasks enqueued within the IdempotencyTTL window.
	IdempotencyKey string

	// MaxAttempts bounds retries on retryable handler errors. 0 uses the router default.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	IdempotencyTTL time.Duration
}

// Task encapsulates the work to be executed by the router. ID is assigned on
// dispatch when empty and tags every log line of the task.
type Task struct {
	ID      string
	Type    string
	Payload any
	Options TaskOptions
}

// RouterConfig configures the TaskRouter behavior.
type RouterConfig struct {
	DefaultMaxAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	IdempotencyTTL     time.Duration

	// GroupBuffer is the queue length of each group.
	GroupBuffer int

	// GroupIdleTTL after which an idle group worker is stopped.
	GroupIdleTTL time.Duration

	// CleanupInterval controls how often idle groups and idempotency keys are reaped.
	CleanupInterval time.Duration

	// GlobalMaxWorkers limits concurrent handler executions across all groups.
	// 0 or less means unlimited.
	GlobalMaxWorkers int
}

// Defaults returns a RouterConfig with sensible defaults.
func Defaults() RouterConfig {
	return RouterConfig{
		DefaultMaxAttempts: 3,
		InitialBackoff:     2 * time.Second,
		MaxBackoff:         30 * time.Second,
		IdempotencyTTL:     60 * time.Second,
		GroupBuffer:        64,
		GroupIdleTTL:       5 * time.Minute,
		CleanupInterval:    time.Minute,
		GlobalMaxWorkers:   4,
	}
}

// Errors returned by the router.
var (
	ErrRouterClosed    = errors.New("task router is closed")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDuplicateTask   = errors.New("duplicate task (idempotency key present)")
	ErrQueueFull       = errors.New("task queue is full")
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

const globalGroup = "_global"

// TaskRouter is an in-memory dispatcher with per-group serialisation,
// deduplication and retry with exponential backoff.
type TaskRouter struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
	groups   map[string]*groupWorker
	inflight map[string]time.Time // idempotency key -> expiry
	closed   bool
	cfg      RouterConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	randMu sync.Mutex
	rng    *rand.Rand

	// nil when unlimited
	execSem chan struct{}
}

type groupWorker struct {
	key        string
	ch         chan *enqueuedTask
	lastActive time.Time
	busy       bool
	stopping   bool
}

type enqueuedTask struct {
	task    Task
	attempt int
}

// NewRouter creates a TaskRouter. Zero fields of cfg take the Defaults.
func NewRouter(cfg RouterConfig) *TaskRouter {
	def := Defaults()
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.GroupBuffer <= 0 {
		cfg.GroupBuffer = def.GroupBuffer
	}
	if cfg.GroupIdleTTL <= 0 {
		cfg.GroupIdleTTL = def.GroupIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr := &TaskRouter{
		handlers: make(map[string]TaskHandler),
		groups:   make(map[string]*groupWorker),
		inflight: make(map[string]time.Time),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.GlobalMaxWorkers > 0 {
		tr.execSem = make(chan struct{}, cfg.GlobalMaxWorkers)
	}

	tr.wg.Add(1)
	go tr.cleanupLoop()
	return tr
}

// RegisterHandler registers a handler for the given task type.
func (tr *TaskRouter) RegisterHandler(taskType string, handler TaskHandler) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.handlers[taskType] = handler
}

// Dispatch enqueues a task for execution without blocking.
// Returns ErrUnknownTaskType if no handler is registered, ErrDuplicateTask when a
// live IdempotencyKey already exists and ErrQueueFull when the group is backed up.
func (tr *TaskRouter) Dispatch(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.closed {
		return ErrRouterClosed
	}
	if h, ok := tr.handlers[t.Type]; !ok || h == nil {
		return ErrUnknownTaskType
	}

	eff := tr.effectiveOptions(t.Options)
	now := time.Now()
	if eff.IdempotencyKey != "" {
		if expiry, exists := tr.inflight[eff.IdempotencyKey]; exists && now.Before(expiry) {
			return ErrDuplicateTask
		}
		tr.inflight[eff.IdempotencyKey] = now.Add(eff.IdempotencyTTL)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	groupKey := eff.GroupKey
	if groupKey == "" {
		groupKey = globalGroup
	}
	gw := tr.ensureGroupLocked(groupKey)
	gw.lastActive = now

	select {
	case gw.ch <- &enqueuedTask{task: t, attempt: 1}:
		return nil
	default:
		if eff.IdempotencyKey != "" {
			delete(tr.inflight, eff.IdempotencyKey)
		}
		return ErrQueueFull
	}
}

// Close stops the router and waits for running handlers. Handlers see their
// context cancelled; queued tasks are dropped.
func (tr *TaskRouter) Close() {
	tr.once.Do(func() {
		tr.mu.Lock()
		tr.closed = true
		for _, gw := range tr.groups {
			if !gw.stopping {
				gw.stopping = true
				close(gw.ch)
			}
		}
		tr.mu.Unlock()
		tr.cancel()
		tr.wg.Wait()
	})
}

// Stats is a snapshot for debugging.
type Stats struct {
	GroupsCount     int
	InflightCount   int
	RouterClosed    bool
	RegisteredTypes int
}

func (tr *TaskRouter) Stats() Stats {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return Stats{
		GroupsCount:     len(tr.groups),
		InflightCount:   len(tr.inflight),
		RouterClosed:    tr.closed,
		RegisteredTypes: len(tr.handlers),
	}
}

func (tr *TaskRouter) effectiveOptions(opt TaskOptions) TaskOptions {
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = tr.cfg.DefaultMaxAttempts
	}
	if opt.InitialBackoff <= 0 {
		opt.InitialBackoff = tr.cfg.InitialBackoff
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = tr.cfg.MaxBackoff
	}
	if opt.IdempotencyTTL <= 0 {
		opt.IdempotencyTTL = tr.cfg.IdempotencyTTL
	}
	return opt
}

func (tr *TaskRouter) ensureGroupLocked(key string) *groupWorker {
	if gw, ok := tr.groups[key]; ok && !gw.stopping {
		return gw
	}
	gw := &groupWorker{
		key:        key,
		ch:         make(chan *enqueuedTask, tr.cfg.GroupBuffer),
		lastActive: time.Now(),
	}
	tr.groups[key] = gw
	tr.wg.Add(1)
	go tr.groupLoop(gw)
	return gw
}

func (tr *TaskRouter) acquireExecSlot() bool {
	if tr.execSem == nil {
		return true
	}
	select {
	case tr.execSem <- struct{}{}:
		return true
	case <-tr.ctx.Done():
		return false
	}
}

func (tr *TaskRouter) releaseExecSlot() {
	if tr.execSem != nil {
		<-tr.execSem
	}
}

func (tr *TaskRouter) groupLoop(gw *groupWorker) {
	defer tr.wg.Done()

	for enq := range gw.ch {
		tr.mu.Lock()
		gw.lastActive = time.Now()
		gw.busy = true
		handler := tr.handlers[enq.task.Type]
		eff := tr.effectiveOptions(enq.task.Options)
		tr.mu.Unlock()

		logger := log.ApplicationLogger().With("task_id", enq.task.ID, "type", enq.task.Type, "group", gw.key)
		err := tr.execute(gw, handler, enq.task.Payload)
		if errors.Is(err, errNoHandler) {
			logger.Warn("Task dropped (handler not registered)")
			continue
		}

		if err == nil {
			continue
		}
		if tr.ctx.Err() != nil {
			logger.Info("Task interrupted by shutdown", "err", err)
			continue
		}
		if IsPermanent(err) || enq.attempt >= eff.MaxAttempts {
			logger.Error("Task failed", "attempts", enq.attempt, "permanent", IsPermanent(err), "err", err)
			continue
		}

		delay := tr.computeBackoff(eff.InitialBackoff, eff.MaxBackoff, enq.attempt)
		logger.Warn("Task failed, scheduling retry",
			"attempt", enq.attempt+1,
			"max_attempts", eff.MaxAttempts,
			"backoff", delay.String(),
			"err", err,
		)
		tr.retryLater(gw.key, &enqueuedTask{task: enq.task, attempt: enq.attempt + 1}, delay)
	}
}

var errNoHandler = errors.New("no handler")

// execute runs one task under the global worker cap and keeps the group marked
// busy meanwhile so it is not reaped mid-task.
func (tr *TaskRouter) execute(gw *groupWorker, handler TaskHandler, payload any) error {
	defer func() {
		tr.mu.Lock()
		gw.busy = false
		gw.lastActive = time.Now()
		tr.mu.Unlock()
	}()
	if handler == nil {
		return errNoHandler
	}
	if !tr.acquireExecSlot() {
		return tr.ctx.Err()
	}
	defer tr.releaseExecSlot()
	return tr.run(handler, payload)
}

// run calls handler, turning a panic into an error so one bad task cannot stop its group.
func (tr *TaskRouter) run(handler TaskHandler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(errors.New("task handler panicked"))
			log.ErrorLoggerRaw().Error("Task handler panicked", "panic", r)
		}
	}()
	return handler(tr.ctx, payload)
}

// retryLater re-enqueues et on its group after d. The group is recreated if it
// was reaped meanwhile.
func (tr *TaskRouter) retryLater(key string, et *enqueuedTask, d time.Duration) {
	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-tr.ctx.Done():
			return
		}

		tr.mu.Lock()
		if tr.closed {
			tr.mu.Unlock()
			return
		}
		gw := tr.ensureGroupLocked(key)
		gw.lastActive = time.Now()
		select {
		case gw.ch <- et:
			tr.mu.Unlock()
		default:
			tr.mu.Unlock()
			log.ApplicationLogger().Warn("Task retry dropped (queue full)", "task_id", et.task.ID, "type", et.task.Type, "group", key)
		}
	}()
}

func (tr *TaskRouter) computeBackoff(initial, maxBackoff time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
			break
		}
	}
	return clampDuration(backoff+tr.jitter(backoff, 0.1), initial, maxBackoff)
}

func (tr *TaskRouter) jitter(d time.Duration, ratio float64) time.Duration {
	delta := int64(float64(d) * ratio)
	if delta <= 0 {
		return 0
	}
	tr.randMu.Lock()
	defer tr.randMu.Unlock()
	return time.Duration(tr.rng.Int63n(2*delta+1) - delta)
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return max(min(v, hi), lo)
}

func (tr *TaskRouter) cleanupLoop() {
	defer tr.wg.Done()
	t := time.NewTicker(tr.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-tr.ctx.Done():
			return
		case <-t.C:
			tr.cleanupOnce(time.Now())
		}
	}
}

func (tr *TaskRouter) cleanupOnce(now time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for k, expiry := range tr.inflight {
		if now.After(expiry) {
			delete(tr.inflight, k)
		}
	}
	for key, gw := range tr.groups {
		if gw.stopping || gw.busy {
			continue
		}
		if now.Sub(gw.lastActive) >= tr.cfg.GroupIdleTTL && len(gw.ch) == 0 {
			gw.stopping = true
			close(gw.ch)
			delete(tr.groups, key)
		}
	}
}
