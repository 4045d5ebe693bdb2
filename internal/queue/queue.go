// Package queue implements a reliable background operation queue:
// callers enqueue opaque operations which are executed against an
// external executor with priority ordering, exponential backoff with
// jitter, correlation grouping, durable snapshots, and admission
// shedding under resource pressure. Every operation eventually reaches
// a terminal state: success, permanent failure, or exhausted retries.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/opqueue/internal/clock"
	"github.com/phrazzld/opqueue/internal/pressure"
)

// Executor performs an operation's effect. The queue hands over kind,
// label and payload opaquely and interprets only the Result envelope.
// Returning an error, or a Result with Success=false, schedules a retry
// unless Permanent is set or attempts are exhausted.
type Executor interface {
	Execute(ctx context.Context, kind, label string, payload json.RawMessage) (Result, error)
}

// MemorySource reports the current memory-pressure level.
type MemorySource interface {
	Level() pressure.Level
	UsedBytes() uint64
}

// Config holds the queue's tunable parameters.
type Config struct {
	// Namespace is the durable-store key the snapshot blob lives under.
	Namespace string `mapstructure:"namespace" validate:"required"`

	// BatchSize caps how many ready operations one drain cycle attempts.
	BatchSize int `mapstructure:"batch_size"`

	// TickInterval is the drain loop's level-trigger period. Enqueues
	// also wake the loop, but a missed wake self-heals at the next tick.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// DefaultMaxAttempts applies when an enqueue request sets none.
	DefaultMaxAttempts int `mapstructure:"default_max_attempts"`

	// MinAttemptTimeout floors the per-attempt execution timeout so
	// early attempts are not starved by a small initial backoff delay.
	MinAttemptTimeout time.Duration `mapstructure:"min_attempt_timeout"`

	// DemoteOnRetry lowers a failed operation's priority one level when
	// it is re-queued, keeping retries from monopolizing the queue head.
	// User-initiated operations are never demoted.
	DemoteOnRetry bool `mapstructure:"demote_on_retry"`

	// OptimisticOffline completes immediate/user-initiated operations
	// locally while the connection is offline instead of queueing them.
	OptimisticOffline bool `mapstructure:"optimistic_offline"`

	Backoff   BackoffConfig   `mapstructure:"backoff"`
	Admission AdmissionConfig `mapstructure:"admission"`
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:          "opqueue/default",
		BatchSize:          5,
		TickInterval:       1 * time.Second,
		DefaultMaxAttempts: 5,
		MinAttemptTimeout:  5 * time.Second,
		DemoteOnRetry:      true,
		OptimisticOffline:  false,
		Backoff:            DefaultBackoffConfig(),
		Admission:          DefaultAdmissionConfig(),
	}
}

// Queue is the reliable operation queue. All public methods are safe for
// concurrent use; the live queue and outcome map are mutated only under
// the Queue's mutex, with the drain loop as the single logical writer
// during a cycle.
type Queue struct {
	mu        sync.Mutex
	sched     *scheduler
	outcomes  map[uuid.UUID]Result
	inFlight  map[uuid.UUID]bool
	paused    bool
	stopped   bool
	executor  Executor
	admission *admission
	backoff   *Backoff
	persister *persister
	hub       *hub
	clock     clock.Clock
	memory    MemorySource
	quality   pressure.QualitySource
	config    Config
	logger    *slog.Logger

	wake   chan struct{}
	sweep  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	// notifySeq stamps state snapshots in capture order; owned by mu.
	notifySeq uint64
}

// Option customizes queue construction.
type Option func(*Queue)

// WithClock replaces the real clock; tests use it for deterministic
// scheduling decisions.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithMemorySource wires a memory-pressure signal into admission control.
func WithMemorySource(m MemorySource) Option {
	return func(q *Queue) { q.memory = m }
}

// WithQualitySource wires a connection-quality signal; offline quality
// pauses dispatch while admissions continue.
func WithQualitySource(s pressure.QualitySource) Option {
	return func(q *Queue) { q.quality = s }
}

// WithBlobStore wires durable snapshot persistence. Without it the queue
// runs in-memory only.
func WithBlobStore(store BlobStore) Option {
	return func(q *Queue) { q.persister = newPersister(store, q.config.Namespace, q.logger) }
}

// New constructs a queue and restores any persisted snapshot. The
// executor may be nil; the drain loop idles until one is set.
func New(config Config, executor Executor, logger *slog.Logger, opts ...Option) *Queue {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	if config.DefaultMaxAttempts <= 0 {
		config.DefaultMaxAttempts = DefaultConfig().DefaultMaxAttempts
	}
	if config.MinAttemptTimeout <= 0 {
		config.MinAttemptTimeout = DefaultConfig().MinAttemptTimeout
	}
	if config.Namespace == "" {
		config.Namespace = DefaultConfig().Namespace
	}

	q := &Queue{
		sched:     newScheduler(),
		outcomes:  make(map[uuid.UUID]Result),
		inFlight:  make(map[uuid.UUID]bool),
		executor:  executor,
		admission: newAdmission(config.Admission),
		backoff:   NewBackoff(config.Backoff, nil),
		hub:       newHub(logger),
		clock:     clock.Real{},
		config:    config,
		logger:    logger.With("component", "operation_queue"),
		wake:      make(chan struct{}, 1),
		sweep:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.persister != nil {
		pending, outcomes := q.persister.Restore(context.Background())
		for _, op := range pending {
			q.sched.Insert(op)
		}
		q.outcomes = outcomes
		q.finalizeExhaustedRestored()
	}

	if sampler, ok := q.memory.(*pressure.MemorySampler); ok && sampler != nil {
		sampler.OnChange(func(pressure.Level) { q.TriggerSweep() })
	}

	return q
}

// finalizeExhaustedRestored settles restored operations with no attempts
// left. Attempts increment before invocation, so an attempt interrupted
// by a crash is already counted in the snapshot; a restored operation at
// its ceiling would otherwise never be selected again and sit pending
// forever.
func (q *Queue) finalizeExhaustedRestored() {
	q.mu.Lock()
	restored := append([]*Operation(nil), q.sched.All()...)
	for _, op := range restored {
		if op.Attempts < op.MaxAttempts {
			continue
		}
		q.finalizeLocked(context.Background(), op, Result{
			Success: false,
			Err:     "attempts exhausted before restart",
		})
		q.logger.Warn("finalized restored operation with exhausted attempts",
			"operation_id", op.ID,
			"kind", op.Kind,
			"attempts", op.Attempts)
	}
	q.mu.Unlock()
}

// SetExecutor attaches or replaces the executor. The drain loop does
// nothing while no executor is configured.
func (q *Queue) SetExecutor(e Executor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executor = e
}

// Enqueue admits a new operation. Admission rejection is reported
// synchronously through the returned error; accepted operations are
// reported only through callbacks and ResultFor.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	if req.Kind == "" {
		return uuid.Nil, ErrEmptyKind
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return uuid.Nil, ErrQueueStopped
	}

	now := q.clock.Now()
	op := &Operation{
		ID:             uuid.New(),
		Kind:           req.Kind,
		Label:          req.Label,
		Payload:        req.Payload,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		NextEligibleAt: now,
		CreatedAt:      now,
		CorrelationID:  req.CorrelationID,
		UserInitiated:  req.UserInitiated,
		onSuccess:      req.OnSuccess,
		onFailure:      req.OnFailure,
	}
	if op.MaxAttempts <= 0 {
		op.MaxAttempts = q.config.DefaultMaxAttempts
	}

	st := q.pressureState()
	if !q.admission.ShouldAdmit(op, st) {
		q.mu.Unlock()
		q.logger.Debug("operation shed at admission",
			"kind", op.Kind,
			"label", op.Label,
			"priority", op.Priority.String(),
			"memory_pressure", st.Memory)
		return uuid.Nil, ErrAdmissionRejected
	}

	// Optimistic completion while offline, for callers whose executors
	// tolerate it. Off by default.
	if q.config.OptimisticOffline && st.Quality == pressure.QualityOffline &&
		(op.Priority == PriorityImmediate || op.UserInitiated) {
		res := Result{Success: true}
		q.outcomes[op.ID] = res
		q.snapshotLocked(ctx)
		cb := op.onSuccess
		state := q.stateLocked()
		q.mu.Unlock()
		q.hub.Notify(state)
		if cb != nil {
			cb(res)
		}
		return op.ID, nil
	}

	var evicted *terminalNotice
	if victim := q.admission.Evictable(q.sched, st, q.inFlight); victim != nil {
		evicted = q.finalizeLocked(ctx, victim, Result{
			Success: false,
			Err:     "evicted under memory pressure",
		})
		q.logger.Warn("evicted oldest low-priority operation to make room",
			"evicted_id", victim.ID,
			"evicted_kind", victim.Kind)
	}

	q.sched.Insert(op)
	q.snapshotLocked(ctx)
	state := q.stateLocked()
	q.mu.Unlock()

	q.hub.Notify(state)
	evicted.deliver()
	q.kick()

	q.logger.Debug("operation enqueued",
		"operation_id", op.ID,
		"kind", op.Kind,
		"label", op.Label,
		"priority", op.Priority.String(),
		"correlation_id", op.CorrelationID)
	return op.ID, nil
}

// Remove cancels a queued operation. Cancellation before an attempt
// starts is complete: no executor call, no terminal callback. An attempt
// already in flight finishes at the executor, but its late result is
// discarded.
func (q *Queue) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	removed := q.sched.Remove(id)
	var state QueueState
	if removed {
		q.snapshotLocked(context.Background())
		state = q.stateLocked()
	}
	q.mu.Unlock()

	if removed {
		q.hub.Notify(state)
	}
	return removed
}

// Promote raises an operation's priority one level. Returns false when
// the id is unknown or already at the top level.
func (q *Queue) Promote(id uuid.UUID) bool {
	q.mu.Lock()
	promoted := q.sched.Promote(id)
	var state QueueState
	if promoted {
		q.snapshotLocked(context.Background())
		state = q.stateLocked()
	}
	q.mu.Unlock()

	if promoted {
		q.hub.Notify(state)
		q.kick()
	}
	return promoted
}

// PromoteGroup promotes every queued operation sharing the correlation
// key and returns how many were raised.
func (q *Queue) PromoteGroup(correlationID string) int {
	q.mu.Lock()
	n := 0
	for _, id := range q.sched.Group(correlationID) {
		if q.sched.Promote(id) {
			n++
		}
	}
	var state QueueState
	if n > 0 {
		q.snapshotLocked(context.Background())
		state = q.stateLocked()
	}
	q.mu.Unlock()

	if n > 0 {
		q.hub.Notify(state)
		q.kick()
	}
	return n
}

// RemoveGroup cancels every queued operation sharing the correlation key
// and returns how many were removed.
func (q *Queue) RemoveGroup(correlationID string) int {
	q.mu.Lock()
	n := 0
	for _, id := range q.sched.Group(correlationID) {
		if q.sched.Remove(id) {
			n++
		}
	}
	var state QueueState
	if n > 0 {
		q.snapshotLocked(context.Background())
		state = q.stateLocked()
	}
	q.mu.Unlock()

	if n > 0 {
		q.hub.Notify(state)
	}
	return n
}

// ResultFor returns the terminal outcome recorded for an operation, if
// it has reached a terminal state and has not been pruned.
func (q *Queue) ResultFor(id uuid.UUID) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.outcomes[id]
	return res, ok
}

// State returns the aggregate queue state.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

// Subscribe registers a listener called synchronously after every
// operation transition. The returned function unsubscribes it.
func (q *Queue) Subscribe(fn Listener) func() {
	return q.hub.Subscribe(fn)
}

// ClearCompleted prunes terminal successes from the outcome window to
// bound storage growth. Failures are retained for post-hoc inspection.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	for id, res := range q.outcomes {
		if res.Success {
			delete(q.outcomes, id)
		}
	}
	q.snapshotLocked(context.Background())
	state := q.stateLocked()
	q.mu.Unlock()

	q.hub.Notify(state)
}

// Pause stops dispatching without rejecting admissions.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logger.Info("queue paused")
}

// Resume re-enables dispatching.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.logger.Info("queue resumed")
	q.kick()
}

// TriggerSweep schedules a TTL sweep outside the regular interval, used
// on memory-pressure transitions.
func (q *Queue) TriggerSweep() {
	select {
	case q.sweep <- struct{}{}:
	default:
	}
}

// Start launches the drain loop. Stop (or cancelling ctx) shuts it down.
func (q *Queue) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(runCtx)
	q.logger.Info("queue started",
		"tick_interval", q.config.TickInterval,
		"batch_size", q.config.BatchSize)
}

// Stop shuts the drain loop down and waits for in-flight attempts to
// settle. Further enqueues fail with ErrQueueStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	q.logger.Info("queue stopped")
}

// kick wakes the drain loop without waiting for the next tick. Lossy by
// design: the level-triggered tick covers a missed wake.
func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pressureState() pressure.State {
	st := pressure.State{Memory: pressure.LevelNormal, Quality: pressure.QualityFast}
	if q.memory != nil {
		st.Memory = q.memory.Level()
		st.UsedBytes = q.memory.UsedBytes()
	}
	if q.quality != nil {
		st.Quality = q.quality.Quality()
	}
	return st
}

func (q *Queue) stateLocked() QueueState {
	now := q.clock.Now()
	breakdown := make(map[string]int, 5)
	ready := 0
	for _, op := range q.sched.All() {
		breakdown[op.Priority.String()]++
		if op.Ready(now) && !q.inFlight[op.ID] {
			ready++
		}
	}

	failed, completed := 0, 0
	for _, res := range q.outcomes {
		if res.Success {
			completed++
		} else {
			failed++
		}
	}

	st := q.pressureState()
	q.notifySeq++
	return QueueState{
		Pending:           q.sched.Len(),
		Ready:             ready,
		Failed:            failed,
		Completed:         completed,
		PriorityBreakdown: breakdown,
		Quality:           string(st.Quality),
		MemoryPressure:    string(st.Memory),
		seq:               q.notifySeq,
	}
}

func (q *Queue) snapshotLocked(ctx context.Context) {
	if q.persister == nil {
		return
	}
	q.persister.Snapshot(ctx, q.sched.All(), q.outcomes)
}

// terminalNotice carries a terminal callback out of the locked section
// so listener code never runs under the queue mutex.
type terminalNotice struct {
	fn  func(Result)
	res Result
}

func (n *terminalNotice) deliver() {
	if n != nil && n.fn != nil {
		n.fn(n.res)
	}
}

// finalizeLocked removes the operation from the live queue, records its
// outcome, and snapshots. The caller must hold the mutex and deliver the
// returned notice after unlocking. Callbacks fire exactly once: they are
// detached from the operation here.
func (q *Queue) finalizeLocked(ctx context.Context, op *Operation, res Result) *terminalNotice {
	q.sched.Remove(op.ID)
	q.outcomes[op.ID] = res

	notice := &terminalNotice{res: res}
	if res.Success {
		notice.fn = op.onSuccess
	} else {
		notice.fn = op.onFailure
	}
	op.onSuccess = nil
	op.onFailure = nil

	q.snapshotLocked(ctx)
	return notice
}
