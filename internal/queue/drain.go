package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phrazzld/opqueue/internal/pressure"
)

// run is the drain loop: level-triggered on a fixed tick, woken early by
// enqueue/promote/resume, with a slower TTL sweep alongside.
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.config.TickInterval)
	defer ticker.Stop()

	sweepInterval := q.config.Admission.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultAdmissionConfig().SweepInterval
	}
	sweeper := time.NewTicker(sweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drainOnce(ctx)
		case <-q.wake:
			q.drainOnce(ctx)
		case <-sweeper.C:
			q.sweepExpired(ctx)
		case <-q.sweep:
			q.sweepExpired(ctx)
		}
	}
}

// drainOnce runs one drain cycle: select ready operations, execute them
// concurrently up to the batch size, and apply each outcome as it lands.
func (q *Queue) drainOnce(ctx context.Context) {
	q.mu.Lock()
	if q.executor == nil || q.paused || q.stopped {
		q.mu.Unlock()
		return
	}

	// Offline gates dispatch, not admission: the queue keeps growing and
	// drains once quality recovers.
	if q.pressureState().Quality == pressure.QualityOffline {
		q.mu.Unlock()
		return
	}

	now := q.clock.Now()
	var batch []*Operation
	for _, op := range q.sched.PeekReady(now, 0) {
		if q.inFlight[op.ID] {
			continue
		}
		batch = append(batch, op)
		if len(batch) >= q.config.BatchSize {
			break
		}
	}

	// Attempts increment before invocation so a crash mid-attempt is
	// counted after restore.
	executor := q.executor
	for _, op := range batch {
		op.Attempts++
		q.inFlight[op.ID] = true
	}
	if len(batch) > 0 {
		q.snapshotLocked(ctx)
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, op := range batch {
		wg.Add(1)
		go func(op *Operation) {
			defer wg.Done()
			q.attempt(ctx, executor, op)
		}(op)
	}
	wg.Wait()
}

// attempt executes one operation and applies its outcome.
func (q *Queue) attempt(ctx context.Context, executor Executor, op *Operation) {
	timeout := q.backoff.Bound(op.Attempts - 1)
	if timeout < q.config.MinAttemptTimeout {
		timeout = q.config.MinAttemptTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := q.invoke(attemptCtx, executor, op)
	cancel()

	if err != nil {
		// Timeouts and executor errors are both transient failures.
		res = Result{Success: false, Err: err.Error()}
	}

	q.settle(ctx, op, res)
}

// invoke calls the executor, converting panics and context expiry into
// ordinary failures so a misbehaving executor cannot take down the loop.
func (q *Queue) invoke(ctx context.Context, executor Executor, op *Operation) (Result, error) {
	type outcome struct {
		res Result
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("executor panicked: %v", r)}
			}
		}()
		res, err := executor.Execute(ctx, op.Kind, op.Label, op.Payload)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		// The invocation may still land later; settle discards results
		// for operations no longer queued.
		return Result{}, fmt.Errorf("attempt timed out: %w", ctx.Err())
	}
}

// settle applies an attempt's outcome: finalize on success, permanent
// failure, or exhausted attempts; otherwise reschedule with backoff.
func (q *Queue) settle(ctx context.Context, op *Operation, res Result) {
	q.mu.Lock()
	delete(q.inFlight, op.ID)

	// A late result for an operation cancelled mid-flight is discarded.
	if q.sched.Get(op.ID) == nil {
		q.mu.Unlock()
		q.logger.Debug("discarding result for removed operation",
			"operation_id", op.ID,
			"kind", op.Kind)
		return
	}

	logger := q.logger.With(
		"operation_id", op.ID,
		"kind", op.Kind,
		"label", op.Label,
		"attempts", op.Attempts,
	)

	var notice *terminalNotice
	switch {
	case res.Success:
		notice = q.finalizeLocked(ctx, op, res)
		logger.Info("operation completed")

	case res.Permanent:
		notice = q.finalizeLocked(ctx, op, res)
		logger.Warn("operation failed permanently", "error", res.Err)

	case op.Attempts >= op.MaxAttempts:
		notice = q.finalizeLocked(ctx, op, res)
		logger.Warn("operation failed, attempts exhausted",
			"max_attempts", op.MaxAttempts,
			"error", res.Err)

	default:
		now := q.clock.Now()
		delay := q.backoff.Delay(op.Attempts)
		op.NextEligibleAt = now.Add(delay)
		if q.config.DemoteOnRetry && !op.UserInitiated {
			op.Priority = op.Priority.Demoted()
		}
		q.sched.Remove(op.ID)
		q.sched.Insert(op)
		q.snapshotLocked(ctx)
		logger.Debug("operation rescheduled",
			"delay", delay,
			"priority", op.Priority.String(),
			"error", res.Err)
	}

	state := q.stateLocked()
	q.mu.Unlock()

	q.hub.Notify(state)
	notice.deliver()
}

// sweepExpired removes stale pending operations so the queue stays
// bounded during sustained pressure. Swept operations are finalized as
// failures so callers still get a terminal signal.
func (q *Queue) sweepExpired(ctx context.Context) {
	q.mu.Lock()
	expired := q.admission.Expired(q.sched, q.clock.Now(), q.inFlight)
	if len(expired) == 0 {
		q.mu.Unlock()
		return
	}

	notices := make([]*terminalNotice, 0, len(expired))
	for _, op := range expired {
		notices = append(notices, q.finalizeLocked(ctx, op, Result{
			Success: false,
			Err:     "expired in queue",
		}))
	}
	state := q.stateLocked()
	count := len(expired)
	q.mu.Unlock()

	q.logger.Info("swept expired operations", "count", count)
	q.hub.Notify(state)
	for _, n := range notices {
		n.deliver()
	}
}
