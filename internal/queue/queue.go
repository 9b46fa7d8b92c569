// Package queue owns the durable sync job queue: enqueueing with
// coalescing, the background claim-and-dispatch loop, exponential backoff,
// dead-lettering, stale-job recovery, and retention of completed work.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/modsync/modsync/internal/engine"
	"github.com/modsync/modsync/internal/store"
	"github.com/modsync/modsync/internal/telemetry"
)

// Default queue tuning. All of these are overridable through Config.
const (
	DefaultTickInterval = 5 * time.Second
	DefaultBatchSize    = 8
	DefaultParallelism  = 4
	DefaultStaleAfter   = 15 * time.Minute
	DefaultRetention    = 7 * 24 * time.Hour
	DefaultMaxAttempts  = 3
)

// Config tunes the queue worker. Zero values use the defaults.
type Config struct {
	TickInterval time.Duration
	BatchSize    int
	Parallelism  int
	StaleAfter   time.Duration
	Retention    time.Duration
	MaxAttempts  int
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Queue is the durable sync job queue and its background worker.
type Queue struct {
	store   *store.Store
	engine  *engine.Engine
	emitter *telemetry.Emitter
	log     *zap.Logger
	cfg     Config

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a Queue. The emitter may be nil.
func New(st *store.Store, eng *engine.Engine, emitter *telemetry.Emitter, log *zap.Logger, cfg Config) *Queue {
	cfg.applyDefaults()
	return &Queue{
		store:   st,
		engine:  eng,
		emitter: emitter,
		log:     log,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds a sync job for the module, coalescing with an existing
// pending job for the same module and direction, and nudges the worker so
// due work is picked up without waiting a full tick.
func (q *Queue) Enqueue(ctx context.Context, moduleID string, direction store.Direction, priority int) (string, error) {
	job := &store.SyncJob{
		ModuleID:    moduleID,
		Direction:   direction,
		Priority:    priority,
		MaxAttempts: q.cfg.MaxAttempts,
	}
	id, coalesced, err := q.store.EnqueueJob(ctx, job)
	if err != nil {
		return "", err
	}
	if !coalesced {
		_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobEnqueued, ModuleID: moduleID, JobID: id,
			Data: map[string]any{"direction": string(direction), "priority": priority}})
	}
	q.nudge()
	return id, nil
}

// nudge wakes the worker loop without blocking.
func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start recovers stale jobs left over from a previous process, then runs
// the worker loop until Stop or context cancellation. It returns after the
// loop goroutine is launched.
func (q *Queue) Start(ctx context.Context) error {
	if _, err := q.recoverStale(ctx); err != nil {
		return fmt.Errorf("queue: startup stale recovery: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(loopCtx)
	return nil
}

// Stop shuts the worker loop down and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
}

// run is the worker loop: a fixed-interval sweep plus immediate wakeups on
// enqueue.
func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.ProcessQueue(ctx)
	}
}

// ProcessQueue runs one sweep: recover stale jobs, claim a bounded batch of
// due work, process it with bounded parallelism, and garbage-collect old
// successes. Safe to call directly for a one-shot drain.
func (q *Queue) ProcessQueue(ctx context.Context) {
	now := time.Now()

	if _, err := q.recoverStale(ctx); err != nil {
		q.log.Error("stale job recovery failed", zap.Error(err))
	}

	jobs, err := q.store.ClaimDueJobs(ctx, now, q.cfg.BatchSize)
	if err != nil {
		q.log.Error("claiming due jobs failed", zap.Error(err))
		return
	}

	if len(jobs) > 0 {
		// Each claimed job belongs to a distinct module, so parallel
		// processing cannot violate the one-writer-per-module rule.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(q.cfg.Parallelism)
		for _, job := range jobs {
			g.Go(func() error {
				q.processJob(gctx, job)
				return nil
			})
		}
		_ = g.Wait()
	}

	if n, err := q.store.DeleteCompletedBefore(ctx, now.Add(-q.cfg.Retention)); err != nil {
		q.log.Error("job retention sweep failed", zap.Error(err))
	} else if n > 0 {
		q.log.Debug("garbage-collected completed jobs", zap.Int64("count", n))
	}
}

// recoverStale recovers jobs stuck in running past the staleness window and
// logs each so the recovery is operator-visible. Jobs with attempt budget
// left go back to pending; exhausted ones dead-letter.
func (q *Queue) recoverStale(ctx context.Context) (int, error) {
	requeued, deadLettered, err := q.store.RequeueStale(ctx, q.cfg.StaleAfter, time.Now())
	if err != nil {
		return 0, err
	}
	for _, id := range requeued {
		q.log.Warn("requeued stale running job", zap.String("job", id))
		_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobRequeued, JobID: id, Data: map[string]string{"reason": "stale"}})
	}
	for _, id := range deadLettered {
		q.log.Warn("dead-lettered stale running job", zap.String("job", id))
		_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobDeadLettered, JobID: id, Data: map[string]string{"reason": "stale"}})
	}
	return len(requeued) + len(deadLettered), nil
}

// processJob runs one claimed job through the engine and commits its outcome.
func (q *Queue) processJob(ctx context.Context, job store.SyncJob) {
	_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobClaimed, ModuleID: job.ModuleID, JobID: job.ID,
		Data: map[string]int{"attempt": job.Attempts}})

	var err error
	switch job.Direction {
	case store.ToRemote:
		_, err = q.engine.SyncToRemote(ctx, job.ModuleID, engine.Options{})
	case store.FromRemote:
		_, err = q.engine.SyncFromRemote(ctx, job.ModuleID, engine.Options{})
	case store.Bidirectional:
		_, err = q.engine.BidirectionalSync(ctx, job.ModuleID, engine.Options{})
	default:
		err = fmt.Errorf("unknown sync direction %q", job.Direction)
	}

	now := time.Now()
	if err == nil {
		if cerr := q.store.CompleteJob(ctx, job.ID, now); cerr != nil {
			q.log.Error("completing job failed", zap.String("job", job.ID), zap.Error(cerr))
			return
		}
		_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobSucceeded, ModuleID: job.ModuleID, JobID: job.ID})
		return
	}

	retryable := engine.Retryable(err)
	status, ferr := q.store.FailJob(ctx, &job, err.Error(), retryable, now)
	if ferr != nil {
		q.log.Error("recording job failure failed", zap.String("job", job.ID), zap.Error(ferr))
		return
	}

	switch status {
	case store.JobPending:
		q.log.Warn("job failed, rescheduled with backoff",
			zap.String("job", job.ID), zap.Int("attempt", job.Attempts), zap.Error(err))
		_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobRescheduled, ModuleID: job.ModuleID, JobID: job.ID,
			Data: map[string]any{"attempt": job.Attempts, "error": err.Error()}})
	case store.JobDeadLetter:
		q.log.Error("job dead-lettered",
			zap.String("job", job.ID), zap.Int("attempts", job.Attempts), zap.Bool("retryable", retryable), zap.Error(err))
		_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobDeadLettered, ModuleID: job.ModuleID, JobID: job.ID,
			Data: map[string]any{"attempts": job.Attempts, "error": err.Error()}})
	}
}

// Requeue resets a dead-lettered job for another round of attempts. This is
// the operator path out of the DLQ.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	if err := q.store.RequeueJob(ctx, jobID, time.Now()); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return fmt.Errorf("queue: %w (only dead-lettered jobs can be requeued)", err)
		}
		return err
	}
	_ = q.emitter.Emit(telemetry.Event{Kind: telemetry.KindJobRequeued, JobID: jobID, Data: map[string]string{"reason": "operator"}})
	q.nudge()
	return nil
}
