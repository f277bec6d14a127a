// Package queue implements a durable, at-least-once delivery queue on Redis.
// Jobs wait in a list, delayed jobs park in a sorted set until eligible, and
// finished jobs are retained in capped sorted sets for observability.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kosisookeke/course-management/pkg/logger"
	"github.com/Kosisookeke/course-management/pkg/metrics"
	"github.com/Kosisookeke/course-management/pkg/redis"
)

type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

// Backoff shapes the delay applied before a failed job is retried.
type Backoff struct {
	Kind  BackoffKind
	Delay time.Duration
}

// DelayFor returns the wait before the next attempt, given the number of
// attempts already made (>= 1).
func (b Backoff) DelayFor(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Kind == BackoffExponential {
		d := b.Delay
		for i := 1; i < attemptsMade; i++ {
			d *= 2
		}
		return d
	}
	return b.Delay
}

// Config holds one queue's identity and policy.
type Config struct {
	Name             string
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete int
	RemoveOnFail     int
	Concurrency      int
	PollInterval     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Attempts <= 0 {
		c.Attempts = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Job is the durable unit of work moving through a queue.
type Job struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	CreatedAt    time.Time       `json:"createdAt"`
	DelayedUntil *time.Time      `json:"delayedUntil,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
}

// Handler processes one job attempt. A returned error re-queues the job with
// backoff until its attempt budget is spent.
type Handler func(ctx context.Context, job *Job) error

// EnqueueOptions tune a single enqueue call.
type EnqueueOptions struct {
	// Delay postpones eligibility for processing.
	Delay time.Duration
	// JobID overrides the generated identifier. Re-using an id overwrites
	// the stored job record; delivery stays at-least-once either way.
	JobID string
}

// Stats reports the per-state job counts for a queue.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Queue is one named delivery queue plus its worker pool.
type Queue struct {
	cfg     Config
	rdb     *redis.Client
	logg    *logger.Logger
	metrics *metrics.QueueMetrics
	now     func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
	started  bool

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a queue bound to the given redis client. Call Process to
// register handlers, then Start to launch the workers.
func New(cfg Config, rdb *redis.Client, logg *logger.Logger, qm *metrics.QueueMetrics) (*Queue, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("queue name required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Queue{
		cfg:      cfg.withDefaults(),
		rdb:      rdb,
		logg:     logg,
		metrics:  qm,
		now:      time.Now,
		handlers: map[string]Handler{},
	}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.cfg.Name }

func (q *Queue) key(parts ...string) string {
	return q.rdb.QueueKey(q.cfg.Name, parts...)
}

func (q *Queue) jobKey(id string) string {
	return q.key("job", id)
}

// Enqueue persists a job and makes it eligible now or after opts.Delay.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (*Job, error) {
	if jobType == "" {
		return nil, fmt.Errorf("job type required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}

	job := &Job{
		ID:          opts.JobID,
		Type:        jobType,
		Payload:     data,
		MaxAttempts: q.cfg.Attempts,
		CreatedAt:   q.now().UTC(),
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	if opts.Delay > 0 {
		until := job.CreatedAt.Add(opts.Delay)
		job.DelayedUntil = &until
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	logCtx := q.jobCtx(ctx, job)
	if job.DelayedUntil != nil {
		if err := q.rdb.ZAdd(ctx, q.key("delayed"), float64(job.DelayedUntil.UnixMilli()), job.ID); err != nil {
			return nil, fmt.Errorf("enqueue delayed job: %w", err)
		}
		q.logg.Info(logCtx, "job delayed")
		return job, nil
	}

	if err := q.rdb.RPush(ctx, q.key("waiting"), job.ID); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	q.logg.Info(logCtx, "job waiting")
	return job, nil
}

// Process registers the handler for a job type. Must be called before Start.
func (q *Queue) Process(jobType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Start launches the worker pool. It returns immediately; workers run until
// Close or until ctx is canceled.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	if len(q.handlers) == 0 {
		return fmt.Errorf("queue %s has no handlers registered", q.cfg.Name)
	}
	if err := q.requeueStalled(ctx); err != nil {
		return err
	}
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(workerCtx)
	}
	return nil
}

// requeueStalled moves ids left on the active list by a previous run back to
// waiting. Those attempts never got a verdict recorded, so they are
// redelivered; a concurrent worker instance may see a duplicate, which
// at-least-once delivery permits.
func (q *Queue) requeueStalled(ctx context.Context) error {
	requeued := 0
	for {
		_, err := q.rdb.LMove(ctx, q.key("active"), q.key("waiting"))
		if err != nil {
			if redis.IsNil(err) {
				break
			}
			return fmt.Errorf("requeue stalled jobs: %w", err)
		}
		requeued++
	}
	if requeued > 0 {
		q.logg.Warn(q.queueCtx(ctx), fmt.Sprintf("requeued %d stalled jobs", requeued))
	}
	return nil
}

// Close stops the workers and waits for in-flight attempts to finish.
// Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		cancel := q.cancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		q.wg.Wait()
	})
}

func (q *Queue) workerLoop(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
			// Backend errors are reported and the loop keeps going.
			q.logg.Error(q.queueCtx(ctx), "queue error", err)
			q.sleep(ctx, q.cfg.PollInterval)
			continue
		}

		id, err := q.rdb.LMove(ctx, q.key("waiting"), q.key("active"))
		if err != nil {
			if !redis.IsNil(err) && ctx.Err() == nil {
				q.logg.Error(q.queueCtx(ctx), "queue error", err)
			}
			q.sleep(ctx, q.cfg.PollInterval)
			continue
		}

		q.runJob(ctx, id)
	}
}

// promoteDue moves delayed jobs whose eligibility time has passed onto the
// waiting list. Concurrent promotion can duplicate a move; delivery is
// at-least-once.
func (q *Queue) promoteDue(ctx context.Context) error {
	due, err := q.rdb.ZRemRangeByScoreMax(ctx, q.key("delayed"), float64(q.now().UnixMilli()))
	if err != nil {
		return err
	}
	for _, id := range due {
		if err := q.rdb.RPush(ctx, q.key("waiting"), id); err != nil {
			return err
		}
	}
	return nil
}

// runJob drives one attempt. The worker context only bounds the handler;
// recording the verdict uses a non-cancelable context so a shutdown while an
// attempt is mid-handler still lands the job in a redeliverable state.
func (q *Queue) runJob(ctx context.Context, id string) {
	book := context.WithoutCancel(ctx)
	defer func() {
		if err := q.rdb.LRem(book, q.key("active"), 1, id); err != nil {
			q.logg.Error(q.queueCtx(book), "queue error", err)
		}
	}()

	job, err := q.loadJob(book, id)
	if err != nil {
		q.logg.Error(q.queueCtx(book), "queue error", fmt.Errorf("load job %s: %w", id, err))
		return
	}

	q.mu.Lock()
	handler := q.handlers[job.Type]
	q.mu.Unlock()

	if handler == nil {
		q.failTerminally(book, job, fmt.Errorf("no handler for job type %q", job.Type))
		return
	}

	q.logg.Info(q.jobCtx(book, job), "job active")
	err = q.invoke(ctx, handler, job)
	job.AttemptsMade++

	if err == nil {
		q.complete(book, job)
		return
	}

	job.LastError = err.Error()
	if job.AttemptsMade >= job.MaxAttempts {
		q.failTerminally(book, job, err)
		return
	}
	q.retry(book, job, err)
}

// invoke shields the worker loop from handler panics; a panic counts as a
// failed attempt.
func (q *Queue) invoke(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) complete(ctx context.Context, job *Job) {
	job.LastError = ""
	if err := q.saveJob(ctx, job); err != nil {
		q.logg.Error(q.queueCtx(ctx), "queue error", err)
	}
	if err := q.rdb.ZAdd(ctx, q.key("completed"), float64(q.now().UnixMilli()), job.ID); err != nil {
		q.logg.Error(q.queueCtx(ctx), "queue error", err)
	}
	q.trimRetained(ctx, "completed", q.cfg.RemoveOnComplete)
	q.metrics.IncCompleted(q.cfg.Name)
	q.logg.Info(q.jobCtx(ctx, job), "job completed")
}

func (q *Queue) retry(ctx context.Context, job *Job, cause error) {
	delay := q.cfg.Backoff.DelayFor(job.AttemptsMade)
	until := q.now().Add(delay).UTC()
	job.DelayedUntil = &until
	if err := q.saveJob(ctx, job); err != nil {
		q.logg.Error(q.queueCtx(ctx), "queue error", err)
	}
	if err := q.rdb.ZAdd(ctx, q.key("delayed"), float64(until.UnixMilli()), job.ID); err != nil {
		q.logg.Error(q.queueCtx(ctx), "queue error", err)
	}
	q.metrics.IncRetried(q.cfg.Name)
	logCtx := q.logg.WithFields(q.jobCtx(ctx, job), map[string]any{
		"retry_in": delay.String(),
	})
	q.logg.Warn(logCtx, fmt.Sprintf("job attempt failed: %v", cause))
}

func (q *Queue) failTerminally(ctx context.Context, job *Job, cause error) {
	job.LastError = cause.Error()
	if err := q.saveJob(ctx, job); err != nil {
		q.logg.Error(q.queueCtx(ctx), "queue error", err)
	}
	if err := q.rdb.ZAdd(ctx, q.key("failed"), float64(q.now().UnixMilli()), job.ID); err != nil {
		q.logg.Error(q.queueCtx(ctx), "queue error", err)
	}
	q.trimRetained(ctx, "failed", q.cfg.RemoveOnFail)
	q.metrics.IncFailed(q.cfg.Name)
	q.logg.Error(q.jobCtx(ctx, job), "job failed", cause)
}

func (q *Queue) trimRetained(ctx context.Context, state string, keep int) {
	if keep <= 0 {
		return
	}
	evicted, err := q.rdb.ZTrimToNewest(ctx, q.key(state), int64(keep))
	if err != nil {
		q.logg.Error(q.queueCtx(ctx), "queue error", err)
		return
	}
	for _, id := range evicted {
		if err := q.rdb.Del(ctx, q.jobKey(id)); err != nil {
			q.logg.Error(q.queueCtx(ctx), "queue error", err)
		}
	}
}

// Clean removes completed or failed jobs finished more than age ago,
// returning how many were dropped.
func (q *Queue) Clean(ctx context.Context, age time.Duration, state string) (int, error) {
	if state != "completed" && state != "failed" {
		return 0, fmt.Errorf("unknown clean state %q", state)
	}
	cutoff := float64(q.now().Add(-age).UnixMilli())
	removed, err := q.rdb.ZRemRangeByScoreMax(ctx, q.key(state), cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range removed {
		if err := q.rdb.Del(ctx, q.jobKey(id)); err != nil {
			return len(removed), err
		}
	}
	return len(removed), nil
}

// Stats returns per-state job counts.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error
	if stats.Waiting, err = q.rdb.LLen(ctx, q.key("waiting")); err != nil {
		return stats, err
	}
	if stats.Active, err = q.rdb.LLen(ctx, q.key("active")); err != nil {
		return stats, err
	}
	if stats.Completed, err = q.rdb.ZCard(ctx, q.key("completed")); err != nil {
		return stats, err
	}
	if stats.Failed, err = q.rdb.ZCard(ctx, q.key("failed")); err != nil {
		return stats, err
	}
	if stats.Delayed, err = q.rdb.ZCard(ctx, q.key("delayed")); err != nil {
		return stats, err
	}
	return stats, nil
}

// Job returns the stored record for a job id, or nil when it is gone.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		if redis.IsNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.rdb.Set(ctx, q.jobKey(job.ID), string(data), 0)
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	raw, err := q.rdb.Get(ctx, q.jobKey(id))
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) queueCtx(ctx context.Context) context.Context {
	return q.logg.WithField(ctx, "queue", q.cfg.Name)
}

func (q *Queue) jobCtx(ctx context.Context, job *Job) context.Context {
	return q.logg.WithFields(ctx, map[string]any{
		"queue":    q.cfg.Name,
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempts": job.AttemptsMade,
	})
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
