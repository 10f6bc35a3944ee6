// Package queue implements the durable processing queue backing asynchronous
// request evaluation.
//
// Jobs are deduplicated by ID with an atomic pending marker, so at most one
// live job exists per ID across every producer and worker. Failed jobs are
// parked in a delayed set and retried with exponential backoff; once the
// attempt budget is exhausted the job is dropped from the queue and the
// exhaustion hook fires exactly once. Handlers can wrap an error with
// Terminal to skip the remaining budget when no retry could succeed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "sigil/pkg/domain-errors"
)

// Job is one unit of queued work. ID doubles as the deduplication key.
type Job struct {
	ID      string          `json:"id"`
	Data    json.RawMessage `json:"data,omitempty"`
	Attempt int             `json:"attempt"`
}

// Handler processes one job. A returned error schedules a retry unless it
// carries the Terminal marker.
type Handler func(ctx context.Context, job Job) error

// Terminal wraps err so the job skips its remaining attempts and goes
// straight to the exhaustion hook. Meant for failures no retry can fix,
// such as invariant violations.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var t terminalError
	return errors.As(err, &t)
}

type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

// ExhaustedFunc is invoked once when a job has burned through its attempt
// budget. The job is already removed from the queue when the hook runs.
type ExhaustedFunc func(ctx context.Context, job Job, lastErr error)

// Queue is a redis-backed work queue with per-ID mutual exclusion.
type Queue struct {
	client *redis.Client
	name   string

	maxAttempts int
	backoff     time.Duration
	concurrency int
	pollEvery   time.Duration

	onExhausted ExhaustedFunc
	logger      *slog.Logger
}

// Option configures the Queue.
type Option func(*Queue)

// WithMaxAttempts sets the total attempt budget per job, first run included.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithBackoff sets the base retry delay; attempt n waits backoff * 2^(n-1).
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) { q.backoff = d }
}

// WithConcurrency sets the number of worker goroutines Run starts.
func WithConcurrency(n int) Option {
	return func(q *Queue) { q.concurrency = n }
}

// WithOnExhausted installs the exhaustion hook.
func WithOnExhausted(fn ExhaustedFunc) Option {
	return func(q *Queue) { q.onExhausted = fn }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithPollInterval sets how often workers check the ready list and the
// delayed set. Exposed mainly so tests can run fast.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollEvery = d }
}

// New constructs a queue. Name isolates keyspaces, so several queues can
// share one redis instance.
func New(client *redis.Client, name string, opts ...Option) *Queue {
	q := &Queue{
		client:      client,
		name:        name,
		maxAttempts: 5,
		backoff:     30 * time.Second,
		concurrency: 4,
		pollEvery:   time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) readyKey() string   { return "queue:" + q.name + ":ready" }
func (q *Queue) delayedKey() string { return "queue:" + q.name + ":delayed" }
func (q *Queue) pendingKey(jobID string) string {
	return "queue:" + q.name + ":pending:" + jobID
}

// Add enqueues a job unless a job with the same ID is already pending.
// Returns true when the job was enqueued, false when it was deduplicated.
func (q *Queue) Add(ctx context.Context, job Job) (bool, error) {
	set, err := q.client.SetNX(ctx, q.pendingKey(job.ID), "1", 0).Result()
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "mark job pending")
	}
	if !set {
		return false, nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "encode job")
	}
	if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		// Roll the marker back so the job can be re-added.
		q.client.Del(ctx, q.pendingKey(job.ID))
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "enqueue job")
	}
	jobsEnqueued.WithLabelValues(q.name).Inc()
	return true, nil
}

// Reseed force-enqueues jobs and refreshes their pending markers, returning
// the number pushed. Startup recovery uses it instead of Add: a crash between
// the marker write and the push leaves an orphan marker that would
// deduplicate every later Add for that ID. A job that was genuinely pending
// gets a duplicate run, which handlers must tolerate.
func (q *Queue) Reseed(ctx context.Context, jobs []Job) (int, error) {
	seeded := 0
	for _, job := range jobs {
		payload, err := json.Marshal(job)
		if err != nil {
			return seeded, dErrors.Wrap(err, dErrors.CodeInternal, "encode job")
		}
		// Push before marking: failing here leaves at worst an unmarked job,
		// never a marker with no job behind it.
		if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
			return seeded, dErrors.Wrap(err, dErrors.CodeUnavailable, "enqueue job")
		}
		seeded++
		jobsEnqueued.WithLabelValues(q.name).Inc()
		if err := q.client.Set(ctx, q.pendingKey(job.ID), "1", 0).Err(); err != nil {
			return seeded, dErrors.Wrap(err, dErrors.CodeUnavailable, "mark job pending")
		}
	}
	return seeded, nil
}

// Run starts the worker pool and blocks until ctx is canceled.
func (q *Queue) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "queue handler must not be nil")
	}
	done := make(chan struct{})
	for i := 0; i < q.concurrency; i++ {
		go func() {
			q.workerLoop(ctx, handler)
			done <- struct{}{}
		}()
	}
	go q.promoteLoop(ctx)

	<-ctx.Done()
	for i := 0; i < q.concurrency; i++ {
		<-done
	}
	return ctx.Err()
}

func (q *Queue) workerLoop(ctx context.Context, handler Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := q.pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.ErrorContext(ctx, "queue pop failed", "queue", q.name, "error", err)
			sleepCtx(ctx, q.pollEvery)
			continue
		}
		if !ok {
			sleepCtx(ctx, q.pollEvery)
			continue
		}
		q.process(ctx, handler, job)
	}
}

// pop takes one job off the ready list.
func (q *Queue) pop(ctx context.Context) (Job, bool, error) {
	raw, err := q.client.RPop(ctx, q.readyKey()).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return Job{}, false, fmt.Errorf("decode job payload: %w", err)
	}
	return job, true, nil
}

// process runs the handler and settles the job: ack on success, delayed
// retry on failure, exhaustion hook when the budget is spent.
func (q *Queue) process(ctx context.Context, handler Handler, job Job) {
	start := time.Now()
	err := handler(ctx, job)
	jobDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())

	if err == nil {
		if delErr := q.client.Del(ctx, q.pendingKey(job.ID)).Err(); delErr != nil {
			q.logger.ErrorContext(ctx, "failed to clear pending marker",
				"queue", q.name, "job_id", job.ID, "error", delErr)
		}
		jobsProcessed.WithLabelValues(q.name, "success").Inc()
		return
	}

	job.Attempt++
	if IsTerminal(err) || job.Attempt >= q.maxAttempts {
		// Remove the marker first so the hook may re-enqueue if it wants to.
		if delErr := q.client.Del(ctx, q.pendingKey(job.ID)).Err(); delErr != nil {
			q.logger.ErrorContext(ctx, "failed to clear pending marker",
				"queue", q.name, "job_id", job.ID, "error", delErr)
		}
		jobsProcessed.WithLabelValues(q.name, "exhausted").Inc()
		q.logger.ErrorContext(ctx, "job failed permanently",
			"queue", q.name, "job_id", job.ID, "attempts", job.Attempt, "error", err)
		if q.onExhausted != nil {
			q.onExhausted(ctx, job, err)
		}
		return
	}

	delay := q.backoff << (job.Attempt - 1)
	due := time.Now().Add(delay)
	payload, mErr := json.Marshal(job)
	if mErr != nil {
		q.logger.ErrorContext(ctx, "failed to encode retry job",
			"queue", q.name, "job_id", job.ID, "error", mErr)
		return
	}
	if zErr := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: payload,
	}).Err(); zErr != nil {
		q.logger.ErrorContext(ctx, "failed to schedule retry",
			"queue", q.name, "job_id", job.ID, "error", zErr)
		return
	}
	jobsProcessed.WithLabelValues(q.name, "retry").Inc()
	q.logger.WarnContext(ctx, "job failed, retry scheduled",
		"queue", q.name, "job_id", job.ID, "attempt", job.Attempt,
		"retry_in", delay, "error", err)
}

// promoteLoop moves due jobs from the delayed set back onto the ready list.
func (q *Queue) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(q.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.ErrorContext(ctx, "failed to promote delayed jobs",
					"queue", q.name, "error", err)
			}
		}
	}
}

// PromoteDue is exported for tests that drive time explicitly.
func (q *Queue) PromoteDue(ctx context.Context) error {
	return q.promoteDue(ctx)
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		// ZRem guards against two promoters racing the same member.
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Depth reports the number of jobs waiting on the ready list.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey()).Result()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
