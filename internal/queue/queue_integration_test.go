//go:build integration

package queue_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"sigil/internal/queue"
	"sigil/pkg/testutil/containers"
)

type QueueSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestQueueSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
}

func (s *QueueSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// newQueue gives each test its own queue name so runs never interleave.
func (s *QueueSuite) newQueue(opts ...queue.Option) *queue.Queue {
	base := []queue.Option{
		queue.WithPollInterval(10 * time.Millisecond),
		queue.WithBackoff(10 * time.Millisecond),
		queue.WithConcurrency(2),
	}
	return queue.New(s.redis.Client, "itest-"+uuid.NewString(), append(base, opts...)...)
}

func (s *QueueSuite) TestAddDeduplicatesByJobID() {
	ctx := context.Background()
	q := s.newQueue()

	added, err := q.Add(ctx, queue.Job{ID: "job-1"})
	s.Require().NoError(err)
	s.True(added)

	added, err = q.Add(ctx, queue.Job{ID: "job-1"})
	s.Require().NoError(err)
	s.False(added)

	depth, err := q.Depth(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), depth)
}

func (s *QueueSuite) TestRunProcessesAndFreesMarker() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := s.newQueue()

	processed := make(chan queue.Job, 4)
	go q.Run(ctx, func(_ context.Context, job queue.Job) error {
		processed <- job
		return nil
	})

	_, err := q.Add(ctx, queue.Job{ID: "job-1", Data: json.RawMessage(`{"orgId":"o"}`)})
	s.Require().NoError(err)

	select {
	case job := <-processed:
		s.Equal("job-1", job.ID)
		s.JSONEq(`{"orgId":"o"}`, string(job.Data))
	case <-time.After(5 * time.Second):
		s.FailNow("job was not processed")
	}

	// Once the marker is freed the same ID can be enqueued again.
	s.Require().Eventually(func() bool {
		added, err := q.Add(ctx, queue.Job{ID: "job-1"})
		return err == nil && added
	}, 5*time.Second, 20*time.Millisecond)
}

func (s *QueueSuite) TestRetriesThenExhausts() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exhausted := make(chan queue.Job, 1)
	q := s.newQueue(
		queue.WithMaxAttempts(3),
		queue.WithOnExhausted(func(_ context.Context, job queue.Job, _ error) {
			exhausted <- job
		}),
	)

	var attempts atomic.Int32
	go q.Run(ctx, func(_ context.Context, _ queue.Job) error {
		attempts.Add(1)
		return context.DeadlineExceeded
	})

	_, err := q.Add(ctx, queue.Job{ID: "doomed"})
	s.Require().NoError(err)

	select {
	case job := <-exhausted:
		s.Equal("doomed", job.ID)
		s.Equal(3, job.Attempt)
	case <-time.After(10 * time.Second):
		s.FailNow("exhaustion hook never fired")
	}
	s.Equal(int32(3), attempts.Load())
}

func (s *QueueSuite) TestDelayedJobsPromoteOnlyWhenDue() {
	ctx := context.Background()
	q := s.newQueue(queue.WithBackoff(time.Second))

	_, err := q.Add(ctx, queue.Job{ID: "parked"})
	s.Require().NoError(err)

	runCtx, cancel := context.WithCancel(ctx)
	failures := make(chan struct{}, 1)
	go q.Run(runCtx, func(_ context.Context, _ queue.Job) error {
		select {
		case failures <- struct{}{}:
		default:
		}
		return context.DeadlineExceeded
	})

	select {
	case <-failures:
	case <-time.After(5 * time.Second):
		s.FailNow("job was never attempted")
	}
	// Give the worker a moment to park the job before stopping it.
	time.Sleep(100 * time.Millisecond)
	cancel()

	// The failed job sits in the delayed set, not on the ready list.
	s.Require().Eventually(func() bool {
		depth, err := q.Depth(ctx)
		return err == nil && depth == 0
	}, 5*time.Second, 20*time.Millisecond)

	// Too early: the backoff has not elapsed yet.
	s.Require().NoError(q.PromoteDue(ctx))
	depth, err := q.Depth(ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), depth)

	time.Sleep(1100 * time.Millisecond)
	s.Require().NoError(q.PromoteDue(ctx))
	depth, err = q.Depth(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), depth)
}
