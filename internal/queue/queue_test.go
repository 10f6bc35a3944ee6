package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	base := []Option{
		WithPollInterval(5 * time.Millisecond),
		WithBackoff(time.Millisecond),
		WithConcurrency(2),
	}
	return New(client, "test", append(base, opts...)...), client
}

func TestAdd_DeduplicatesByJobID(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	added, err := q.Add(ctx, Job{ID: "job-1"})
	require.NoError(t, err)
	assert.True(t, added)

	// Same ID while the first is still pending is a no-op.
	added, err = q.Add(ctx, Job{ID: "job-1"})
	require.NoError(t, err)
	assert.False(t, added)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestReseed_OverwritesOrphanMarker(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	// A crash between the marker write and the push leaves a marker with no
	// job behind it; plain Add is deduplicated against it forever.
	require.NoError(t, client.Set(ctx, q.pendingKey("job-1"), "1", 0).Err())
	added, err := q.Add(ctx, Job{ID: "job-1"})
	require.NoError(t, err)
	require.False(t, added)
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)

	seeded, err := q.Reseed(ctx, []Job{{ID: "job-1"}, {ID: "job-2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, seeded)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	// The refreshed markers keep deduplicating plain Adds.
	added, err = q.Add(ctx, Job{ID: "job-2"})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestRun_ProcessesJobAndClearsMarker(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processed := make(chan Job, 1)
	go q.Run(ctx, func(_ context.Context, job Job) error {
		processed <- job
		return nil
	})

	_, err := q.Add(ctx, Job{ID: "job-1", Data: json.RawMessage(`{"k":"v"}`)})
	require.NoError(t, err)

	select {
	case job := <-processed:
		assert.Equal(t, "job-1", job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	// After completion the ID is free for a fresh enqueue.
	require.Eventually(t, func() bool {
		added, err := q.Add(ctx, Job{ID: "job-1"})
		return err == nil && added
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_RetriesWithBackoffThenExhausts(t *testing.T) {
	handlerErr := errors.New("node unreachable")

	var mu sync.Mutex
	attempts := 0
	exhausted := make(chan Job, 1)

	q, _ := newTestQueue(t,
		WithMaxAttempts(3),
		WithOnExhausted(func(_ context.Context, job Job, lastErr error) {
			assert.ErrorIs(t, lastErr, handlerErr)
			exhausted <- job
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, func(_ context.Context, _ Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return handlerErr
	})

	_, err := q.Add(ctx, Job{ID: "job-1"})
	require.NoError(t, err)

	select {
	case job := <-exhausted:
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(5 * time.Second):
		t.Fatal("exhaustion hook did not fire")
	}

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	// Exhaustion releases the dedupe marker.
	cancel()
	added, err := q.Add(context.Background(), Job{ID: "job-1"})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestRun_TerminalErrorSkipsRemainingAttempts(t *testing.T) {
	handlerErr := errors.New("decision out of range")

	var mu sync.Mutex
	attempts := 0
	exhausted := make(chan Job, 1)

	q, _ := newTestQueue(t,
		WithMaxAttempts(5),
		WithOnExhausted(func(_ context.Context, job Job, lastErr error) {
			assert.ErrorIs(t, lastErr, handlerErr)
			exhausted <- job
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, func(_ context.Context, _ Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return Terminal(handlerErr)
	})

	_, err := q.Add(ctx, Job{ID: "job-1"})
	require.NoError(t, err)

	select {
	case job := <-exhausted:
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, 1, job.Attempt)
	case <-time.After(5 * time.Second):
		t.Fatal("exhaustion hook did not fire")
	}

	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()

	// The marker is released the same way a spent budget releases it.
	cancel()
	added, err := q.Add(context.Background(), Job{ID: "job-1"})
	require.NoError(t, err)
	assert.True(t, added)
}

func TestPromoteDue_MovesOnlyDueJobs(t *testing.T) {
	q, client := newTestQueue(t, WithBackoff(time.Hour))
	ctx := context.Background()

	payload, err := json.Marshal(Job{ID: "job-later", Attempt: 1})
	require.NoError(t, err)
	require.NoError(t, client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(time.Hour).UnixMilli()),
		Member: payload,
	}).Err())

	duePayload, err := json.Marshal(Job{ID: "job-due", Attempt: 1})
	require.NoError(t, err)
	require.NoError(t, client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(-time.Second).UnixMilli()),
		Member: duePayload,
	}).Err())

	require.NoError(t, q.PromoteDue(ctx))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	raw, err := client.RPop(ctx, q.readyKey()).Result()
	require.NoError(t, err)
	var job Job
	require.NoError(t, json.Unmarshal([]byte(raw), &job))
	assert.Equal(t, "job-due", job.ID)
}
