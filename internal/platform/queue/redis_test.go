package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/mypyplay/internal/domain"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewWithClient(rdb, DefaultStream, DefaultGroup, DefaultChannel)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func testJob(id string) domain.Job {
	return domain.Job{
		ID: id,
		Request: domain.Request{
			Source:      "reveal_type(1)",
			ToolVersion: "latest",
			Options:     domain.Options{Flags: map[string]bool{"strict": true}},
		},
	}
}

func TestPublishSubscribe(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	jobs, err := q.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, testJob("job-1")))

	select {
	case job := <-jobs:
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, "reveal_type(1)", job.Request.Source)
		assert.True(t, job.Request.Options.Flags["strict"])
		assert.NotEmpty(t, job.RawID)
		require.NoError(t, q.Acknowledge(ctx, job.RawID))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestSubscribe_ClosesOnCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(t.Context())

	jobs, err := q.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-jobs:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("job channel not closed after cancel")
	}
}

func TestSubscribe_GroupAlreadyExists(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	_, err := q.Subscribe(ctx)
	require.NoError(t, err)
	_, err = q.Subscribe(ctx)
	assert.NoError(t, err)
}

func TestBroadcastSubscribeLogs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	results, err := q.SubscribeLogs(ctx)
	require.NoError(t, err)

	want := domain.JobResult{
		JobID:  "job-1",
		Status: domain.JobDone,
		Result: &domain.Result{ExitCode: 1, Stdout: "main.py:1: error", DurationMs: 42},
	}
	require.NoError(t, q.Broadcast(ctx, want))

	select {
	case got := <-results:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestRecoverStale(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, q.ensureGroup(ctx))
	require.NoError(t, q.Publish(ctx, testJob("job-lost")))

	// A worker reads the job and dies before acknowledging it.
	_, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "dead-worker",
		Streams:  []string{q.stream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)

	results, err := q.SubscribeLogs(ctx)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case got := <-results:
		assert.Equal(t, "job-lost", got.JobID)
		assert.Equal(t, domain.JobFailed, got.Status)
		assert.Nil(t, got.Result)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure broadcast")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}

func receiveJob(t *testing.T, jobs <-chan domain.Job) domain.Job {
	t.Helper()
	select {
	case job := <-jobs:
		return job
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
		return domain.Job{}
	}
}

func TestRecoverStale_SparesClaimedJob(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	start := time.Now()
	mr.SetTime(start)

	jobs, err := q.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, testJob("job-queued")))
	job := receiveJob(t, jobs)

	// Delivered long ago, but the worker only now gets to start it.
	mr.SetTime(start.Add(10 * time.Minute))
	owned, err := q.Claim(ctx, job.RawID)
	require.NoError(t, err)
	assert.True(t, owned)

	n, err := q.RecoverStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
	assert.Equal(t, int64(1), pending.Consumers[q.consumer])
}

func TestClaim_AfterRecovery(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	start := time.Now()
	mr.SetTime(start)

	jobs, err := q.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Publish(ctx, testJob("job-stale")))
	job := receiveJob(t, jobs)

	mr.SetTime(start.Add(10 * time.Minute))
	n, err := q.RecoverStale(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	owned, err := q.Claim(ctx, job.RawID)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestRecoverStale_NothingPending(t *testing.T) {
	q, _ := newTestQueue(t)

	n, err := q.RecoverStale(t.Context(), time.Minute)

	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNewRedisQueue_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisQueue(t.Context(), addr)
	assert.Error(t, err)
}
