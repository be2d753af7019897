package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/mypyplay/internal/domain"
)

// Default key names.
const (
	DefaultStream  = "mypyplay:jobs"
	DefaultGroup   = "mypyplay:workers"
	DefaultChannel = "mypyplay:results"
)

// maxStreamLen caps the job stream; processed jobs are not kept as history.
const maxStreamLen = 10_000

// RedisQueue implements domain.JobQueue using Redis Streams for jobs and
// Pub/Sub for results.
type RedisQueue struct {
	client  *redis.Client
	stream  string
	group   string
	channel string
	// consumer names this process in the consumer group.
	consumer string
}

// Ensure RedisQueue satisfies the interface
var _ domain.JobQueue = (*RedisQueue)(nil)

// NewRedisQueue connects to addr and verifies the connection with a Ping.
func NewRedisQueue(ctx context.Context, addr string) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	// Fail-fast ping check
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(rdb, DefaultStream, DefaultGroup, DefaultChannel), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, stream, group, channel string) *RedisQueue {
	return &RedisQueue{
		client:   rdb,
		stream:   stream,
		group:    group,
		channel:  channel,
		consumer: consumerName(),
	}
}

// consumerName returns a name unique to this process (e.g: hostname-pid).
func consumerName() string {
	host, _ := os.Hostname()
	if host == "" {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Close releases the Redis connection pool.
func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// Publish enqueues a job to the Redis stream using XADD (Producer)
func (r *RedisQueue) Publish(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// XADD appends to the stream.
	// We use "*" Id to let Redis generate a timestamp-based ID.
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{
			"job": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// ensureGroup creates the consumer group, and the stream with it.
func (r *RedisQueue) ensureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Subscribe returns a channel of jobs using XREADGROUP (Consumer).
// The consumer group exists when Subscribe returns.
func (r *RedisQueue) Subscribe(ctx context.Context) (<-chan domain.Job, error) {
	if err := r.ensureGroup(ctx); err != nil {
		return nil, err
	}

	outCh := make(chan domain.Job)

	go func() {
		defer close(outCh)

		for {
			if ctx.Err() != nil {
				return
			}

			// Block for 2s at a time so cancellation is noticed.
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    r.group,
				Consumer: r.consumer,
				Streams:  []string{r.stream, ">"}, // ">" means new messages
				Count:    1,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue // Timeout, retry
				}
				if ctx.Err() != nil {
					return
				}
				slog.Error("Redis read error", "error", err)
				time.Sleep(1 * time.Second) // Backoff
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					job, err := decodeJob(msg)
					if err != nil {
						slog.Error("Dropping malformed job", "msgID", msg.ID, "error", err)
						_ = r.Acknowledge(ctx, msg.ID)
						continue
					}

					select {
					case outCh <- job:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return outCh, nil
}

func decodeJob(msg redis.XMessage) (domain.Job, error) {
	val, ok := msg.Values["job"].(string)
	if !ok {
		return domain.Job{}, errors.New("invalid message format")
	}
	var job domain.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	// Capture the Redis Stream ID so we can ACK later
	job.RawID = msg.ID
	return job, nil
}

// Claim re-claims rawID for this consumer with XCLAIM JUSTID, which resets
// the entry's idle time so recovery measures from the start of the run.
// An entry that recovery already acknowledged is not claimed.
func (r *RedisQueue) Claim(ctx context.Context, rawID string) (bool, error) {
	ids, err := r.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  0,
		Messages: []string{rawID},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return len(ids) > 0, nil
}

// Acknowledge confirms processing using XACK.
func (r *RedisQueue) Acknowledge(ctx context.Context, rawID string) error {
	return r.client.XAck(ctx, r.stream, r.group, rawID).Err()
}

// Broadcast publishes the job result on the results channel.
func (r *RedisQueue) Broadcast(ctx context.Context, result domain.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return r.client.Publish(ctx, r.channel, data).Err()
}

// SubscribeLogs subscribes to the results channel and streams results to a Go channel.
func (r *RedisQueue) SubscribeLogs(ctx context.Context) (<-chan domain.JobResult, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to results: %w", err)
	}

	outCh := make(chan domain.JobResult)

	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var result domain.JobResult
				if err := json.Unmarshal([]byte(msg.Payload), &result); err != nil {
					slog.Error("Failed to unmarshal result", "error", err)
					continue
				}

				select {
				case outCh <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}
