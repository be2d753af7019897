package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/mypyplay/internal/domain"
)

// recoveryConsumer is the consumer name stale jobs are claimed to.
const recoveryConsumer = "recovery-agent"

// StartRecoveryRoutine polls the PEL every interval for jobs pending longer
// than maxAge. Such jobs belonged to a worker that died mid-run: they are
// reported as failed to any waiting client and acknowledged. Blocks until ctx is done.
func (r *RedisQueue) StartRecoveryRoutine(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Starting Redis Recovery Routine", "interval", interval, "maxAge", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.RecoverStale(ctx, maxAge); err != nil {
				slog.Error("Recovery routine failed", "error", err)
			} else if n > 0 {
				slog.Info("Recovered stale jobs", "count", n)
			}
		}
	}
}

// RecoverStale runs one recovery pass and returns the number of jobs recovered.
func (r *RedisQueue) RecoverStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if err := r.ensureGroup(ctx); err != nil {
		return 0, err
	}

	recovered := 0
	start := "-" // Start from beginning of stream
	for {
		// XAUTOCLAIM: finds messages pending for > maxAge and claims them in batches of 10.
		messages, nextStart, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			MinIdle:  maxAge,
			Start:    start,
			Count:    10,
			Consumer: recoveryConsumer,
		}).Result()
		if err != nil {
			return recovered, err
		}

		for _, msg := range messages {
			result := domain.JobResult{
				Status: domain.JobFailed,
				Error:  "the worker running this job stopped responding",
			}
			if job, err := decodeJob(msg); err == nil {
				result.JobID = job.ID
				slog.Warn("Stale job claimed by recovery agent", "jobID", job.ID, "msgID", msg.ID)
				if err := r.Broadcast(ctx, result); err != nil {
					slog.Error("Failed to broadcast recovered job", "jobID", job.ID, "error", err)
				}
			}
			if err := r.Acknowledge(ctx, msg.ID); err != nil {
				return recovered, err
			}
			recovered++
		}

		if len(messages) == 0 || nextStart == "0-0" {
			return recovered, nil
		}
		start = nextStart
	}
}
