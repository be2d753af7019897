package domain

import "context"

// Job is an asynchronous type-check submission carried over the job queue.
type Job struct {
	ID      string  `json:"id"`
	Request Request `json:"request"`

	// RawID is the internal Stream ID from Redis (e.g. 1700000-0).
	// We need this to Acknowledge the message later.
	RawID string `json:"-"`
}

// Job states reported in JobResult.Status.
const (
	JobDone   = "done"
	JobFailed = "failed"
)

// JobResult is broadcast to subscribers once a job finished or was abandoned.
type JobResult struct {
	JobID  string  `json:"job_id"`
	Status string  `json:"status"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// JobQueue defines the contract for a distributed job queue.
// It decouples the application from the underlying message broker (Redis, RabbitMQ, etc.).
type JobQueue interface {
	// Publish enqueues a job for processing.
	Publish(ctx context.Context, job Job) error

	// Subscribe returns a read-only channel that streams jobs from the queue.
	// It handles the details of consumer groups internally.
	Subscribe(ctx context.Context) (<-chan Job, error)

	// Claim marks a delivered job as started by this consumer, resetting its
	// idle time. It reports false when the job is no longer pending, i.e. it
	// was already recovered and must not run.
	Claim(ctx context.Context, rawID string) (bool, error)

	// Acknowledge confirms that a job has been processed.
	// This removes it from the Pending Entry List (PEL).
	Acknowledge(ctx context.Context, rawID string) error

	// Broadcast publishes the job result to the Pub/Sub channel.
	Broadcast(ctx context.Context, result JobResult) error

	// SubscribeLogs returns a channel that streams results from all workers.
	SubscribeLogs(ctx context.Context) (<-chan JobResult, error)
}
