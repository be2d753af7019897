package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dontdude/mypyplay/internal/domain"
)

// Pool implements a fixed-size worker pool pattern.
// Workers take queued jobs, run them through the checker, broadcast the
// outcome and acknowledge the job.
type Pool struct {
	// workerCount bounds how many queued jobs are in progress at once.
	// The checker's own concurrency gate still applies to each run.
	workerCount int
	// tasksCh hands jobs to idle workers. It is unbuffered so a job is only
	// taken off the queue consumer when a worker is ready for it.
	tasksCh chan domain.Job
	// wg tracks active workers to ensure graceful shutdown.
	wg      sync.WaitGroup
	checker domain.Checker
	queue   domain.JobQueue
	logger  *slog.Logger
}

// NewPool initializes the worker pool with a fixed concurrency limit.
func NewPool(concurrency int, checker domain.Checker, queue domain.JobQueue, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		workerCount: concurrency,
		tasksCh: make(chan domain.Job),
		checker: checker,
		queue:   queue,
		logger:  logger,
	}
}

// Start spawns the fixed number of worker goroutines.
// It returns immediately. ctx bounds every run started by the workers.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", "concurrency", p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop initiates a graceful shutdown.
// It closes the jobs channel, which signals all workers to finish their current task and exit.
// It blocks until all workers have exited.
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool, waiting for tasks to drain...")
	close(p.tasksCh)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// Submit hands a job to the pool. It blocks until a worker is free.
func (p *Pool) Submit(job domain.Job) {
	p.tasksCh <- job
}

// Consume feeds jobs from the queue into the pool until ctx is done or the
// subscription ends. It does not stop the pool.
func (p *Pool) Consume(ctx context.Context) error {
	jobs, err := p.queue.Subscribe(ctx)
	if err != nil {
		return err
	}
	for job := range jobs {
		p.Submit(job)
	}
	return nil
}

// worker is the core logic that runs inside a goroutine.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Debug("Worker started", "workerID", id)

	// Range over the channel continuously reads jobs until the channel is closed.
	for job := range p.tasksCh {
		p.process(ctx, id, job)
	}

	p.logger.Debug("Worker stopped", "workerID", id)
}

func (p *Pool) process(ctx context.Context, workerID int, job domain.Job) {
	logger := p.logger.With("workerID", workerID, "jobID", job.ID)
	logger.Debug("Processing job")

	// Restart the job's idle clock; skip it if recovery got there first.
	if job.RawID != "" {
		owned, err := p.queue.Claim(ctx, job.RawID)
		switch {
		case err != nil:
			logger.Error("Failed to claim job, running anyway", "error", err)
		case !owned:
			logger.Warn("Job was recovered before it started, skipping")
			return
		}
	}

	out := domain.JobResult{JobID: job.ID, Status: domain.JobDone}
	result, err := p.checker.Run(ctx, job.Request)
	if err != nil {
		logger.Error("Job failed", "error", err)
		out.Status = domain.JobFailed
		out.Error = err.Error()
	} else {
		out.Result = result
	}

	// Report result, then acknowledge even if nobody was listening.
	if err := p.queue.Broadcast(ctx, out); err != nil {
		logger.Error("Failed to broadcast result", "error", err)
	}
	if job.RawID != "" {
		if err := p.queue.Acknowledge(ctx, job.RawID); err != nil {
			logger.Error("Failed to acknowledge job", "error", err)
		}
	}
}
