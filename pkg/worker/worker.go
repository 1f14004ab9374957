// Package worker runs the claim loop: it continuously claims queued jobs
// from the shared queue, hands each one to the processor, and maintains the
// heartbeat that marks the job as owned. One worker processes one job at a
// time; fleet-level parallelism comes from running many worker processes.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/listforge/listforge/pkg/config"
	"github.com/listforge/listforge/pkg/log"
	"github.com/listforge/listforge/pkg/metrics"
	"github.com/listforge/listforge/pkg/types"
)

// JobQueue is the queue surface the worker drives
type JobQueue interface {
	ClaimNext(ctx context.Context) (*types.Job, error)
	Heartbeat(ctx context.Context, jobID string) (bool, error)
	Fail(ctx context.Context, id primitive.ObjectID, errs []string) error
	ReleaseAll(ctx context.Context) (int64, error)
}

// JobProcessor runs one claimed job to a terminal status
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *types.Job) error
}

// Worker is the claim-loop daemon. Stop makes Run finish the job in flight,
// release anything still owned, and return.
type Worker struct {
	cfg       *config.Config
	jobs      JobQueue
	processor JobProcessor

	// Claim-loop backoff, shortened in tests
	emptySleep time.Duration
	errorSleep time.Duration

	mu      sync.Mutex
	current *types.Job

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a worker
func New(cfg *config.Config, jobs JobQueue, processor JobProcessor) *Worker {
	return &Worker{
		cfg:        cfg,
		jobs:       jobs,
		processor:  processor,
		emptySleep: 2 * time.Second,
		errorSleep: 5 * time.Second,
		stopCh:     make(chan struct{}),
	}
}

// Stop asks Run to shut down after the current job completes. Safe to call
// more than once and from any goroutine.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// CurrentJob returns the job in flight, or nil when the worker is idle
func (w *Worker) CurrentJob() *types.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Worker) setCurrent(job *types.Job) {
	w.mu.Lock()
	w.current = job
	w.mu.Unlock()
}

// Run executes the claim loop until Stop is called or ctx is cancelled. On
// the way out every job this worker still owns is released back to the
// queue.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithWorkerID(w.cfg.WorkerID)
	logger.Info().Msg("Worker started")

	for {
		select {
		case <-w.stopCh:
			return w.shutdown(logger)
		case <-ctx.Done():
			return w.shutdown(logger)
		default:
		}

		job, err := w.jobs.ClaimNext(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Claim failed")
			if !w.sleep(ctx, w.errorSleep) {
				return w.shutdown(logger)
			}
			continue
		}
		if job == nil {
			if !w.sleep(ctx, w.emptySleep) {
				return w.shutdown(logger)
			}
			continue
		}

		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *types.Job) {
	logger := log.WithWorkerID(w.cfg.WorkerID).With().
		Str("job_id", job.JobID).Str("tenant", job.Username).Logger()
	logger.Info().Msg("Claimed job")
	metrics.JobsClaimed.Inc()

	start := time.Now()
	w.setCurrent(job)
	defer w.setCurrent(nil)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lost atomic.Bool
	hbDone := make(chan struct{})
	go w.heartbeatLoop(jobCtx, cancel, job.JobID, &lost, hbDone)

	err := w.processor.ProcessJob(jobCtx, job)
	cancel()
	<-hbDone

	if err != nil {
		switch {
		case lost.Load():
			// Another worker owns this job now; writing anything would
			// clobber its state.
			logger.Warn().Err(err).Msg("Job was reclaimed mid-flight, abandoning")
		case ctx.Err() != nil:
			logger.Warn().Err(err).Msg("Job aborted by shutdown, will be released")
		default:
			logger.Error().Err(err).Msg("Job processing failed")
			if failErr := w.jobs.Fail(ctx, job.ID, []string{err.Error()}); failErr != nil {
				logger.Error().Err(failErr).Msg("Failed to record job failure")
			}
		}
	}
	metrics.JobDuration.Observe(time.Since(start).Seconds())
}

// heartbeatLoop refreshes ownership of the job until the job context ends.
// A heartbeat that matches no owned job means the job was reclaimed; the
// loop cancels the job context so the processor stops at the next stage
// boundary.
func (w *Worker) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, jobID string, lost *atomic.Bool, done chan struct{}) {
	defer close(done)

	logger := log.WithWorkerID(w.cfg.WorkerID).With().Str("job_id", jobID).Logger()
	ticker := time.NewTicker(time.Duration(w.cfg.HeartbeatIntervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.jobs.Heartbeat(ctx, jobID)
			if err != nil {
				logger.Warn().Err(err).Msg("Heartbeat failed")
				continue
			}
			if !ok {
				logger.Warn().Msg("Heartbeat matched no owned job, job was reclaimed")
				metrics.HeartbeatLosses.Inc()
				lost.Store(true)
				cancel()
				return
			}
		}
	}
}

// sleep waits for d, returning false when the worker should shut down
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// shutdown releases every job this worker still owns. Runs on a fresh
// context because the run context may already be cancelled.
func (w *Worker) shutdown(logger zerolog.Logger) error {
	logger.Info().Msg("Worker stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	released, err := w.jobs.ReleaseAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to release jobs on shutdown")
		return err
	}
	if released > 0 {
		logger.Info().Int64("released", released).Msg("Released jobs back to queue")
	}
	logger.Info().Msg("Worker stopped")
	return nil
}
