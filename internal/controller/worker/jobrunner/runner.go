// Package jobrunner drives the durable queue: a claim loop pulls due jobs
// from the store and a bounded pool executes them through registered
// handlers.
package jobrunner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simpix/formalization/internal/entity"
	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/pkg/logger"
)

// HandlerFunc adapts a plain function to the handler interface.
type HandlerFunc func(ctx context.Context, job *entity.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *entity.Job) error {
	return f(ctx, job)
}

type Runner struct {
	jobs     usecase.JobsUseCase
	handlers map[entity.JobType]usecase.JobHandler
	logger   logger.Interface

	pollInterval  time.Duration
	jobTimeout    time.Duration
	stuckInterval time.Duration
	stuckAfter    time.Duration
	workers       int
	batchSize     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

func New(
	jobs usecase.JobsUseCase,
	l logger.Interface,
	pollInterval time.Duration,
	jobTimeout time.Duration,
	stuckInterval time.Duration,
	stuckAfter time.Duration,
	workers int,
	batchSize int,
) *Runner {
	return &Runner{
		jobs:          jobs,
		handlers:      make(map[entity.JobType]usecase.JobHandler),
		logger:        l,
		pollInterval:  pollInterval,
		jobTimeout:    jobTimeout,
		stuckInterval: stuckInterval,
		stuckAfter:    stuckAfter,
		workers:       workers,
		batchSize:     batchSize,
	}
}

// Register binds a handler to a job type. All registrations happen before
// Start; the map is read-only afterwards.
func (r *Runner) Register(jobType entity.JobType, h usecase.JobHandler) {
	r.handlers[jobType] = h
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("Runner - Start - worker already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	// 1. claim loop feeds the pool
	feed := make(chan *entity.Job)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(feed)

		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.claimBatch(feed)
			}
		}
	}()

	// 2. bounded pool executes
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()

			for job := range feed {
				r.execute(job)
			}
		}()
	}

	// 3. sweep recovers jobs abandoned by a crashed runner
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.stuckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.jobs.RequeueStuck(r.ctx, r.stuckAfter); err != nil {
					r.logger.Error(err, "Runner - Start - r.jobs.RequeueStuck")
				}
			}
		}
	}()

	return nil
}

func (r *Runner) claimBatch(feed chan<- *entity.Job) {
	claimed, err := r.jobs.ClaimDue(r.ctx, r.batchSize)
	if err != nil {
		r.logger.Error(err, "Runner - claimBatch - r.jobs.ClaimDue")

		return
	}

	for _, job := range claimed {
		select {
		case <-r.ctx.Done():
			// Shutdown with claimed jobs still in hand; they stay active
			// until the stuck sweep returns them to the queue.
			return
		case feed <- job:
		}
	}
}

func (r *Runner) execute(job *entity.Job) {
	handler, ok := r.handlers[job.Type]
	if !ok {
		r.settle(job, fmt.Errorf("no handler registered for job type %q", job.Type))

		return
	}

	jobCtx, cancel := context.WithTimeout(r.ctx, r.jobTimeout)
	defer cancel()

	err := r.run(jobCtx, handler, job)
	if err != nil {
		r.settle(job, err)

		return
	}

	if err := r.jobs.Complete(context.WithoutCancel(r.ctx), job, nil); err != nil {
		r.logger.Error(err, "Runner - execute - r.jobs.Complete")
	}
}

// run isolates the handler call so a panicking handler settles its job
// instead of killing the pool.
func (r *Runner) run(ctx context.Context, handler usecase.JobHandler, job *entity.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job handler panic: %v", rec)
		}
	}()

	return handler.Handle(ctx, job)
}

func (r *Runner) settle(job *entity.Job, jobErr error) {
	r.logger.Warn("job attempt failed, id=%s, type=%s, attempt=%d: %v", job.ID, job.Type, job.Attempts+1, jobErr)

	if err := r.jobs.Settle(context.WithoutCancel(r.ctx), job, jobErr); err != nil {
		r.logger.Error(err, "Runner - settle - r.jobs.Settle")
	}
}

func (r *Runner) Shutdown(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return nil
	}
}
