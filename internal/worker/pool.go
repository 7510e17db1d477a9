// Package worker consumes queued submissions and runs them through the
// pipeline, throttled per pipeline kind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"finvoice-go/internal/logger"
	"finvoice-go/internal/queue"
	"finvoice-go/internal/store"
	"finvoice-go/internal/types"
)

// Runner processes one submission to completion.
type Runner interface {
	Run(ctx context.Context, sub types.Submission) (types.Job, error)
}

type Options struct {
	// Concurrency is the in-flight limit per kind. Kinds not listed get 1.
	Concurrency map[types.Kind]int
	// Window spreads starts: at most Concurrency[kind] runs begin per Window.
	Window time.Duration
	// RetryDelay is how long a task that failed without a terminal job waits
	// before redelivery.
	RetryDelay time.Duration
	// MaxDeliveries marks the job FAILED once a task was delivered this many
	// times without finishing. Zero means no limit.
	MaxDeliveries int
}

type Pool struct {
	queue     queue.Queue
	runner    Runner
	store     store.Store
	opts      Options
	throttles map[types.Kind]*Throttle
	log       *logger.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelRun context.CancelFunc
	consumers sync.WaitGroup
	handlers  sync.WaitGroup
}

func NewPool(q queue.Queue, runner Runner, st store.Store, opts Options, log *logger.Logger) *Pool {
	throttles := map[types.Kind]*Throttle{}
	for _, kind := range []types.Kind{types.KindAudio, types.KindDocument} {
		throttles[kind] = NewThrottle(opts.Concurrency[kind], opts.Window)
	}
	return &Pool{
		queue:     q,
		runner:    runner,
		store:     st,
		opts:      opts,
		throttles: throttles,
		log:       log.Component("worker"),
	}
}

// Start launches one consumer per kind and returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	// runs outlive consumeCtx so Stop can drain them
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.cancelRun = cancelRun

	for kind, th := range p.throttles {
		p.consumers.Add(1)
		go p.consume(consumeCtx, runCtx, kind, th)
		p.log.WithFields(logrus.Fields{"kind": kind, "limit": th.Limit()}).Info("worker started")
	}
}

// Stop stops taking new tasks and waits for in-flight runs. When ctx ends
// first the runs are canceled; their jobs stay PROCESSING and the tasks are
// redelivered.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, cancelRun := p.cancel, p.cancelRun
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	p.consumers.Wait()

	done := make(chan struct{})
	go func() {
		p.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancelRun()
		p.log.Info("worker stopped")
		return nil
	case <-ctx.Done():
		cancelRun()
		<-done
		p.log.Warn("worker stopped with runs interrupted")
		return ctx.Err()
	}
}

// InFlight reports the number of runs of kind currently executing.
func (p *Pool) InFlight(kind types.Kind) int {
	if th, ok := p.throttles[kind]; ok {
		return th.InFlight()
	}
	return 0
}

func (p *Pool) consume(ctx, runCtx context.Context, kind types.Kind, th *Throttle) {
	defer p.consumers.Done()
	log := p.log.WithField("kind", kind)

	for {
		if err := th.Acquire(ctx); err != nil {
			return
		}
		task, err := p.queue.Dequeue(ctx, kind)
		if err != nil {
			th.Release()
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("dequeue failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		p.handlers.Add(1)
		go func() {
			defer p.handlers.Done()
			defer th.Release()
			p.handle(runCtx, task)
		}()
	}
}

func (p *Pool) handle(ctx context.Context, task queue.Task) {
	log := p.log.WithJob(task.Submission.JobID).WithFields(logrus.Fields{
		"task_id":    task.ID,
		"deliveries": task.Deliveries,
	})
	// acks and nacks must land even while shutting down
	ackCtx := context.WithoutCancel(ctx)

	job, err := p.runner.Run(ctx, task.Submission)
	switch {
	case err == nil || job.Status.Terminal():
		if err := p.queue.Ack(ackCtx, task.ID); err != nil {
			log.WithError(err).Warn("ack failed")
		}
	case ctx.Err() != nil:
		if err := p.queue.Nack(ackCtx, task.ID, 0); err != nil {
			log.WithError(err).Warn("nack failed")
		}
	case p.opts.MaxDeliveries > 0 && task.Deliveries >= p.opts.MaxDeliveries:
		log.WithError(err).Error("task exhausted its deliveries, failing job")
		p.giveUp(ackCtx, task, err)
		if err := p.queue.Ack(ackCtx, task.ID); err != nil {
			log.WithError(err).Warn("ack failed")
		}
	default:
		log.WithError(err).Warn("run did not finish, task will be redelivered")
		if err := p.queue.Nack(ackCtx, task.ID, p.opts.RetryDelay); err != nil {
			log.WithError(err).Warn("nack failed")
		}
	}
}

func (p *Pool) giveUp(ctx context.Context, task queue.Task, cause error) {
	msg := fmt.Sprintf("gave up after %d deliveries: %v", task.Deliveries, cause)
	now := time.Now().UTC()
	err := p.store.UpdateJob(ctx, task.Submission.JobID, types.JobUpdate{
		Status:          types.Ptr(types.StatusFailed),
		ProcessingError: &msg,
		ProcessedAt:     &now,
	})
	if err != nil && !errors.Is(err, types.ErrJobNotFound) {
		p.log.WithJob(task.Submission.JobID).WithError(err).Error("could not mark job failed")
	}
}
