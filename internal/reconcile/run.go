package reconcile

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/juzibot/wechaty/internal/puppet"
)

// Enqueue submits a job for Run. Safe from any goroutine. Returns false
// after Stop.
func (o *Orchestrator) Enqueue(j Job) bool {
	return o.queue.Enqueue(j)
}

// EnqueueDirty submits a dirty signal for Run.
func (o *Orchestrator) EnqueueDirty(sig puppet.DirtySignal) bool {
	return o.Enqueue(Job{Dirty: &sig})
}

// EnqueueTag submits a tag event for Run.
func (o *Orchestrator) EnqueueTag(ev puppet.TagEvent) bool {
	return o.Enqueue(Job{Tag: &ev})
}

// Run processes queued jobs until ctx is cancelled or Stop is called and the
// queue drains. Stop is the graceful path: every queued job still runs with
// ctx. Cancelling ctx is a hard stop that drops what is still queued. Each job runs on its own goroutine, so passes overlap;
// WithMaxInFlight bounds how many. Run waits for in-flight passes before
// returning.
//
// Run must be called at most once.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	o.logger.Info("reconciler starting")

	var g errgroup.Group
	if o.maxInFlight > 0 {
		g.SetLimit(o.maxInFlight)
	}

	for {
		if job, ok := o.queue.TryDequeue(); ok {
			g.Go(func() error {
				o.process(ctx, job)
				return nil
			})
			continue
		}

		select {
		case <-ctx.Done():
			o.logger.Info("reconciler stopping: context cancelled")
			o.queue.Close()
			if n := o.queue.Len(); n > 0 {
				o.logger.Warn("dropping queued jobs", "count", n)
			}
			_ = g.Wait()
			return ctx.Err()

		case <-o.queue.Wait():
			// The signal channel is closed by Stop, so an empty queue here
			// means shutdown.
			if o.queue.Len() == 0 && o.stopped() {
				o.logger.Info("reconciler stopping: queue closed")
				_ = g.Wait()
				return nil
			}
		}
	}
}

func (o *Orchestrator) stopped() bool {
	o.queue.mu.Lock()
	defer o.queue.mu.Unlock()
	return o.queue.closed
}

// Stop closes the queue. Run finishes the jobs already queued and returns.
func (o *Orchestrator) Stop() {
	o.queue.Close()
}

// Wait blocks until Run has returned.
func (o *Orchestrator) Wait() {
	<-o.done
}

// Listen enqueues every signal from n until its channel closes or ctx is
// done.
func (o *Orchestrator) Listen(ctx context.Context, n puppet.Notifier) error {
	signals, err := n.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if !o.EnqueueDirty(sig) {
				return nil
			}
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, job Job) {
	switch {
	case job.Dirty != nil:
		o.HandleDirty(ctx, *job.Dirty)
	case job.Tag != nil:
		o.HandleTagEvent(ctx, *job.Tag)
	default:
		o.logger.Warn("empty job")
	}
}
