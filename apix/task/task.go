// Package task provides the scheduler implementations behind the
// orchestration code: an inline runner for synchronous use and tests, and
// a bounded worker pool with retry for production. The work functions are
// written to behave identically under either.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/finvoice/go-apix-client/apix"
)

var logger = logrus.WithField("component", "apix.task")

// Inline runs every task synchronously in the caller's goroutine and
// returns its error directly.
type Inline struct{}

func (Inline) Enqueue(ctx context.Context, description string, fn func(context.Context) error) error {
	logger.WithField("task", description).Debug("running inline")
	return fn(ctx)
}

type job struct {
	id          string
	description string
	fn          func(context.Context) error
}

// Pool is a bounded worker pool. Enqueue never blocks the producer beyond
// queue capacity; retryable failures are retried with linear backoff up to
// MaxRetries, then surfaced as a delivery failure in the log. Deterministic
// failures are never retried.
type Pool struct {
	MaxRetries int
	Backoff    time.Duration

	queue chan job
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewPool starts a pool with the given number of workers and queue
// capacity.
func NewPool(workers, capacity int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		MaxRetries: 3,
		Backoff:    5 * time.Second,
		queue:      make(chan job, capacity),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue submits a task. The context given here is not carried into the
// task run: queued work outlives the producer's request scope.
func (p *Pool) Enqueue(_ context.Context, description string, fn func(context.Context) error) error {
	p.queue <- job{
		id:          uuid.NewString(),
		description: description,
		fn:          fn,
	}
	return nil
}

// Close stops intake and waits for queued work to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.queue) })
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	log := logger.WithFields(logrus.Fields{"task": j.description, "id": j.id})

	for attempt := 1; ; attempt++ {
		err := j.fn(context.Background())
		if err == nil {
			log.Debug("task completed")
			return
		}

		if !apix.Retryable(err) {
			log.Warnf("task failed: %v", err)
			return
		}
		if attempt > p.MaxRetries {
			log.Warnf("delivery failed after %d attempts: %v", attempt, err)
			return
		}

		log.Debugf("transient failure (attempt %d): %v", attempt, err)
		time.Sleep(time.Duration(attempt) * p.Backoff)
	}
}
