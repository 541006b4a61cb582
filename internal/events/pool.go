package events

import (
	"context"
	"errors"
	"sync"

	"github.com/kbsync/kbsync/internal/log"
)

// Pool submission errors.
var (
	ErrQueueFull   = errors.New("event queue full")
	ErrPoolStopped = errors.New("event pool stopped")
)

// Handler processes one event. Returned errors are logged; the pool keeps
// running.
type Handler func(ctx context.Context, event Event) error

// Pool runs a fixed number of workers over a bounded queue. Backpressure is
// explicit: Submit fails fast with ErrQueueFull instead of blocking the
// producer, so webhook handlers can reply 503 under load.
type Pool struct {
	queue   chan Event
	handler Handler
	logger  log.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewPool creates and starts a pool with the given worker count and queue
// capacity.
func NewPool(ctx context.Context, workers, queueSize int, handler Handler, logger log.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = log.NewNop()
	}

	p := &Pool{
		queue:   make(chan Event, queueSize),
		handler: handler,
		logger:  logger,
	}

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(ctx, i)
	}

	logger.Info("event pool started", "workers", workers, "queue_size", queueSize)
	return p
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for event := range p.queue {
		if err := p.handler(ctx, event); err != nil {
			p.logger.Error("event handling failed",
				"worker", id, "event_id", event.ID,
				"event_type", event.Type, "error", err)
		}
	}
}

// Submit enqueues an event. It never blocks: a full queue returns
// ErrQueueFull and a stopped pool returns ErrPoolStopped.
func (p *Pool) Submit(event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight and queued events to
// finish, or for ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("event pool drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
