package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/workshop-engine/workshop"
)

// ErrQueueFull is returned when the queue cannot take another event.
var ErrQueueFull = errors.New("event queue is full")

// QueueConfig holds queue configuration
type QueueConfig struct {
	Size        int
	SendTimeout time.Duration
}

// Queue implements workshop.EventPublisher by buffering events and sending
// them to the wrapped publisher from one background goroutine. Publish never
// waits on the broker.
type Queue struct {
	next        workshop.EventPublisher
	logger      *slog.Logger
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan workshop.DomainEvent
	wg     sync.WaitGroup
}

// NewQueue starts the delivery goroutine. Call Close to stop it.
func NewQueue(next workshop.EventPublisher, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	q := &Queue{
		next:        next,
		logger:      logger,
		sendTimeout: cfg.SendTimeout,
		events:      make(chan workshop.DomainEvent, cfg.Size),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Publish enqueues ev. ctx is not used for delivery: events outlive the
// request that produced them.
func (q *Queue) Publish(_ context.Context, ev workshop.DomainEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errClosed
	}
	select {
	case q.events <- ev:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, ev.Type)
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for ev := range q.events {
		ctx, cancel := context.WithTimeout(context.Background(), q.sendTimeout)
		if err := q.next.Publish(ctx, ev); err != nil {
			q.logger.Error("Failed to deliver domain event",
				slog.String("type", string(ev.Type)),
				slog.String("job_id", string(ev.JobID)),
				slog.Any("error", err),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits until the queued ones are sent.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("Event queue drained")
}
