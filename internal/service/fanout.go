package service

import (
	"context"
	"sync"
	"time"

	"course_messaging/internal/config"
	"course_messaging/internal/domain"
	"course_messaging/pkg/logger"

	"github.com/google/uuid"
)

// Publisher delivers one event envelope to every subscriber of its course.
// The broadcast hub and the redis relay implement it.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Broadcaster is how the engine announces committed changes.
type Broadcaster interface {
	PublishNewMessage(courseID uuid.UUID, message *domain.MessagePayload)
	PublishReplySummary(courseID uuid.UUID, summary *domain.ReplySummaryPayload)
	PublishPinned(courseID uuid.UUID, message *domain.MessagePayload)
	PublishUnpinned(courseID uuid.UUID, message *domain.MessagePayload)
}

const fanoutQueueSize = 1024

// Fanout hands events to a Publisher from a single worker goroutine, so
// events leave in the order they were committed and publishers never block
// the request that produced them.
type Fanout struct {
	pub     Publisher
	timeout time.Duration
	log     logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.Event
	done   chan struct{}
}

func NewFanout(pub Publisher, cfg config.FanoutConfig, log logger.Logger) *Fanout {
	f := &Fanout{
		pub:     pub,
		timeout: cfg.Timeout,
		log:     log.With("component", "fanout"),
		queue:   make(chan domain.Event, fanoutQueueSize),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Fanout) PublishNewMessage(courseID uuid.UUID, message *domain.MessagePayload) {
	f.enqueue(domain.Event{Kind: domain.EventMessageNew, CourseID: courseID, Data: message})
}

func (f *Fanout) PublishReplySummary(courseID uuid.UUID, summary *domain.ReplySummaryPayload) {
	f.enqueue(domain.Event{Kind: domain.EventReplySummary, CourseID: courseID, Data: summary})
}

func (f *Fanout) PublishPinned(courseID uuid.UUID, message *domain.MessagePayload) {
	f.enqueue(domain.Event{
		Kind:     domain.EventMessagePinned,
		CourseID: courseID,
		Data:     &domain.PinPayload{CourseID: courseID, Message: message},
	})
}

func (f *Fanout) PublishUnpinned(courseID uuid.UUID, message *domain.MessagePayload) {
	f.enqueue(domain.Event{
		Kind:     domain.EventMessageUnpinned,
		CourseID: courseID,
		Data:     &domain.PinPayload{CourseID: courseID, Message: message},
	})
}

func (f *Fanout) enqueue(event domain.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		f.log.Warn("Fanout closed, dropping event", "event", event.Kind, "course_id", event.CourseID)
		return
	}

	select {
	case f.queue <- event:
	default:
		f.log.Error("Fanout queue full, dropping event", "event", event.Kind, "course_id", event.CourseID)
	}
}

func (f *Fanout) run() {
	defer close(f.done)
	for event := range f.queue {
		f.deliver(event)
	}
}

func (f *Fanout) deliver(event domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.pub.Publish(ctx, event); err != nil {
		f.log.Error("Failed to publish event", "event", event.Kind, "course_id", event.CourseID, "error", err)
	}
}

// Close stops accepting events and waits until the queued ones are delivered
// or ctx expires.
func (f *Fanout) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
