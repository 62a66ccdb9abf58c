package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/governed-io/governed/internal/domain/changeevent"
)

// subscriber is one fan-out target: a bounded, drop-oldest queue
// drained by a dedicated goroutine, so a slow or wedged subscriber
// callback never blocks the publisher or other subscribers — the
// cyclic-graph break of Design Note §9 (only the stream holds
// subscriber references).
type subscriber struct {
	id     string
	queue  chan changeevent.Event
	cancel context.CancelFunc
	fn     func(ctx context.Context, evt changeevent.Event)
}

// ChangeStreamService is an in-process publish/subscribe fan-out for
// policy lifecycle events. Any registered subscriber (the push
// service, the sqlite event-store persister, or a plain callback) receives
// every event; callback failures are confined to that subscriber.
type ChangeStreamService struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	queueSize   int
	logger      *slog.Logger
	nextID      int
}

// NewChangeStreamService creates a change stream with the given
// per-subscriber queue depth.
func NewChangeStreamService(queueSize int, logger *slog.Logger) *ChangeStreamService {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &ChangeStreamService{
		subscribers: make(map[string]*subscriber),
		queueSize:   queueSize,
		logger:      logger,
	}
}

// Subscribe registers fn to be invoked for every published event. It
// returns an unsubscribe function.
func (s *ChangeStreamService) Subscribe(ctx context.Context, fn func(ctx context.Context, evt changeevent.Event)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	id := "sub-" + itoa(s.nextID)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		id:     id,
		queue:  make(chan changeevent.Event, s.queueSize),
		cancel: cancel,
		fn:     fn,
	}
	s.subscribers[id] = sub
	s.mu.Unlock()

	go s.drain(subCtx, sub)

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
		cancel()
	}
}

func (s *ChangeStreamService) drain(ctx context.Context, sub *subscriber) {
	for {
		select {
		case evt := <-sub.queue:
			s.invoke(ctx, sub, evt)
		case <-ctx.Done():
			return
		}
	}
}

func (s *ChangeStreamService) invoke(ctx context.Context, sub *subscriber, evt changeevent.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("change stream subscriber panicked", "subscriber", sub.id, "panic", r)
		}
	}()
	sub.fn(ctx, evt)
}

// Publish fans an event out to every subscriber's queue, dropping the
// oldest queued event for any subscriber whose queue is full rather
// than blocking the publisher.
func (s *ChangeStreamService) Publish(ctx context.Context, evt changeevent.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		select {
		case sub.queue <- evt:
		default:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- evt:
			default:
				s.logger.Warn("change stream subscriber queue full, dropping event", "subscriber", sub.id, "event", evt.Type)
			}
		}
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
