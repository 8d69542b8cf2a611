package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

var (
	_ domain.EventPublisher = (*EventSink)(nil)
	_ domain.EventSource    = (*EventSink)(nil)
)

// subscriberBuffer bounds each subscriber channel. Slow subscribers drop
// events rather than block publishers.
const subscriberBuffer = 64

// EventSink records published events. It is the event bus used when no
// Redis is configured, and doubles as an inspection point in tests.
type EventSink struct {
	mu     sync.RWMutex
	events []domain.Event
	subs   map[chan domain.Event]struct{}
}

func NewEventSink() *EventSink {
	return &EventSink{subs: make(map[chan domain.Event]struct{})}
}

func (s *EventSink) Publish(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving events published after the call.
// The channel is closed once ctx is done.
func (s *EventSink) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch, nil
}

// Recent returns the last limit events, oldest first.
func (s *EventSink) Recent(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.events) > limit {
		start = len(s.events) - limit
	}
	return append([]domain.Event(nil), s.events[start:]...), nil
}

// Events returns all recorded events.
func (s *EventSink) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Event(nil), s.events...)
}

// EventsOfType filters recorded events by type.
func (s *EventSink) EventsOfType(t domain.EventType) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
