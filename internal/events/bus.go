package events

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc reacts to one event. A returned error is logged by the bus
// and surfaced by EmitSync.
type HandlerFunc func(ctx context.Context, event Event) error

type subscription struct {
	name string
	fn   HandlerFunc
}

// EventBus fans events out to named subscribers. Emit never blocks the
// packet path on a subscriber; every delivery runs on its own goroutine.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[EventType][]subscription
	closed   bool
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewEventBus returns an empty, running bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[EventType][]subscription),
		done: make(chan struct{}),
	}
}

// Subscribe attaches fn to eventType under name. Subscribing the same name
// twice replaces the earlier handler.
func (eb *EventBus) Subscribe(eventType EventType, name string, fn HandlerFunc) {
	eb.mu.Lock()
	list := slices.DeleteFunc(eb.subs[eventType], func(s subscription) bool { return s.name == name })
	eb.subs[eventType] = append(list, subscription{name: name, fn: fn})
	eb.mu.Unlock()

	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("handler subscribed")
}

// Unsubscribe detaches the handler registered under name, if any.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	list, ok := eb.subs[eventType]
	if !ok {
		return
	}
	list = slices.DeleteFunc(list, func(s subscription) bool { return s.name == name })
	if len(list) == 0 {
		delete(eb.subs, eventType)
		return
	}
	eb.subs[eventType] = list
}

// snapshot copies the subscribers of t. It returns nil once the bus is
// closed.
func (eb *EventBus) snapshot(t EventType) []subscription {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return nil
	}
	return slices.Clone(eb.subs[t])
}

// deliver runs one subscriber, converting a panic into a logged drop.
func deliver(ctx context.Context, s subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	if err = s.fn(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", s.name).
			Msg("event handler failed")
	}
	return err
}

// Emit hands event to every subscriber without waiting. Calling Emit on a
// nil or stopped bus is a no-op.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if eb == nil {
		return
	}

	// Hold the read lock across Add so Stop cannot slip in between the
	// closed check and the goroutine launch.
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	subs := eb.subs[event.Type]
	for _, s := range subs {
		s := s
		eb.inflight.Add(1)
		go func() {
			defer eb.inflight.Done()
			_ = deliver(ctx, s, event)
		}()
	}
	if len(subs) > 0 {
		log.Trace().Str("event", string(event.Type)).Str("source", event.Source).Int("handlers", len(subs)).Msg("event emitted")
	}
}

// EmitSync delivers event to every subscriber concurrently and waits for
// all of them. It returns the first handler error.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	subs := eb.snapshot(event.Type)
	if len(subs) == 0 {
		return nil
	}

	errs := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, s := range subs {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = deliver(ctx, s, event)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop refuses further events and blocks until running handlers return.
// Repeated calls are harmless.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	close(eb.done)
	eb.mu.Unlock()

	eb.inflight.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh is closed once Stop has been called.
func (eb *EventBus) StopCh() <-chan struct{} { return eb.done }

// HandlerCount reports how many handlers eventType currently has.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}
