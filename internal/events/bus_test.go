package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitReachesSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	var got atomic.Int32
	for _, name := range []string{"a", "b"} {
		bus.Subscribe(EventServerPing, name, func(ctx context.Context, e Event) error {
			defer wg.Done()
			if p, ok := e.Payload.(ServerPingPayload); ok && p.Server == "1.2.3.4" {
				got.Add(1)
			}
			return nil
		})
	}

	bus.Emit(context.Background(), New(EventServerPing, "test", ServerPingPayload{Server: "1.2.3.4"}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run")
	}
	if got.Load() != 2 {
		t.Errorf("handlers saw payload %d times, want 2", got.Load())
	}
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	boom := errors.New("boom")
	bus.Subscribe(EventServersExpired, "fails", func(context.Context, Event) error { return boom })
	bus.Subscribe(EventServersExpired, "panics", func(context.Context, Event) error { panic("oops") })

	err := bus.EmitSync(context.Background(), New(EventServersExpired, "test", ServersExpiredPayload{Count: 1}))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestUnsubscribeAndCount(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	noop := func(context.Context, Event) error { return nil }
	bus.Subscribe(EventConnectArranged, "mqtt", noop)
	bus.Subscribe(EventConnectArranged, "audit", noop)
	if n := bus.HandlerCount(EventConnectArranged); n != 2 {
		t.Fatalf("count = %d", n)
	}

	bus.Unsubscribe(EventConnectArranged, "mqtt")
	bus.Unsubscribe(EventConnectDropped, "mqtt")
	if n := bus.HandlerCount(EventConnectArranged); n != 1 {
		t.Errorf("count after unsubscribe = %d", n)
	}
}

func TestStoppedBusDropsEvents(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventShutdown, "count", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})

	bus.Stop()
	bus.Stop()

	bus.Emit(context.Background(), New(EventShutdown, "test", nil))
	if err := bus.EmitSync(context.Background(), New(EventShutdown, "test", nil)); err != nil {
		t.Errorf("EmitSync on stopped bus: %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("stopped bus delivered %d events", calls.Load())
	}

	select {
	case <-bus.StopCh():
	default:
		t.Error("StopCh not closed")
	}
}

func TestNilBusEmit(t *testing.T) {
	var bus *EventBus
	bus.Emit(context.Background(), New(EventShutdown, "test", nil))
}
