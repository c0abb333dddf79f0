package events

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSubscribeAndEmit(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Emit(MessageReceived, map[string]string{"kind": "telegram"})

	if got.Name != MessageReceived {
		t.Errorf("event name = %q, want %q", got.Name, MessageReceived)
	}
	if got.Time.IsZero() {
		t.Error("event time was not stamped")
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var calls int
	unsub := bus.Subscribe(func(Event) { calls++ })

	bus.Emit(Shutdown, nil)
	unsub()
	bus.Emit(Shutdown, nil)

	if calls != 1 {
		t.Errorf("listener calls = %d, want 1", calls)
	}
}

func TestSubscribeNamedFilters(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var breaker, other int
	bus.SubscribeNamed(CircuitBreaker, func(Event) { breaker++ })
	bus.Subscribe(func(Event) { other++ })

	bus.Emit(CircuitBreaker, nil)
	bus.Emit(SessionCreated, nil)

	if breaker != 1 {
		t.Errorf("named listener calls = %d, want 1", breaker)
	}
	if other != 2 {
		t.Errorf("catch-all listener calls = %d, want 2", other)
	}
}

func TestConcurrentEmit(t *testing.T) {
	t.Parallel()
	bus := NewBus()

	var calls atomic.Int64
	bus.Subscribe(func(Event) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Emit(MessageSent, nil)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1000 {
		t.Errorf("listener calls = %d, want 1000", calls.Load())
	}
}
