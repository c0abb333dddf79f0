// Package events implements the in-memory pub/sub bus shared by the
// gateway, router, session store, and failover layer. The bus is
// constructed once at startup and passed by reference to every component
// that publishes or subscribes. There is no package-level singleton.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Core event names emitted by Courier components.
const (
	SessionCreated      = "session:created"
	SessionUpdated      = "session:updated"
	SessionDeleted      = "session:deleted"
	MessageReceived     = "message:received"
	MessageSent         = "message:sent"
	ChannelConnected    = "channel:connected"
	ChannelDisconnected = "channel:disconnected"
	ChannelError        = "channel:error"
	SkillError          = "skill:error"
	CircuitBreaker      = "failover:circuitBreaker"
	AllProvidersFailed  = "failover:allFailed"
	SchedulerFired      = "scheduler:fired"
	Shutdown            = "shutdown"
)

// Event is a single named occurrence with an arbitrary payload.
type Event struct {
	Name    string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// Listener is a callback that receives events.
type Listener func(event Event)

// Bus is a thread-safe pub/sub hub. Listeners are invoked synchronously
// during Emit, so keep listener logic fast or dispatch to a goroutine
// internally.
type Bus struct {
	listeners sync.Map // listenerID (uint64) → Listener
	nextID    atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener for every emitted event and returns an
// unsubscribe function.
func (b *Bus) Subscribe(fn Listener) func() {
	id := b.nextID.Add(1)
	b.listeners.Store(id, fn)
	return func() { b.listeners.Delete(id) }
}

// SubscribeNamed registers a listener that only receives events with the
// given name. Returns an unsubscribe function.
func (b *Bus) SubscribeNamed(name string, fn Listener) func() {
	return b.Subscribe(func(event Event) {
		if event.Name == name {
			fn(event)
		}
	})
}

// Emit fans the event out to all registered listeners. A zero Time is
// stamped with the current time.
func (b *Bus) Emit(name string, payload any) {
	event := Event{Name: name, Payload: payload, Time: time.Now()}
	b.listeners.Range(func(_, value any) bool {
		if fn, ok := value.(Listener); ok {
			fn(event)
		}
		return true
	})
}
