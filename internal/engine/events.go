package engine

import (
	"sync"
	"time"

	"github.com/lox/cardengine/internal/ruleset"
)

// EventType names an engine signal.
type EventType string

const (
	EventSessionCreated  EventType = "session_created"
	EventPlayerJoined    EventType = "player_joined"
	EventSessionStarted  EventType = "session_started"
	EventMoveExecuted    EventType = "move_executed"
	EventPlayerForfeited EventType = "player_forfeited"
	EventSessionEnded    EventType = "session_ended"
)

func (et EventType) String() string {
	return string(et)
}

// Event is a signal emitted by the engine after a successful mutation.
type Event interface {
	EventType() EventType
	SessionID() uint64
	Timestamp() time.Time
}

type eventBase struct {
	Session uint64    `json:"session_id"`
	At      time.Time `json:"timestamp"`
}

func (e eventBase) SessionID() uint64    { return e.Session }
func (e eventBase) Timestamp() time.Time { return e.At }

type SessionCreatedEvent struct {
	eventBase
	Creator string `json:"creator"`
}

func (SessionCreatedEvent) EventType() EventType { return EventSessionCreated }

type PlayerJoinedEvent struct {
	eventBase
	Player   int    `json:"player"`
	Identity string `json:"identity"`
}

func (PlayerJoinedEvent) EventType() EventType { return EventPlayerJoined }

type SessionStartedEvent struct {
	eventBase
	FirstTurn int `json:"first_turn"`
}

func (SessionStartedEvent) EventType() EventType { return EventSessionStarted }

type MoveExecutedEvent struct {
	eventBase
	Player int            `json:"player"`
	Action ruleset.Action `json:"action"`
}

func (MoveExecutedEvent) EventType() EventType { return EventMoveExecuted }

type PlayerForfeitedEvent struct {
	eventBase
	Player int  `json:"player"`
	Booted bool `json:"booted"`
}

func (PlayerForfeitedEvent) EventType() EventType { return EventPlayerForfeited }

// SessionEndedEvent carries the final views so subscribers never need to
// call back into the engine.
type SessionEndedEvent struct {
	eventBase
	Reason  EndReason    `json:"reason"`
	Winners []int        `json:"winners"`
	View    SessionView  `json:"view"`
	Players []PlayerView `json:"players"`
}

func (SessionEndedEvent) EventType() EventType { return EventSessionEnded }

// Subscriber receives engine signals. OnEvent runs while the emitting
// session is locked, so it must not call back into the engine.
type Subscriber interface {
	OnEvent(event Event)
}

// EventBus fans signals out to subscribers.
type EventBus interface {
	Subscribe(subscriber Subscriber)
	Unsubscribe(subscriber Subscriber)
	Publish(event Event)
}

// SimpleEventBus delivers events synchronously in publish order.
type SimpleEventBus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

func NewEventBus() *SimpleEventBus {
	return &SimpleEventBus{}
}

func (bus *SimpleEventBus) Subscribe(subscriber Subscriber) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers = append(bus.subscribers, subscriber)
}

// Unsubscribe removes a subscriber. Subscribers must be comparable.
func (bus *SimpleEventBus) Unsubscribe(subscriber Subscriber) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for i, sub := range bus.subscribers {
		if sub == subscriber {
			bus.subscribers = append(bus.subscribers[:i:i], bus.subscribers[i+1:]...)
			break
		}
	}
}

func (bus *SimpleEventBus) Publish(event Event) {
	bus.mu.RLock()
	subs := bus.subscribers
	bus.mu.RUnlock()
	for _, subscriber := range subs {
		subscriber.OnEvent(event)
	}
}

// Recorder is a Subscriber that keeps every event, for tests and replay.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) OnEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}
