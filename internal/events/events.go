package events

import (
	"sync"
	"time"

	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/fankserver/lavapool/pkg/track"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType represents the type of event
type EventType string

const (
	// Node events
	EventNodeConnect    EventType = "node.connect"
	EventNodeDisconnect EventType = "node.disconnect"
	EventNodeReconnect  EventType = "node.reconnect"
	EventNodeError      EventType = "node.error"
	EventNodeDestroy    EventType = "node.destroy"

	// Player events
	EventPlayerCreate  EventType = "player.create"
	EventPlayerDestroy EventType = "player.destroy"
	EventPlayerUpdate  EventType = "player.update"
	EventPlayerMove    EventType = "player.move"

	// Playback events
	EventTrackStart   EventType = "track.start"
	EventTrackEnd     EventType = "track.end"
	EventTrackStuck   EventType = "track.stuck"
	EventTrackError   EventType = "track.error"
	EventQueueEnd     EventType = "queue.end"
	EventSocketClosed EventType = "socket.closed"
)

// Event represents something that happened to a node or a player
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	GuildID   string
	Node      string
	Data      interface{}
}

// NodeData is attached to node events
type NodeData struct {
	Code    int
	Reason  string
	Attempt int
	Resumed bool
	Err     error
}

// TrackData is attached to playback events
type TrackData struct {
	Track *track.Track
	Event protocol.Event
	Err   error
}

// PlayerUpdateData is attached to player.update events
type PlayerUpdateData struct {
	State protocol.PlayerState
}

// MoveData is attached to player.move events
type MoveData struct {
	From string
	To   string
}

// Handler is a function that handles events
type Handler func(event Event)

type subscription struct {
	id      string
	handler Handler
}

// Bus distributes events to subscribers of a single manager. Delivery happens
// on one goroutine so subscribers observe events in publish order.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]subscription
	allHandlers []subscription
	buffer      chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	metrics     *Metrics
}

// Metrics tracks event statistics
type Metrics struct {
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
	mu              sync.Mutex
}

// NewBus creates a new event bus
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	b := &Bus{
		handlers: make(map[EventType][]subscription),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		metrics: &Metrics{
			EventsPublished: make(map[EventType]int64),
		},
	}

	b.wg.Add(1)
	go b.processEvents()

	return b
}

// Subscribe registers a handler for one event type and returns its unsubscribe func
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: uuid.NewString(), handler: handler}
	b.handlers[eventType] = append(b.handlers[eventType], sub)

	return func() {
		b.unsubscribe(eventType, sub.id)
	}
}

// SubscribeAll registers a handler for all events
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: uuid.NewString(), handler: handler}
	b.allHandlers = append(b.allHandlers, sub)

	return func() {
		b.unsubscribeAll(sub.id)
	}
}

func (b *Bus) unsubscribe(eventType EventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = without(b.handlers[eventType], id)
}

func (b *Bus) unsubscribeAll(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allHandlers = without(b.allHandlers, id)
}

func without(subs []subscription, id string) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish queues an event for delivery without blocking the caller
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	b.metrics.mu.Lock()
	b.metrics.EventsPublished[event.Type]++
	b.metrics.mu.Unlock()

	select {
	case <-b.stopCh:
		b.drop(event, "Event dropped, bus stopped")
		return
	default:
	}

	select {
	case b.buffer <- event:
	default:
		b.drop(event, "Event dropped, buffer full")
	}
}

func (b *Bus) drop(event Event, msg string) {
	b.metrics.mu.Lock()
	b.metrics.EventsDropped++
	b.metrics.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"event_type": event.Type,
		"guild_id":   event.GuildID,
	}).Warn(msg)
}

func (b *Bus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.buffer:
			b.deliverEvent(event)

		case <-b.stopCh:
			for {
				select {
				case event := <-b.buffer:
					b.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliverEvent(event Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.handlers[event.Type])+len(b.allHandlers))
	targets = append(targets, b.handlers[event.Type]...)
	targets = append(targets, b.allHandlers...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.invoke(sub.handler, event)
	}
}

func (b *Bus) invoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_type": event.Type,
				"panic":      r,
			}).Error("Event handler panic")
		}
	}()

	h(event)

	b.metrics.mu.Lock()
	b.metrics.EventsDelivered++
	b.metrics.mu.Unlock()
}

// Stop delivers what is already buffered and shuts the bus down
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
	})
}

// GetMetrics returns a copy of the bus metrics
func (b *Bus) GetMetrics() Metrics {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()

	metrics := Metrics{
		EventsPublished: make(map[EventType]int64),
		EventsDelivered: b.metrics.EventsDelivered,
		EventsDropped:   b.metrics.EventsDropped,
	}
	for k, v := range b.metrics.EventsPublished {
		metrics.EventsPublished[k] = v
	}
	return metrics
}

// PublishNode publishes a node lifecycle event
func (b *Bus) PublishNode(eventType EventType, node string, data NodeData) {
	b.Publish(Event{
		Type: eventType,
		Node: node,
		Data: data,
	})
}

// PublishTrack publishes a playback event for a guild
func (b *Bus) PublishTrack(eventType EventType, guildID string, data TrackData) {
	b.Publish(Event{
		Type:    eventType,
		GuildID: guildID,
		Data:    data,
	})
}
