package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(out))
		}
	}
	return out
}

func TestBusSubscribeDeliversInOrder(t *testing.T) {
	bus := NewBus(16)
	defer bus.Stop()

	ch := make(chan Event, 16)
	bus.Subscribe(EventTrackStart, func(e Event) { ch <- e })

	bus.PublishTrack(EventTrackStart, "g1", TrackData{})
	bus.PublishTrack(EventTrackEnd, "g1", TrackData{})
	bus.PublishTrack(EventTrackStart, "g2", TrackData{})

	got := collect(t, ch, 2)
	assert.Equal(t, "g1", got[0].GuildID)
	assert.Equal(t, "g2", got[1].GuildID)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(16)
	defer bus.Stop()

	ch := make(chan Event, 16)
	bus.SubscribeAll(func(e Event) { ch <- e })

	bus.PublishNode(EventNodeConnect, "main", NodeData{Resumed: true})
	bus.PublishTrack(EventQueueEnd, "g", TrackData{})

	got := collect(t, ch, 2)
	assert.Equal(t, EventNodeConnect, got[0].Type)
	assert.Equal(t, "main", got[0].Node)
	assert.True(t, got[0].Data.(NodeData).Resumed)
	assert.Equal(t, EventQueueEnd, got[1].Type)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Stop()

	var mu sync.Mutex
	count := 0
	unsubscribe := bus.Subscribe(EventQueueEnd, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	marker := make(chan Event, 4)
	bus.Subscribe(EventQueueEnd, func(e Event) { marker <- e })

	bus.PublishTrack(EventQueueEnd, "g", TrackData{})
	collect(t, marker, 1)

	unsubscribe()
	bus.PublishTrack(EventQueueEnd, "g", TrackData{})
	collect(t, marker, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBusHandlerPanicIsRecovered(t *testing.T) {
	bus := NewBus(16)
	defer bus.Stop()

	ch := make(chan Event, 4)
	bus.Subscribe(EventTrackError, func(Event) { panic("boom") })
	bus.Subscribe(EventTrackError, func(e Event) { ch <- e })

	bus.PublishTrack(EventTrackError, "g", TrackData{})
	bus.PublishTrack(EventTrackError, "g", TrackData{})

	collect(t, ch, 2)
}

func TestBusStopDrainsAndDropsLater(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	delivered := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		bus.PublishTrack(EventTrackStart, "g", TrackData{})
	}
	bus.Stop()
	bus.Stop()

	mu.Lock()
	assert.Equal(t, 5, delivered)
	mu.Unlock()

	bus.PublishTrack(EventTrackStart, "g", TrackData{})
	metrics := bus.GetMetrics()
	assert.Equal(t, int64(6), metrics.EventsPublished[EventTrackStart])
	assert.Equal(t, int64(1), metrics.EventsDropped)
}

func TestBusBufferFull(t *testing.T) {
	bus := NewBus(1)
	defer bus.Stop()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.SubscribeAll(func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.PublishTrack(EventTrackStart, "g", TrackData{})
	<-started

	bus.PublishTrack(EventTrackStart, "g", TrackData{})
	bus.PublishTrack(EventTrackStart, "g", TrackData{})
	close(release)

	require.Eventually(t, func() bool {
		return bus.GetMetrics().EventsDropped == 1
	}, time.Second, 10*time.Millisecond)
}
