package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/events"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/sirupsen/logrus"
)

// HandleMessage applies a session-scoped message from the bound node. An
// unrecognised event yields errs.ErrUnknownEvent and leaves the player running.
func (p *Player) HandleMessage(ctx context.Context, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.PlayerUpdate:
		p.handlePlayerUpdate(m)
	case *protocol.TrackStartEvent:
		p.handleTrackStart(m)
	case *protocol.TrackEndEvent:
		p.handleTrackEnd(ctx, m)
	case *protocol.TrackStuckEvent:
		p.publish(events.EventTrackStuck, events.TrackData{Track: p.Current(), Event: m})
		p.Stop()
	case *protocol.TrackExceptionEvent:
		p.logger.WithFields(logrus.Fields{
			"message":  m.Exception.Message,
			"severity": m.Exception.Severity,
		}).Warn("Track exception")
		p.publish(events.EventTrackError, events.TrackData{Track: p.Current(), Event: m})
		p.Stop()
	case *protocol.WebSocketClosedEvent:
		p.handleSocketClosed(m)
	case *protocol.UnknownEvent:
		return fmt.Errorf("%w: %q", errs.ErrUnknownEvent, m.Type)
	default:
		return fmt.Errorf("%w: %T", errs.ErrUnknownEvent, msg)
	}
	return nil
}

func (p *Player) handlePlayerUpdate(m *protocol.PlayerUpdate) {
	p.mu.Lock()
	p.connected = m.State.Connected
	p.position = m.State.Position
	p.positionSynced = true
	p.mu.Unlock()

	p.publish(events.EventPlayerUpdate, events.PlayerUpdateData{State: m.State})
}

func (p *Player) handleTrackStart(m *protocol.TrackStartEvent) {
	p.mu.Lock()
	p.playing = true
	p.paused = false
	current := p.current
	p.mu.Unlock()

	p.publish(events.EventTrackStart, events.TrackData{Track: current, Event: m})
}

func (p *Player) handleTrackEnd(ctx context.Context, m *protocol.TrackEndEvent) {
	// the replacing play already moved current along
	if m.Reason == protocol.ReasonReplaced {
		p.publish(events.EventTrackEnd, events.TrackData{Track: p.Previous(), Event: m})
		return
	}

	p.mu.Lock()
	ended := p.current
	p.previous = ended
	p.playing = false
	loop := p.loop
	p.mu.Unlock()

	p.publish(events.EventTrackEnd, events.TrackData{Track: ended, Event: m})

	if ended != nil {
		switch loop {
		case LoopTrack:
			p.queue.Unshift(ended)
		case LoopQueue:
			p.queue.Push(ended)
		}
	}

	if p.playNext(ctx) {
		return
	}
	p.exhausted(ctx, m)
}

// playNext starts the first queued track that can be played and reports
// whether the queue was handled. Tracks that can never resolve are dropped.
// A retryable failure leaves the track at the head and stops advancing until
// the next play.
func (p *Player) playNext(ctx context.Context) bool {
	for p.queue.Len() > 0 {
		started, err := p.Play(ctx, PlayOptions{})
		if err == nil {
			return started
		}
		if errors.Is(err, errs.ErrDestroyed) {
			return true
		}
		if Retryable(ctx, err) {
			p.mu.Lock()
			p.current = nil
			p.mu.Unlock()
			p.logger.WithError(err).Warn("Stalled on next track")
			return true
		}
		p.logger.WithError(err).Warn("Skipping track that cannot be played")
	}
	return false
}

func (p *Player) exhausted(ctx context.Context, m *protocol.TrackEndEvent) {
	if p.nextTrack != nil && !p.Destroyed() {
		next, err := p.nextTrack.NextTrack(ctx, p)
		if err != nil {
			p.logger.WithError(err).Warn("Failed to pick a follow-up track")
		}
		if next != nil {
			p.queue.Push(next)
			if p.playNext(ctx) {
				return
			}
		}
	}

	p.mu.Lock()
	p.current = nil
	previous := p.previous
	p.mu.Unlock()

	p.publish(events.EventQueueEnd, events.TrackData{Track: previous, Event: m})
}

func (p *Player) handleSocketClosed(m *protocol.WebSocketClosedEvent) {
	p.logger.WithFields(logrus.Fields{
		"code":      m.Code,
		"reason":    m.Reason,
		"by_remote": m.ByRemote,
	}).Info("Voice socket closed")

	if m.NeedsRejoin() {
		if err := p.Reconnect(); err != nil {
			p.logger.WithError(err).Warn("Failed to rejoin voice channel")
		}
	}
	p.publish(events.EventSocketClosed, events.TrackData{Event: m})
}
