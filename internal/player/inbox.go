package player

import (
	"context"
	"errors"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/protocol"
)

// Dispatch queues a node message for this player and returns immediately.
// Messages are handled one at a time in dispatch order, so a slow track
// resolve only holds up its own guild.
func (p *Player) Dispatch(msg protocol.Message) {
	if p.ctx.Err() != nil {
		return
	}

	p.inboxMu.Lock()
	p.inbox = append(p.inbox, msg)
	p.inboxMu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Player) processMessages() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}

		for {
			msg, ok := p.popMessage()
			if !ok {
				break
			}
			p.handleDispatched(msg)
			if p.ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *Player) popMessage() (protocol.Message, bool) {
	p.inboxMu.Lock()
	defer p.inboxMu.Unlock()
	if len(p.inbox) == 0 {
		return nil, false
	}
	msg := p.inbox[0]
	p.inbox[0] = nil
	p.inbox = p.inbox[1:]
	return msg, true
}

func (p *Player) handleDispatched(msg protocol.Message) {
	ctx, cancel := context.WithTimeout(p.ctx, p.messageTimeout)
	defer cancel()

	if err := p.HandleMessage(ctx, msg); err != nil {
		entry := p.logger.WithError(err)
		if errors.Is(err, errs.ErrUnknownEvent) {
			entry.Debug("Ignoring unknown node event")
			return
		}
		entry.Warn("Failed to handle node message")
	}
}
