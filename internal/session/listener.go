package session

import (
	"errors"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/events"
	"github.com/fankserver/lavapool/internal/node"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/sirupsen/logrus"
)

// NodeConnected implements node.Listener. After a resumed reconnect every
// player bound to the node replays its current track.
func (m *Manager) NodeConnected(n *node.Node, resumed bool) {
	m.logger.WithFields(logrus.Fields{
		"node":    n.Name(),
		"resumed": resumed,
	}).Info("Node connected")
	m.bus.PublishNode(events.EventNodeConnect, n.Name(), events.NodeData{Resumed: resumed})

	if !resumed {
		return
	}
	for _, p := range m.playersOn(n) {
		p.Restart()
	}
}

// NodeDisconnected implements node.Listener
func (m *Manager) NodeDisconnected(n *node.Node, code int, reason string) {
	m.logger.WithFields(logrus.Fields{
		"node":   n.Name(),
		"code":   code,
		"reason": reason,
	}).Warn("Node disconnected")
	m.bus.PublishNode(events.EventNodeDisconnect, n.Name(), events.NodeData{Code: code, Reason: reason})
}

// NodeReconnecting implements node.Listener
func (m *Manager) NodeReconnecting(n *node.Node, attempt int) {
	m.logger.WithFields(logrus.Fields{
		"node":    n.Name(),
		"attempt": attempt,
	}).Info("Reconnecting node")
	m.bus.PublishNode(events.EventNodeReconnect, n.Name(), events.NodeData{Attempt: attempt})
}

// NodeError implements node.Listener. Once a node gives up reconnecting its
// players move to the least-loaded node that is still connected.
func (m *Manager) NodeError(n *node.Node, err error) {
	m.logger.WithError(err).WithField("node", n.Name()).Error("Node error")
	m.bus.PublishNode(events.EventNodeError, n.Name(), events.NodeData{Err: err})

	if !errors.Is(err, errs.ErrReconnectExhausted) {
		return
	}
	players := m.playersOn(n)
	if len(players) == 0 {
		return
	}
	var target *node.Node
	for _, candidate := range m.pool.LeastLoaded() {
		if candidate != n {
			target = candidate
			break
		}
	}
	if target == nil {
		m.logger.WithField("node", n.Name()).Warn("No node to move players to")
		return
	}
	for _, p := range players {
		p.MoveNode(target)
	}
}

// NodeDestroyed implements node.Listener. Players bound to the node are
// destroyed while its socket is still open.
func (m *Manager) NodeDestroyed(n *node.Node) {
	players := m.playersOn(n)
	m.logger.WithFields(logrus.Fields{
		"node":    n.Name(),
		"players": len(players),
	}).Info("Node destroyed")

	for _, p := range players {
		p.Destroy()
	}
	m.bus.PublishNode(events.EventNodeDestroy, n.Name(), events.NodeData{})
}

// NodeMessage implements node.Listener. Messages are handed to the player
// without blocking the node's read loop.
func (m *Manager) NodeMessage(n *node.Node, msg protocol.Message) {
	logger := m.logger.WithFields(logrus.Fields{
		"node":     n.Name(),
		"guild_id": msg.Guild(),
	})

	p, ok := m.Get(msg.Guild())
	if !ok {
		logger.Debug("Dropping message for unknown player")
		return
	}
	if bound, ok := p.Node().(*node.Node); !ok || bound != n {
		logger.Debug("Dropping message from a node the player left")
		return
	}

	p.Dispatch(msg)
}
