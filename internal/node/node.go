package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// State is the connection state of a node
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Listener receives node lifecycle callbacks and session-scoped messages.
// Messages from one node are delivered in arrival order on the node's read
// goroutine.
type Listener interface {
	NodeConnected(n *Node, resumed bool)
	NodeDisconnected(n *Node, code int, reason string)
	NodeReconnecting(n *Node, attempt int)
	NodeError(n *Node, err error)
	NodeDestroyed(n *Node)
	NodeMessage(n *Node, msg protocol.Message)
}

type noopListener struct{}

func (noopListener) NodeConnected(*Node, bool)           {}
func (noopListener) NodeDisconnected(*Node, int, string) {}
func (noopListener) NodeReconnecting(*Node, int)         {}
func (noopListener) NodeError(*Node, error)              {}
func (noopListener) NodeDestroyed(*Node)                 {}
func (noopListener) NodeMessage(*Node, protocol.Message) {}

// Node is one persistent control connection to an audio node
type Node struct {
	opts      Options
	listener  Listener
	onDestroy func(*Node)
	limiter   *rate.Limiter
	logger    *logrus.Entry

	mu            sync.Mutex
	state         State
	destroyed     bool
	conn          *websocket.Conn
	generation    uint64
	attempts      int
	timer         *time.Timer
	everConnected bool
	stats         protocol.Stats

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex
}

// New creates a node without connecting it
func New(opts Options, listener Listener) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if listener == nil {
		listener = noopListener{}
	}
	opts = opts.withDefaults()

	return &Node{
		opts:     opts,
		listener: listener,
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(1, int(opts.RequestsPerSecond))),
		logger: logrus.WithFields(logrus.Fields{
			"node": opts.Name,
			"host": opts.Host,
		}),
	}, nil
}

// Name returns the node name (the host when no name was configured)
func (n *Node) Name() string { return n.opts.Name }

// Key returns the pool key
func (n *Node) Key() string { return n.opts.Key() }

// Options returns the effective options
func (n *Node) Options() Options { return n.opts }

// State returns the current connection state
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Connected reports whether the socket is open and the node is not destroyed
func (n *Node) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == StateConnected && !n.destroyed
}

// Destroyed reports whether Destroy was called
func (n *Node) Destroyed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.destroyed
}

// Attempts returns the number of reconnect attempts since the last successful open
func (n *Node) Attempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

// Stats returns the last stats snapshot
func (n *Node) Stats() protocol.Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Penalty is the load figure used for least-loaded selection
func (n *Node) Penalty() float64 {
	stats := n.Stats()
	return stats.Load()
}

// Connect opens the socket asynchronously. Any pending reconnect is cancelled
// and the attempt counter is reset. Failures surface through the listener.
func (n *Node) Connect() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.destroyed {
		return
	}
	n.attempts = 0
	n.startLocked()
}

// startLocked bumps the generation, which invalidates pending timers and the
// read loop of any previous socket, then dials in the background.
func (n *Node) startLocked() {
	n.generation++
	gen := n.generation
	n.stopTimerLocked()

	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
	n.state = StateConnecting

	go n.dial(gen)
}

func (n *Node) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Node) headers() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", n.opts.Password)
	headers.Set("Num-Shards", strconv.Itoa(n.opts.Shards))
	headers.Set("User-Id", n.opts.UserID)
	headers.Set("Client-Name", n.opts.ClientName)
	if n.opts.ResumeKey != "" {
		headers.Set("Resume-Key", n.opts.ResumeKey)
	}
	return headers
}

func (n *Node) dial(gen uint64) {
	url := n.opts.socketURL()
	n.logger.WithField("url", url).Debug("Connecting to node")

	conn, _, err := n.opts.Dialer.Dial(url, n.headers())
	if err != nil {
		n.logger.WithError(err).Warn("Failed to connect to node")
		if n.current(gen) {
			n.listener.NodeError(n, fmt.Errorf("%w: dial %s: %v", errs.ErrTransport, url, err))
		}
		n.handleClose(gen, websocket.CloseAbnormalClosure, err.Error())
		return
	}

	n.mu.Lock()
	if gen != n.generation || n.destroyed {
		n.mu.Unlock()
		_ = conn.Close()
		return
	}
	n.conn = conn
	n.state = StateConnected
	n.attempts = 0
	resumed := n.everConnected && n.opts.AutoResume
	n.everConnected = true
	n.mu.Unlock()

	if n.opts.ResumeKey != "" {
		timeout := int(n.opts.ResumeTimeout / time.Second)
		if err := n.Send(protocol.ConfigureResuming(n.opts.ResumeKey, timeout)); err == nil {
			n.logger.Debug("Configured resuming")
		}
	}

	n.logger.WithField("resumed", resumed).Info("Connection ready")
	n.listener.NodeConnected(n, resumed)

	go n.readLoop(gen, conn)
}

func (n *Node) current(gen uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return gen == n.generation && !n.destroyed
}

func (n *Node) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			n.handleClose(gen, code, reason)
			return
		}
		if !n.current(gen) {
			return
		}
		n.handleMessage(data)
	}
}

func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

// handleClose moves a live connection to disconnected and schedules a
// reconnect unless the close was clean. Stale generations are ignored.
func (n *Node) handleClose(gen uint64, code int, reason string) {
	n.mu.Lock()
	if gen != n.generation || n.destroyed {
		n.mu.Unlock()
		return
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
	n.state = StateDisconnected
	n.mu.Unlock()

	n.logger.WithFields(logrus.Fields{
		"code":   code,
		"reason": reason,
	}).Warn("Connection closed")
	n.listener.NodeDisconnected(n, code, reason)

	if code != websocket.CloseNormalClosure {
		n.reconnect(gen)
	}
}

// reconnect schedules one retry after the reconnect interval
func (n *Node) reconnect(gen uint64) {
	n.mu.Lock()
	if gen != n.generation || n.destroyed {
		n.mu.Unlock()
		return
	}
	n.attempts++
	if n.attempts > n.opts.ReconnectTries {
		tries := n.opts.ReconnectTries
		n.mu.Unlock()

		err := fmt.Errorf("%w: node %q gave up after %d attempts", errs.ErrReconnectExhausted, n.Name(), tries)
		n.logger.WithError(err).Error("Unable to reconnect")
		n.listener.NodeError(n, err)
		return
	}
	n.stopTimerLocked()
	n.timer = time.AfterFunc(n.opts.ReconnectInterval, func() {
		n.fireReconnect(gen)
	})
	n.mu.Unlock()
}

func (n *Node) fireReconnect(gen uint64) {
	n.mu.Lock()
	if gen != n.generation || n.destroyed {
		n.mu.Unlock()
		return
	}
	attempt := n.attempts
	n.timer = nil
	n.startLocked()
	n.mu.Unlock()

	n.logger.WithField("attempt", attempt).Info("Reconnecting")
	n.listener.NodeReconnecting(n, attempt)
}

// Disconnect closes the socket cleanly without scheduling a reconnect
func (n *Node) Disconnect() {
	n.mu.Lock()
	if n.destroyed || n.state == StateDisconnected {
		n.mu.Unlock()
		return
	}
	n.generation++
	n.stopTimerLocked()
	conn := n.conn
	n.conn = nil
	n.state = StateDisconnected
	n.mu.Unlock()

	n.closeConn(conn, "disconnect")
	n.listener.NodeDisconnected(n, websocket.CloseNormalClosure, "disconnect")
}

// Destroy tears the node down for good: players bound to it are destroyed
// first, then the socket is closed with 1000 and the node leaves its pool.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	n.generation++
	n.stopTimerLocked()
	n.mu.Unlock()

	n.listener.NodeDestroyed(n)

	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.state = StateDestroyed
	n.mu.Unlock()

	n.closeConn(conn, "destroy")
	if n.onDestroy != nil {
		n.onDestroy(n)
	}
	n.logger.Info("Node destroyed")
}

func (n *Node) closeConn(conn *websocket.Conn, reason string) {
	if conn == nil {
		return
	}
	n.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	n.writeMu.Unlock()
	_ = conn.Close()
}

// Send serialises msg and writes it to the socket. Failures are logged and
// returned but never change the connection state; a dead socket is noticed by
// the read loop.
func (n *Node) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("error marshaling node message: %w", err)
	}

	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		err := fmt.Errorf("%w: node %q is not connected", errs.ErrTransport, n.Name())
		n.logger.WithError(err).Debug("Dropping outbound message")
		return err
	}

	n.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	n.writeMu.Unlock()
	if err != nil {
		err = fmt.Errorf("%w: %v", errs.ErrTransport, err)
		n.logger.WithError(err).Warn("Failed to send message")
		return err
	}

	n.logger.WithField("payload", string(data)).Trace("Sent message")
	return nil
}

func (n *Node) handleMessage(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		n.logger.WithError(err).Debug("Dropping undecodable message")
		return
	}

	switch m := msg.(type) {
	case *protocol.Stats:
		n.mu.Lock()
		n.stats = *m
		n.mu.Unlock()
	case *protocol.Unrouted:
		n.logger.WithField("op", m.Op).Debug("Dropping unrouted message")
	default:
		if msg.Guild() == "" {
			n.logger.Debug("Dropping message without guild")
			return
		}
		n.listener.NodeMessage(n, msg)
	}
}
