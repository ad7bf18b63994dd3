package node

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeLavalink is a minimal audio node: a WebSocket endpoint at / plus
// whatever REST handlers a test registers.
type fakeLavalink struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	headers  []http.Header
	received chan map[string]interface{}
	accepted chan struct{}
	rest     map[string]http.HandlerFunc
}

func newFakeLavalink(t *testing.T) *fakeLavalink {
	f := &fakeLavalink{
		t:        t,
		received: make(chan map[string]interface{}, 64),
		accepted: make(chan struct{}, 16),
		rest:     make(map[string]http.HandlerFunc),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.close)
	return f
}

func (f *fakeLavalink) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rest[path] = h
}

func (f *fakeLavalink) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	h, ok := f.rest[r.URL.Path]
	f.mu.Unlock()
	if ok {
		h(w, r)
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()
	f.accepted <- struct{}{}

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]interface{}
			if json.Unmarshal(data, &msg) == nil {
				f.received <- msg
			}
		}
	}()
}

func (f *fakeLavalink) options(name string) Options {
	u, err := url.Parse(f.server.URL)
	require.NoError(f.t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(f.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(f.t, err)

	return Options{
		Name:              name,
		Host:              host,
		Port:              port,
		Password:          "youshallnotpass",
		UserID:            "bot-user",
		ReconnectInterval: 20 * time.Millisecond,
		ReconnectTries:    3,
	}
}

func (f *fakeLavalink) waitAccepted(n int) {
	f.t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.accepted:
		case <-time.After(2 * time.Second):
			f.t.Fatalf("timed out waiting for connection %d", i+1)
		}
	}
}

func (f *fakeLavalink) latest() *websocket.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.conns)
	return f.conns[len(f.conns)-1]
}

func (f *fakeLavalink) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeLavalink) send(v interface{}) {
	f.t.Helper()
	require.NoError(f.t, f.latest().WriteJSON(v))
}

func (f *fakeLavalink) sendStats(cores int, systemLoad float64) {
	f.send(map[string]interface{}{
		"op":      "stats",
		"players": 1,
		"cpu":     map[string]interface{}{"cores": cores, "systemLoad": systemLoad, "lavalinkLoad": 0.01},
	})
}

// dropAbruptly closes the TCP connection without a close frame
func (f *fakeLavalink) dropAbruptly() {
	_ = f.latest().UnderlyingConn().Close()
}

func (f *fakeLavalink) closeWith(code int) {
	conn := f.latest()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, "bye"), time.Now().Add(time.Second))
}

func (f *fakeLavalink) nextMessage() map[string]interface{} {
	f.t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for client message")
		return nil
	}
}

func (f *fakeLavalink) close() {
	f.mu.Lock()
	for _, c := range f.conns {
		_ = c.Close()
	}
	f.mu.Unlock()
	f.server.Close()
}

// recorder is a Listener that forwards callbacks to channels
type recorder struct {
	connected    chan bool
	disconnected chan int
	reconnecting chan int
	errors       chan error
	destroyed    chan *Node
	messages     chan protocol.Message
}

func newRecorder() *recorder {
	return &recorder{
		connected:    make(chan bool, 16),
		disconnected: make(chan int, 16),
		reconnecting: make(chan int, 16),
		errors:       make(chan error, 16),
		destroyed:    make(chan *Node, 16),
		messages:     make(chan protocol.Message, 16),
	}
}

func (r *recorder) NodeConnected(_ *Node, resumed bool)          { r.connected <- resumed }
func (r *recorder) NodeDisconnected(_ *Node, code int, _ string) { r.disconnected <- code }
func (r *recorder) NodeReconnecting(_ *Node, attempt int)        { r.reconnecting <- attempt }
func (r *recorder) NodeError(_ *Node, err error)                 { r.errors <- err }
func (r *recorder) NodeDestroyed(n *Node)                        { r.destroyed <- n }
func (r *recorder) NodeMessage(_ *Node, msg protocol.Message)    { r.messages <- msg }

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		var zero T
		return zero
	}
}

func unreachableOptions(t *testing.T, name string) Options {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().(*net.TCPAddr)
	require.NoError(t, l.Close())

	return Options{
		Name:              name,
		Host:              "127.0.0.1",
		Port:              addr.Port,
		Password:          "pw",
		ReconnectInterval: 10 * time.Millisecond,
		ReconnectTries:    2,
	}
}
