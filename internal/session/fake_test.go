package session

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

	"github.com/fankserver/lavapool/internal/node"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// audioNode is a stand-in audio node that records every op it receives and
// answers /loadtracks with a canned result.
type audioNode struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conn        *websocket.Conn
	ops         []map[string]interface{}
	identifiers []string
	loadResult  string
	stalled     chan struct{}
}

func newAudioNode(t *testing.T) *audioNode {
	a := &audioNode{
		t:          t,
		loadResult: `{"loadType":"NO_MATCHES","tracks":[],"playlistInfo":{}}`,
	}
	a.server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(func() {
		a.mu.Lock()
		if a.conn != nil {
			_ = a.conn.Close()
		}
		a.mu.Unlock()
		a.server.Close()
	})
	return a
}

func (a *audioNode) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/loadtracks" {
		a.mu.Lock()
		a.identifiers = append(a.identifiers, r.URL.Query().Get("identifier"))
		body := a.loadResult
		stalled := a.stalled
		a.mu.Unlock()
		if stalled != nil {
			select {
			case <-stalled:
			case <-r.Context().Done():
				return
			}
		}
		_, _ = w.Write([]byte(body))
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var op map[string]interface{}
			if json.Unmarshal(data, &op) == nil {
				a.mu.Lock()
				a.ops = append(a.ops, op)
				a.mu.Unlock()
			}
		}
	}()
}

func (a *audioNode) options(name string) node.Options {
	u, err := url.Parse(a.server.URL)
	require.NoError(a.t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(a.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(a.t, err)

	return node.Options{
		Name:              name,
		Host:              host,
		Port:              port,
		Password:          "youshallnotpass",
		ReconnectInterval: 20 * time.Millisecond,
		ReconnectTries:    2,
	}
}

func (a *audioNode) respondWith(body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loadResult = body
}

// stall holds /loadtracks answers until the returned release func runs
func (a *audioNode) stall() func() {
	ch := make(chan struct{})
	a.mu.Lock()
	a.stalled = ch
	a.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// drop closes the socket without a close frame, as a crashed node would
func (a *audioNode) drop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

func (a *audioNode) searched() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.identifiers...)
}

func (a *audioNode) received(op protocol.Op) []map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range a.ops {
		if m["op"] == string(op) {
			out = append(out, m)
		}
	}
	return out
}

func (a *audioNode) send(v interface{}) {
	var conn *websocket.Conn
	require.Eventually(a.t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		conn = a.conn
		return conn != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(a.t, conn.WriteJSON(v))
}

func (a *audioNode) sendStats(cores int, systemLoad float64) {
	a.send(map[string]interface{}{
		"op":  "stats",
		"cpu": map[string]interface{}{"cores": cores, "systemLoad": systemLoad},
	})
}

// intents records the voice intents a manager hands to the gateway
type intents struct {
	mu   sync.Mutex
	sent []protocol.VoiceIntent
}

func (i *intents) send(intent protocol.VoiceIntent) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, intent)
	return nil
}

func (i *intents) all() []protocol.VoiceIntent {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]protocol.VoiceIntent(nil), i.sent...)
}

func newTestManager(t *testing.T, configure func(*Options)) (*Manager, *intents) {
	t.Helper()
	voice := &intents{}
	opts := Options{UserID: "bot", Voice: voice.send}
	if configure != nil {
		configure(&opts)
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, voice
}

func addNode(t *testing.T, m *Manager, a *audioNode, name string) *node.Node {
	t.Helper()
	n, err := m.AddNode(a.options(name))
	require.NoError(t, err)
	require.Eventually(t, n.Connected, 2*time.Second, 5*time.Millisecond)
	return n
}
