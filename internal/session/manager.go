// Package session ties the node pool, the per-guild players and the host
// gateway together. It owns the player registry, routes node messages to
// players and correlates voice updates into node credentials.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/events"
	"github.com/fankserver/lavapool/internal/node"
	"github.com/fankserver/lavapool/internal/player"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/fankserver/lavapool/pkg/catalog"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSearch         = "ytsearch"
	DefaultMessageTimeout = player.DefaultMessageTimeout
)

// Options configures a Manager
type Options struct {
	// UserID is the bot user; it can also be set later with SetUserID
	UserID string

	// Voice delivers join/leave intents to the host gateway. Required.
	Voice player.VoiceSender

	// DefaultSearch prefixes free-text queries sent to nodes
	DefaultSearch string

	// Catalogs are consulted in order for links and named sources
	Catalogs []catalog.Resolver

	// NextTrack is asked for a track when a queue runs dry
	NextTrack player.NextTrackPolicy

	// Autoplay installs RadioPolicy when NextTrack is nil
	Autoplay bool

	EventBuffer    int
	MessageTimeout time.Duration
}

// ConnectOptions describes a voice connection request for a guild
type ConnectOptions struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	SelfMute       bool
	SelfDeaf       bool

	// Node names the node to bind; empty picks the least-loaded one
	Node string
}

// Manager handles players for every guild of one bot user
type Manager struct {
	opts     Options
	pool     *node.Pool
	bus      *events.Bus
	catalogs []catalog.Resolver
	logger   *logrus.Entry

	mu      sync.RWMutex
	userID  string
	players map[string]*player.Player

	voiceMu      sync.Mutex
	voiceServers map[string]protocol.VoiceServer
	voiceStates  map[string]protocol.VoiceState
}

// NewManager creates a new session manager
func NewManager(opts Options) (*Manager, error) {
	if opts.Voice == nil {
		return nil, fmt.Errorf("%w: a voice sender is required", errs.ErrConfiguration)
	}
	if opts.DefaultSearch == "" {
		opts.DefaultSearch = DefaultSearch
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = DefaultMessageTimeout
	}

	m := &Manager{
		opts:         opts,
		bus:          events.NewBus(opts.EventBuffer),
		catalogs:     append([]catalog.Resolver(nil), opts.Catalogs...),
		logger:       logrus.WithField("component", "session"),
		userID:       opts.UserID,
		players:      make(map[string]*player.Player),
		voiceServers: make(map[string]protocol.VoiceServer),
		voiceStates:  make(map[string]protocol.VoiceState),
	}
	if m.opts.NextTrack == nil && m.opts.Autoplay {
		m.opts.NextTrack = NewRadioPolicy(m)
	}
	m.pool = node.NewPool(m)
	return m, nil
}

// Events returns the manager's event bus
func (m *Manager) Events() *events.Bus { return m.bus }

// SetUserID sets the bot user whose voice states are tracked
func (m *Manager) SetUserID(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
}

// UserID returns the bot user id
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// AddNode registers a node and starts connecting it. UserID defaults to the
// manager's bot user.
func (m *Manager) AddNode(opts node.Options) (*node.Node, error) {
	if opts.UserID == "" {
		opts.UserID = m.UserID()
	}
	return m.pool.Add(opts)
}

// RemoveNode destroys the node under key, along with its players
func (m *Manager) RemoveNode(key string) error {
	return m.pool.Remove(key)
}

// Node selects a node by key, or the least-loaded one for node.Best
func (m *Manager) Node(key string) (*node.Node, error) {
	return m.pool.Select(key)
}

// Nodes returns every registered node in registration order
func (m *Manager) Nodes() []*node.Node {
	return m.pool.Nodes()
}

// Connect returns the guild's player, creating it on a node and joining the
// voice channel if it does not exist yet.
func (m *Manager) Connect(opts ConnectOptions) (*player.Player, error) {
	switch {
	case opts.GuildID == "":
		return nil, fmt.Errorf("%w: a guild id must be provided", errs.ErrInvalidArgument)
	case opts.VoiceChannelID == "":
		return nil, fmt.Errorf("%w: a voice channel id must be provided", errs.ErrInvalidArgument)
	case opts.TextChannelID == "":
		return nil, fmt.Errorf("%w: a text channel id must be provided", errs.ErrInvalidArgument)
	}

	m.mu.Lock()
	if p, ok := m.players[opts.GuildID]; ok {
		m.mu.Unlock()
		return p, nil
	}

	key := opts.Node
	if key == "" {
		key = node.Best
	}
	n, err := m.pool.Select(key)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	p, err := player.New(player.Options{
		GuildID:        opts.GuildID,
		VoiceChannelID: opts.VoiceChannelID,
		TextChannelID:  opts.TextChannelID,
		SelfMute:       opts.SelfMute,
		SelfDeaf:       opts.SelfDeaf,
		Node:           n,
		Voice:          m.opts.Voice,
		Bus:            m.bus,
		Resolver:       m,
		NextTrack:      m.opts.NextTrack,
		OnDestroy:      m.unregister,
		MessageTimeout: m.opts.MessageTimeout,
	})
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.players[opts.GuildID] = p
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"guild_id": opts.GuildID,
		"node":     n.Name(),
	}).Info("Created player")

	if err := p.Connect(); err != nil {
		p.Destroy()
		return nil, fmt.Errorf("error joining voice channel: %w", err)
	}
	return p, nil
}

// Get returns the player for a guild
func (m *Manager) Get(guildID string) (*player.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Players returns all live players
func (m *Manager) Players() []*player.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()

	players := make([]*player.Player, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	return players
}

func (m *Manager) playersOn(n *node.Node) []*player.Player {
	var out []*player.Player
	for _, p := range m.Players() {
		if bound, ok := p.Node().(*node.Node); ok && bound == n {
			out = append(out, p)
		}
	}
	return out
}

// RemoveConnection destroys the guild's player
func (m *Manager) RemoveConnection(guildID string) error {
	p, ok := m.Get(guildID)
	if !ok {
		return fmt.Errorf("%w: no player for guild %s", errs.ErrNotFound, guildID)
	}
	p.Destroy()
	return nil
}

// MovePlayer rebinds the guild's player to the node under key
func (m *Manager) MovePlayer(guildID, key string) error {
	p, ok := m.Get(guildID)
	if !ok {
		return fmt.Errorf("%w: no player for guild %s", errs.ErrNotFound, guildID)
	}
	n, err := m.pool.Select(key)
	if err != nil {
		return err
	}
	p.MoveNode(n)
	return nil
}

func (m *Manager) unregister(p *player.Player) {
	m.mu.Lock()
	if m.players[p.GuildID()] == p {
		delete(m.players, p.GuildID())
	}
	m.mu.Unlock()

	m.clearVoice(p.GuildID())
}

// Close destroys every node, and with them every player, then stops the bus
func (m *Manager) Close() {
	m.pool.Close()
	for _, p := range m.Players() {
		p.Destroy()
	}
	m.bus.Stop()
}
