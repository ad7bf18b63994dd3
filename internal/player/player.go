// Package player implements the per-guild playback state machine. A Player is
// bound to exactly one node at a time, turns commands into node ops and
// advances its queue from the events the node reports back.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/events"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/fankserver/lavapool/pkg/track"
	"github.com/sirupsen/logrus"
)

const (
	DefaultVolume         = 100
	MaxVolume             = 1000
	DefaultMessageTimeout = 10 * time.Second
)

// Node is the part of a node connection a player needs
type Node interface {
	Name() string
	Send(msg interface{}) error
}

// VoiceSender delivers an op 4 voice intent to the host gateway
type VoiceSender func(intent protocol.VoiceIntent) error

// TrackResolver turns a catalog track into one the node can play
type TrackResolver interface {
	ResolveTrack(ctx context.Context, t *track.Track) (*track.Track, error)
}

// NextTrackPolicy picks a track when the queue runs dry. Returning nil ends
// playback with a queue.end event.
type NextTrackPolicy interface {
	NextTrack(ctx context.Context, p *Player) (*track.Track, error)
}

// Options configures a new Player
type Options struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	SelfMute       bool
	SelfDeaf       bool

	Node      Node
	Voice     VoiceSender
	Bus       *events.Bus
	Resolver  TrackResolver
	NextTrack NextTrackPolicy

	// OnDestroy runs once after the player is destroyed
	OnDestroy func(p *Player)

	// MessageTimeout bounds the handling of one dispatched node message
	MessageTimeout time.Duration
}

// PlayOptions tweaks a single play op
type PlayOptions struct {
	// Replace interrupts a track that is already playing
	Replace   bool
	StartTime int64
	Pause     bool
}

// Snapshot is a point-in-time copy of the player state
type Snapshot struct {
	GuildID        string
	Node           string
	VoiceChannelID string
	TextChannelID  string
	Playing        bool
	Paused         bool
	Connected      bool
	Position       int64
	PositionSynced bool
	Volume         int
	Loop           LoopMode
	Current        *track.Track
	Previous       *track.Track
	Queued         int
	Voice          *protocol.Voice
}

// Player is the playback state of one guild
type Player struct {
	guildID   string
	selfMute  bool
	selfDeaf  bool
	sendVoice VoiceSender
	bus       *events.Bus
	resolver  TrackResolver
	nextTrack NextTrackPolicy
	onDestroy func(*Player)
	queue     *track.Queue
	logger    *logrus.Entry

	// inbox feeds the goroutine that handles dispatched node messages
	ctx            context.Context
	cancel         context.CancelFunc
	messageTimeout time.Duration
	inboxMu        sync.Mutex
	inbox          []protocol.Message
	wake           chan struct{}

	mu             sync.Mutex
	node           Node
	voiceChannelID string
	textChannelID  string
	playing        bool
	paused         bool
	connected      bool
	position       int64
	positionSynced bool
	volume         int
	loop           LoopMode
	current        *track.Track
	previous       *track.Track
	voice          *protocol.Voice
	destroyed      bool
}

// New creates a player bound to opts.Node
func New(opts Options) (*Player, error) {
	if opts.GuildID == "" {
		return nil, fmt.Errorf("%w: guild id is required", errs.ErrConfiguration)
	}
	if opts.Node == nil {
		return nil, fmt.Errorf("%w: player needs a node", errs.ErrConfiguration)
	}
	if opts.Voice == nil {
		return nil, fmt.Errorf("%w: player needs a voice sender", errs.ErrConfiguration)
	}

	p := &Player{
		guildID:        opts.GuildID,
		selfMute:       opts.SelfMute,
		selfDeaf:       opts.SelfDeaf,
		sendVoice:      opts.Voice,
		bus:            opts.Bus,
		resolver:       opts.Resolver,
		nextTrack:      opts.NextTrack,
		onDestroy:      opts.OnDestroy,
		queue:          track.NewQueue(),
		node:           opts.Node,
		voiceChannelID: opts.VoiceChannelID,
		textChannelID:  opts.TextChannelID,
		volume:         DefaultVolume,
		loop:           LoopDisabled,
		logger:         logrus.WithField("guild_id", opts.GuildID),
		messageTimeout: opts.MessageTimeout,
		wake:           make(chan struct{}, 1),
	}
	if p.messageTimeout <= 0 {
		p.messageTimeout = DefaultMessageTimeout
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	go p.processMessages()

	p.logger.WithField("node", opts.Node.Name()).Debug("Created player")
	p.publish(events.EventPlayerCreate, nil)
	return p, nil
}

// GuildID returns the guild this player belongs to
func (p *Player) GuildID() string { return p.guildID }

// Queue returns the player's queue
func (p *Player) Queue() *track.Queue { return p.queue }

// Node returns the node the player is bound to
func (p *Player) Node() Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.node
}

// Destroyed reports whether Destroy has run
func (p *Player) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Current returns the track being played, if any
func (p *Player) Current() *track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Previous returns the last track that ended
func (p *Player) Previous() *track.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previous
}

// Snapshot copies the current state
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		GuildID:        p.guildID,
		Node:           p.node.Name(),
		VoiceChannelID: p.voiceChannelID,
		TextChannelID:  p.textChannelID,
		Playing:        p.playing,
		Paused:         p.paused,
		Connected:      p.connected,
		Position:       p.position,
		PositionSynced: p.positionSynced,
		Volume:         p.volume,
		Loop:           p.loop,
		Current:        p.current,
		Previous:       p.previous,
		Queued:         p.queue.Len(),
	}
	if p.voice != nil {
		voice := *p.voice
		s.Voice = &voice
	}
	return s
}

// Play dequeues the head of the queue and starts it. It returns false with a
// nil error when the queue is empty. A track that fails to resolve for a
// Retryable reason goes back to the head of the queue; otherwise it is dropped.
func (p *Player) Play(ctx context.Context, opts PlayOptions) (bool, error) {
	if p.Destroyed() {
		return false, fmt.Errorf("%w: player %s", errs.ErrDestroyed, p.guildID)
	}

	next := p.queue.Shift()
	if next == nil {
		return false, nil
	}

	if !next.Resolved() {
		resolved, err := p.resolve(ctx, next)
		if err != nil {
			p.logger.WithError(err).WithField("title", next.Info.Title).Warn("Failed to resolve track")
			if Retryable(ctx, err) {
				p.queue.Unshift(next)
			}
			p.publish(events.EventTrackError, events.TrackData{Track: next, Err: err})
			return false, err
		}
		next = resolved
	}

	p.mu.Lock()
	if opts.Replace && p.current != nil && p.playing {
		p.previous = p.current
	}
	p.current = next
	p.playing = !opts.Pause
	p.paused = opts.Pause
	p.position = opts.StartTime
	p.positionSynced = false
	node := p.node
	p.mu.Unlock()

	msg := protocol.Play(p.guildID, next.Encoded, !opts.Replace)
	msg.StartTime = opts.StartTime
	msg.Pause = opts.Pause
	p.send(node, msg)

	p.logger.WithFields(logrus.Fields{
		"title": next.Info.Title,
		"node":  node.Name(),
	}).Debug("Started playing")
	return true, nil
}

// Retryable reports whether a resolve failure may succeed later: the context
// ran out, or no node could be asked.
func Retryable(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, errs.ErrNoNodesAvailable) ||
		errors.Is(err, errs.ErrTransport)
}

func (p *Player) resolve(ctx context.Context, t *track.Track) (*track.Track, error) {
	if p.resolver == nil {
		return nil, fmt.Errorf("%w: no resolver for unresolved track %q", errs.ErrConfiguration, t.Info.Title)
	}
	resolved, err := p.resolver.ResolveTrack(ctx, t)
	if err != nil {
		return nil, err
	}
	if !resolved.Resolved() {
		return nil, fmt.Errorf("%w: %q could not be resolved", errs.ErrNotFound, t.Info.Title)
	}
	if resolved.Requester == "" {
		resolved.Requester = t.Requester
	}
	return resolved, nil
}

// Pause pauses (true) or resumes (false) playback
func (p *Player) Pause(pause bool) error {
	if p.Destroyed() {
		return fmt.Errorf("%w: player %s", errs.ErrDestroyed, p.guildID)
	}

	p.mu.Lock()
	p.playing = !pause
	p.paused = pause
	node := p.node
	p.mu.Unlock()

	p.send(node, protocol.Pause(p.guildID, pause))
	return nil
}

// Seek moves the playhead to position milliseconds
func (p *Player) Seek(position int64) error {
	if position < 0 {
		return fmt.Errorf("%w: position must not be negative, got %d", errs.ErrInvalidArgument, position)
	}
	if p.Destroyed() {
		return fmt.Errorf("%w: player %s", errs.ErrDestroyed, p.guildID)
	}

	p.mu.Lock()
	p.position = position
	node := p.node
	p.mu.Unlock()

	p.send(node, protocol.Seek(p.guildID, position))
	return nil
}

// SetVolume sets the volume, 0 to MaxVolume
func (p *Player) SetVolume(volume int) error {
	if volume < 0 || volume > MaxVolume {
		return fmt.Errorf("%w: volume must be between 0 and %d, got %d", errs.ErrInvalidArgument, MaxVolume, volume)
	}
	if p.Destroyed() {
		return fmt.Errorf("%w: player %s", errs.ErrDestroyed, p.guildID)
	}

	p.mu.Lock()
	p.volume = volume
	node := p.node
	p.mu.Unlock()

	p.send(node, protocol.Volume(p.guildID, volume))
	return nil
}

// SetLoopMode changes what happens when a track ends
func (p *Player) SetLoopMode(mode LoopMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown loop mode %q", errs.ErrInvalidArgument, mode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = mode
	return nil
}

// Skip ends the current track and jumps n-1 entries ahead in the queue. The
// node answers the stop with a TrackEndEvent which starts the next track.
func (p *Player) Skip(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: skip amount must be at least 1, got %d", errs.ErrInvalidArgument, n)
	}
	if n > 1 && n > p.queue.Len() {
		return fmt.Errorf("%w: cannot skip %d tracks, queue holds %d", errs.ErrOutOfRange, n, p.queue.Len())
	}
	if p.Destroyed() {
		return fmt.Errorf("%w: player %s", errs.ErrDestroyed, p.guildID)
	}

	p.queue.Drop(n - 1)
	p.send(p.Node(), protocol.Stop(p.guildID))
	return nil
}

// Stop halts the current track
func (p *Player) Stop() {
	p.send(p.Node(), protocol.Stop(p.guildID))
}

// SetTextChannel changes where notifications for this player go
func (p *Player) SetTextChannel(channelID string) error {
	if channelID == "" {
		return fmt.Errorf("%w: text channel id is required", errs.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.textChannelID = channelID
	return nil
}

// SetVoiceChannel changes the channel joined by Connect and Reconnect
func (p *Player) SetVoiceChannel(channelID string) error {
	if channelID == "" {
		return fmt.Errorf("%w: voice channel id is required", errs.ErrInvalidArgument)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.voiceChannelID = channelID
	return nil
}

// Connect asks the gateway to join the player's voice channel
func (p *Player) Connect() error {
	p.mu.Lock()
	channel := p.voiceChannelID
	p.mu.Unlock()

	if channel == "" {
		return fmt.Errorf("%w: no voice channel set", errs.ErrInvalidArgument)
	}
	if err := p.sendVoice(protocol.JoinIntent(p.guildID, channel, p.selfMute, p.selfDeaf)); err != nil {
		return err
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.logger.WithField("channel_id", channel).Debug("Requested voice connection")
	return nil
}

// Reconnect re-issues the join intent for the current voice channel. It does
// nothing once the player has left voice.
func (p *Player) Reconnect() error {
	p.mu.Lock()
	channel := p.voiceChannelID
	p.mu.Unlock()

	if channel == "" {
		return nil
	}
	return p.sendVoice(protocol.JoinIntent(p.guildID, channel, p.selfMute, p.selfDeaf))
}

// Disconnect pauses playback and leaves the voice channel
func (p *Player) Disconnect() error {
	p.mu.Lock()
	channel := p.voiceChannelID
	p.mu.Unlock()

	if channel == "" {
		return nil
	}

	p.mu.Lock()
	p.playing = false
	p.paused = true
	p.connected = false
	p.voiceChannelID = ""
	node := p.node
	p.mu.Unlock()

	p.send(node, protocol.Pause(p.guildID, true))
	return p.sendVoice(protocol.JoinIntent(p.guildID, "", false, false))
}

// Destroy leaves voice, drops the player on the node and unregisters it.
// Calling it more than once has no effect.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()
	p.cancel()

	if err := p.Disconnect(); err != nil {
		p.logger.WithError(err).Warn("Failed to leave voice channel")
	}

	p.mu.Lock()
	p.playing = false
	node := p.node
	p.mu.Unlock()

	p.send(node, protocol.Destroy(p.guildID))
	p.publish(events.EventPlayerDestroy, nil)
	p.logger.Debug("Destroyed player")

	if p.onDestroy != nil {
		p.onDestroy(p)
	}
}

// UpdateSession stores a voice credential pair and hands it to the node
func (p *Player) UpdateSession(voice protocol.Voice) {
	p.mu.Lock()
	p.voice = &voice
	node := p.node
	destroyed := p.destroyed
	p.mu.Unlock()

	if destroyed {
		return
	}
	p.send(node, protocol.VoiceUpdate(p.guildID, voice))
}

// Restart replays the current track from the last known position, for a node
// that came back without the player's state.
func (p *Player) Restart() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	node := p.node
	voice := p.voice
	current := p.current
	position := p.position
	paused := p.paused
	volume := p.volume
	if current != nil {
		p.playing = !paused
	}
	p.mu.Unlock()

	if voice != nil {
		p.send(node, protocol.VoiceUpdate(p.guildID, *voice))
	}
	if current == nil {
		return
	}

	msg := protocol.Play(p.guildID, current.Encoded, true)
	msg.StartTime = position
	msg.Pause = paused
	p.send(node, msg)
	if volume != DefaultVolume {
		p.send(node, protocol.Volume(p.guildID, volume))
	}

	p.logger.WithFields(logrus.Fields{
		"node":     node.Name(),
		"position": position,
	}).Info("Restarted playback")
}

// MoveNode rebinds the player to node and restarts playback there
func (p *Player) MoveNode(node Node) {
	p.mu.Lock()
	from := p.node
	if p.destroyed || from == node {
		p.mu.Unlock()
		return
	}
	p.node = node
	p.mu.Unlock()

	p.send(from, protocol.Destroy(p.guildID))
	p.Restart()
	p.publish(events.EventPlayerMove, events.MoveData{From: from.Name(), To: node.Name()})
}

func (p *Player) send(node Node, msg interface{}) {
	if err := node.Send(msg); err != nil {
		p.logger.WithError(err).WithField("node", node.Name()).Warn("Failed to send to node")
	}
}

func (p *Player) publish(eventType events.EventType, data interface{}) {
	if p.bus == nil {
		return
	}

	node := ""
	p.mu.Lock()
	if p.node != nil {
		node = p.node.Name()
	}
	p.mu.Unlock()

	p.bus.Publish(events.Event{
		Type:    eventType,
		GuildID: p.guildID,
		Node:    node,
		Data:    data,
	})
}
