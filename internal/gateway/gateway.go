// Package gateway connects the session manager to the Discord gateway. Voice
// updates flow in from discordgo handlers; voice intents flow out as op 4
// payloads without opening a local voice connection.
package gateway

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Voice is what the bridge feeds gateway voice updates into
type Voice interface {
	SetUserID(userID string)
	OnVoiceStateUpdate(state protocol.VoiceState)
	OnVoiceServerUpdate(server protocol.VoiceServer)
}

// Bridge manages the Discord session used for voice signalling
type Bridge struct {
	discord *discordgo.Session

	mu      sync.RWMutex
	voice   Voice
	onReady []func(userID string)
	open    bool
}

// New creates a bridge for a bot token. Nothing connects until Open.
func New(token string) (*Bridge, error) {
	discord, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	b := &Bridge{discord: discord}

	// Register handlers
	discord.AddHandler(b.ready)
	discord.AddHandler(b.voiceStateUpdate)
	discord.AddHandler(b.voiceServerUpdate)

	discord.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	return b, nil
}

// Attach sets the receiver of voice updates
func (b *Bridge) Attach(v Voice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voice = v
}

// OnReady registers fn to run with the bot user id once the gateway is ready
func (b *Bridge) OnReady(fn func(userID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReady = append(b.onReady, fn)
}

// Open establishes connection to Discord
func (b *Bridge) Open() error {
	if err := b.discord.Open(); err != nil {
		return fmt.Errorf("error opening Discord session: %w", err)
	}
	b.mu.Lock()
	b.open = true
	b.mu.Unlock()
	return nil
}

// Close closes the Discord connection
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.open = false
	b.mu.Unlock()
	return b.discord.Close()
}

// SendVoice delivers a join or leave intent over the gateway
func (b *Bridge) SendVoice(intent protocol.VoiceIntent) error {
	b.mu.RLock()
	open := b.open
	b.mu.RUnlock()
	if !open {
		return fmt.Errorf("%w: discord session is not open", errs.ErrTransport)
	}

	channelID := ""
	if !intent.Leaving() {
		channelID = *intent.Data.ChannelID
	}

	d := intent.Data
	if err := b.discord.ChannelVoiceJoinManual(d.GuildID, channelID, d.SelfMute, d.SelfDeaf); err != nil {
		return fmt.Errorf("%w: error sending voice state update: %v", errs.ErrTransport, err)
	}

	logrus.WithFields(logrus.Fields{
		"guild_id":   d.GuildID,
		"channel_id": channelID,
	}).Debug("Sent voice state update")
	return nil
}

func (b *Bridge) receiver() Voice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.voice
}

// Event handlers

func (b *Bridge) ready(s *discordgo.Session, event *discordgo.Ready) {
	if event.User == nil {
		return
	}
	logrus.WithFields(logrus.Fields{
		"username": event.User.Username,
		"user_id":  event.User.ID,
		"guilds":   len(event.Guilds),
	}).Info("Bot is ready")

	if v := b.receiver(); v != nil {
		v.SetUserID(event.User.ID)
	}

	b.mu.RLock()
	callbacks := append([]func(string){}, b.onReady...)
	b.mu.RUnlock()
	for _, fn := range callbacks {
		fn(event.User.ID)
	}
}

func (b *Bridge) voiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	v := b.receiver()
	if v == nil || vsu.VoiceState == nil {
		return
	}

	v.OnVoiceStateUpdate(protocol.VoiceState{
		GuildID:   vsu.GuildID,
		ChannelID: vsu.ChannelID,
		UserID:    vsu.UserID,
		SessionID: vsu.SessionID,
	})
}

func (b *Bridge) voiceServerUpdate(s *discordgo.Session, vsu *discordgo.VoiceServerUpdate) {
	v := b.receiver()
	if v == nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"guild_id": vsu.GuildID,
		"endpoint": vsu.Endpoint,
	}).Debug("Voice server update")
	v.OnVoiceServerUpdate(protocol.VoiceServer{
		Token:    vsu.Token,
		GuildID:  vsu.GuildID,
		Endpoint: vsu.Endpoint,
	})
}
