package session

import (
	"encoding/json"
	"fmt"

	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/sirupsen/logrus"
)

type gatewayPacket struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

// HandlePacket feeds a raw gateway dispatch ({"t": ..., "d": ...}) into voice
// correlation. Dispatches other than voice updates, and updates for guilds
// without a player, are ignored.
func (m *Manager) HandlePacket(raw []byte) error {
	var packet gatewayPacket
	if err := json.Unmarshal(raw, &packet); err != nil {
		return fmt.Errorf("error decoding gateway packet: %w", err)
	}

	switch packet.T {
	case protocol.DispatchVoiceServerUpdate:
		var server protocol.VoiceServer
		if err := json.Unmarshal(packet.D, &server); err != nil {
			return fmt.Errorf("error decoding %s: %w", packet.T, err)
		}
		if _, ok := m.Get(server.GuildID); ok {
			m.OnVoiceServerUpdate(server)
		}
	case protocol.DispatchVoiceStateUpdate:
		var state protocol.VoiceState
		if err := json.Unmarshal(packet.D, &state); err != nil {
			return fmt.Errorf("error decoding %s: %w", packet.T, err)
		}
		if _, ok := m.Get(state.GuildID); ok {
			m.OnVoiceStateUpdate(state)
		}
	}
	return nil
}

// OnVoiceServerUpdate stores the guild's voice server and forwards the
// credential pair once the matching voice state is known.
func (m *Manager) OnVoiceServerUpdate(server protocol.VoiceServer) {
	m.voiceMu.Lock()
	m.voiceServers[server.GuildID] = server
	state, ok := m.voiceStates[server.GuildID]
	m.voiceMu.Unlock()

	if server.Endpoint == "" {
		// discord sends a null endpoint while it allocates a new voice server
		m.logger.WithField("guild_id", server.GuildID).Debug("Voice server unavailable, waiting for endpoint")
		return
	}
	if !ok || state.ChannelID == "" {
		return
	}
	m.forwardVoice(server.GuildID, protocol.Voice{SessionID: state.SessionID, Event: server})
}

// OnVoiceStateUpdate tracks the bot user's voice state. Leaving voice clears
// both halves of the guild's credential.
func (m *Manager) OnVoiceStateUpdate(state protocol.VoiceState) {
	if state.UserID == "" || state.UserID != m.UserID() {
		return
	}

	if state.ChannelID == "" {
		m.clearVoice(state.GuildID)
		m.logger.WithField("guild_id", state.GuildID).Debug("Left voice, cleared voice credentials")
		return
	}

	m.voiceMu.Lock()
	m.voiceStates[state.GuildID] = state
	server, ok := m.voiceServers[state.GuildID]
	m.voiceMu.Unlock()

	if p, exists := m.Get(state.GuildID); exists && p.Snapshot().VoiceChannelID != state.ChannelID {
		// moved to another channel by someone else
		_ = p.SetVoiceChannel(state.ChannelID)
	}

	if !ok || server.Endpoint == "" {
		return
	}
	m.forwardVoice(state.GuildID, protocol.Voice{SessionID: state.SessionID, Event: server})
}

func (m *Manager) forwardVoice(guildID string, voice protocol.Voice) {
	p, ok := m.Get(guildID)
	if !ok {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"guild_id": guildID,
		"endpoint": voice.Event.Endpoint,
	}).Debug("Forwarding voice credentials")
	p.UpdateSession(voice)
}

func (m *Manager) clearVoice(guildID string) {
	m.voiceMu.Lock()
	defer m.voiceMu.Unlock()
	delete(m.voiceServers, guildID)
	delete(m.voiceStates, guildID)
}
