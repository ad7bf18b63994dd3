package gateway

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/lavapool/internal/errs"
	"github.com/fankserver/lavapool/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingVoice struct {
	userID  string
	states  []protocol.VoiceState
	servers []protocol.VoiceServer
}

func (r *recordingVoice) SetUserID(userID string)                    { r.userID = userID }
func (r *recordingVoice) OnVoiceStateUpdate(s protocol.VoiceState)   { r.states = append(r.states, s) }
func (r *recordingVoice) OnVoiceServerUpdate(s protocol.VoiceServer) { r.servers = append(r.servers, s) }

func TestNewBridge(t *testing.T) {
	b, err := New("dummy_token")
	require.NoError(t, err)
	require.NotNil(t, b)

	assert.Equal(t, "Bot dummy_token", b.discord.Identify.Token)
	assert.NotZero(t, b.discord.Identify.Intents&discordgo.IntentsGuildVoiceStates)
}

func TestReadySetsUserID(t *testing.T) {
	b, err := New("dummy_token")
	require.NoError(t, err)

	voice := &recordingVoice{}
	b.Attach(voice)
	var readyFor string
	b.OnReady(func(userID string) { readyFor = userID })

	b.ready(b.discord, &discordgo.Ready{User: &discordgo.User{ID: "bot-1", Username: "lavapool"}})
	assert.Equal(t, "bot-1", voice.userID)
	assert.Equal(t, "bot-1", readyFor)
}

func TestVoiceUpdatesAreForwarded(t *testing.T) {
	b, err := New("dummy_token")
	require.NoError(t, err)

	// nothing attached yet
	b.voiceServerUpdate(b.discord, &discordgo.VoiceServerUpdate{GuildID: "g1"})

	voice := &recordingVoice{}
	b.Attach(voice)

	b.voiceStateUpdate(b.discord, &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{
		GuildID:   "g1",
		ChannelID: "c1",
		UserID:    "bot-1",
		SessionID: "sess",
	}})
	b.voiceServerUpdate(b.discord, &discordgo.VoiceServerUpdate{Token: "tok", GuildID: "g1", Endpoint: "e:443"})

	require.Len(t, voice.states, 1)
	assert.Equal(t, protocol.VoiceState{GuildID: "g1", ChannelID: "c1", UserID: "bot-1", SessionID: "sess"}, voice.states[0])
	require.Len(t, voice.servers, 1)
	assert.Equal(t, protocol.VoiceServer{Token: "tok", GuildID: "g1", Endpoint: "e:443"}, voice.servers[0])
}

func TestSendVoiceRequiresOpenSession(t *testing.T) {
	b, err := New("dummy_token")
	require.NoError(t, err)

	err = b.SendVoice(protocol.JoinIntent("g1", "c1", false, true))
	assert.True(t, errors.Is(err, errs.ErrTransport))
}
