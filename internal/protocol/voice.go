package protocol

// VoiceServer is the VOICE_SERVER_UPDATE payload from the host gateway
type VoiceServer struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

// VoiceState is the subset of a VOICE_STATE_UPDATE payload the manager needs.
// An empty ChannelID means the user left voice.
type VoiceState struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Voice is a resolved voice credential pair
type Voice struct {
	SessionID string      `json:"sessionId"`
	Event     VoiceServer `json:"event"`
}

// Gateway dispatch names forwarded by the host
const (
	DispatchVoiceStateUpdate  = "VOICE_STATE_UPDATE"
	DispatchVoiceServerUpdate = "VOICE_SERVER_UPDATE"
)

// OpVoiceStateUpdate is the gateway opcode for a voice channel join/leave request
const OpVoiceStateUpdate = 4

// VoiceIntent is the opaque {op: 4, d: {...}} payload sent to the host gateway
type VoiceIntent struct {
	Op   int             `json:"op"`
	Data VoiceIntentData `json:"d"`
}

// VoiceIntentData asks the gateway to join (ChannelID set) or leave (nil) a channel
type VoiceIntentData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// JoinIntent builds a voice intent for channelID; an empty channelID leaves voice
func JoinIntent(guildID, channelID string, mute, deaf bool) VoiceIntent {
	var channel *string
	if channelID != "" {
		channel = &channelID
	}
	return VoiceIntent{
		Op: OpVoiceStateUpdate,
		Data: VoiceIntentData{
			GuildID:   guildID,
			ChannelID: channel,
			SelfMute:  mute,
			SelfDeaf:  deaf,
		},
	}
}

// Leaving reports whether the intent asks to leave voice
func (v VoiceIntent) Leaving() bool {
	return v.Data.ChannelID == nil
}
