// Package protocol defines the JSON messages exchanged with an audio node over
// its WebSocket control channel, plus the gateway voice payloads the session
// manager correlates.
package protocol

// Op is the operation tag carried in the "op" field
type Op string

const (
	OpPlay              Op = "play"
	OpStop              Op = "stop"
	OpPause             Op = "pause"
	OpSeek              Op = "seek"
	OpVolume            Op = "volume"
	OpDestroy           Op = "destroy"
	OpVoiceUpdate       Op = "voiceUpdate"
	OpConfigureResuming Op = "configureResuming"

	OpStats        Op = "stats"
	OpPlayerUpdate Op = "playerUpdate"
	OpEvent        Op = "event"
)

// PlayMessage starts a track
type PlayMessage struct {
	Op        Op     `json:"op"`
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	NoReplace bool   `json:"noReplace"`
	StartTime int64  `json:"startTime,omitempty"`
	Pause     bool   `json:"pause,omitempty"`
}

// PauseMessage pauses or resumes playback
type PauseMessage struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

// SeekMessage moves the playhead, in milliseconds
type SeekMessage struct {
	Op       Op     `json:"op"`
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

// VolumeMessage sets the player volume
type VolumeMessage struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

// GuildMessage is used by ops that carry nothing but the guild (stop, destroy)
type GuildMessage struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
}

// VoiceUpdateMessage hands a voice credential pair to the node
type VoiceUpdateMessage struct {
	Op        Op          `json:"op"`
	GuildID   string      `json:"guildId"`
	SessionID string      `json:"sessionId"`
	Event     VoiceServer `json:"event"`
}

// ConfigureResumingMessage asks the node to keep players alive across a reconnect
type ConfigureResumingMessage struct {
	Op      Op     `json:"op"`
	Key     string `json:"key"`
	Timeout int    `json:"timeout"`
}

// Play builds a play message
func Play(guildID, encoded string, noReplace bool) PlayMessage {
	return PlayMessage{Op: OpPlay, GuildID: guildID, Track: encoded, NoReplace: noReplace}
}

// Pause builds a pause message
func Pause(guildID string, pause bool) PauseMessage {
	return PauseMessage{Op: OpPause, GuildID: guildID, Pause: pause}
}

// Seek builds a seek message
func Seek(guildID string, position int64) SeekMessage {
	return SeekMessage{Op: OpSeek, GuildID: guildID, Position: position}
}

// Volume builds a volume message
func Volume(guildID string, volume int) VolumeMessage {
	return VolumeMessage{Op: OpVolume, GuildID: guildID, Volume: volume}
}

// Stop builds a stop message
func Stop(guildID string) GuildMessage {
	return GuildMessage{Op: OpStop, GuildID: guildID}
}

// Destroy builds a destroy message
func Destroy(guildID string) GuildMessage {
	return GuildMessage{Op: OpDestroy, GuildID: guildID}
}

// VoiceUpdate builds a voiceUpdate message from a credential pair
func VoiceUpdate(guildID string, voice Voice) VoiceUpdateMessage {
	return VoiceUpdateMessage{Op: OpVoiceUpdate, GuildID: guildID, SessionID: voice.SessionID, Event: voice.Event}
}

// ConfigureResuming builds a configureResuming message; timeout is in seconds
func ConfigureResuming(key string, timeout int) ConfigureResumingMessage {
	return ConfigureResumingMessage{Op: OpConfigureResuming, Key: key, Timeout: timeout}
}
