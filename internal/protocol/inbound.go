package protocol

import (
	"encoding/json"
	"fmt"
)

// Event types carried in the "type" field of an op=event message
const (
	TypeTrackStart      = "TrackStartEvent"
	TypeTrackEnd        = "TrackEndEvent"
	TypeTrackStuck      = "TrackStuckEvent"
	TypeTrackException  = "TrackExceptionEvent"
	TypeWebSocketClosed = "WebSocketClosedEvent"
)

// Track end reasons
const (
	ReasonFinished   = "FINISHED"
	ReasonLoadFailed = "LOAD_FAILED"
	ReasonStopped    = "STOPPED"
	ReasonReplaced   = "REPLACED"
	ReasonCleanup    = "CLEANUP"
)

// Voice websocket close codes that require a fresh voice credential
const (
	CloseSessionTimeout     = 4009
	CloseSessionInvalidated = 4015
)

// Message is any decoded inbound message. Guild returns "" for pool-wide ops.
type Message interface {
	Guild() string
}

// Stats is the node statistics snapshot
type Stats struct {
	Players        int        `json:"players"`
	PlayingPlayers int        `json:"playingPlayers"`
	Uptime         int64      `json:"uptime"`
	Memory         Memory     `json:"memory"`
	FrameStats     FrameStats `json:"frameStats"`
	CPU            CPU        `json:"cpu"`
}

// Memory is the node memory breakdown in bytes
type Memory struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// FrameStats are audio frame counters over the last minute
type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// CPU is the node CPU usage
type CPU struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// Guild implements Message
func (s *Stats) Guild() string { return "" }

// Load returns (systemLoad / cores) * 100, or 0 without CPU stats
func (s *Stats) Load() float64 {
	if s == nil || s.CPU.Cores == 0 {
		return 0
	}
	return s.CPU.SystemLoad / float64(s.CPU.Cores) * 100
}

// PlayerState is the authoritative playback state reported by the node
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
}

// PlayerUpdate is a periodic op=playerUpdate message
type PlayerUpdate struct {
	GuildID string      `json:"guildId"`
	State   PlayerState `json:"state"`
}

// Guild implements Message
func (p *PlayerUpdate) Guild() string { return p.GuildID }

// Event is the closed set of op=event messages
type Event interface {
	Message
	EventType() string
}

// TrackStartEvent reports that a track began playing
type TrackStartEvent struct {
	GuildID string `json:"guildId"`
	Track   string `json:"track"`
}

// TrackEndEvent reports that a track finished for Reason
type TrackEndEvent struct {
	GuildID string `json:"guildId"`
	Track   string `json:"track"`
	Reason  string `json:"reason"`
}

// TrackStuckEvent reports that no audio was produced for ThresholdMs
type TrackStuckEvent struct {
	GuildID     string `json:"guildId"`
	Track       string `json:"track"`
	ThresholdMs int64  `json:"thresholdMs"`
}

// TrackException is the failure attached to a TrackExceptionEvent
type TrackException struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// TrackExceptionEvent reports a playback failure
type TrackExceptionEvent struct {
	GuildID   string         `json:"guildId"`
	Track     string         `json:"track"`
	Exception TrackException `json:"exception"`
	Error     string         `json:"error,omitempty"`
}

// WebSocketClosedEvent reports that the node's voice socket closed
type WebSocketClosedEvent struct {
	GuildID  string `json:"guildId"`
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	ByRemote bool   `json:"byRemote"`
}

// NeedsRejoin reports whether the close code invalidated the voice session
func (e *WebSocketClosedEvent) NeedsRejoin() bool {
	return e.Code == CloseSessionInvalidated || e.Code == CloseSessionTimeout
}

// UnknownEvent is an op=event message with a type outside the known set
type UnknownEvent struct {
	GuildID string
	Type    string
	Raw     json.RawMessage
}

// Unrouted is any other op the node may send (ready, future extensions)
type Unrouted struct {
	Op      Op
	GuildID string
	Raw     json.RawMessage
}

func (e *TrackStartEvent) Guild() string      { return e.GuildID }
func (e *TrackEndEvent) Guild() string        { return e.GuildID }
func (e *TrackStuckEvent) Guild() string      { return e.GuildID }
func (e *TrackExceptionEvent) Guild() string  { return e.GuildID }
func (e *WebSocketClosedEvent) Guild() string { return e.GuildID }
func (e *UnknownEvent) Guild() string         { return e.GuildID }
func (u *Unrouted) Guild() string             { return u.GuildID }

func (e *TrackStartEvent) EventType() string      { return TypeTrackStart }
func (e *TrackEndEvent) EventType() string        { return TypeTrackEnd }
func (e *TrackStuckEvent) EventType() string      { return TypeTrackStuck }
func (e *TrackExceptionEvent) EventType() string  { return TypeTrackException }
func (e *WebSocketClosedEvent) EventType() string { return TypeWebSocketClosed }
func (e *UnknownEvent) EventType() string         { return e.Type }

type envelope struct {
	Op      Op     `json:"op"`
	GuildID string `json:"guildId"`
	Type    string `json:"type"`
}

// Decode parses a raw inbound frame into its concrete message type
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("error decoding node message: %w", err)
	}

	switch env.Op {
	case OpStats:
		return decodeInto(data, &Stats{})
	case OpPlayerUpdate:
		return decodeInto(data, &PlayerUpdate{})
	case OpEvent:
		return decodeEvent(env, data)
	case "":
		return nil, fmt.Errorf("node message without op")
	default:
		return &Unrouted{Op: env.Op, GuildID: env.GuildID, Raw: json.RawMessage(data)}, nil
	}
}

func decodeEvent(env envelope, data []byte) (Message, error) {
	switch env.Type {
	case TypeTrackStart:
		return decodeInto(data, &TrackStartEvent{})
	case TypeTrackEnd:
		return decodeInto(data, &TrackEndEvent{})
	case TypeTrackStuck:
		return decodeInto(data, &TrackStuckEvent{})
	case TypeTrackException:
		return decodeInto(data, &TrackExceptionEvent{})
	case TypeWebSocketClosed:
		return decodeInto(data, &WebSocketClosedEvent{})
	default:
		return &UnknownEvent{GuildID: env.GuildID, Type: env.Type, Raw: json.RawMessage(data)}, nil
	}
}

func decodeInto[T Message](data []byte, msg T) (Message, error) {
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("error decoding node message: %w", err)
	}
	return msg, nil
}
