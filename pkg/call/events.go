package call

import "encoding/json"

// Event is the closed set of notifications a Conversation emits.
type Event interface{ callEvent() }

// ConversationStarted signals the transport opened and the call is live.
type ConversationStarted struct{}

// ConversationEnded signals teardown. Code and Reason carry the
// transport's close values, or stay unset on an explicit local stop.
type ConversationEnded struct {
	Code   int
	Reason string
}

// ErrorEvent surfaces a fatal condition exactly once.
type ErrorEvent struct{ Message string }

// UpdateEvent passes through an opaque payload from the endpoint.
type UpdateEvent struct{ Raw json.RawMessage }

// AudioEvent carries encoded playback PCM for visualizations.
type AudioEvent struct{ Data []byte }

// AgentStartTalking signals playback audio became available.
type AgentStartTalking struct{}

// AgentStopTalking signals the playback buffer drained or was cleared.
type AgentStopTalking struct{}

// Disconnect signals keepalive liveness loss.
type Disconnect struct{}

// Reconnect signals the peer answered again after liveness loss.
type Reconnect struct{}

func (ConversationStarted) callEvent() {}
func (ConversationEnded) callEvent()   {}
func (ErrorEvent) callEvent()          {}
func (UpdateEvent) callEvent()         {}
func (AudioEvent) callEvent()          {}
func (AgentStartTalking) callEvent()   {}
func (AgentStopTalking) callEvent()    {}
func (Disconnect) callEvent()          {}
func (Reconnect) callEvent()           {}

// State is the conversation lifecycle state.
type State int

const (
	StateIdle State = iota
	StateSettingUpAudio
	StateConnecting
	StateActive
	StateStopping
	StateEnded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSettingUpAudio:
		return "setting_up_audio"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}
