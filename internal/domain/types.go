package domain

import "time"

// CallState models the call session lifecycle.
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateConnecting CallState = "connecting"
	CallStateActive     CallState = "active"
	CallStateEnding     CallState = "ending"
	CallStateError      CallState = "error"
)

// TransportMode selects how audio reaches the assistant backend.
type TransportMode string

const (
	TransportWebRTC      TransportMode = "webrtc"
	TransportVoiceSocket TransportMode = "voice-socket"
)

// Valid reports whether m names a supported transport.
func (m TransportMode) Valid() bool {
	return m == TransportWebRTC || m == TransportVoiceSocket
}

// CallStateReason provides a structured reason for state transitions.
type CallStateReason string

const (
	CallReasonReady             CallStateReason = "ready"
	CallReasonDialing           CallStateReason = "dialing"
	CallReasonSessionAssigned   CallStateReason = "session_assigned"
	CallReasonNegotiating       CallStateReason = "negotiating"
	CallReasonMediaConnected    CallStateReason = "media_connected"
	CallReasonSocketOpen        CallStateReason = "socket_open"
	CallReasonHangingUp         CallStateReason = "hanging_up"
	CallReasonCallEnded         CallStateReason = "call_ended"
	CallReasonTransportFailed   CallStateReason = "transport_failed"
	CallReasonProtocolFailed    CallStateReason = "protocol_failed"
	CallReasonMicrophoneDenied  CallStateReason = "microphone_denied"
	CallReasonRemoteError       CallStateReason = "remote_error"
	CallReasonErrorAcknowledged CallStateReason = "error_acknowledged"
	CallReasonAssistantSwitched CallStateReason = "assistant_switched"
)

// ErrorCode identifies the class of a user-visible failure.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeConfiguration ErrorCode = "configuration"
	ErrorCodeTransport     ErrorCode = "transport"
	ErrorCodeProtocol      ErrorCode = "protocol"
	ErrorCodeMicrophone    ErrorCode = "microphone"
	ErrorCodePlayback      ErrorCode = "playback"
	ErrorCodeRemote        ErrorCode = "remote"
)

// TranscriptRole identifies who produced a transcript line.
type TranscriptRole string

const (
	TranscriptRoleUser  TranscriptRole = "user"
	TranscriptRoleAgent TranscriptRole = "agent"
)

// TranscriptEntry is one line of the live call transcript.
type TranscriptEntry struct {
	Role TranscriptRole `json:"role"`
	Text string         `json:"text"`
	At   time.Time      `json:"at"`
}

// AudioFormat describes a PCM stream declared by the peer.
type AudioFormat struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bitDepth"`
}

// Valid reports whether the format can be decoded.
func (f AudioFormat) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && (f.BitDepth == 8 || f.BitDepth == 16)
}

// Credentials authenticate the signaling channel.
type Credentials struct {
	APIKey    string `json:"apiKey" yaml:"api_key"`
	APISecret string `json:"apiSecret" yaml:"api_secret"`
}

// Complete reports whether both halves of the credential are set.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// AssistantConfig is the per-assistant configuration served by the backend.
type AssistantConfig struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Language             string  `json:"language"`
	Speaker              string  `json:"speaker"`
	EnableVAD            bool    `json:"enableVAD"`
	VADThreshold         float64 `json:"vadThreshold"`
	VADConsecutiveFrames int     `json:"vadConsecutiveFrames"`
	VoiceCloneID         *int    `json:"voiceCloneId,omitempty"`
}

// Status summarizes the current call for the UI.
type Status struct {
	State           CallState     `json:"state"`
	Mode            TransportMode `json:"mode"`
	SessionID       string        `json:"sessionId,omitempty"`
	AssistantID     int64         `json:"assistantId,omitempty"`
	DurationSeconds int64         `json:"durationSeconds"`
	PendingSwitch   int64         `json:"pendingSwitch,omitempty"`
	Muted           bool          `json:"muted"`
	Message         string        `json:"message,omitempty"`
}

// AudioJobStatus is the state of an asynchronous synthesis job.
type AudioJobStatus string

const (
	AudioJobPending   AudioJobStatus = "pending"
	AudioJobCompleted AudioJobStatus = "completed"
	AudioJobFailed    AudioJobStatus = "failed"
)

// AudioJob is a resolved synthesis job.
type AudioJob struct {
	Status   AudioJobStatus `json:"status"`
	AudioURL string         `json:"audioUrl,omitempty"`
	Text     string         `json:"text,omitempty"`
}
