package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"echocall/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	// Compressed asks for an Ogg/Opus container instead of raw f32le samples.
	Compressed bool
}

// AudioSession is a live capture session. Reads yield little-endian float32
// samples, or container bytes when the session was started compressed.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioBuffer is one decoded utterance, one slice per channel.
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the per-channel sample count.
func (b AudioBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// PlaybackHandle is one playing audio source.
type PlaybackHandle interface {
	Stop() error
	// Done is closed when playback ends, naturally or by Stop.
	Done() <-chan struct{}
}

// AudioStream accepts live interleaved samples, e.g. a remote media track.
type AudioStream interface {
	Write(samples []float32) error
	Close() error
}

// AudioEngine renders audio on the local output device.
type AudioEngine interface {
	Play(ctx context.Context, buf AudioBuffer) (PlaybackHandle, error)
	PlayURL(ctx context.Context, rawURL string) (PlaybackHandle, error)
	OpenStream(ctx context.Context, format domain.AudioFormat) (AudioStream, error)
	Close() error
}

// AudioOutput creates audio engines sized to a sample rate.
type AudioOutput interface {
	OpenEngine(sampleRate int) (AudioEngine, error)
}

// SignalingFrame is one inbound websocket frame.
type SignalingFrame struct {
	Binary  bool
	Payload []byte
}

// SignalingConn is an open signaling websocket.
type SignalingConn interface {
	// Frames is closed when the socket stops reading.
	Frames() <-chan SignalingFrame
	SendJSON(v any) error
	SendBinary(payload []byte) error
	// Err reports why Frames was closed. Normal closures report nil.
	Err() error
	Close() error
}

// SignalingDialer opens signaling websockets.
type SignalingDialer interface {
	Dial(ctx context.Context, rawURL string) (SignalingConn, error)
}

// FrameWriter accepts encoded audio frames of a known duration.
type FrameWriter interface {
	WriteFrame(frame []byte, duration time.Duration) error
}

// MediaSignaler sends negotiation messages for the media plane.
type MediaSignaler interface {
	SendOffer(sdp string, candidates []string) error
	SendConnected() error
}

// MediaHooks connects a media plane back to its call.
type MediaHooks struct {
	Signaler    MediaSignaler
	OnConnected func()
	OnFailed    func(err error)
	// OpenRemoteAudio receives agent audio arriving on the media plane.
	OpenRemoteAudio func(format domain.AudioFormat) (AudioStream, error)
}

// MediaPlane is the WebRTC half of a call.
type MediaPlane interface {
	Start(ctx context.Context) error
	HandleAnswer(sdp json.RawMessage, candidates []string) error
	HandleRemoteCandidate(candidate string) error
	// Microphone is the local track encoded frames are written to.
	Microphone() FrameWriter
	// ClockRate is the sample rate frames written to Microphone must use.
	ClockRate() int
	Close() error
}

// MediaPlaneFactory builds media planes.
type MediaPlaneFactory interface {
	NewMediaPlane(ctx context.Context, hooks MediaHooks) (MediaPlane, error)
}

// AssistantDirectory loads assistant configuration.
type AssistantDirectory interface {
	Assistant(ctx context.Context, id int64) (domain.AssistantConfig, error)
}

// AudioJobResolver looks up asynchronous speech synthesis jobs.
type AudioJobResolver interface {
	AudioJob(ctx context.Context, jobID string) (domain.AudioJob, error)
	// MediaURL makes a server-relative audio path absolute.
	MediaURL(raw string) string
}

// CredentialStore persists the signaling credentials.
type CredentialStore interface {
	Load(ctx context.Context) (domain.Credentials, error)
	Save(ctx context.Context, creds domain.Credentials) error
}

// TranscriptFilter cleans recognized speech. An empty result means the line
// carried no content and is dropped.
type TranscriptFilter interface {
	Apply(text string) (string, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	CallStateChanged(state domain.CallState, reason domain.CallStateReason)
	TranscriptAppended(entry domain.TranscriptEntry)
	SessionError(code domain.ErrorCode, message string)
	AssistantSwitchPending(currentID, requestedID int64)
}
