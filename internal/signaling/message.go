// Package signaling implements the JSON and binary message protocol carried
// on the call websocket.
package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"echocall/internal/domain"
)

// Type is the wire tag of a signaling message.
type Type string

const (
	TypeInit           Type = "init"
	TypeOffer          Type = "offer"
	TypeAnswer         Type = "answer"
	TypeICECandidate   Type = "ice-candidate"
	TypeASRResult      Type = "asr_result"
	TypeLLMResponse    Type = "llm_response"
	TypeTTSStart       Type = "tts_start"
	TypeTTSAudio       Type = "tts_audio"
	TypeTTSEnd         Type = "tts_end"
	TypeConnected      Type = "connected"
	TypeSessionCleared Type = "session_cleared"
	TypeError          Type = "error"
	TypePing           Type = "ping"
	TypePong           Type = "pong"
	TypeClose          Type = "close"
)

var (
	ErrMalformed   = errors.New("malformed signaling message")
	ErrUnknownType = errors.New("unknown signaling message type")
)

// Message is one decoded inbound text frame.
type Message struct {
	Type      Type
	SessionID string
	Payload   Payload
}

// Stale reports whether m belongs to a session other than current. Init
// messages and messages without a session id are never stale.
func (m Message) Stale(current string) bool {
	if m.Type == TypeInit || m.SessionID == "" {
		return false
	}
	return m.SessionID != current
}

// Payload is the closed set of inbound message bodies.
type Payload interface {
	messageType() Type
}

type Init struct{}

type Answer struct {
	// SDP is either a JSON string or a {type,sdp} envelope.
	SDP        json.RawMessage
	Candidates []string
}

type ICECandidate struct {
	Candidate string
}

type ASRResult struct {
	Text string
}

type LLMResponse struct {
	Text string
}

type TTSStart struct {
	Format domain.AudioFormat
}

type TTSAudio struct {
	AudioURL string
}

type TTSEnd struct{}

type Connected struct {
	Message string
}

type SessionCleared struct{}

// Error reports a server-side failure. Fatal mirrors the server's flag and is
// informational only; callers end the call on every error.
type Error struct {
	Message string
	Fatal   bool
}

type Ping struct{}

type Pong struct{}

func (Init) messageType() Type           { return TypeInit }
func (Answer) messageType() Type         { return TypeAnswer }
func (ICECandidate) messageType() Type   { return TypeICECandidate }
func (ASRResult) messageType() Type      { return TypeASRResult }
func (LLMResponse) messageType() Type    { return TypeLLMResponse }
func (TTSStart) messageType() Type       { return TypeTTSStart }
func (TTSAudio) messageType() Type       { return TypeTTSAudio }
func (TTSEnd) messageType() Type         { return TypeTTSEnd }
func (Connected) messageType() Type      { return TypeConnected }
func (SessionCleared) messageType() Type { return TypeSessionCleared }
func (Error) messageType() Type          { return TypeError }
func (Ping) messageType() Type           { return TypePing }
func (Pong) messageType() Type           { return TypePong }

type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

type body struct {
	SessionID  string            `json:"session_id"`
	SDP        json.RawMessage   `json:"sdp"`
	Candidates []json.RawMessage `json:"candidates"`
	Candidate  json.RawMessage   `json:"candidate"`
	Text       string            `json:"text"`
	SampleRate int               `json:"sampleRate"`
	Channels   int               `json:"channels"`
	BitDepth   int               `json:"bitDepth"`
	AudioURL   string            `json:"audioUrl"`
	Message    string            `json:"message"`
	Fatal      bool              `json:"fatal"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Parse decodes a text frame. Fields may sit under "data" (negotiation
// messages) or at the top level (voice socket messages).
func Parse(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if isObject(env.Data) {
		var nested body
		if err := json.Unmarshal(env.Data, &nested); err != nil {
			return Message{}, fmt.Errorf("%w: data: %v", ErrMalformed, err)
		}
		b = mergeBody(b, nested)
	}

	msg := Message{Type: Type(env.Type), SessionID: env.SessionID}
	if msg.SessionID == "" {
		msg.SessionID = b.SessionID
	}

	switch msg.Type {
	case TypeInit:
		msg.Payload = Init{}
	case TypeAnswer:
		msg.Payload = Answer{SDP: b.SDP, Candidates: candidateStrings(b.Candidates)}
	case TypeICECandidate:
		msg.Payload = ICECandidate{Candidate: candidateString(b.Candidate)}
	case TypeASRResult:
		msg.Payload = ASRResult{Text: b.Text}
	case TypeLLMResponse:
		msg.Payload = LLMResponse{Text: b.Text}
	case TypeTTSStart:
		msg.Payload = TTSStart{Format: domain.AudioFormat{
			SampleRate: b.SampleRate,
			Channels:   b.Channels,
			BitDepth:   b.BitDepth,
		}}
	case TypeTTSAudio:
		msg.Payload = TTSAudio{AudioURL: b.AudioURL}
	case TypeTTSEnd:
		msg.Payload = TTSEnd{}
	case TypeConnected:
		msg.Payload = Connected{Message: b.Message}
	case TypeSessionCleared:
		msg.Payload = SessionCleared{}
	case TypeError:
		message := strings.TrimSpace(b.Message)
		if message == "" && b.Error != nil {
			message = strings.TrimSpace(b.Error.Message)
		}
		if message == "" {
			message = "signaling peer reported an unknown error"
		}
		msg.Payload = Error{Message: message, Fatal: b.Fatal}
	case TypePing:
		msg.Payload = Ping{}
	case TypePong:
		msg.Payload = Pong{}
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return msg, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func mergeBody(top, nested body) body {
	if nested.SessionID == "" {
		nested.SessionID = top.SessionID
	}
	if nested.Message == "" {
		nested.Message = top.Message
	}
	if nested.Error == nil {
		nested.Error = top.Error
	}
	nested.Fatal = nested.Fatal || top.Fatal
	return nested
}

// candidateString accepts a bare candidate string or an RTCIceCandidateInit
// style object.
func candidateString(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Candidate string `json:"candidate"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Candidate
	}
	return ""
}

func candidateStrings(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, candidateString(item))
	}
	return out
}

// Outbound is a message sent to the signaling peer.
type Outbound struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      any    `json:"data"`
}

// OfferData is the bundled offer body.
type OfferData struct {
	SDP        string   `json:"sdp"`
	Candidates []string `json:"candidates"`
}

type empty struct{}

func NewOffer(sessionID, sdp string, candidates []string) Outbound {
	if candidates == nil {
		candidates = []string{}
	}
	return Outbound{Type: TypeOffer, SessionID: sessionID, Data: OfferData{SDP: sdp, Candidates: candidates}}
}

func NewConnected(sessionID string) Outbound {
	return Outbound{Type: TypeConnected, SessionID: sessionID, Data: empty{}}
}

func NewClose(sessionID string) Outbound {
	return Outbound{Type: TypeClose, SessionID: sessionID, Data: empty{}}
}

func NewPing(sessionID string) Outbound {
	return Outbound{Type: TypePing, SessionID: sessionID, Data: empty{}}
}
