package signaling

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"

	"echocall/internal/domain"
)

func TestParseNegotiationMessagesUnderData(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"type":"answer","session_id":"s1","data":{"sdp":{"type":"answer","sdp":"v=0\n"},"candidates":["candidate:1",{"candidate":"candidate:2"}]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != TypeAnswer || msg.SessionID != "s1" {
		t.Fatalf("unexpected header: %+v", msg)
	}
	answer, ok := msg.Payload.(Answer)
	if !ok {
		t.Fatalf("expected Answer payload, got %T", msg.Payload)
	}
	if !strings.HasPrefix(string(answer.SDP), "{") {
		t.Fatalf("expected enveloped sdp to stay raw, got %s", answer.SDP)
	}
	if len(answer.Candidates) != 2 || answer.Candidates[0] != "candidate:1" || answer.Candidates[1] != "candidate:2" {
		t.Fatalf("unexpected candidates: %v", answer.Candidates)
	}
}

func TestParseFlatVoiceSocketMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want Payload
	}{
		{`{"type":"asr_result","text":"hello"}`, ASRResult{Text: "hello"}},
		{`{"type":"llm_response","text":"hi there"}`, LLMResponse{Text: "hi there"}},
		{`{"type":"tts_start","sampleRate":16000,"channels":1,"bitDepth":16}`, TTSStart{Format: domain.AudioFormat{SampleRate: 16000, Channels: 1, BitDepth: 16}}},
		{`{"type":"tts_end"}`, TTSEnd{}},
		{`{"type":"tts_audio","audioUrl":"/media/a.wav"}`, TTSAudio{AudioURL: "/media/a.wav"}},
		{`{"type":"error","message":"quota exceeded","fatal":true}`, Error{Message: "quota exceeded", Fatal: true}},
		{`{"type":"error","error":{"code":"x","message":"nested"}}`, Error{Message: "nested"}},
		{`{"type":"session_cleared"}`, SessionCleared{}},
		{`{"type":"pong"}`, Pong{}},
		{`{"type":"ice-candidate","session_id":"s","data":{"candidate":"candidate:9"}}`, ICECandidate{Candidate: "candidate:9"}},
	}

	for _, tc := range cases {
		msg, err := Parse([]byte(tc.raw))
		if err != nil {
			t.Fatalf("Parse(%s) error: %v", tc.raw, err)
		}
		if msg.Payload != tc.want {
			t.Fatalf("Parse(%s) = %#v, want %#v", tc.raw, msg.Payload, tc.want)
		}
		if msg.Payload.messageType() != msg.Type {
			t.Fatalf("payload type %q does not match tag %q", msg.Payload.messageType(), msg.Type)
		}
	}
}

func TestParseInitSessionID(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"type":"init","session_id":"abc"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := msg.Payload.(Init); !ok || msg.SessionID != "abc" {
		t.Fatalf("unexpected init: %+v", msg)
	}

	msg, err = Parse([]byte(`{"type":"init","data":{"session_id":"nested"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.SessionID != "nested" {
		t.Fatalf("expected nested session id, got %q", msg.SessionID)
	}
}

func TestParseRejectsMalformedAndUnknown(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{not json`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := Parse([]byte(`{"data":{}}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing type, got %v", err)
	}
	if _, err := Parse([]byte(`{"type":"mystery"}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestMessageStale(t *testing.T) {
	t.Parallel()

	if (Message{Type: TypeInit, SessionID: "new"}).Stale("old") {
		t.Fatalf("init must never be stale")
	}
	if (Message{Type: TypeASRResult}).Stale("current") {
		t.Fatalf("messages without a session id must not be stale")
	}
	if !(Message{Type: TypeAnswer, SessionID: "old"}).Stale("current") {
		t.Fatalf("mismatched session id must be stale")
	}
	if (Message{Type: TypeAnswer, SessionID: "current"}).Stale("current") {
		t.Fatalf("matching session id must not be stale")
	}
}

func TestOutboundEncoding(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewOffer("s1", "v=0\r\n", nil))
	if err != nil {
		t.Fatalf("marshal offer: %v", err)
	}
	if string(raw) != `{"type":"offer","session_id":"s1","data":{"sdp":"v=0\r\n","candidates":[]}}` {
		t.Fatalf("unexpected offer: %s", raw)
	}

	raw, err = json.Marshal(NewClose("s1"))
	if err != nil {
		t.Fatalf("marshal close: %v", err)
	}
	if string(raw) != `{"type":"close","session_id":"s1","data":{}}` {
		t.Fatalf("unexpected close: %s", raw)
	}

	raw, err = json.Marshal(NewConnected(""))
	if err != nil {
		t.Fatalf("marshal connected: %v", err)
	}
	if string(raw) != `{"type":"connected","data":{}}` {
		t.Fatalf("unexpected connected: %s", raw)
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	raw, err := BuildURL("https://api.example.com/api/", domain.TransportVoiceSocket, Params{
		APIKey:      "key",
		APISecret:   "secret",
		AssistantID: 12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	if parsed.Scheme != "wss" || parsed.Path != "/api/voice/websocket" {
		t.Fatalf("unexpected url: %s", raw)
	}
	query := parsed.Query()
	if query.Get("apiKey") != "key" || query.Get("apiSecret") != "secret" || query.Get("assistantId") != "12" {
		t.Fatalf("unexpected credentials in query: %s", parsed.RawQuery)
	}
	if query.Get("language") != DefaultLanguage || query.Get("speaker") != DefaultSpeaker {
		t.Fatalf("expected default language and speaker, got %s", parsed.RawQuery)
	}

	raw, err = BuildURL("http://localhost:7072", domain.TransportWebRTC, Params{AssistantID: 3, Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, _ = url.Parse(raw)
	if parsed.Scheme != "ws" || parsed.Path != "/webrtc/websocket" {
		t.Fatalf("unexpected webrtc url: %s", raw)
	}
	if parsed.Query().Has("language") {
		t.Fatalf("webrtc url should not carry voice parameters: %s", raw)
	}

	if _, err := BuildURL("", domain.TransportWebRTC, Params{}); err == nil {
		t.Fatalf("expected error for empty base")
	}
	if _, err := BuildURL("ws://x", domain.TransportMode("carrier-pigeon"), Params{}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
