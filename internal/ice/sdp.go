package ice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSDP is returned when an answer carries no usable session
// description.
var ErrInvalidSDP = errors.New("invalid remote session description")

// SDP is a remote session description as it arrived on the wire.
type SDP interface {
	text() string
}

// RawSDP is a description sent as a plain string.
type RawSDP string

// EnvelopedSDP is a description wrapped in a {type,sdp} object.
type EnvelopedSDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s RawSDP) text() string       { return string(s) }
func (s EnvelopedSDP) text() string { return s.SDP }

// DecodeSDP classifies the sdp field of an answer. A string that itself
// holds a JSON envelope is unwrapped.
func DecodeSDP(raw json.RawMessage) (SDP, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: sdp is missing", ErrInvalidSDP)
	}

	switch trimmed[0] {
	case '{':
		var env EnvelopedSDP
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
		}
		return env, nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
		}
		if inner := strings.TrimSpace(s); strings.HasPrefix(inner, "{") {
			var env EnvelopedSDP
			if err := json.Unmarshal([]byte(inner), &env); err == nil {
				return env, nil
			}
		}
		return RawSDP(s), nil
	default:
		return nil, fmt.Errorf("%w: sdp is not a string", ErrInvalidSDP)
	}
}

// NormalizeSDP returns the description text with CRLF line endings.
func NormalizeSDP(sdp SDP) (string, error) {
	if sdp == nil {
		return "", fmt.Errorf("%w: sdp is missing", ErrInvalidSDP)
	}
	text := sdp.text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: sdp is empty", ErrInvalidSDP)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimRight(text, "\n")
	return strings.ReplaceAll(text, "\n", "\r\n") + "\r\n", nil
}
