package signaling

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"

	"echocall/internal/domain"
)

const (
	DefaultLanguage = "zh-cn"
	DefaultSpeaker  = "101016"
)

// Params are the query parameters of the signaling URL.
type Params struct {
	APIKey      string
	APISecret   string
	AssistantID int64
	Language    string
	Speaker     string
}

type urlQuery struct {
	APIKey      string `url:"apiKey"`
	APISecret   string `url:"apiSecret"`
	AssistantID int64  `url:"assistantId"`
	Language    string `url:"language,omitempty"`
	Speaker     string `url:"speaker,omitempty"`
}

// BuildURL returns the websocket URL for the given transport. http(s) bases
// are mapped to ws(s).
func BuildURL(base string, mode domain.TransportMode, params Params) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("signaling base URL is not configured")
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	var path string
	switch mode {
	case domain.TransportWebRTC:
		path = "/webrtc/websocket"
	case domain.TransportVoiceSocket:
		path = "/voice/websocket"
	default:
		return "", fmt.Errorf("unsupported transport mode %q", mode)
	}

	wsURL, err := url.Parse(base + path)
	if err != nil {
		return "", fmt.Errorf("invalid signaling base URL: %w", err)
	}

	q := urlQuery{
		APIKey:      params.APIKey,
		APISecret:   params.APISecret,
		AssistantID: params.AssistantID,
	}
	if mode == domain.TransportVoiceSocket {
		q.Language = params.Language
		if q.Language == "" {
			q.Language = DefaultLanguage
		}
		q.Speaker = params.Speaker
		if q.Speaker == "" {
			q.Speaker = DefaultSpeaker
		}
	}
	values, err := query.Values(q)
	if err != nil {
		return "", fmt.Errorf("encode signaling query: %w", err)
	}
	wsURL.RawQuery = values.Encode()
	return wsURL.String(), nil
}
