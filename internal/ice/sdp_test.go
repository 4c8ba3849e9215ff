package ice

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeSDPVariants(t *testing.T) {
	t.Parallel()

	raw, err := DecodeSDP(json.RawMessage(`"v=0\nraw\n"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := raw.(RawSDP); !ok {
		t.Fatalf("expected RawSDP, got %T", raw)
	}

	env, err := DecodeSDP(json.RawMessage(`{"type":"answer","sdp":"v=0\n"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := env.(EnvelopedSDP); !ok || got.Type != "answer" {
		t.Fatalf("expected EnvelopedSDP, got %#v", env)
	}

	quoted, err := DecodeSDP(json.RawMessage(`"{\"type\":\"answer\",\"sdp\":\"v=0\\n\"}"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := quoted.(EnvelopedSDP); !ok || got.SDP != "v=0\n" {
		t.Fatalf("expected string-encoded envelope to unwrap, got %#v", quoted)
	}

	if _, err := DecodeSDP(json.RawMessage(`[1]`)); !errors.Is(err, ErrInvalidSDP) {
		t.Fatalf("expected ErrInvalidSDP, got %v", err)
	}
}

func TestNormalizeSDP(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"v=0\ns=-\n":      "v=0\r\ns=-\r\n",
		"v=0\r\ns=-\r\n":  "v=0\r\ns=-\r\n",
		"v=0\r\ns=-\na=x": "v=0\r\ns=-\r\na=x\r\n",
		"v=0\rs=-\r":      "v=0\r\ns=-\r\n",
	}
	for input, want := range cases {
		got, err := NormalizeSDP(RawSDP(input))
		if err != nil {
			t.Fatalf("NormalizeSDP(%q) error: %v", input, err)
		}
		if got != want {
			t.Fatalf("NormalizeSDP(%q) = %q, want %q", input, got, want)
		}
	}

	if _, err := NormalizeSDP(EnvelopedSDP{Type: "answer"}); !errors.Is(err, ErrInvalidSDP) {
		t.Fatalf("expected ErrInvalidSDP for empty envelope, got %v", err)
	}
	if _, err := NormalizeSDP(nil); !errors.Is(err, ErrInvalidSDP) {
		t.Fatalf("expected ErrInvalidSDP for nil sdp, got %v", err)
	}
}
