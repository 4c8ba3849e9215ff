package pcm

import (
	"fmt"
	"strings"

	"github.com/zaf/g711"
)

// Companding is a G.711 law used on the WebRTC media track.
type Companding string

const (
	ALaw Companding = "pcma"
	ULaw Companding = "pcmu"
)

// ParseCompanding accepts "pcma"/"alaw" and "pcmu"/"ulaw".
func ParseCompanding(name string) (Companding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pcma", "alaw", "a-law":
		return ALaw, nil
	case "pcmu", "ulaw", "u-law", "mulaw":
		return ULaw, nil
	default:
		return "", fmt.Errorf("unsupported G.711 codec %q", name)
	}
}

// Encode compands 16-bit little-endian PCM to 8-bit G.711.
func (c Companding) Encode(lpcm []byte) []byte {
	if c == ULaw {
		return g711.EncodeUlaw(lpcm)
	}
	return g711.EncodeAlaw(lpcm)
}

// Decode expands 8-bit G.711 to 16-bit little-endian PCM.
func (c Companding) Decode(payload []byte) []byte {
	if c == ULaw {
		return g711.DecodeUlaw(payload)
	}
	return g711.DecodeAlaw(payload)
}
