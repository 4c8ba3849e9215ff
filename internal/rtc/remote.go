package rtc

import (
	"errors"
	"io"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"echocall/internal/pcm"
	"echocall/internal/ports"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// readRemoteAudio expands G.711 packets from reader into stream until the
// track ends.
func readRemoteAudio(reader rtpReader, codec pcm.Companding, stream ports.AudioStream, logger *zap.Logger) {
	for {
		packet, _, err := reader.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("remote track ended", zap.Error(err))
			}
			return
		}
		if packet == nil || len(packet.Payload) == 0 {
			continue
		}

		samples := pcm.DecodePCM16ToFloat(codec.Decode(packet.Payload), 16)
		if err := stream.Write(samples); err != nil {
			logger.Debug("remote audio output closed", zap.Error(err))
			return
		}
	}
}
