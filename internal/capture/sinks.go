package capture

import (
	"time"

	"echocall/internal/ports"
)

// SocketWriter writes each frame as one binary websocket message.
type SocketWriter struct {
	Conn ports.SignalingConn
}

func (w SocketWriter) WriteFrame(frame []byte, _ time.Duration) error {
	return w.Conn.SendBinary(frame)
}
