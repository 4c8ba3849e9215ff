package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"echocall/internal/ports"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("signaling connection closed")

// DialerConfig controls websocket dialing.
type DialerConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dialer implements ports.SignalingDialer over gorilla/websocket.
type Dialer struct {
	cfg    DialerConfig
	logger *zap.Logger
}

func NewDialer(cfg DialerConfig, logger *zap.Logger) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

func (d *Dialer) Dial(ctx context.Context, rawURL string) (ports.SignalingConn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling websocket: %w", err)
	}
	return newConn(ws, d.cfg.WriteTimeout, d.logger), nil
}

type outboundFrame struct {
	messageType int
	payload     []byte
}

// Conn is an open signaling websocket with one reader and one writer
// goroutine.
type Conn struct {
	ws           *websocket.Conn
	logger       *zap.Logger
	writeTimeout time.Duration

	frames   chan ports.SignalingFrame
	outbound chan outboundFrame
	closing  chan struct{}
	readDone chan struct{}
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger) *Conn {
	c := &Conn{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		frames:       make(chan ports.SignalingFrame, 64),
		outbound:     make(chan outboundFrame, 64),
		closing:      make(chan struct{}),
		readDone:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *Conn) Frames() <-chan ports.SignalingFrame {
	return c.frames
}

func (c *Conn) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode signaling message: %w", err)
	}
	return c.enqueue(outboundFrame{messageType: websocket.TextMessage, payload: payload})
}

func (c *Conn) SendBinary(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	copied := append([]byte(nil), payload...)
	return c.enqueue(outboundFrame{messageType: websocket.BinaryMessage, payload: copied})
}

func (c *Conn) enqueue(frame outboundFrame) error {
	select {
	case <-c.closing:
		return ErrClosed
	case <-c.readDone:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	default:
	}

	select {
	case c.outbound <- frame:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-c.readDone:
		return ErrClosed
	}
}

func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close flushes queued frames, sends a normal close frame and waits for the
// reader to stop. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.wg.Wait()

		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.logger.Debug("signaling close frame not sent", zap.Error(err))
		}
		_ = c.ws.Close()
	})
	<-c.readDone
	return nil
}

func (c *Conn) setErr(err error) {
	if err == nil {
		return
	}
	if isNormalClose(err) {
		return
	}
	select {
	case <-c.closing:
		return
	default:
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// isNormalClose unwraps err since websocket.IsCloseError only matches the
// bare *websocket.CloseError.
func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.frames)

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read signaling frame: %w", err))
			return
		}

		frame := ports.SignalingFrame{Binary: messageType == websocket.BinaryMessage, Payload: payload}
		select {
		case c.frames <- frame:
		case <-c.closing:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case frame := <-c.outbound:
			if !c.write(frame) {
				return
			}
		case <-c.readDone:
			return
		case <-c.closing:
			for {
				select {
				case frame := <-c.outbound:
					if !c.write(frame) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(frame outboundFrame) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(frame.messageType, frame.payload); err != nil {
		c.setErr(fmt.Errorf("failed to write signaling frame: %w", err))
		_ = c.ws.Close()
		return false
	}
	return true
}
