package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"echocall/internal/capture"
	"echocall/internal/domain"
	"echocall/internal/ports"
	"echocall/internal/signaling"
)

// callSession is one call attempt. Transport resources are written by the
// session goroutine and read by teardown only after loopDone is closed.
type callSession struct {
	id        string
	mode      domain.TransportMode
	assistant domain.AssistantConfig
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	conn     ports.SignalingConn
	plane    ports.MediaPlane
	mic      ports.AudioSession
	pipeline *capture.Pipeline

	events   chan sessionEvent
	started  chan error
	loopDone chan struct{}
	finished chan struct{}
	claimed  atomic.Bool

	timer durationTimer

	stateMu   sync.Mutex
	state     domain.CallState
	sessionID string
}

func newCallSession(id string, mode domain.TransportMode, assistant domain.AssistantConfig, parent context.Context, logger *zap.Logger) *callSession {
	ctx, cancel := context.WithCancel(parent)
	return &callSession{
		id:        id,
		mode:      mode,
		assistant: assistant,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan sessionEvent, 16),
		started:   make(chan error, 1),
		loopDone:  make(chan struct{}),
		finished:  make(chan struct{}),
		state:     domain.CallStateConnecting,
	}
}

// claim grants teardown ownership to exactly one caller.
func (s *callSession) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

func (s *callSession) setState(state domain.CallState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *callSession) getState() domain.CallState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *callSession) setSessionID(id string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.sessionID = id
}

func (s *callSession) getSessionID() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.sessionID
}

// post hands an event to the session loop unless the session is gone.
func (s *callSession) post(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *callSession) captureFailed(err error) {
	s.post(captureFailed{err: err})
}

type sessionEvent interface {
	sessionEvent()
}

type mediaConnected struct{}

type mediaFailed struct {
	err error
}

type captureFailed struct {
	err error
}

type audioResolved struct {
	sessionID string
	url       string
}

func (mediaConnected) sessionEvent() {}
func (mediaFailed) sessionEvent()    {}
func (captureFailed) sessionEvent()  {}
func (audioResolved) sessionEvent()  {}

// callEnd describes how a session finished.
type callEnd struct {
	state   domain.CallState
	reason  domain.CallStateReason
	code    domain.ErrorCode
	message string
	err     error
}

func failure(reason domain.CallStateReason, code domain.ErrorCode, message string, err error) *callEnd {
	return &callEnd{
		state:   domain.CallStateError,
		reason:  reason,
		code:    code,
		message: message,
		err:     err,
	}
}

// sessionSignaler sends media negotiation messages stamped with the
// session id current at send time.
type sessionSignaler struct {
	conn      ports.SignalingConn
	sessionID func() string
}

func (s sessionSignaler) SendOffer(sdp string, candidates []string) error {
	return s.conn.SendJSON(signaling.NewOffer(s.sessionID(), sdp, candidates))
}

func (s sessionSignaler) SendConnected() error {
	return s.conn.SendJSON(signaling.NewConnected(s.sessionID()))
}

// durationTimer counts time spent active.
type durationTimer struct {
	mu      sync.Mutex
	started time.Time
	elapsed time.Duration
	running bool
}

func (t *durationTimer) Start(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.started = now
	t.running = true
}

func (t *durationTimer) Stop(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.elapsed += now.Sub(t.started)
	t.running = false
}

func (t *durationTimer) Seconds(now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.elapsed
	if t.running {
		total += now.Sub(t.started)
	}
	return int64(total / time.Second)
}
