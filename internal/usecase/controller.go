package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"echocall/internal/domain"
	"echocall/internal/pcm"
	"echocall/internal/playback"
	"echocall/internal/ports"
	"echocall/internal/signaling"
)

var (
	ErrNoAssistant     = errors.New("no assistant selected")
	ErrNoCredentials   = errors.New("api credentials are not configured")
	ErrCallInProgress  = errors.New("a call is already in progress")
	ErrSwitchPending   = errors.New("assistant switch needs confirmation")
	ErrNoPendingSwitch = errors.New("no assistant switch is pending")
	ErrCallStopped     = errors.New("call was stopped before it connected")
)

// CaptureMode selects the voice-socket microphone encoding.
type CaptureMode string

const (
	CaptureAuto       CaptureMode = "auto"
	CapturePCM        CaptureMode = "pcm"
	CaptureCompressed CaptureMode = "compressed"
)

// Config controls call behavior.
type Config struct {
	SignalingBaseURL string
	Mode             domain.TransportMode
	// Audio describes the microphone; Compressed is decided per call.
	Audio       ports.AudioConfig
	CaptureMode CaptureMode
	// SocketRate is the PCM16 rate sent over the voice socket.
	SocketRate   int
	BlockSamples int
	// Codec is the G.711 variant written to the WebRTC microphone track.
	Codec pcm.Companding

	StopGrace         time.Duration
	KeepAlive         time.Duration
	AudioPollInterval time.Duration
	AudioPollAttempts int
	Muted             bool
}

// Dependencies are the collaborators of a CallController.
type Dependencies struct {
	Dialer      ports.SignalingDialer
	Media       ports.MediaPlaneFactory
	Audio       ports.AudioCapture
	Output      ports.AudioOutput
	Assistants  ports.AssistantDirectory
	AudioJobs   ports.AudioJobResolver
	Credentials ports.CredentialStore
	Filter      ports.TranscriptFilter
	Events      ports.EventSink
	Logger      *zap.Logger
}

// CallController owns the call lifecycle: dialing, transport setup, the
// per-call event loop and deterministic teardown.
type CallController struct {
	deps       Dependencies
	cfg        Config
	logger     *zap.Logger
	player     *playback.Controller
	transcript *transcriptLog
	now        func() time.Time

	mu            sync.Mutex
	state         domain.CallState
	mode          domain.TransportMode
	assistant     *domain.AssistantConfig
	pendingSwitch int64
	muted         bool
	message       string
	current       *callSession
}

func NewCallController(deps Dependencies, cfg Config) *CallController {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = domain.TransportWebRTC
	}
	if cfg.CaptureMode == "" {
		cfg.CaptureMode = CaptureAuto
	}
	if cfg.SocketRate <= 0 {
		cfg.SocketRate = 16000
	}
	if cfg.BlockSamples < 256 {
		cfg.BlockSamples = 4096
	}
	if cfg.AudioPollInterval <= 0 {
		cfg.AudioPollInterval = 500 * time.Millisecond
	}
	if cfg.AudioPollAttempts <= 0 {
		cfg.AudioPollAttempts = 20
	}

	player := playback.NewController(deps.Output, deps.Logger.Named("playback"))
	player.SetMuted(cfg.Muted)

	return &CallController{
		deps:       deps,
		cfg:        cfg,
		logger:     deps.Logger,
		player:     player,
		transcript: newTranscriptLog(),
		now:        time.Now,
		state:      domain.CallStateIdle,
		mode:       cfg.Mode,
		muted:      cfg.Muted,
	}
}

// StartCall dials the assistant and returns once the call is connecting
// (WebRTC) or active (voice socket). Failures are also reported through the
// event sink.
func (c *CallController) StartCall(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return ErrCallInProgress
	}
	acknowledged := c.state == domain.CallStateError
	if acknowledged {
		c.state = domain.CallStateIdle
		c.message = ""
	}
	assistant := c.assistant
	mode := c.mode
	c.mu.Unlock()

	if acknowledged {
		c.deps.Events.CallStateChanged(domain.CallStateIdle, domain.CallReasonErrorAcknowledged)
	}

	if assistant == nil {
		c.deps.Events.SessionError(domain.ErrorCodeConfiguration, "Select an assistant before starting a call.")
		return ErrNoAssistant
	}

	var creds domain.Credentials
	if c.deps.Credentials != nil {
		loaded, err := c.deps.Credentials.Load(ctx)
		if err != nil {
			c.logger.Warn("failed to load credentials", zap.Error(err))
			c.deps.Events.SessionError(domain.ErrorCodeConfiguration, "Could not read the saved API credentials.")
			return fmt.Errorf("%w: %v", ErrNoCredentials, err)
		}
		creds = loaded
	}
	if !creds.Complete() {
		c.deps.Events.SessionError(domain.ErrorCodeConfiguration, "Configure your API key and secret before starting a call.")
		return ErrNoCredentials
	}

	wsURL, err := signaling.BuildURL(c.cfg.SignalingBaseURL, mode, signaling.Params{
		APIKey:      creds.APIKey,
		APISecret:   creds.APISecret,
		AssistantID: assistant.ID,
		Language:    assistant.Language,
		Speaker:     assistant.Speaker,
	})
	if err != nil {
		c.deps.Events.SessionError(domain.ErrorCodeConfiguration, "The signaling server address is invalid.")
		return err
	}

	callID := uuid.NewString()
	logger := c.logger.With(
		zap.String("call_id", callID),
		zap.String("transport", string(mode)),
		zap.Int64("assistant_id", assistant.ID),
	)
	s := newCallSession(callID, mode, *assistant, context.WithoutCancel(ctx), logger)

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		s.cancel()
		return ErrCallInProgress
	}
	c.current = s
	c.state = domain.CallStateConnecting
	c.message = ""
	c.mu.Unlock()

	c.transcript.Reset()
	c.deps.Events.CallStateChanged(domain.CallStateConnecting, domain.CallReasonDialing)
	logger.Info("starting call")

	go c.runSession(s, wsURL)

	select {
	case err := <-s.started:
		return err
	case <-ctx.Done():
		_ = c.StopCall(context.WithoutCancel(ctx))
		return ctx.Err()
	}
}

// StopCall hangs up. It is safe from any state and on repeated calls.
func (c *CallController) StopCall(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	if !s.claim() {
		select {
		case <-s.finished:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.transition(s, domain.CallStateEnding, domain.CallReasonHangingUp)
	s.cancel()
	<-s.loopDone

	c.teardown(ctx, s, true)
	c.finishCall(s, &callEnd{state: domain.CallStateIdle, reason: domain.CallReasonCallEnded})
	return nil
}

// Acknowledge clears an error state.
func (c *CallController) Acknowledge() {
	c.mu.Lock()
	if c.state != domain.CallStateError || c.current != nil {
		c.mu.Unlock()
		return
	}
	c.state = domain.CallStateIdle
	c.message = ""
	c.mu.Unlock()

	c.deps.Events.CallStateChanged(domain.CallStateIdle, domain.CallReasonErrorAcknowledged)
}

// SelectAssistant applies an assistant's configuration. While a call is in
// progress the switch is recorded and needs confirmation.
func (c *CallController) SelectAssistant(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.current != nil {
		currentID := c.current.assistant.ID
		if id == currentID {
			c.pendingSwitch = 0
			c.mu.Unlock()
			return nil
		}
		c.pendingSwitch = id
		c.mu.Unlock()

		c.deps.Events.AssistantSwitchPending(currentID, id)
		return ErrSwitchPending
	}
	c.mu.Unlock()

	return c.applyAssistant(ctx, id)
}

// ConfirmAssistantSwitch stops the live call, then applies the pending assistant.
func (c *CallController) ConfirmAssistantSwitch(ctx context.Context) error {
	c.mu.Lock()
	id := c.pendingSwitch
	c.mu.Unlock()
	if id == 0 {
		return ErrNoPendingSwitch
	}

	if err := c.StopCall(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.pendingSwitch = 0
	c.mu.Unlock()

	if err := c.applyAssistant(ctx, id); err != nil {
		return err
	}
	c.deps.Events.CallStateChanged(domain.CallStateIdle, domain.CallReasonAssistantSwitched)
	return nil
}

// CancelAssistantSwitch keeps the current assistant and call.
func (c *CallController) CancelAssistantSwitch() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingSwitch == 0 {
		return ErrNoPendingSwitch
	}
	c.pendingSwitch = 0
	return nil
}

func (c *CallController) applyAssistant(ctx context.Context, id int64) error {
	if id <= 0 {
		c.deps.Events.SessionError(domain.ErrorCodeConfiguration, "Select a valid assistant.")
		return ErrNoAssistant
	}

	assistant := domain.AssistantConfig{ID: id}
	if c.deps.Assistants != nil {
		loaded, err := c.deps.Assistants.Assistant(ctx, id)
		if err != nil {
			c.logger.Warn("failed to load assistant", zap.Int64("assistant_id", id), zap.Error(err))
			c.deps.Events.SessionError(domain.ErrorCodeConfiguration, "Could not load the assistant configuration.")
			return err
		}
		assistant = loaded
	}

	c.mu.Lock()
	c.assistant = &assistant
	c.mu.Unlock()
	return nil
}

// Assistant returns the selected assistant, if any.
func (c *CallController) Assistant() (domain.AssistantConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assistant == nil {
		return domain.AssistantConfig{}, false
	}
	return *c.assistant, true
}

// SetMuted silences agent audio. Muted utterances are still received.
func (c *CallController) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	c.player.SetMuted(muted)
}

// SetTransportMode selects the transport for the next call.
func (c *CallController) SetTransportMode(mode domain.TransportMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unsupported transport mode %q", mode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return ErrCallInProgress
	}
	c.mode = mode
	return nil
}

// SaveCredentials persists the signaling credentials for future calls.
func (c *CallController) SaveCredentials(ctx context.Context, creds domain.Credentials) error {
	if !creds.Complete() {
		return ErrNoCredentials
	}
	if c.deps.Credentials == nil {
		return errors.New("no credential store configured")
	}
	return c.deps.Credentials.Save(ctx, creds)
}

// Status returns the current call status.
func (c *CallController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:         c.state,
		Mode:          c.mode,
		PendingSwitch: c.pendingSwitch,
		Muted:         c.muted,
		Message:       c.message,
	}
	if c.assistant != nil {
		status.AssistantID = c.assistant.ID
	}
	if c.current != nil {
		status.Mode = c.current.mode
		status.AssistantID = c.current.assistant.ID
		status.SessionID = c.current.getSessionID()
		status.DurationSeconds = c.current.timer.Seconds(c.now())
	}
	return status
}

// Transcript returns the lines of the current or last call.
func (c *CallController) Transcript() []domain.TranscriptEntry {
	return c.transcript.Entries()
}

// transition moves a live session to state and notifies the sink.
func (c *CallController) transition(s *callSession, state domain.CallState, reason domain.CallStateReason) {
	c.mu.Lock()
	if c.current != s {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	s.setState(state)
	s.logger.Debug("call state changed", zap.String("state", string(state)), zap.String("reason", string(reason)))
	c.deps.Events.CallStateChanged(state, reason)
}

func (c *CallController) activate(s *callSession, reason domain.CallStateReason) {
	if s.getState() != domain.CallStateConnecting {
		return
	}
	s.timer.Start(c.now())
	c.transition(s, domain.CallStateActive, reason)
}

// runSession drives one call from dial to the end of its event loop. A
// session that ends on its own tears itself down.
func (c *CallController) runSession(s *callSession, wsURL string) {
	end := c.setup(s, wsURL)
	if end == nil && s.ctx.Err() == nil {
		s.started <- nil
		end = c.loop(s)
		close(s.loopDone)
		if end != nil && s.claim() {
			c.teardown(context.Background(), s, false)
			c.finishCall(s, end)
		}
		return
	}

	close(s.loopDone)
	err := ErrCallStopped
	if end != nil {
		err = end.err
		if s.claim() {
			c.teardown(context.Background(), s, false)
			c.finishCall(s, end)
		}
	}
	s.started <- err
}

func (c *CallController) setup(s *callSession, wsURL string) *callEnd {
	conn, err := c.deps.Dialer.Dial(s.ctx, wsURL)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("failed to open signaling connection", zap.Error(err))
		return failure(domain.CallReasonTransportFailed, domain.ErrorCodeTransport,
			"Could not connect to the assistant.", fmt.Errorf("dial signaling: %w", err))
	}
	s.conn = conn

	if s.mode == domain.TransportVoiceSocket {
		return c.startSocketCapture(s)
	}
	return nil
}

func (c *CallController) loop(s *callSession) *callEnd {
	frames := s.conn.Frames()

	var keepAlive <-chan time.Time
	if c.cfg.KeepAlive > 0 {
		ticker := time.NewTicker(c.cfg.KeepAlive)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return c.connectionClosed(s)
			}
			if end := c.handleFrame(s, frame); end != nil {
				return end
			}
		case ev := <-s.events:
			if end := c.handleEvent(s, ev); end != nil {
				return end
			}
		case <-keepAlive:
			if s.getState() != domain.CallStateActive {
				continue
			}
			if err := s.conn.SendJSON(signaling.NewPing(s.getSessionID())); err != nil {
				s.logger.Debug("keep-alive ping failed", zap.Error(err))
			}
		}
	}
}

func (c *CallController) connectionClosed(s *callSession) *callEnd {
	if s.ctx.Err() != nil {
		return nil
	}
	if err := s.conn.Err(); err != nil {
		s.logger.Warn("signaling connection lost", zap.Error(err))
		return failure(domain.CallReasonTransportFailed, domain.ErrorCodeTransport,
			"The connection to the assistant was lost.", err)
	}
	s.logger.Info("signaling connection closed by peer")
	return &callEnd{state: domain.CallStateIdle, reason: domain.CallReasonCallEnded}
}

func (c *CallController) handleFrame(s *callSession, frame ports.SignalingFrame) *callEnd {
	if frame.Binary {
		if !c.player.Append(frame.Payload) {
			s.logger.Debug("dropping audio frame outside an utterance", zap.Int("bytes", len(frame.Payload)))
		}
		return nil
	}

	msg, err := signaling.Parse(frame.Payload)
	if err != nil {
		s.logger.Warn("dropping signaling frame", zap.Error(err), zap.ByteString("payload", truncate(frame.Payload, 256)))
		return nil
	}
	if msg.Stale(s.getSessionID()) {
		s.logger.Debug("dropping stale signaling message",
			zap.String("type", string(msg.Type)),
			zap.String("message_session_id", msg.SessionID),
		)
		return nil
	}

	switch payload := msg.Payload.(type) {
	case signaling.Init:
		return c.handleInit(s, msg.SessionID)
	case signaling.Answer:
		if s.plane == nil {
			s.logger.Debug("ignoring answer without a media plane")
			return nil
		}
		if err := s.plane.HandleAnswer(payload.SDP, payload.Candidates); err != nil {
			s.logger.Warn("failed to apply answer", zap.Error(err))
			return failure(domain.CallReasonProtocolFailed, domain.ErrorCodeProtocol,
				"The assistant sent an invalid session description.", fmt.Errorf("apply answer: %w", err))
		}
	case signaling.ICECandidate:
		if s.plane == nil {
			return nil
		}
		if err := s.plane.HandleRemoteCandidate(payload.Candidate); err != nil {
			s.logger.Debug("skipping remote candidate", zap.Error(err))
		}
	case signaling.ASRResult:
		c.appendUserText(s, payload.Text)
	case signaling.LLMResponse:
		c.appendTranscript(domain.TranscriptRoleAgent, payload.Text)
	case signaling.TTSStart:
		if err := c.player.TTSStart(payload.Format); err != nil {
			c.playbackFailed(s, err)
		}
	case signaling.TTSEnd:
		if err := c.player.TTSEnd(s.ctx); err != nil {
			c.playbackFailed(s, err)
		}
	case signaling.TTSAudio:
		c.handleTTSAudio(s, payload.AudioURL)
	case signaling.Connected:
		s.logger.Debug("signaling peer ready", zap.String("message", payload.Message))
	case signaling.Error:
		s.logger.Warn("signaling peer reported an error",
			zap.String("message", payload.Message),
			zap.Bool("fatal", payload.Fatal),
		)
		return failure(domain.CallReasonRemoteError, domain.ErrorCodeRemote, payload.Message,
			fmt.Errorf("remote error: %s", payload.Message))
	case signaling.SessionCleared, signaling.Pong, signaling.Ping:
	}
	return nil
}

func (c *CallController) handleInit(s *callSession, sessionID string) *callEnd {
	s.setSessionID(sessionID)
	if s.mode != domain.TransportWebRTC || s.plane != nil {
		s.logger.Debug("session id updated", zap.String("session_id", sessionID))
		return nil
	}

	s.logger.Info("session assigned", zap.String("session_id", sessionID))
	c.transition(s, domain.CallStateConnecting, domain.CallReasonSessionAssigned)
	return c.startMediaPlane(s)
}

func (c *CallController) handleEvent(s *callSession, ev sessionEvent) *callEnd {
	switch ev := ev.(type) {
	case mediaConnected:
		c.activate(s, domain.CallReasonMediaConnected)
	case mediaFailed:
		s.logger.Warn("media connection failed", zap.Error(ev.err))
		return failure(domain.CallReasonTransportFailed, domain.ErrorCodeTransport,
			"The media connection to the assistant failed.", ev.err)
	case captureFailed:
		s.logger.Warn("microphone capture stopped", zap.Error(ev.err))
		return failure(domain.CallReasonTransportFailed, domain.ErrorCodeMicrophone,
			"Microphone capture stopped unexpectedly.", ev.err)
	case audioResolved:
		if ev.sessionID != s.getSessionID() {
			s.logger.Debug("dropping audio for a previous session")
			return nil
		}
		c.playURL(s, ev.url)
	}
	return nil
}

func (c *CallController) appendUserText(s *callSession, text string) {
	if c.deps.Filter != nil {
		cleaned, err := c.deps.Filter.Apply(text)
		if err != nil {
			s.logger.Debug("transcript filter failed", zap.Error(err))
		} else {
			if cleaned == "" {
				s.logger.Debug("dropping filler transcript", zap.String("text", text))
				return
			}
			text = cleaned
		}
	}
	c.appendTranscript(domain.TranscriptRoleUser, text)
}

func (c *CallController) appendTranscript(role domain.TranscriptRole, text string) {
	entry, ok := c.transcript.Add(role, text, c.now())
	if !ok {
		return
	}
	c.deps.Events.TranscriptAppended(entry)
}

func (c *CallController) playbackFailed(s *callSession, err error) {
	s.logger.Warn("playback failed", zap.Error(err))
	c.deps.Events.SessionError(domain.ErrorCodePlayback, "Could not play the assistant's reply.")
}

// teardown releases call resources in order. Every step runs even when an
// earlier one fails.
func (c *CallController) teardown(ctx context.Context, s *callSession, graceful bool) {
	s.cancel()

	var errs error
	s.timer.Stop(c.now())

	if s.plane != nil {
		cleanupStep(&errs, "close media plane", s.plane.Close)
	}
	if s.pipeline != nil {
		cleanupStep(&errs, "detach capture", func() error {
			s.pipeline.Stop()
			return nil
		})
	}

	if s.conn != nil {
		cleanupStep(&errs, "send close", func() error {
			return s.conn.SendJSON(signaling.NewClose(s.getSessionID()))
		})
		if graceful && c.cfg.StopGrace > 0 {
			timer := time.NewTimer(c.cfg.StopGrace)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
		cleanupStep(&errs, "close signaling", s.conn.Close)
	}

	switch {
	case s.pipeline != nil:
		cleanupStep(&errs, "release microphone", s.pipeline.Release)
	case s.mic != nil:
		cleanupStep(&errs, "release microphone", s.mic.Stop)
	}
	cleanupStep(&errs, "reset playback", c.player.Reset)

	if errs != nil {
		s.logger.Debug("call cleanup finished with errors", zap.Error(errs))
	}
}

func cleanupStep(errs *error, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			*errs = multierr.Append(*errs, fmt.Errorf("%s: panic: %v", name, r))
		}
	}()
	if err := fn(); err != nil {
		*errs = multierr.Append(*errs, fmt.Errorf("%s: %w", name, err))
	}
}

func (c *CallController) finishCall(s *callSession, end *callEnd) {
	s.setState(end.state)

	c.mu.Lock()
	if c.current == s {
		c.current = nil
		c.state = end.state
		c.message = end.message
	}
	c.mu.Unlock()

	if end.code != "" {
		c.deps.Events.SessionError(end.code, end.message)
	}
	c.deps.Events.CallStateChanged(end.state, end.reason)
	s.logger.Info("call finished",
		zap.String("state", string(end.state)),
		zap.String("reason", string(end.reason)),
		zap.Int64("duration_seconds", s.timer.Seconds(c.now())),
	)
	close(s.finished)
}

func truncate(payload []byte, limit int) []byte {
	if len(payload) <= limit {
		return payload
	}
	return payload[:limit]
}
