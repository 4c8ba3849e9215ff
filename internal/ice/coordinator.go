// Package ice drives a bundled (non-trickle) offer/answer exchange over the
// signaling websocket.
package ice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"echocall/internal/ports"
)

// PeerConnection is the part of *webrtc.PeerConnection the coordinator
// drives.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	LocalDescription() *webrtc.SessionDescription
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
}

// Phase is the negotiation progress of one call attempt.
type Phase string

const (
	PhaseGathering     Phase = "gathering"
	PhaseOfferSent     Phase = "offer-sent"
	PhaseAnswerApplied Phase = "answer-applied"
	PhaseConnected     Phase = "connected"
	PhaseFailed        Phase = "failed"
)

// Hooks receive media plane outcomes.
type Hooks struct {
	OnConnected func()
	OnFailed    func(err error)
}

// Coordinator negotiates one peer connection.
type Coordinator struct {
	pc       PeerConnection
	signaler ports.MediaSignaler
	hooks    Hooks
	logger   *zap.Logger

	local candidateSet

	remoteMu  sync.Mutex
	remoteSet bool
	pending   pendingCandidates

	phaseMu sync.Mutex
	phase   Phase
	closing bool

	connectedOnce sync.Once
	failedOnce    sync.Once
}

func NewCoordinator(pc PeerConnection, signaler ports.MediaSignaler, hooks Hooks, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		pc:       pc,
		signaler: signaler,
		hooks:    hooks,
		logger:   logger,
		phase:    PhaseGathering,
	}
	pc.OnICECandidate(c.handleLocalCandidate)
	pc.OnConnectionStateChange(c.handleConnectionState)
	return c
}

// Start creates the local offer. The offer is sent once gathering completes.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.setPhase(PhaseFailed)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.setPhase(PhaseFailed)
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

// Phase returns the current negotiation phase.
func (c *Coordinator) Phase() Phase {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	return c.phase
}

func (c *Coordinator) setPhase(phase Phase) {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	if c.phase == PhaseFailed {
		return
	}
	c.phase = phase
}

func (c *Coordinator) handleLocalCandidate(candidate *webrtc.ICECandidate) {
	if candidate != nil {
		if !c.local.add(candidate.ToJSON().Candidate) {
			c.logger.Debug("local candidate after gathering completed")
		}
		return
	}

	candidates, ok := c.local.close()
	if !ok {
		return
	}

	sdp := ""
	if desc := c.pc.LocalDescription(); desc != nil {
		sdp = desc.SDP
	}
	c.setPhase(PhaseOfferSent)
	c.logger.Debug("ice gathering complete", zap.Int("candidates", len(candidates)))
	if err := c.signaler.SendOffer(sdp, candidates); err != nil {
		c.fail(fmt.Errorf("send offer: %w", err))
	}
}

// HandleAnswer applies the remote description, then the bundled remote
// candidates, then any candidates buffered before the answer arrived. An
// unusable description aborts the attempt and is returned, not reported
// through Hooks.
func (c *Coordinator) HandleAnswer(raw json.RawMessage, candidates []string) error {
	decoded, err := DecodeSDP(raw)
	if err != nil {
		c.setPhase(PhaseFailed)
		return err
	}
	sdp, err := NormalizeSDP(decoded)
	if err != nil {
		c.setPhase(PhaseFailed)
		return err
	}

	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()

	if c.remoteSet {
		c.logger.Warn("ignoring duplicate answer")
		return nil
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		c.setPhase(PhaseFailed)
		return fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}
	c.remoteSet = true
	c.setPhase(PhaseAnswerApplied)

	bundled := lo.Filter(candidates, func(candidate string, _ int) bool {
		return strings.TrimSpace(candidate) != ""
	})
	for _, candidate := range bundled {
		c.addRemoteCandidate(candidate)
	}
	for _, candidate := range c.pending.drain() {
		c.addRemoteCandidate(candidate)
	}
	return nil
}

// HandleRemoteCandidate adds an out-of-band candidate, buffering it until the
// remote description is set.
func (c *Coordinator) HandleRemoteCandidate(candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return nil
	}

	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()

	if !c.remoteSet {
		c.pending.push(candidate)
		return nil
	}
	c.addRemoteCandidate(candidate)
	return nil
}

func (c *Coordinator) addRemoteCandidate(candidate string) {
	if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		c.logger.Debug("skipping remote candidate", zap.String("candidate", candidate), zap.Error(err))
	}
}

func (c *Coordinator) handleConnectionState(state webrtc.PeerConnectionState) {
	c.logger.Debug("peer connection state", zap.String("state", state.String()))

	switch state {
	case webrtc.PeerConnectionStateConnected:
		c.connectedOnce.Do(func() {
			c.setPhase(PhaseConnected)
			if err := c.signaler.SendConnected(); err != nil {
				c.logger.Warn("failed to acknowledge media connection", zap.Error(err))
			}
			if c.hooks.OnConnected != nil {
				c.hooks.OnConnected()
			}
		})
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		c.fail(fmt.Errorf("peer connection %s", state))
	}
}

// Closing suppresses failure reports for a teardown the caller started.
func (c *Coordinator) Closing() {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	c.closing = true
}

func (c *Coordinator) fail(err error) {
	c.phaseMu.Lock()
	closing := c.closing
	c.phase = PhaseFailed
	c.phaseMu.Unlock()

	if closing {
		return
	}
	c.failedOnce.Do(func() {
		c.logger.Warn("media negotiation failed", zap.Error(err))
		if c.hooks.OnFailed != nil && !errors.Is(err, context.Canceled) {
			c.hooks.OnFailed(err)
		}
	})
}
