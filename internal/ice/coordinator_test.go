package ice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
)

type fakePeerConnection struct {
	mu           sync.Mutex
	calls        []string
	local        *webrtc.SessionDescription
	remote       webrtc.SessionDescription
	failRemote   error
	badCandidate string

	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
}

func (f *fakePeerConnection) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePeerConnection) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\nlocal\r\n"}, nil
}

func (f *fakePeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.record("set-local")
	f.mu.Lock()
	f.local = &desc
	f.mu.Unlock()
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.record("set-remote")
	if f.failRemote != nil {
		return f.failRemote
	}
	f.mu.Lock()
	f.remote = desc
	f.mu.Unlock()
	return nil
}

func (f *fakePeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.record("add:" + candidate.Candidate)
	if candidate.Candidate == f.badCandidate {
		return errors.New("malformed candidate")
	}
	return nil
}

func (f *fakePeerConnection) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakePeerConnection) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.onCandidate = fn
}

func (f *fakePeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onState = fn
}

func (f *fakePeerConnection) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSignaler struct {
	mu        sync.Mutex
	offers    []offerCall
	connected int
}

type offerCall struct {
	sdp        string
	candidates []string
}

func (s *fakeSignaler) SendOffer(sdp string, candidates []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, offerCall{sdp: sdp, candidates: candidates})
	return nil
}

func (s *fakeSignaler) SendConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected++
	return nil
}

func hostCandidate(port uint16) *webrtc.ICECandidate {
	return &webrtc.ICECandidate{
		Foundation: "1",
		Priority:   1,
		Address:    "192.0.2.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
}

func TestCoordinatorSendsExactlyOneBundledOffer(t *testing.T) {
	t.Parallel()

	pc := &fakePeerConnection{}
	signaler := &fakeSignaler{}
	coordinator := NewCoordinator(pc, signaler, Hooks{}, nil)

	if err := coordinator.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if coordinator.Phase() != PhaseGathering {
		t.Fatalf("expected gathering phase, got %s", coordinator.Phase())
	}

	pc.onCandidate(hostCandidate(5000))
	pc.onCandidate(hostCandidate(5001))
	pc.onCandidate(nil)
	pc.onCandidate(hostCandidate(5002))
	pc.onCandidate(nil)

	if len(signaler.offers) != 1 {
		t.Fatalf("expected exactly one offer, got %d", len(signaler.offers))
	}
	offer := signaler.offers[0]
	if offer.sdp != "v=0\r\nlocal\r\n" {
		t.Fatalf("unexpected offer sdp %q", offer.sdp)
	}
	if len(offer.candidates) != 2 {
		t.Fatalf("expected the two gathered candidates, got %v", offer.candidates)
	}
	for _, candidate := range offer.candidates {
		if !strings.Contains(candidate, "192.0.2.1") {
			t.Fatalf("unexpected candidate %q", candidate)
		}
	}
	if coordinator.Phase() != PhaseOfferSent {
		t.Fatalf("expected offer-sent phase, got %s", coordinator.Phase())
	}
}

func TestCoordinatorAppliesRemoteDescriptionBeforeCandidates(t *testing.T) {
	t.Parallel()

	pc := &fakePeerConnection{badCandidate: "candidate:bad"}
	coordinator := NewCoordinator(pc, &fakeSignaler{}, Hooks{}, nil)

	if err := coordinator.HandleRemoteCandidate("candidate:early-1"); err != nil {
		t.Fatalf("buffering failed: %v", err)
	}
	if err := coordinator.HandleRemoteCandidate("candidate:early-2"); err != nil {
		t.Fatalf("buffering failed: %v", err)
	}
	if len(pc.Calls()) != 0 {
		t.Fatalf("candidates must not reach the peer connection before the answer: %v", pc.Calls())
	}

	sdp, _ := json.Marshal("v=0\r\nremote\r\n")
	err := coordinator.HandleAnswer(sdp, []string{"candidate:a", "candidate:bad", "", "candidate:b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := coordinator.HandleRemoteCandidate("candidate:late"); err != nil {
		t.Fatalf("late candidate failed: %v", err)
	}

	want := []string{
		"set-remote",
		"add:candidate:a",
		"add:candidate:bad",
		"add:candidate:b",
		"add:candidate:early-1",
		"add:candidate:early-2",
		"add:candidate:late",
	}
	got := pc.Calls()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected call order:\n got %v\nwant %v", got, want)
	}
	if coordinator.Phase() != PhaseAnswerApplied {
		t.Fatalf("expected answer-applied phase, got %s", coordinator.Phase())
	}

	if err := coordinator.HandleAnswer(sdp, []string{"candidate:again"}); err != nil {
		t.Fatalf("duplicate answer should be ignored: %v", err)
	}
	if len(pc.Calls()) != len(want) {
		t.Fatalf("duplicate answer must not touch the peer connection: %v", pc.Calls())
	}
}

func TestCoordinatorNormalizesEnvelopedAnswer(t *testing.T) {
	t.Parallel()

	pc := &fakePeerConnection{}
	coordinator := NewCoordinator(pc, &fakeSignaler{}, Hooks{}, nil)

	raw := json.RawMessage(`{"type":"answer","sdp":"v=0\no=- 1 1 IN IP4 0.0.0.0\ns=-\n"}`)
	if err := coordinator.HandleAnswer(raw, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.remote.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("expected answer type, got %s", pc.remote.Type)
	}
	if pc.remote.SDP != "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\n" {
		t.Fatalf("sdp was not normalized to CRLF: %q", pc.remote.SDP)
	}
}

func TestCoordinatorRejectsMissingSDP(t *testing.T) {
	t.Parallel()

	pc := &fakePeerConnection{}
	failed := 0
	coordinator := NewCoordinator(pc, &fakeSignaler{}, Hooks{OnFailed: func(error) { failed++ }}, nil)

	for _, raw := range []json.RawMessage{nil, json.RawMessage(`null`), json.RawMessage(`42`), json.RawMessage(`{"type":"answer"}`)} {
		err := coordinator.HandleAnswer(raw, []string{"candidate:a"})
		if !errors.Is(err, ErrInvalidSDP) {
			t.Fatalf("HandleAnswer(%s) = %v, want ErrInvalidSDP", raw, err)
		}
	}
	if len(pc.Calls()) != 0 {
		t.Fatalf("invalid answers must not reach the peer connection: %v", pc.Calls())
	}
	if coordinator.Phase() != PhaseFailed {
		t.Fatalf("expected failed phase, got %s", coordinator.Phase())
	}
	if failed != 0 {
		t.Fatalf("synchronous failures are returned, not reported through hooks")
	}
}

func TestCoordinatorAcknowledgesConnectionOnce(t *testing.T) {
	t.Parallel()

	pc := &fakePeerConnection{}
	signaler := &fakeSignaler{}
	connected := 0
	var failures []error
	coordinator := NewCoordinator(pc, signaler, Hooks{
		OnConnected: func() { connected++ },
		OnFailed:    func(err error) { failures = append(failures, err) },
	}, nil)

	pc.onState(webrtc.PeerConnectionStateConnecting)
	pc.onState(webrtc.PeerConnectionStateConnected)
	pc.onState(webrtc.PeerConnectionStateConnected)

	if connected != 1 || signaler.connected != 1 {
		t.Fatalf("expected one connected ack, got hook=%d ack=%d", connected, signaler.connected)
	}
	if coordinator.Phase() != PhaseConnected {
		t.Fatalf("expected connected phase, got %s", coordinator.Phase())
	}

	pc.onState(webrtc.PeerConnectionStateFailed)
	pc.onState(webrtc.PeerConnectionStateClosed)
	if len(failures) != 1 {
		t.Fatalf("expected exactly one failure report, got %v", failures)
	}
}

func TestCoordinatorSuppressesFailureWhileClosing(t *testing.T) {
	t.Parallel()

	pc := &fakePeerConnection{}
	failed := false
	coordinator := NewCoordinator(pc, &fakeSignaler{}, Hooks{OnFailed: func(error) { failed = true }}, nil)

	coordinator.Closing()
	pc.onState(webrtc.PeerConnectionStateClosed)
	if failed {
		t.Fatalf("closing the connection ourselves must not report a failure")
	}
}
