package main

import (
	"errors"
	"testing"

	"echocall/internal/domain"
)

func TestCallReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.CallStateReason]string{
		domain.CallReasonReady:             "Ready to call",
		domain.CallReasonDialing:           "Connecting...",
		domain.CallReasonSessionAssigned:   "Session assigned",
		domain.CallReasonNegotiating:       "Negotiating media...",
		domain.CallReasonMediaConnected:    "Call connected",
		domain.CallReasonSocketOpen:        "Call connected",
		domain.CallReasonHangingUp:         "Hanging up...",
		domain.CallReasonCallEnded:         "Call ended",
		domain.CallReasonTransportFailed:   "Connection failed",
		domain.CallReasonProtocolFailed:    "Negotiation failed",
		domain.CallReasonMicrophoneDenied:  "Microphone unavailable",
		domain.CallReasonRemoteError:       "The assistant reported an error",
		domain.CallReasonErrorAcknowledged: "Ready to call",
		domain.CallReasonAssistantSwitched: "Assistant switched",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := callReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := callReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:       "Startup failed",
		domain.ErrorCodeConfiguration: "Configuration required",
		domain.ErrorCodeTransport:     "Connection issue",
		domain.ErrorCodeProtocol:      "Signaling issue",
		domain.ErrorCodeMicrophone:    "Microphone issue",
		domain.ErrorCodePlayback:      "Playback issue",
		domain.ErrorCodeRemote:        "Assistant error",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}
	if _, err := app.StopCall(); err == nil {
		t.Fatalf("expected bound methods to fail before startup")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if err := app.SelectAssistant(7); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from SelectAssistant, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := NewApp()
	status := app.GetStatus()
	if status.State != domain.CallStateIdle {
		t.Fatalf("unexpected status: %+v", status)
	}
	if transcript := app.GetTranscript(); transcript != nil {
		t.Fatalf("expected no transcript, got %+v", transcript)
	}
	app.Acknowledge()

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.CallStateError || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("expected boot error in runtime info, got %+v", info)
	}
}

func TestEventEmittersIgnoreMissingContext(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.CallStateChanged(domain.CallStateIdle, domain.CallReasonReady)
	app.TranscriptAppended(domain.TranscriptEntry{Role: domain.TranscriptRoleUser, Text: "hi"})
	app.SessionError(domain.ErrorCodeRemote, "boom")
	app.AssistantSwitchPending(1, 2)
}
