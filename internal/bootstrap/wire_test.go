package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"echocall/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ECHOCALL_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("ECHOCALL_TRANSPORT", "voice-socket")

	services, err := Build(noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if services.Controller == nil || services.Backend == nil || services.Logger == nil {
		t.Fatalf("expected a fully wired graph")
	}
	if got := services.Controller.Status().Mode; got != domain.TransportVoiceSocket {
		t.Fatalf("expected configured transport, got %s", got)
	}
	if got := services.Credentials.Path(); got != filepath.Join(home, ".config", "echocall", "credentials.yaml") {
		t.Fatalf("unexpected credentials path: %s", got)
	}
}

func TestBuildFailsOnInvalidFilterRules(t *testing.T) {
	home := t.TempDir()
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("ECHOCALL_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("ECHOCALL_FILTER_FILE", rules)

	if _, err := Build(noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to invalid filter rules")
	}
}

func TestBuildFailsOnInvalidCodec(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ECHOCALL_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("ECHOCALL_CODEC", "opus")

	if _, err := Build(noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to unsupported codec")
	}
}

func TestBuildFailsOnInvalidLogLevel(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ECHOCALL_ENV_FILE", filepath.Join(home, "missing.env"))
	t.Setenv("ECHOCALL_LOG_LEVEL", "loud")

	if _, err := Build(noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to invalid log level")
	}
}

type noopEventSink struct{}

func (noopEventSink) CallStateChanged(_ domain.CallState, _ domain.CallStateReason) {}
func (noopEventSink) TranscriptAppended(_ domain.TranscriptEntry)                   {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                     {}
func (noopEventSink) AssistantSwitchPending(_, _ int64)                             {}
