package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echocall/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFMPEGCapture(script)

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'device busy' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before it started") || !strings.Contains(err.Error(), "device busy") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFFMPEGCaptureMissingBinary(t *testing.T) {
	t.Parallel()

	capture := NewFFMPEGCapture(filepath.Join(t.TempDir(), "missing-ffmpeg"))
	if _, err := capture.Start(context.Background(), ports.AudioConfig{}); err == nil {
		t.Fatalf("expected start error for missing binary")
	}
}

func TestCaptureArgs(t *testing.T) {
	t.Parallel()

	raw := strings.Join(captureArgs(ports.AudioConfig{SampleRate: 16000, Channels: 2, InputFormat: "alsa", InputDevice: "hw:1"}), " ")
	for _, want := range []string{"-f alsa", "-i hw:1", "-ac 2", "-ar 16000", "-f f32le -"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("raw args %q missing %q", raw, want)
		}
	}

	compressed := strings.Join(captureArgs(ports.AudioConfig{Compressed: true, InputFormat: "alsa", InputDevice: "hw:1"}), " ")
	for _, want := range []string{"-c:a libopus", "-f ogg"} {
		if !strings.Contains(compressed, want) {
			t.Fatalf("compressed args %q missing %q", compressed, want)
		}
	}
	if strings.Contains(compressed, "f32le") {
		t.Fatalf("compressed capture must not request raw samples: %q", compressed)
	}
}

func TestDefaultInput(t *testing.T) {
	t.Parallel()

	if format, _ := defaultInput("darwin"); format != "avfoundation" {
		t.Fatalf("unexpected darwin input %q", format)
	}
	if format, device := defaultInput("linux"); format != "pulse" || device != "default" {
		t.Fatalf("unexpected linux input %q %q", format, device)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestStringsTrimSpaceSafe(t *testing.T) {
	t.Parallel()

	if got := stringsTrimSpaceSafe("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
