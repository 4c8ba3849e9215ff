package audio

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"echocall/internal/ports"
)

// FFMPEGCapture streams microphone audio using ffmpeg. Raw sessions yield
// f32le samples; compressed sessions yield an Ogg/Opus stream.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	proc, err := startProcess(ctx, processSpec{
		command: c.command,
		args:    captureArgs(cfg),
		stdout:  true,
		settle:  250 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return &ffmpegSession{proc: proc}, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	format, device := defaultInput(runtime.GOOS)
	if cfg.InputFormat == "" {
		cfg.InputFormat = format
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = device
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
	}
	if cfg.Compressed {
		return append(args,
			"-ac", "1",
			"-ar", "48000",
			"-c:a", "libopus",
			"-b:a", "24k",
			"-f", "ogg",
			"-flush_packets", "1",
			"-",
		)
	}
	return append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	)
}

func defaultInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

type ffmpegSession struct {
	proc *process
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.proc.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

func (s *ffmpegSession) Stop() error {
	return s.proc.Stop()
}
