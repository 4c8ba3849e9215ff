package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"echocall/internal/domain"
	"echocall/internal/pcm"
	"echocall/internal/ports"
)

// FFPlayOutput opens playback engines backed by ffplay subprocesses.
type FFPlayOutput struct {
	command string
	logger  *zap.Logger
}

func NewFFPlayOutput(command string, logger *zap.Logger) *FFPlayOutput {
	if command == "" {
		command = "ffplay"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFPlayOutput{command: command, logger: logger}
}

func (o *FFPlayOutput) OpenEngine(sampleRate int) (ports.AudioEngine, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &ffplayEngine{
		command:    o.command,
		sampleRate: sampleRate,
		logger:     o.logger,
		live:       map[*process]struct{}{},
	}, nil
}

// ffplayEngine runs one ffplay process per handle or stream.
type ffplayEngine struct {
	command    string
	sampleRate int
	logger     *zap.Logger

	mu     sync.Mutex
	live   map[*process]struct{}
	closed bool
}

var errEngineClosed = errors.New("audio engine closed")

func (e *ffplayEngine) Play(ctx context.Context, buf ports.AudioBuffer) (ports.PlaybackHandle, error) {
	if buf.Frames() == 0 {
		return nil, errors.New("empty audio buffer")
	}
	rate := buf.SampleRate
	if rate <= 0 {
		rate = e.sampleRate
	}

	proc, err := e.spawn(ctx, rawArgs(rate, len(buf.Channels)))
	if err != nil {
		return nil, err
	}

	payload := encodeFloat32(pcm.Interleave(buf.Channels))
	go func() {
		if _, err := proc.stdin.Write(payload); err != nil {
			e.logger.Debug("ffplay input closed early", zap.Error(err))
		}
		_ = proc.stdin.Close()
	}()
	return proc, nil
}

func (e *ffplayEngine) PlayURL(ctx context.Context, rawURL string) (ports.PlaybackHandle, error) {
	proc, err := e.spawn(ctx, []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "warning", rawURL})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (e *ffplayEngine) OpenStream(ctx context.Context, format domain.AudioFormat) (ports.AudioStream, error) {
	rate := format.SampleRate
	if rate <= 0 {
		rate = e.sampleRate
	}
	channels := format.Channels
	if channels <= 0 {
		channels = 1
	}
	proc, err := e.spawn(ctx, rawArgs(rate, channels))
	if err != nil {
		return nil, err
	}
	return &ffplayStream{proc: proc}, nil
}

func (e *ffplayEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	live := make([]*process, 0, len(e.live))
	for proc := range e.live {
		live = append(live, proc)
	}
	e.live = map[*process]struct{}{}
	e.mu.Unlock()

	var firstErr error
	for _, proc := range live {
		if err := proc.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *ffplayEngine) spawn(ctx context.Context, args []string) (*process, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errEngineClosed
	}
	e.mu.Unlock()

	proc, err := startProcess(ctx, processSpec{
		command: e.command,
		args:    args,
		stdin:   true,
		grace:   200 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.live[proc] = struct{}{}
	e.mu.Unlock()
	go func() {
		<-proc.Done()
		e.mu.Lock()
		delete(e.live, proc)
		e.mu.Unlock()
	}()
	return proc, nil
}

type ffplayStream struct {
	proc *process
}

func (s *ffplayStream) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	select {
	case <-s.proc.Done():
		return errEngineClosed
	default:
	}
	_, err := s.proc.stdin.Write(encodeFloat32(samples))
	return err
}

// Close ends input and lets ffplay drain before stopping it.
func (s *ffplayStream) Close() error {
	_ = s.proc.stdin.Close()
	select {
	case <-s.proc.Done():
	case <-time.After(s.proc.grace):
	}
	return s.proc.Stop()
}

func rawArgs(sampleRate, channels int) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "f32le",
		"-ar", strconv.Itoa(sampleRate),
		"-ch_layout", channelLayout(channels),
		"-i", "-",
	}
}

func channelLayout(channels int) string {
	switch channels {
	case 0, 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return strconv.Itoa(channels) + "c"
	}
}

func encodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}
