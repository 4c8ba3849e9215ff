// Package playback renders synthesized speech and enforces barge-in: at most
// one utterance is audible at a time and a new one always cuts off the old.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"echocall/internal/domain"
	"echocall/internal/pcm"
	"echocall/internal/ports"
)

const defaultSampleRate = 16000

// accumulator buffers one utterance between tts_start and tts_end.
type accumulator struct {
	chunks [][]byte
	format domain.AudioFormat
	active bool
}

func (a accumulator) bytes() []byte {
	size := 0
	for _, chunk := range a.chunks {
		size += len(chunk)
	}
	out := make([]byte, 0, size)
	for _, chunk := range a.chunks {
		out = append(out, chunk...)
	}
	return out
}

// Controller owns the single live PlaybackHandle of a call.
type Controller struct {
	output ports.AudioOutput
	logger *zap.Logger

	mu      sync.Mutex
	engine  ports.AudioEngine
	current ports.PlaybackHandle
	acc     accumulator
	muted   bool
}

func NewController(output ports.AudioOutput, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{output: output, logger: logger}
}

// TTSStart preempts any playing utterance and opens a fresh accumulator.
func (c *Controller) TTSStart(format domain.AudioFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopCurrentLocked()
	c.acc = accumulator{format: format, active: true}
	if format.SampleRate <= 0 {
		return nil
	}
	return c.ensureEngineLocked(format.SampleRate)
}

// Append buffers a binary frame. It reports false when no utterance is open
// and the frame was dropped.
func (c *Controller) Append(chunk []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acc.active {
		return false
	}
	c.acc.chunks = append(c.acc.chunks, append([]byte(nil), chunk...))
	return true
}

// Accumulating reports whether an utterance is open.
func (c *Controller) Accumulating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.active
}

// TTSEnd decodes the open utterance and starts it. An empty utterance or an
// undeclared format completes silently.
func (c *Controller) TTSEnd(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc := c.acc
	c.acc = accumulator{}
	if !acc.active || len(acc.chunks) == 0 || !acc.format.Valid() {
		return nil
	}

	samples := pcm.DecodePCM16ToFloat(acc.bytes(), acc.format.BitDepth)
	buf := ports.AudioBuffer{
		SampleRate: acc.format.SampleRate,
		Channels:   pcm.Deinterleave(samples, acc.format.Channels),
	}
	if buf.Frames() == 0 || c.muted {
		return nil
	}

	if err := c.ensureEngineLocked(acc.format.SampleRate); err != nil {
		return err
	}
	c.stopCurrentLocked()
	handle, err := c.engine.Play(ctx, buf)
	if err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	c.adoptLocked(handle)
	return nil
}

// PlayURL plays a ready-made media URL, bypassing the accumulator.
func (c *Controller) PlayURL(ctx context.Context, rawURL string) error {
	if rawURL == "" {
		return errors.New("empty audio url")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopCurrentLocked()
	if c.muted {
		return nil
	}
	if err := c.ensureEngineLocked(defaultSampleRate); err != nil {
		return err
	}
	handle, err := c.engine.PlayURL(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("failed to play audio url: %w", err)
	}
	c.adoptLocked(handle)
	return nil
}

// OpenRemoteStream opens a live output for audio arriving on the media
// plane. Writes are dropped while muted.
func (c *Controller) OpenRemoteStream(ctx context.Context, format domain.AudioFormat) (ports.AudioStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureEngineLocked(format.SampleRate); err != nil {
		return nil, err
	}
	stream, err := c.engine.OpenStream(ctx, format)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote audio stream: %w", err)
	}
	return &mutedStream{stream: stream, muted: c.isMuted}, nil
}

// SetMuted toggles output. Muting stops the live handle.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.muted = muted
	if muted {
		c.stopCurrentLocked()
	}
}

func (c *Controller) isMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Playing reports whether a handle is live.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Reset stops playback, drops any open utterance and releases the engine.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopCurrentLocked()
	c.acc = accumulator{}
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	return err
}

func (c *Controller) ensureEngineLocked(sampleRate int) error {
	if c.engine != nil {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	engine, err := c.output.OpenEngine(sampleRate)
	if err != nil {
		return fmt.Errorf("failed to open audio engine: %w", err)
	}
	c.engine = engine
	return nil
}

func (c *Controller) stopCurrentLocked() {
	if c.current == nil {
		return
	}
	handle := c.current
	c.current = nil
	if err := handle.Stop(); err != nil {
		c.logger.Debug("failed to stop playback handle", zap.Error(err))
	}
}

func (c *Controller) adoptLocked(handle ports.PlaybackHandle) {
	c.current = handle
	go c.release(handle)
}

// release clears handle once it finishes on its own. A preempted handle is
// no longer current and is left alone.
func (c *Controller) release(handle ports.PlaybackHandle) {
	<-handle.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == handle {
		c.current = nil
	}
}

type mutedStream struct {
	stream ports.AudioStream
	muted  func() bool
}

func (s *mutedStream) Write(samples []float32) error {
	if s.muted() {
		return nil
	}
	return s.stream.Write(samples)
}

func (s *mutedStream) Close() error {
	return s.stream.Close()
}
