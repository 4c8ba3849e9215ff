// Package capture turns microphone reads into encoded frames for the call
// transport.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
	"go.uber.org/zap"

	"echocall/internal/pcm"
	"echocall/internal/ports"
)

// Config controls framing and encoding of captured audio.
type Config struct {
	// InputRate and InputChannels describe the f32le samples read from the
	// microphone session.
	InputRate     int
	InputChannels int
	// OutputRate is the rate frames are encoded at.
	OutputRate int
	// FrameDuration splits output into fixed frames. Zero writes one frame
	// per microphone block.
	FrameDuration time.Duration
	// BlockSamples is the number of samples read from the microphone at once.
	BlockSamples int
	// Companding applies G.711 after PCM16 encoding. Empty writes raw PCM16.
	Companding pcm.Companding
	// Compressed forwards microphone bytes verbatim.
	Compressed bool
}

func (c Config) withDefaults() Config {
	if c.InputRate <= 0 {
		c.InputRate = 48000
	}
	if c.InputChannels <= 0 {
		c.InputChannels = 1
	}
	if c.OutputRate <= 0 {
		c.OutputRate = 16000
	}
	if c.BlockSamples < 256 {
		c.BlockSamples = 4096
	}
	return c
}

// Pipeline pumps one microphone session into a FrameWriter.
type Pipeline struct {
	audio  ports.AudioSession
	writer ports.FrameWriter
	cfg    Config
	logger *zap.Logger

	onError func(error)

	resampler resampling.Resampler
	pending   []float32

	detached    atomic.Bool
	done        chan struct{}
	releaseOnce sync.Once
	releaseErr  error
}

// Start begins pumping audio. onError receives read or write failures that
// end the pump while it is still attached.
func Start(audio ports.AudioSession, writer ports.FrameWriter, cfg Config, onError func(error), logger *zap.Logger) (*Pipeline, error) {
	if audio == nil || writer == nil {
		return nil, errors.New("capture pipeline requires an audio session and a writer")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		audio:   audio,
		writer:  writer,
		cfg:     cfg,
		logger:  logger,
		onError: onError,
		done:    make(chan struct{}),
	}

	if !cfg.Compressed && cfg.InputRate != cfg.OutputRate {
		resampler, err := resampling.New(&resampling.Config{
			InputRate:  float64(cfg.InputRate),
			OutputRate: float64(cfg.OutputRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}
		p.resampler = resampler
	}

	go p.pump()
	return p, nil
}

// Stop detaches the pipeline from the transport. Later microphone reads are
// discarded. It does not release the microphone.
func (p *Pipeline) Stop() {
	p.detached.Store(true)
}

// Release stops the microphone session and waits for the pump to exit.
func (p *Pipeline) Release() error {
	p.releaseOnce.Do(func() {
		p.detached.Store(true)
		p.releaseErr = p.audio.Stop()
		<-p.done
	})
	return p.releaseErr
}

// Done is closed when the pump exits.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) pump() {
	defer close(p.done)

	blockBytes := p.cfg.BlockSamples * 4 * p.cfg.InputChannels
	buf := make([]byte, blockBytes)
	var carry []byte

	for {
		n, err := p.audio.Read(buf)
		if n > 0 && !p.detached.Load() {
			var writeErr error
			if p.cfg.Compressed {
				writeErr = p.writer.WriteFrame(append([]byte(nil), buf[:n]...), 0)
			} else {
				data := append(carry, buf[:n]...)
				usable := len(data) - len(data)%(4*p.cfg.InputChannels)
				carry = append([]byte(nil), data[usable:]...)
				writeErr = p.process(data[:usable])
			}
			if writeErr != nil {
				p.report(fmt.Errorf("failed to stream audio: %w", writeErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.report(fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

func (p *Pipeline) report(err error) {
	if p.detached.Load() {
		p.logger.Debug("capture ended after detach", zap.Error(err))
		return
	}
	if p.onError != nil {
		p.onError(err)
	}
}

func (p *Pipeline) process(raw []byte) error {
	samples := downmix(decodeFloat32(raw), p.cfg.InputChannels)
	if len(samples) == 0 {
		return nil
	}

	if p.resampler != nil {
		input := make([]float64, len(samples))
		for i, s := range samples {
			input[i] = float64(s)
		}
		output, err := p.resampler.Process(input)
		if err != nil {
			return fmt.Errorf("resample error: %w", err)
		}
		samples = make([]float32, len(output))
		for i, s := range output {
			samples[i] = float32(s)
		}
	}

	if p.cfg.FrameDuration <= 0 {
		return p.emit(samples, time.Duration(len(samples))*time.Second/time.Duration(p.cfg.OutputRate))
	}

	frameSamples := int(int64(p.cfg.OutputRate) * int64(p.cfg.FrameDuration) / int64(time.Second))
	if frameSamples <= 0 {
		frameSamples = len(samples)
	}
	p.pending = append(p.pending, samples...)
	for len(p.pending) >= frameSamples {
		if err := p.emit(p.pending[:frameSamples], p.cfg.FrameDuration); err != nil {
			return err
		}
		p.pending = append(p.pending[:0], p.pending[frameSamples:]...)
	}
	return nil
}

func (p *Pipeline) emit(samples []float32, duration time.Duration) error {
	if len(samples) == 0 {
		return nil
	}
	frame := pcm.EncodeFloatToPCM16(samples)
	if p.cfg.Companding != "" {
		frame = p.cfg.Companding.Encode(frame)
	}
	return p.writer.WriteFrame(frame, duration)
}

func decodeFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	split := pcm.Deinterleave(samples, channels)
	out := make([]float32, len(split[0]))
	for i := range out {
		var sum float32
		for _, ch := range split {
			sum += ch[i]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
