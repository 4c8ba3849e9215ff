// Package rtc builds pion peer connections for the WebRTC transport.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"echocall/internal/domain"
	"echocall/internal/ice"
	"echocall/internal/pcm"
	"echocall/internal/ports"
)

// G.711 runs at a fixed 8 kHz clock.
const clockRate = 8000

// DefaultSTUN is used when no ICE servers are configured.
const DefaultSTUN = "stun:stun.l.google.com:19302"

// Config controls peer connection construction.
type Config struct {
	// ICEServersJSON is a JSON array of webrtc.ICEServer. When empty or
	// invalid, STUNURLs are used instead.
	ICEServersJSON string
	STUNURLs       []string
	Codec          pcm.Companding
}

// Factory implements ports.MediaPlaneFactory.
type Factory struct {
	cfg    Config
	api    *webrtc.API
	logger *zap.Logger
}

func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if cfg.Codec == "" {
		cfg.Codec = pcm.ALaw
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	for _, codec := range []webrtc.RTPCodecParameters{
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: clockRate, Channels: 1}, PayloadType: 8},
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: clockRate, Channels: 1}, PayloadType: 0},
	} {
		if err := mediaEngine.RegisterCodec(codec, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register %s: %w", codec.MimeType, err)
		}
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry))
	return &Factory{cfg: cfg, api: api, logger: logger}, nil
}

func (f *Factory) NewMediaPlane(ctx context.Context, hooks ports.MediaHooks) (ports.MediaPlane, error) {
	if hooks.Signaler == nil {
		return nil, errors.New("media plane requires a signaler")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(f.cfg)})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType(f.cfg.Codec), ClockRate: clockRate, Channels: 1},
		"microphone", "echocall",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create microphone track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("attach microphone track: %w", err)
	}

	plane := &Plane{
		pc:     pc,
		track:  track,
		hooks:  hooks,
		logger: f.logger,
	}
	plane.coordinator = ice.NewCoordinator(pc, hooks.Signaler, ice.Hooks{
		OnConnected: hooks.OnConnected,
		OnFailed:    hooks.OnFailed,
	}, f.logger)
	pc.OnTrack(plane.handleRemoteTrack)
	return plane, nil
}

// Plane is one negotiated peer connection with a local microphone track.
type Plane struct {
	pc          *webrtc.PeerConnection
	track       *webrtc.TrackLocalStaticSample
	coordinator *ice.Coordinator
	hooks       ports.MediaHooks
	logger      *zap.Logger

	readersMu sync.Mutex
	closed    bool
	readers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (p *Plane) Start(ctx context.Context) error {
	return p.coordinator.Start(ctx)
}

func (p *Plane) HandleAnswer(sdp json.RawMessage, candidates []string) error {
	return p.coordinator.HandleAnswer(sdp, candidates)
}

func (p *Plane) HandleRemoteCandidate(candidate string) error {
	return p.coordinator.HandleRemoteCandidate(candidate)
}

func (p *Plane) Microphone() ports.FrameWriter {
	return trackWriter{track: p.track}
}

func (p *Plane) ClockRate() int {
	return clockRate
}

func (p *Plane) Close() error {
	p.closeOnce.Do(func() {
		p.coordinator.Closing()
		p.stopReaders()
		p.closeErr = p.pc.Close()
		p.readers.Wait()
	})
	return p.closeErr
}

func (p *Plane) handleRemoteTrack(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if remote.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	codec, err := pcm.ParseCompanding(strings.TrimPrefix(strings.ToLower(remote.Codec().MimeType), "audio/"))
	if err != nil {
		p.logger.Warn("unsupported remote audio codec", zap.String("mime", remote.Codec().MimeType))
		return
	}
	if p.hooks.OpenRemoteAudio == nil {
		return
	}

	stream, err := p.hooks.OpenRemoteAudio(domain.AudioFormat{SampleRate: clockRate, Channels: 1, BitDepth: 16})
	if err != nil {
		p.logger.Warn("failed to open remote audio output", zap.Error(err))
		return
	}

	started := p.startReader(func() {
		defer stream.Close()
		readRemoteAudio(remote, codec, stream, p.logger)
	})
	if !started {
		_ = stream.Close()
	}
}

// startReader runs fn on a tracked goroutine unless Close has begun.
func (p *Plane) startReader(fn func()) bool {
	p.readersMu.Lock()
	defer p.readersMu.Unlock()
	if p.closed {
		return false
	}
	p.readers.Add(1)
	go func() {
		defer p.readers.Done()
		fn()
	}()
	return true
}

func (p *Plane) stopReaders() {
	p.readersMu.Lock()
	defer p.readersMu.Unlock()
	p.closed = true
}

type trackWriter struct {
	track *webrtc.TrackLocalStaticSample
}

func (w trackWriter) WriteFrame(frame []byte, duration time.Duration) error {
	return w.track.WriteSample(media.Sample{Data: frame, Duration: duration})
}

func mimeType(codec pcm.Companding) string {
	if codec == pcm.ULaw {
		return webrtc.MimeTypePCMU
	}
	return webrtc.MimeTypePCMA
}

func iceServers(cfg Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if raw := strings.TrimSpace(cfg.ICEServersJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &servers); err == nil && len(servers) > 0 {
			return servers
		}
	}
	urls := make([]string, 0, len(cfg.STUNURLs))
	for _, u := range cfg.STUNURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		urls = []string{DefaultSTUN}
	}
	return []webrtc.ICEServer{{URLs: urls}}
}
