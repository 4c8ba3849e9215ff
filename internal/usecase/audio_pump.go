package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"echocall/internal/capture"
	"echocall/internal/domain"
	"echocall/internal/ports"
)

// WebRTC microphone frames are 20 ms of G.711.
const mediaFrameDuration = 20 * time.Millisecond

var (
	errAudioPending     = errors.New("audio job pending")
	errAudioUnavailable = errors.New("audio unavailable")
)

// startSocketCapture acquires the microphone for the voice socket, trying raw
// PCM before the compressed fallback when the mode allows both.
func (c *CallController) startSocketCapture(s *callSession) *callEnd {
	var lastErr error
	for _, compressed := range captureAttempts(c.cfg.CaptureMode) {
		audioCfg := c.cfg.Audio
		audioCfg.Compressed = compressed

		mic, err := c.deps.Audio.Start(context.WithoutCancel(s.ctx), audioCfg)
		if err != nil {
			lastErr = err
			s.logger.Debug("microphone capture unavailable", zap.Bool("compressed", compressed), zap.Error(err))
			continue
		}
		if s.ctx.Err() != nil {
			s.mic = mic
			return nil
		}

		pipeline, err := capture.Start(mic, capture.SocketWriter{Conn: s.conn}, capture.Config{
			InputRate:     audioCfg.SampleRate,
			InputChannels: audioCfg.Channels,
			OutputRate:    c.cfg.SocketRate,
			BlockSamples:  c.cfg.BlockSamples,
			Compressed:    compressed,
		}, s.captureFailed, s.logger.Named("capture"))
		if err != nil {
			s.mic = mic
			return failure(domain.CallReasonMicrophoneDenied, domain.ErrorCodeMicrophone,
				"Could not process microphone audio.", fmt.Errorf("start capture pipeline: %w", err))
		}
		s.pipeline = pipeline

		if compressed {
			s.logger.Info("sending compressed microphone audio")
		}
		c.activate(s, domain.CallReasonSocketOpen)
		return nil
	}

	if s.ctx.Err() != nil {
		return nil
	}
	return failure(domain.CallReasonMicrophoneDenied, domain.ErrorCodeMicrophone,
		"Microphone access failed.", fmt.Errorf("acquire microphone: %w", lastErr))
}

func captureAttempts(mode CaptureMode) []bool {
	switch mode {
	case CapturePCM:
		return []bool{false}
	case CaptureCompressed:
		return []bool{true}
	default:
		return []bool{false, true}
	}
}

// startMediaPlane builds the peer connection for a freshly assigned session,
// attaches the microphone and sends the offer once gathering completes.
func (c *CallController) startMediaPlane(s *callSession) *callEnd {
	if c.deps.Media == nil {
		return failure(domain.CallReasonTransportFailed, domain.ErrorCodeTransport,
			"WebRTC calls are not available.", errors.New("no media plane factory configured"))
	}

	plane, err := c.deps.Media.NewMediaPlane(s.ctx, ports.MediaHooks{
		Signaler:    sessionSignaler{conn: s.conn, sessionID: s.getSessionID},
		OnConnected: func() { s.post(mediaConnected{}) },
		OnFailed:    func(err error) { s.post(mediaFailed{err: err}) },
		OpenRemoteAudio: func(format domain.AudioFormat) (ports.AudioStream, error) {
			return c.player.OpenRemoteStream(s.ctx, format)
		},
	})
	if err != nil {
		return failure(domain.CallReasonTransportFailed, domain.ErrorCodeTransport,
			"Could not create the media connection.", fmt.Errorf("create media plane: %w", err))
	}
	s.plane = plane

	audioCfg := c.cfg.Audio
	audioCfg.Compressed = false
	mic, err := c.deps.Audio.Start(context.WithoutCancel(s.ctx), audioCfg)
	if err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		return failure(domain.CallReasonMicrophoneDenied, domain.ErrorCodeMicrophone,
			"Microphone access failed.", fmt.Errorf("acquire microphone: %w", err))
	}
	s.mic = mic

	pipeline, err := capture.Start(mic, plane.Microphone(), capture.Config{
		InputRate:     audioCfg.SampleRate,
		InputChannels: audioCfg.Channels,
		OutputRate:    plane.ClockRate(),
		FrameDuration: mediaFrameDuration,
		BlockSamples:  c.cfg.BlockSamples,
		Companding:    c.cfg.Codec,
	}, s.captureFailed, s.logger.Named("capture"))
	if err != nil {
		return failure(domain.CallReasonMicrophoneDenied, domain.ErrorCodeMicrophone,
			"Could not process microphone audio.", fmt.Errorf("start capture pipeline: %w", err))
	}
	s.pipeline = pipeline

	if err := plane.Start(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			return nil
		}
		return failure(domain.CallReasonTransportFailed, domain.ErrorCodeTransport,
			"Could not negotiate the media connection.", fmt.Errorf("start negotiation: %w", err))
	}
	c.transition(s, domain.CallStateConnecting, domain.CallReasonNegotiating)
	return nil
}

// handleTTSAudio plays a legacy whole-utterance URL. Values without a scheme
// or path are synthesis job ids and are resolved first.
func (c *CallController) handleTTSAudio(s *callSession, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	if !isAudioJobID(raw) {
		if c.deps.AudioJobs != nil {
			raw = c.deps.AudioJobs.MediaURL(raw)
		}
		c.playURL(s, raw)
		return
	}
	if c.deps.AudioJobs == nil {
		s.logger.Debug("no audio job resolver configured", zap.String("job_id", raw))
		return
	}
	go c.resolveAudio(s, s.getSessionID(), raw)
}

func isAudioJobID(raw string) bool {
	return !strings.Contains(raw, "://") && !strings.Contains(raw, "/")
}

// resolveAudio polls a synthesis job a bounded number of times. Giving up is
// silent; the turn simply has no audio.
func (c *CallController) resolveAudio(s *callSession, sessionID, jobID string) {
	attempts := c.cfg.AudioPollAttempts
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(c.cfg.AudioPollInterval))

	var audioURL string
	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		job, err := c.deps.AudioJobs.AudioJob(ctx, jobID)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch job.Status {
		case domain.AudioJobCompleted:
			if job.AudioURL == "" {
				return errAudioUnavailable
			}
			audioURL = job.AudioURL
			return nil
		case domain.AudioJobFailed:
			return errAudioUnavailable
		default:
			return retry.RetryableError(errAudioPending)
		}
	})
	if err != nil {
		s.logger.Debug("audio job not resolved", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.post(audioResolved{sessionID: sessionID, url: audioURL})
}

func (c *CallController) playURL(s *callSession, rawURL string) {
	if err := c.player.PlayURL(s.ctx, rawURL); err != nil {
		c.playbackFailed(s, err)
	}
}
