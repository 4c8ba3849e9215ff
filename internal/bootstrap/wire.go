package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"echocall/internal/audio"
	"echocall/internal/backend"
	"echocall/internal/config"
	"echocall/internal/credentials"
	"echocall/internal/filter"
	"echocall/internal/logging"
	"echocall/internal/pcm"
	"echocall/internal/ports"
	"echocall/internal/rtc"
	"echocall/internal/signaling"
	"echocall/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller  *usecase.CallController
	Backend     *backend.Client
	Credentials *credentials.FileStore
	Config      config.Config
	Logger      *zap.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, eventSink)
}

// BuildWithConfig wires dependencies from an already resolved configuration.
func BuildWithConfig(cfg config.Config, eventSink ports.EventSink) (Services, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return Services{}, err
	}

	codec, err := pcm.ParseCompanding(cfg.WebRTC.Codec)
	if err != nil {
		return Services{}, err
	}

	transcriptFilter, err := filter.New(cfg.Filter.Path, cfg.Filter.IterationLimit)
	if err != nil {
		return Services{}, fmt.Errorf("load transcript filter: %w", err)
	}

	mediaFactory, err := rtc.NewFactory(rtc.Config{
		ICEServersJSON: cfg.WebRTC.ICEServersJSON,
		STUNURLs:       cfg.WebRTC.STUNURLs,
		Codec:          codec,
	}, logger.Named("rtc"))
	if err != nil {
		return Services{}, fmt.Errorf("create media factory: %w", err)
	}

	fileStore := credentials.NewFileStore(cfg.Credentials.Path)
	creds := credentials.EnvOverlay{
		Store:     fileStore,
		APIKey:    cfg.Credentials.APIKey,
		APISecret: cfg.Credentials.APISecret,
	}

	client := backend.NewClient(backend.Config{
		APIBaseURL:   cfg.Backend.APIBaseURL,
		MediaBaseURL: cfg.Backend.MediaBaseURL,
		Timeout:      cfg.Backend.HTTPTimeout,
	}, creds, logger.Named("backend"))

	controller := usecase.NewCallController(
		usecase.Dependencies{
			Dialer: signaling.NewDialer(signaling.DialerConfig{
				HandshakeTimeout: cfg.Backend.HandshakeTimeout,
			}, logger.Named("signaling")),
			Media:       mediaFactory,
			Audio:       audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
			Output:      audio.NewFFPlayOutput(cfg.Audio.PlayerCommand, logger.Named("audio")),
			Assistants:  client,
			AudioJobs:   client,
			Credentials: creds,
			Filter:      transcriptFilter,
			Events:      eventSink,
			Logger:      logger.Named("call"),
		},
		usecase.Config{
			SignalingBaseURL: cfg.Backend.SignalingBaseURL,
			Mode:             cfg.Call.Mode,
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			CaptureMode:       usecase.CaptureMode(cfg.Audio.CaptureMode),
			SocketRate:        cfg.Audio.OutputRate,
			BlockSamples:      cfg.Audio.BlockSize,
			Codec:             codec,
			StopGrace:         cfg.Call.StopGrace,
			KeepAlive:         cfg.Call.KeepAlive,
			AudioPollInterval: cfg.Call.AudioPollInterval,
			AudioPollAttempts: cfg.Call.AudioPollAttempts,
			Muted:             cfg.Call.Muted,
		},
	)

	return Services{
		Controller:  controller,
		Backend:     client,
		Credentials: fileStore,
		Config:      cfg,
		Logger:      logger,
	}, nil
}
