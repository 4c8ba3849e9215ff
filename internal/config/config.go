package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"echocall/internal/domain"
)

// Capture modes for the voice-socket transport.
const (
	CaptureModeAuto       = "auto"
	CaptureModePCM        = "pcm"
	CaptureModeCompressed = "compressed"
)

// Config stores runtime configuration for a call client.
type Config struct {
	Backend     BackendConfig
	Call        CallConfig
	Audio       AudioConfig
	WebRTC      WebRTCConfig
	Credentials CredentialsConfig
	Filter      FilterConfig
	Logging     LoggingConfig
}

type BackendConfig struct {
	APIBaseURL       string
	SignalingBaseURL string
	MediaBaseURL     string
	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
}

type CallConfig struct {
	Mode              domain.TransportMode
	AssistantID       int64
	StopGrace         time.Duration
	KeepAlive         time.Duration
	AudioPollInterval time.Duration
	AudioPollAttempts int
	Muted             bool
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	OutputRate      int
	BlockSize       int
	CaptureMode     string
}

type WebRTCConfig struct {
	STUNURLs       []string
	ICEServersJSON string
	Codec          string
}

type CredentialsConfig struct {
	Path      string
	APIKey    string
	APISecret string
}

type FilterConfig struct {
	Path           string
	IterationLimit int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load resolves configuration from an optional .env file, environment
// variables and sensible defaults. Variables already set in the process win
// over the .env file.
func Load() (Config, error) {
	_ = godotenv.Load(firstNonEmpty(os.Getenv("ECHOCALL_ENV_FILE"), ".env"))

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "echocall")

	apiBase := envOrDefault("ECHOCALL_API_BASE", "http://localhost:7072/api")

	cfg := Config{
		Backend: BackendConfig{
			APIBaseURL:       apiBase,
			SignalingBaseURL: envOrDefault("ECHOCALL_SIGNALING_BASE", apiBase),
			MediaBaseURL:     envOrDefault("ECHOCALL_MEDIA_BASE", mediaBaseFrom(apiBase)),
			HTTPTimeout:      envOrDefaultMillis("ECHOCALL_HTTP_TIMEOUT_MS", 10*time.Second),
			HandshakeTimeout: envOrDefaultMillis("ECHOCALL_HANDSHAKE_TIMEOUT_MS", 10*time.Second),
		},
		Call: CallConfig{
			Mode:              domain.TransportMode(envOrDefault("ECHOCALL_TRANSPORT", string(domain.TransportWebRTC))),
			AssistantID:       int64(envOrDefaultInt("ECHOCALL_ASSISTANT_ID", 0)),
			StopGrace:         envOrDefaultMillis("ECHOCALL_STOP_GRACE_MS", 300*time.Millisecond),
			KeepAlive:         envOrDefaultMillis("ECHOCALL_KEEPALIVE_MS", 20*time.Second),
			AudioPollInterval: envOrDefaultMillis("ECHOCALL_AUDIO_POLL_INTERVAL_MS", 500*time.Millisecond),
			AudioPollAttempts: envOrDefaultInt("ECHOCALL_AUDIO_POLL_ATTEMPTS", 20),
			Muted:             envOrDefaultBool("ECHOCALL_MUTED", false),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("ECHOCALL_FFMPEG_COMMAND", "ffmpeg"),
			PlayerCommand:   envOrDefault("ECHOCALL_FFPLAY_COMMAND", "ffplay"),
			InputFormat:     strings.TrimSpace(os.Getenv("ECHOCALL_AUDIO_INPUT_FORMAT")),
			InputDevice:     strings.TrimSpace(os.Getenv("ECHOCALL_AUDIO_INPUT_DEVICE")),
			SampleRate:      envOrDefaultInt("ECHOCALL_CAPTURE_RATE", 48000),
			Channels:        envOrDefaultInt("ECHOCALL_CHANNELS", 1),
			OutputRate:      envOrDefaultInt("ECHOCALL_SOCKET_RATE", 16000),
			BlockSize:       envOrDefaultInt("ECHOCALL_BLOCK_SIZE", 4096),
			CaptureMode:     strings.ToLower(envOrDefault("ECHOCALL_CAPTURE_MODE", CaptureModeAuto)),
		},
		WebRTC: WebRTCConfig{
			STUNURLs:       splitList(os.Getenv("ECHOCALL_STUN_URLS")),
			ICEServersJSON: strings.TrimSpace(os.Getenv("ECHOCALL_ICE_SERVERS")),
			Codec:          envOrDefault("ECHOCALL_CODEC", "pcma"),
		},
		Credentials: CredentialsConfig{
			Path:      envOrDefault("ECHOCALL_CREDENTIALS_FILE", filepath.Join(configDir, "credentials.yaml")),
			APIKey:    strings.TrimSpace(os.Getenv("ECHOCALL_API_KEY")),
			APISecret: strings.TrimSpace(os.Getenv("ECHOCALL_API_SECRET")),
		},
		Filter: FilterConfig{
			Path:           envOrDefault("ECHOCALL_FILTER_FILE", filepath.Join(configDir, "transcript.rules")),
			IterationLimit: envOrDefaultInt("ECHOCALL_FILTER_ITERATION_LIMIT", 30),
		},
		Logging: LoggingConfig{
			Level:  envOrDefault("ECHOCALL_LOG_LEVEL", "info"),
			Format: envOrDefault("ECHOCALL_LOG_FORMAT", "console"),
		},
	}

	if !cfg.Call.Mode.Valid() {
		cfg.Call.Mode = domain.TransportWebRTC
	}
	if cfg.Call.AssistantID < 0 {
		cfg.Call.AssistantID = 0
	}
	if cfg.Call.AudioPollAttempts <= 0 {
		cfg.Call.AudioPollAttempts = 20
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 48000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.OutputRate <= 0 {
		cfg.Audio.OutputRate = 16000
	}
	if cfg.Audio.BlockSize < 256 {
		cfg.Audio.BlockSize = 4096
	}
	switch cfg.Audio.CaptureMode {
	case CaptureModeAuto, CaptureModePCM, CaptureModeCompressed:
	default:
		cfg.Audio.CaptureMode = CaptureModeAuto
	}
	if cfg.Filter.IterationLimit <= 0 {
		cfg.Filter.IterationLimit = 30
	}

	return cfg, nil
}

// mediaBaseFrom strips the API path so relative audio URLs resolve against the host.
func mediaBaseFrom(apiBase string) string {
	trimmed := strings.TrimRight(apiBase, "/")
	schemeEnd := strings.Index(trimmed, "://")
	if schemeEnd < 0 {
		return trimmed
	}
	if slash := strings.Index(trimmed[schemeEnd+3:], "/"); slash >= 0 {
		return trimmed[:schemeEnd+3+slash]
	}
	return trimmed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
