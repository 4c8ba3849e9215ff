package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"go.uber.org/zap"

	"echocall/internal/domain"
	"echocall/internal/ports"
)

const (
	DefaultLanguage             = "zh-cn"
	DefaultSpeaker              = "101016"
	DefaultVADThreshold         = 500
	DefaultVADConsecutiveFrames = 2
)

// ErrNotFound is returned when the backend has no such assistant.
var ErrNotFound = errors.New("not found")

// APIError is a non-success backend reply.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Config controls the REST client.
type Config struct {
	APIBaseURL   string
	MediaBaseURL string
	Timeout      time.Duration
}

// Client reads assistant configuration and synthesis job status.
type Client struct {
	cfg    Config
	http   *http.Client
	creds  ports.CredentialStore
	logger *zap.Logger
}

func NewClient(cfg Config, creds ports.CredentialStore, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.MediaBaseURL = strings.TrimRight(cfg.MediaBaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		creds:  creds,
		logger: logger,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type assistantPayload struct {
	ID                   int64    `json:"id"`
	Name                 string   `json:"name"`
	Language             string   `json:"language"`
	Speaker              string   `json:"speaker"`
	EnableVAD            bool     `json:"enableVAD"`
	VADThreshold         *float64 `json:"vadThreshold"`
	VADConsecutiveFrames *int     `json:"vadConsecutiveFrames"`
	VoiceCloneID         *int     `json:"voiceCloneId"`
}

// Assistant loads one assistant, filling backend defaults for unset fields.
func (c *Client) Assistant(ctx context.Context, id int64) (domain.AssistantConfig, error) {
	var payload assistantPayload
	if err := c.get(ctx, "/assistant/"+strconv.FormatInt(id, 10), nil, &payload); err != nil {
		return domain.AssistantConfig{}, fmt.Errorf("load assistant %d: %w", id, err)
	}

	cfg := domain.AssistantConfig{
		ID:                   payload.ID,
		Name:                 payload.Name,
		Language:             payload.Language,
		Speaker:              payload.Speaker,
		EnableVAD:            payload.EnableVAD,
		VADThreshold:         DefaultVADThreshold,
		VADConsecutiveFrames: DefaultVADConsecutiveFrames,
		VoiceCloneID:         payload.VoiceCloneID,
	}
	if cfg.ID == 0 {
		cfg.ID = id
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Speaker == "" {
		cfg.Speaker = DefaultSpeaker
	}
	if payload.VADThreshold != nil && *payload.VADThreshold > 0 {
		cfg.VADThreshold = *payload.VADThreshold
	}
	if payload.VADConsecutiveFrames != nil && *payload.VADConsecutiveFrames > 0 {
		cfg.VADConsecutiveFrames = *payload.VADConsecutiveFrames
	}
	return cfg, nil
}

type audioStatusQuery struct {
	RequestID string `url:"requestId"`
}

// AudioJob reports the state of one synthesis job. Relative audio URLs are made absolute.
func (c *Client) AudioJob(ctx context.Context, jobID string) (domain.AudioJob, error) {
	values, err := query.Values(audioStatusQuery{RequestID: jobID})
	if err != nil {
		return domain.AudioJob{}, fmt.Errorf("encode audio status query: %w", err)
	}

	var job domain.AudioJob
	if err := c.get(ctx, "/voice/audio_status", values, &job); err != nil {
		return domain.AudioJob{}, fmt.Errorf("audio status %q: %w", jobID, err)
	}

	switch job.Status {
	case domain.AudioJobCompleted, domain.AudioJobFailed:
	default:
		job.Status = domain.AudioJobPending
	}
	job.AudioURL = c.MediaURL(job.AudioURL)
	return job, nil
}

// MediaURL rewrites a server-relative path against the media base URL.
func (c *Client) MediaURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || c.cfg.MediaBaseURL == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.IsAbs() {
		return raw
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return c.cfg.MediaBaseURL + raw
}

func (c *Client) get(ctx context.Context, path string, values url.Values, out any) error {
	if c.cfg.APIBaseURL == "" {
		return errors.New("backend API base URL is not configured")
	}
	target := c.cfg.APIBaseURL + path
	if len(values) > 0 {
		target += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.creds != nil {
		creds, err := c.creds.Load(ctx)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		if creds.APIKey != "" {
			req.Header.Set("X-API-KEY", creds.APIKey)
			req.Header.Set("X-API-SECRET", creds.APISecret)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if resp.StatusCode >= 300 || (env.Code != 0 && env.Code != http.StatusOK) {
		c.logger.Debug("backend request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Int("code", env.Code),
		)
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
