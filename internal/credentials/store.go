package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"echocall/internal/domain"
	"echocall/internal/ports"
)

// FileStore keeps credentials in a user-only YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load returns empty credentials when the file does not exist yet.
func (s *FileStore) Load(context.Context) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(s.path) == "" {
		return domain.Credentials{}, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Credentials{}, nil
		}
		return domain.Credentials{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	var creds domain.Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	creds.APISecret = strings.TrimSpace(creds.APISecret)
	return creds, nil
}

// Save replaces the file atomically with mode 0600.
func (s *FileStore) Save(_ context.Context, creds domain.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(s.path) == "" {
		return errors.New("credentials file path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// EnvOverlay serves credentials from the environment when both halves are set,
// and falls back to the wrapped store otherwise. Saves always go to the store.
type EnvOverlay struct {
	Store     ports.CredentialStore
	APIKey    string
	APISecret string
}

func (o EnvOverlay) Load(ctx context.Context) (domain.Credentials, error) {
	env := domain.Credentials{
		APIKey:    strings.TrimSpace(o.APIKey),
		APISecret: strings.TrimSpace(o.APISecret),
	}
	if env.Complete() {
		return env, nil
	}
	if o.Store == nil {
		return domain.Credentials{}, nil
	}
	return o.Store.Load(ctx)
}

func (o EnvOverlay) Save(ctx context.Context, creds domain.Credentials) error {
	if o.Store == nil {
		return errors.New("no credential store configured")
	}
	return o.Store.Save(ctx, creds)
}
