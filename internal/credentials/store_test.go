package credentials

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"echocall/internal/domain"
)

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	creds, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if creds.Complete() || creds.APIKey != "" {
		t.Fatalf("expected empty credentials, got %+v", creds)
	}
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "credentials.yaml")
	store := NewFileStore(path)

	want := domain.Credentials{APIKey: "key-1", APISecret: "secret-1"}
	if err := store.Save(context.Background(), want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(raw), "api_key: key-1") || !strings.Contains(string(raw), "api_secret: secret-1") {
		t.Fatalf("unexpected yaml: %q", string(raw))
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat failed: %v", err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Fatalf("expected 0600, got %v", info.Mode().Perm())
		}
	}

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestFileStoreRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.yaml")
	if err := os.WriteFile(path, []byte("api_key: [unterminated"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverlayPrefersCompleteEnvironment(t *testing.T) {
	t.Parallel()

	file := NewFileStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	if err := file.Save(context.Background(), domain.Credentials{APIKey: "file-key", APISecret: "file-secret"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	overlay := EnvOverlay{Store: file, APIKey: "env-key", APISecret: "env-secret"}
	creds, err := overlay.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if creds.APIKey != "env-key" || creds.APISecret != "env-secret" {
		t.Fatalf("expected env credentials, got %+v", creds)
	}

	partial := EnvOverlay{Store: file, APIKey: "env-key"}
	creds, err = partial.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if creds.APIKey != "file-key" {
		t.Fatalf("expected file credentials when env is partial, got %+v", creds)
	}
}

func TestEnvOverlaySaveWritesStore(t *testing.T) {
	t.Parallel()

	file := NewFileStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	overlay := EnvOverlay{Store: file}
	if err := overlay.Save(context.Background(), domain.Credentials{APIKey: "a", APISecret: "b"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	creds, err := file.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if creds.APIKey != "a" || creds.APISecret != "b" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}

	if err := (EnvOverlay{}).Save(context.Background(), domain.Credentials{}); err == nil {
		t.Fatalf("expected error without store")
	}
}
