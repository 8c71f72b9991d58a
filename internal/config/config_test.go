package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drowseguard/drowseguard/internal/debounce"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
detector:
  low_threshold: 0.22
  required_frames: 15
  classifier: cascade
server:
  http_port: 9090
  grpc_port: 9091
  broadcast_interval: 250ms
  auth:
    mode: apikey
    key_env: DG_KEY
alerts:
  rules:
    - name: long-drive
      condition: "elapsed_min > 120"
      severity: warning
  webhooks:
    - type: slack
      url_env: SLACK_URL
storage:
  backend: sqlite
  path: /tmp/dg.db
`
	cfg := loadFromString(t, yaml)

	s := cfg.Detector.Settings()
	if s.LowThreshold != 0.22 || s.RequiredFrames != 15 {
		t.Errorf("detector settings: got %+v", s)
	}
	if cfg.Detector.Classifier != "cascade" {
		t.Errorf("classifier: got %q", cfg.Detector.Classifier)
	}
	if cfg.Server.HTTPPort != 9090 || cfg.Server.GRPCPort != 9091 {
		t.Errorf("ports: got %d/%d", cfg.Server.HTTPPort, cfg.Server.GRPCPort)
	}
	if cfg.Server.BroadcastInterval != 250*time.Millisecond {
		t.Errorf("broadcast_interval: got %v", cfg.Server.BroadcastInterval)
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].Name != "long-drive" {
		t.Errorf("rules: got %+v", cfg.Alerts.Rules)
	}
	if cfg.Storage.DSN() != "/tmp/dg.db" {
		t.Errorf("storage dsn: got %q", cfg.Storage.DSN())
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "log:\n  level: debug\n")

	if got := cfg.Detector.Settings(); got != debounce.DefaultSettings() {
		t.Errorf("default settings: got %+v", got)
	}
	if cfg.Detector.Classifier != DefaultClassifier {
		t.Errorf("default classifier: got %q", cfg.Detector.Classifier)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("default http_port: got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.StreamTTL != DefaultStreamTTL {
		t.Errorf("default stream_ttl: got %v", cfg.Server.StreamTTL)
	}
	if cfg.Storage.Backend != "none" {
		t.Errorf("default storage backend: got %q", cfg.Storage.Backend)
	}
	if cfg.Log.SlogLevel().String() != "DEBUG" {
		t.Errorf("log level: got %v", cfg.Log.SlogLevel())
	}
}

func TestLoad_DetectorValuesAreClampedNotRejected(t *testing.T) {
	cfg := loadFromString(t, `
detector:
  low_threshold: 0.9
  required_frames: 2
`)
	s := cfg.Detector.Settings()
	if s.LowThreshold != debounce.MaxLowThreshold {
		t.Errorf("low_threshold: got %v, want clamp to %v", s.LowThreshold, debounce.MaxLowThreshold)
	}
	if s.RequiredFrames != debounce.MinRequiredFrames {
		t.Errorf("required_frames: got %d, want clamp to %d", s.RequiredFrames, debounce.MinRequiredFrames)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown classifier", "detector:\n  classifier: neural\n"},
		{"http port range", "server:\n  http_port: 70000\n"},
		{"same ports", "server:\n  http_port: 9000\n  grpc_port: 9000\n"},
		{"auth mode", "server:\n  auth:\n    mode: magictoken\n"},
		{"rule without name", "alerts:\n  rules:\n    - condition: \"alert == true\"\n"},
		{"rule bad condition", "alerts:\n  rules:\n    - name: x\n      condition: \"alert\"\n"},
		{"webhook type", "alerts:\n  webhooks:\n    - type: pager\n"},
		{"storage backend", "storage:\n  backend: mongo\n"},
		{"postgres without dsn", "storage:\n  backend: postgres\n"},
		{"log format", "log:\n  format: xml\n"},
		{"bad yaml", "detector: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAuthConfig_KeyResolution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	t.Setenv("TEST_API_HASH", "$2a$10$abc")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY", KeyHashEnv: "TEST_API_HASH"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q", got)
	}
	if got := a.KeyHash(); got != "$2a$10$abc" {
		t.Errorf("KeyHash(): got %q", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("default header: got %q", got)
	}
	if got := (AuthConfig{Header: "X-DG-Token"}).EffectiveHeader(); got != "x-dg-token" {
		t.Errorf("custom header: got %q", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("TEAMS_URL", "https://teams.example.com/webhook")
	w := WebhookConfig{Type: "teams", URLEnv: "TEAMS_URL"}
	if got := w.URL(); got != "https://teams.example.com/webhook" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestStorageConfig_PostgresDSN(t *testing.T) {
	t.Setenv("DG_PG", "postgres://dg@localhost/dg")
	s := StorageConfig{Backend: "postgres", DSNEnv: "DG_PG"}
	if got := s.DSN(); got != "postgres://dg@localhost/dg" {
		t.Errorf("DSN(): got %q", got)
	}
}

// startWatch runs Watch on path and returns the channel receiving reloads.
// The watcher is stopped when the test ends.
func startWatch(t *testing.T, path string) <-chan *Config {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Watch returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Watch did not return after cancel")
		}
	})

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	return got
}

// waitForFrames waits for a reload carrying required_frames n. A truncating
// write can surface as several events, so earlier reloads are skipped.
func waitForFrames(t *testing.T, got <-chan *Config, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Detector.RequiredFrames == n {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for reload with required_frames %d", n)
		}
	}
}

// replaceFile saves content the way editors do atomically: write a sibling
// temp file, then rename it over path.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	writeFile(t, tmp, content)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename %s: %v", tmp, err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "detector:\n  required_frames: 20\n")

	got := startWatch(t, path)
	writeFile(t, path, "detector:\n  required_frames: 8\n")
	waitForFrames(t, got, 8)

	writeFile(t, path, "detector:\n  required_frames: 30\n")
	waitForFrames(t, got, 30)
}

func TestWatch_ReloadsAfterAtomicRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "detector:\n  required_frames: 20\n")

	got := startWatch(t, path)

	replaceFile(t, path, "detector:\n  required_frames: 8\n")
	waitForFrames(t, got, 8)

	// The replaced file must still be watched.
	replaceFile(t, path, "detector:\n  required_frames: 12\n")
	waitForFrames(t, got, 12)

	// A plain write after the renames is picked up too.
	writeFile(t, path, "detector:\n  required_frames: 40\n")
	waitForFrames(t, got, 40)
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "detector:\n  required_frames: 20\n")

	got := startWatch(t, path)
	writeFile(t, filepath.Join(dir, "other.yaml"), "detector:\n  required_frames: 9\n")

	select {
	case c := <-got:
		t.Fatalf("reloaded on sibling write: required_frames %d", c.Detector.RequiredFrames)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "config.yaml")
	if err := Watch(context.Background(), path, func(*Config) {}); err == nil {
		t.Error("Watch on a missing directory should fail")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	return Load(path)
}
