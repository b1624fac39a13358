package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("missing config must not error: %v", err)
	}
	if cfg.Model != "gemini-3-pro-preview" {
		t.Fatalf("default model missing: %q", cfg.Model)
	}
	if cfg.SyncDelayMs != 800 {
		t.Fatalf("default sync delay missing: %d", cfg.SyncDelayMs)
	}
	if cfg.SyncDelay() != 800*time.Millisecond {
		t.Fatalf("sync delay conversion wrong: %v", cfg.SyncDelay())
	}
}

func TestLoadConfigOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	raw := "api_key: k-123\nsync_delay_ms: 50\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "k-123" {
		t.Fatalf("api key not loaded: %q", cfg.APIKey)
	}
	if cfg.SyncDelayMs != 50 {
		t.Fatalf("sync delay not loaded: %d", cfg.SyncDelayMs)
	}
	// Unset fields keep their defaults.
	if cfg.Model != "gemini-3-pro-preview" {
		t.Fatalf("model default lost: %q", cfg.Model)
	}
	if cfg.BaseURL == "" {
		t.Fatalf("base url default lost")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	want := Config{APIKey: "secret", Model: "gemini-3-pro-preview", BaseURL: "https://example.test", DataDir: "/tmp/x", SyncDelayMs: 10}
	if err := SaveConfig(want, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got: %#v\nwant: %#v", got, want)
	}
}
