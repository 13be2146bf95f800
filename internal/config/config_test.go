package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtspcam.yaml")
	contents := `
listen_addr: ":8554"
device_name: "Driveway Cam"
video:
  source: "file:/srv/cam/video.mp4"
auth:
  username: "admin"
  password: "secret"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8554" {
		t.Errorf("ListenAddr = %q, want :8554", cfg.ListenAddr)
	}
	if cfg.DeviceName != "Driveway Cam" {
		t.Errorf("DeviceName = %q", cfg.DeviceName)
	}
	if cfg.Video.Source != "file:/srv/cam/video.mp4" {
		t.Errorf("Video.Source = %q", cfg.Video.Source)
	}
	// Untouched fields keep their defaults.
	if cfg.RotateThresholdBytes != 50<<20 {
		t.Errorf("RotateThresholdBytes = %d, want default", cfg.RotateThresholdBytes)
	}
	if cfg.RotateMaxIndex != 5 {
		t.Errorf("RotateMaxIndex = %d, want default 5", cfg.RotateMaxIndex)
	}
	if cfg.Auth.Username != "admin" || cfg.Auth.Password != "secret" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	d := Defaults()
	if d.ListenAddr != ":554" {
		t.Errorf("ListenAddr = %q, want :554", d.ListenAddr)
	}
	if d.Audio.Enabled {
		t.Error("Audio.Enabled default should be false")
	}
	if d.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", d.LogLevel)
	}
}
