// Package config loads the server's YAML configuration file: listen
// address, device name, scratch directory, rotation thresholds, capture
// source specs, and Basic-Auth credentials.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// VideoConfig names the video capture source and its advertised bitrate.
type VideoConfig struct {
	Source  string `yaml:"source"`
	Bitrate uint32 `yaml:"bitrate"`
}

// AudioConfig names the audio capture source, if enabled.
type AudioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Source     string `yaml:"source"`
	SampleRate uint32 `yaml:"sample_rate"`
}

// AuthConfig holds the Basic-Auth credentials gating every RTSP method
// except OPTIONS and TEARDOWN. An empty Username disables the gate.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the top-level YAML document.
type Config struct {
	ListenAddr           string `yaml:"listen_addr"`
	DeviceName           string `yaml:"device_name"`
	ScratchDir           string `yaml:"scratch_dir"`
	RotateThresholdBytes int64  `yaml:"rotate_threshold_bytes"`
	RotateMaxIndex       int    `yaml:"rotate_max_index"`

	Video VideoConfig `yaml:"video"`
	Audio AudioConfig `yaml:"audio"`
	Auth  AuthConfig  `yaml:"auth"`

	LogLevel string `yaml:"log_level"`
}

// Defaults returns a Config populated with the documented defaults, to be
// overlaid by whatever a loaded file specifies.
func Defaults() Config {
	return Config{
		ListenAddr:           ":554",
		DeviceName:           "rtspcam",
		ScratchDir:           "/var/tmp/rtspcam",
		RotateThresholdBytes: 50 << 20,
		RotateMaxIndex:       5,
		Video: VideoConfig{
			Source:  "file:testdata/sample.mp4",
			Bitrate: 2000000,
		},
		Audio: AudioConfig{
			Enabled:    false,
			Source:     "file:testdata/sample.aac",
			SampleRate: 44100,
		},
		LogLevel: "info",
	}
}

// Load reads and parses the YAML config file at path, overlaying it onto
// Defaults(). A missing field in the file keeps its default value.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
