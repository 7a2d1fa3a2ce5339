// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the environment variable Load reads.
const EnvVar = "LOCKSTEP_CONFIG"

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportWebRTC = "webrtc"
)

// Config is the complete Lockstep configuration.
type Config struct {
	// Username is the display name announced to other peers.
	Username string `yaml:"username"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Transport selects and configures the peer link provider.
	Transport TransportConfig `yaml:"transport"`

	// Timeouts bounds every wait in the session engine.
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// MediaSync tunes playback synchronization.
	MediaSync MediaSyncConfig `yaml:"media_sync"`
}

// TransportConfig selects the link provider.
type TransportConfig struct {
	// Kind is "memory" (in-process) or "webrtc".
	Kind string `yaml:"kind"`

	// ICEServers lists STUN/TURN servers for WebRTC.
	ICEServers []ICEServer `yaml:"ice_servers"`

	// SignalingPollInterval is how often WebRTC signaling is polled.
	SignalingPollInterval time.Duration `yaml:"signaling_poll_interval"`
}

// ICEServer is one STUN or TURN server.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// TimeoutsConfig holds the session engine's deadlines.
type TimeoutsConfig struct {
	// Open is how long a link may take to open before it is abandoned.
	Open time.Duration `yaml:"open"`

	// Connection is how long a client session may stay Connecting.
	Connection time.Duration `yaml:"connection"`

	// AuthResponse bounds each step of the auth handshake.
	AuthResponse time.Duration `yaml:"auth_response"`

	// Discovery is how long the host collects media candidates.
	Discovery time.Duration `yaml:"discovery"`

	// FrameResponse is how long a client waits for its media element.
	FrameResponse time.Duration `yaml:"frame_response"`
}

// MediaSyncConfig tunes the media controller.
type MediaSyncConfig struct {
	// HeartbeatInterval is the period of state re-broadcasts.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// SeekTolerance is the echo-suppression window: a local position
	// change within this distance of a just-applied remote state is
	// not reported as a user seek.
	SeekTolerance time.Duration `yaml:"seek_tolerance"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Username: "anonymous",
		LogLevel: "info",
		Transport: TransportConfig{
			Kind:                  TransportMemory,
			SignalingPollInterval: 250 * time.Millisecond,
		},
		Timeouts: TimeoutsConfig{
			Open:          5 * time.Second,
			Connection:    5 * time.Second,
			AuthResponse:  5 * time.Second,
			Discovery:     500 * time.Millisecond,
			FrameResponse: 6 * time.Second,
		},
		MediaSync: MediaSyncConfig{
			HeartbeatInterval: time.Second,
			SeekTolerance:     250 * time.Millisecond,
		},
	}
}

// Load loads the file named by LOCKSTEP_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, errors.New(EnvVar + " environment variable not set; " +
			"set it to the path of your lockstep.yaml, or use --config")
	}
	return LoadFile(path)
}

// LoadFile merges the file at path over Default and validates the
// result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := cfg.decode(path, data); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	var problems []error

	if strings.TrimSpace(c.Username) == "" {
		problems = append(problems, errors.New("username must not be empty"))
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err)
	}
	switch c.Transport.Kind {
	case TransportMemory, TransportWebRTC:
	default:
		problems = append(problems, fmt.Errorf("transport.kind %q is not one of %q, %q",
			c.Transport.Kind, TransportMemory, TransportWebRTC))
	}
	for i, server := range c.Transport.ICEServers {
		if len(server.URLs) == 0 {
			problems = append(problems, fmt.Errorf("transport.ice_servers[%d] has no urls", i))
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"transport.signaling_poll_interval", c.Transport.SignalingPollInterval},
		{"timeouts.open", c.Timeouts.Open},
		{"timeouts.connection", c.Timeouts.Connection},
		{"timeouts.auth_response", c.Timeouts.AuthResponse},
		{"timeouts.discovery", c.Timeouts.Discovery},
		{"timeouts.frame_response", c.Timeouts.FrameResponse},
		{"media_sync.heartbeat_interval", c.MediaSync.HeartbeatInterval},
		{"media_sync.seek_tolerance", c.MediaSync.SeekTolerance},
	}
	for _, duration := range durations {
		if duration.value <= 0 {
			problems = append(problems, fmt.Errorf("%s must be positive, got %s", duration.name, duration.value))
		}
	}

	return errors.Join(problems...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
