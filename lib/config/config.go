// Copyright 2026 The Conflux Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the conflux hub.
//
// Configuration is loaded from a single YAML file specified by:
//   - CONFLUX_CONFIG environment variable, or
//   - --config flag passed to the command
//
// A small set of CONFLUX_-prefixed environment variables override
// individual fields after the file is read; everything else comes
// from the file. Overrides are applied explicitly, field by field, so
// the full set is visible in one place.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conflux-foundation/conflux/lib/cid"
	"github.com/conflux-foundation/conflux/lib/codec"
	"github.com/conflux-foundation/conflux/lib/peerset"
)

// Config is the master configuration for a conflux hub.
type Config struct {
	// Name identifies this hub in envelopes it ships to peers.
	Name string `yaml:"name"`

	// SocketPath is the Unix control socket for the CLI and viewer.
	SocketPath string `yaml:"socket_path"`

	// DataDir holds the journal and signaling scratch space.
	DataDir string `yaml:"data_dir"`

	// PeersFile is the JSONC roster of distribution peers. Empty
	// means a local-only hub.
	PeersFile string `yaml:"peers_file"`

	// Scheme selects the content ID hash: sha2-256 or blake3.
	Scheme string `yaml:"scheme"`

	// CacheCapacity bounds the read cache; 0 selects the default.
	CacheCapacity int `yaml:"cache_capacity"`

	// STUNServers are STUN URLs (stun:host:port) offered to WebRTC
	// sessions. Empty means host candidates only, which covers
	// same-machine and same-LAN meshes.
	STUNServers []string `yaml:"stun_servers"`

	Listen    ListenConfig   `yaml:"listen"`
	Journal   JournalConfig  `yaml:"journal"`
	Pipeline  PipelineConfig `yaml:"pipeline"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

// ListenConfig configures the ingest listeners. Empty addresses
// disable the listener.
type ListenConfig struct {
	// TCP is the address for the raw TCP ingest listener.
	TCP string `yaml:"tcp"`

	// WebSocket is the address for the HTTP/WebSocket ingest
	// listener.
	WebSocket string `yaml:"websocket"`

	// WebRTCSignal is the signaling directory to answer WebRTC
	// offers from. Empty disables the WebRTC listener.
	WebRTCSignal string `yaml:"webrtc_signal"`
}

// JournalConfig configures commit persistence.
type JournalConfig struct {
	// Enabled turns the journal on. The file lives under DataDir.
	Enabled bool `yaml:"enabled"`

	// Compression names the payload compression: none, lz4, zstd.
	Compression string `yaml:"compression"`

	// Seal encrypts records at rest; requires KeyFile.
	Seal bool `yaml:"seal"`

	// KeyFile is the path to the sealing key, or "-" for stdin.
	KeyFile string `yaml:"key_file"`
}

// PipelineConfig configures best-effort distribution.
type PipelineConfig struct {
	// QueueSize bounds each peer's outbound queue.
	QueueSize int `yaml:"queue_size"`

	// MaxAttempts bounds delivery retries per envelope.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff and MaxBackoff bracket the retry delay.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// Compression names envelope payload compression: none, lz4,
	// zstd.
	Compression string `yaml:"compression"`

	// CompressThreshold is the minimum payload size to compress.
	CompressThreshold int `yaml:"compress_threshold"`
}

// Default returns the default configuration, used as the base before
// the config file is merged in.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "conflux")

	return &Config{
		Name:          hostname(),
		SocketPath:    filepath.Join(defaultRoot, "conflux.sock"),
		DataDir:       defaultRoot,
		Scheme:        "sha2-256",
		CacheCapacity: 0,
		Journal: JournalConfig{
			Enabled:     true,
			Compression: "zstd",
		},
		Pipeline: PipelineConfig{
			QueueSize:         256,
			MaxAttempts:       5,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			Compression:       "zstd",
			CompressThreshold: 4096,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "conflux"
	}
	return name
}

// Load loads configuration from the CONFLUX_CONFIG environment
// variable. There is no search path: if the variable is unset, Load
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("CONFLUX_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CONFLUX_CONFIG environment variable not set; " +
			"set it to the path of your conflux.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merging the file over
// Default and then applying CONFLUX_ environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies CONFLUX_-prefixed environment variables
// over the file values. The set is deliberately small and explicit:
// the operational knobs that differ between otherwise identical
// deployments.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONFLUX_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("CONFLUX_SOCKET"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("CONFLUX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CONFLUX_PEERS_FILE"); v != "" {
		c.PeersFile = v
	}
	if v := os.Getenv("CONFLUX_LISTEN_TCP"); v != "" {
		c.Listen.TCP = v
	}
	if v := os.Getenv("CONFLUX_LISTEN_WS"); v != "" {
		c.Listen.WebSocket = v
	}
	if v := os.Getenv("CONFLUX_LISTEN_WEBRTC"); v != "" {
		c.Listen.WebRTCSignal = v
	}
	if v := os.Getenv("CONFLUX_STUN_SERVERS"); v != "" {
		c.STUNServers = strings.Split(v, ",")
	}
	if v := os.Getenv("CONFLUX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CONFLUX_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("CONFLUX_JOURNAL_KEY_FILE"); v != "" {
		c.Journal.KeyFile = v
	}
}

// ParseScheme resolves the configured content ID scheme.
func (c *Config) ParseScheme() (cid.Scheme, error) {
	return cid.SchemeByName(c.Scheme)
}

// ParseCompression resolves a compression name from the config file.
func ParseCompression(name string) (codec.CompressionTag, error) {
	switch name {
	case "", "none":
		return codec.CompressionNone, nil
	case "lz4":
		return codec.CompressionLZ4, nil
	case "zstd":
		return codec.CompressionZstd, nil
	}
	return codec.CompressionNone, fmt.Errorf("unknown compression %q (none, lz4, zstd)", name)
}

// JournalPath returns the journal file location under DataDir.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "conflux.journal")
}

// Validate checks the configuration for errors, naming each offending
// field.
func (c *Config) Validate() error {
	var errs []error

	if err := peerset.ValidateName(c.Name); err != nil {
		errs = append(errs, fmt.Errorf("name: %w", err))
	}
	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("socket_path is required"))
	}
	if c.DataDir == "" && c.Journal.Enabled {
		errs = append(errs, fmt.Errorf("data_dir is required when the journal is enabled"))
	}
	if _, err := c.ParseScheme(); err != nil {
		errs = append(errs, fmt.Errorf("scheme: %w", err))
	}
	if c.CacheCapacity < 0 {
		errs = append(errs, fmt.Errorf("cache_capacity must not be negative"))
	}
	if _, err := ParseCompression(c.Journal.Compression); err != nil {
		errs = append(errs, fmt.Errorf("journal.compression: %w", err))
	}
	if c.Journal.Seal && c.Journal.KeyFile == "" {
		errs = append(errs, fmt.Errorf("journal.key_file is required when journal.seal is set"))
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be positive"))
	}
	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_attempts must be positive"))
	}
	if c.Pipeline.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.initial_backoff must be positive"))
	}
	if c.Pipeline.MaxBackoff < c.Pipeline.InitialBackoff {
		errs = append(errs, fmt.Errorf("pipeline.max_backoff must not be below pipeline.initial_backoff"))
	}
	if _, err := ParseCompression(c.Pipeline.Compression); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.compression: %w", err))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of: debug, info, warn, error"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be one of: text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the data directory and the socket's parent
// directory. The socket directory is private: the control socket
// grants full hub access.
func (c *Config) EnsurePaths() error {
	if c.DataDir != "" {
		if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", c.DataDir, err)
		}
	}
	if dir := filepath.Dir(c.SocketPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
