// Package config loads peerchat settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bjarneo/peerchat/internal/util"
)

// Config holds all peerchat configuration.
type Config struct {
	Nickname string         `yaml:"nickname"`
	Network  NetworkConfig  `yaml:"network"`
	Download DownloadConfig `yaml:"download"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type NetworkConfig struct {
	Listen    string `yaml:"listen"`    // host:port the host command binds
	Transport string `yaml:"transport"` // tcp, ws
	WSPath    string `yaml:"ws_path"`
}

type DownloadConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Nickname: util.GenerateRandomNickname(),
		Network: NetworkConfig{
			Listen:    ":8080",
			Transport: TransportTCP,
			WSPath:    "/peer",
		},
		Download: DownloadConfig{
			Dir: defaultDownloadDir(),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(os.TempDir(), "peerchat.log"),
		},
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads", "peerchat")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "peerchat.yaml"
	}
	return filepath.Join(dir, "peerchat", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
// Environment variables win over both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PEERCHAT_NICKNAME"); v != "" {
		c.Nickname = v
	}
	if v := os.Getenv("PEERCHAT_LISTEN"); v != "" {
		c.Network.Listen = v
	}
	if v := os.Getenv("PEERCHAT_TRANSPORT"); v != "" {
		c.Network.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("PEERCHAT_DOWNLOAD_DIR"); v != "" {
		c.Download.Dir = v
	}
	if v := os.Getenv("PEERCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Nickname) == "" {
		return errors.New("nickname must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Network.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Network.Listen, err)
	}
	switch c.Network.Transport {
	case TransportTCP:
	case TransportWebSocket:
		if !strings.HasPrefix(c.Network.WSPath, "/") {
			return fmt.Errorf("ws_path must start with /, got %q", c.Network.WSPath)
		}
	default:
		return fmt.Errorf("unknown transport %q (want tcp or ws)", c.Network.Transport)
	}
	if c.Download.Dir == "" {
		return errors.New("download dir must not be empty")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
