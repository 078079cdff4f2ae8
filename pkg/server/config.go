package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	DatabasePath string `toml:"database_path"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
}

type LimitsSection struct {
	MessageRateLimit int `toml:"message_rate_limit"`
	MaxMessageLength int `toml:"max_message_length"`
}

// ServerConfig is the runtime configuration the server consumes.
type ServerConfig struct {
	TCPPort          int
	HTTPPort         int
	DatabasePath     string
	LogLevel         string
	LogFormat        string
	MessageRateLimit int           // Chat messages allowed per rate window, 0 disables
	RateWindow       time.Duration // Sliding window for the rate limit
	MaxMessageLength int           // Maximum chat content length in bytes
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:          9000,
		HTTPPort:         8080,
		DatabasePath:     "~/.parley/parley.db",
		LogLevel:         "info",
		LogFormat:        "text",
		MessageRateLimit: 10,
		RateWindow:       time.Minute,
		MaxMessageLength: 4096,
	}
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      9000,
			HTTPPort:     8080,
			DatabasePath: "~/.parley/parley.db",
			LogLevel:     "info",
			LogFormat:    "text",
		},
		Limits: LimitsSection{
			MessageRateLimit: 10,
			MaxMessageLength: 4096,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default
// file if not found, and applies environment variable overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}
	path = expanded

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Best effort: a read-only filesystem still gets a running
		// server on defaults.
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern PARLEY_SECTION_KEY,
// e.g. PARLEY_SERVER_TCP_PORT=9001.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("PARLEY_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("PARLEY_SERVER_LOG_LEVEL"); val != "" {
		config.Server.LogLevel = val
	}
	if val := os.Getenv("PARLEY_SERVER_LOG_FORMAT"); val != "" {
		config.Server.LogFormat = val
	}
	if val := os.Getenv("PARLEY_LIMITS_MESSAGE_RATE_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MessageRateLimit = limit
		}
	}
	if val := os.Getenv("PARLEY_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = limit
		}
	}
	return config
}

// writeDefaultConfig writes a documented default config file.
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# Parley Server Configuration
# This file was auto-generated with default values.
# Restart the server for changes to take effect.
#
# Environment variables can override these settings:
# PARLEY_SECTION_KEY (e.g., PARLEY_SERVER_TCP_PORT=9001)

[server]
# Port for TCP client connections
tcp_port = 9000

# Port for the HTTP server (/ws WebSocket endpoint, /metrics)
# Set to 0 to disable
http_port = 8080

# Path to the SQLite database file
database_path = "~/.parley/parley.db"

# Log level: debug, info, warn, error
log_level = "info"

# Log format: text or json
log_format = "text"

[limits]
# Maximum chat messages per minute per session (0 = unlimited)
message_rate_limit = 10

# Maximum chat message length in bytes
max_message_length = 4096
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to the runtime ServerConfig.
// Zero values fall back to defaults so old config files keep working.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	cfg.HTTPPort = c.Server.HTTPPort
	if strings.TrimSpace(c.Server.DatabasePath) != "" {
		cfg.DatabasePath = c.Server.DatabasePath
	}
	if strings.TrimSpace(c.Server.LogLevel) != "" {
		cfg.LogLevel = c.Server.LogLevel
	}
	if strings.TrimSpace(c.Server.LogFormat) != "" {
		cfg.LogFormat = c.Server.LogFormat
	}
	if c.Limits.MessageRateLimit != 0 {
		cfg.MessageRateLimit = c.Limits.MessageRateLimit
	}
	if c.Limits.MaxMessageLength != 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded.
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
