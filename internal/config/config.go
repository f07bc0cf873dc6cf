// Package config loads application configuration from ~/.rbai/config.yaml,
// creating the file with defaults on first run. Values can be overridden by
// RBAI_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the rbAI backend.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Data    DataConfig    `mapstructure:"data" yaml:"data"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Port the HTTP server listens on
	Port int `mapstructure:"port" yaml:"port"`
	// CORSOrigin is the allowed frontend origin
	CORSOrigin string `mapstructure:"cors_origin" yaml:"cors_origin"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LLMConfig contains settings for the completion provider.
type LLMConfig struct {
	// Endpoint is the OpenAI-compatible base URL
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// APIKey authenticates with the provider. Usually set via RBAI_LLM_API_KEY.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the completion model identifier
	Model string `mapstructure:"model" yaml:"model"`
	// MaxInputTokens is the soft input budget (warn only)
	MaxInputTokens int `mapstructure:"max_input_tokens" yaml:"max_input_tokens"`
	// MaxOutputTokens caps completion length
	MaxOutputTokens int `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	// RequestsPerMinute is the client-side rate limit
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	// Burst allows short spikes above the sustained rate
	Burst int `mapstructure:"burst" yaml:"burst"`
	// ConcurrentRequests caps in-flight provider calls
	ConcurrentRequests int `mapstructure:"concurrent_requests" yaml:"concurrent_requests"`
}

// SandboxConfig contains execution isolation limits.
type SandboxConfig struct {
	// Image is the container image used for execution
	Image string `mapstructure:"image" yaml:"image"`
	// MemoryBytes caps container memory
	MemoryBytes int64 `mapstructure:"memory_bytes" yaml:"memory_bytes"`
	// CPUQuota in microseconds per 100ms period (50000 = half a core)
	CPUQuota int64 `mapstructure:"cpu_quota" yaml:"cpu_quota"`
	// Timeout is the wall-clock execution limit
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DataConfig contains persistence settings.
type DataConfig struct {
	// Dir is the directory holding the SQLite event database
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// File is an optional log file path; empty logs to stderr
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// Pretty enables the human-readable console writer
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			CORSOrigin:      "http://localhost:5173",
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Endpoint:           "https://api.groq.com/openai/v1",
			Model:              "llama-3.3-70b-versatile",
			MaxInputTokens:     1000,
			MaxOutputTokens:    500,
			RequestsPerMinute:  60,
			Burst:              10,
			ConcurrentRequests: 5,
		},
		Sandbox: SandboxConfig{
			Image:       "python:3.10-alpine",
			MemoryBytes: 128 * 1024 * 1024,
			CPUQuota:    50000,
			Timeout:     5 * time.Second,
		},
		Data: DataConfig{
			Dir: "~/.rbai",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads configuration from the default location (~/.rbai/config.yaml)
// and merges with environment variables. If no config file exists, it
// creates one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".rbai", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables, creating the file with defaults when missing.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: RBAI_LLM_API_KEY overrides llm.api_key.
	v.SetEnvPrefix("RBAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Data.Dir = expandPath(cfg.Data.Dir)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint cannot be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model cannot be empty")
	}
	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image cannot be empty")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive")
	}
	if c.Sandbox.MemoryBytes < 4*1024*1024 {
		return fmt.Errorf("sandbox.memory_bytes too small: %d", c.Sandbox.MemoryBytes)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// writeConfigFile writes a Config struct to a YAML file. Uses
// gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
