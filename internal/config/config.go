package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/cdnmirror/internal/logging"
	"github.com/ligustah/cdnmirror/internal/progress"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "CDNMIRROR_"

// Config defines configuration for the cdnmirror CLI.
type Config struct {
	IndexURL      string        `yaml:"index_url"`
	Output        string        `yaml:"output"`
	FileList      string        `yaml:"filelist"`
	Concurrency   int           `yaml:"concurrency"`
	BufferSize    int64         `yaml:"buffer_size"`
	Progress      bool          `yaml:"progress"`
	Timeout       time.Duration `yaml:"timeout"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	UserAgent     string        `yaml:"user_agent"`
	AllowFailures bool          `yaml:"allow_failures"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Concurrency: 15,
		BufferSize:  32 * 1024, // 32KiB
		Progress:    true,
		Timeout:     30 * time.Second,
		LogLevel:    "info",
		LogFormat:   logging.FormatConsole,
		UserAgent:   "cdnmirror",
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
// Booleans are pointers so an explicit false can be told from an absent key.
type yamlConfig struct {
	IndexURL      string `yaml:"index_url"`
	Output        string `yaml:"output"`
	FileList      string `yaml:"filelist"`
	Concurrency   int    `yaml:"concurrency"`
	BufferSize    string `yaml:"buffer_size"`
	Progress      *bool  `yaml:"progress"`
	Timeout       string `yaml:"timeout"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	UserAgent     string `yaml:"user_agent"`
	AllowFailures *bool  `yaml:"allow_failures"`
}

// LoadFromFile loads configuration from a YAML file. Keys absent from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.IndexURL != "" {
		cfg.IndexURL = yc.IndexURL
	}
	if yc.Output != "" {
		cfg.Output = yc.Output
	}
	if yc.FileList != "" {
		cfg.FileList = yc.FileList
	}
	if yc.Concurrency != 0 {
		cfg.Concurrency = yc.Concurrency
	}
	if yc.BufferSize != "" {
		size, err := progress.ParseBytes(yc.BufferSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse buffer_size: %w", err)
		}
		cfg.BufferSize = size
	}
	if yc.Progress != nil {
		cfg.Progress = *yc.Progress
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.LogFormat != "" {
		cfg.LogFormat = yc.LogFormat
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.AllowFailures != nil {
		cfg.AllowFailures = *yc.AllowFailures
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CDNMIRROR_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvPrefix + "INDEX_URL"); v != "" {
		c.IndexURL = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT"); v != "" {
		c.Output = v
	}
	if v := os.Getenv(EnvPrefix + "FILELIST"); v != "" {
		c.FileList = v
	}
	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sCONCURRENCY: %w", EnvPrefix, err)
		}
		c.Concurrency = n
	}
	if v := os.Getenv(EnvPrefix + "BUFFER_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sBUFFER_SIZE: %w", EnvPrefix, err)
		}
		c.BufferSize = size
	}
	if v := os.Getenv(EnvPrefix + "PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sTIMEOUT: %w", EnvPrefix, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv(EnvPrefix + "USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv(EnvPrefix + "ALLOW_FAILURES"); v != "" {
		c.AllowFailures = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.IndexURL == "" {
		return errors.New("config: index URL is required")
	}
	if c.Output == "" {
		return errors.New("config: output is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.BufferSize <= 0 {
		return errors.New("config: buffer_size must be positive")
	}
	if c.Timeout < 0 {
		return errors.New("config: timeout must not be negative")
	}
	if c.LogFormat != logging.FormatConsole && c.LogFormat != logging.FormatJSON {
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored, so booleans can only be switched on.
func (c Config) Merge(override Config) Config {
	if override.IndexURL != "" {
		c.IndexURL = override.IndexURL
	}
	if override.Output != "" {
		c.Output = override.Output
	}
	if override.FileList != "" {
		c.FileList = override.FileList
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.BufferSize != 0 {
		c.BufferSize = override.BufferSize
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		c.LogFormat = override.LogFormat
	}
	if override.UserAgent != "" {
		c.UserAgent = override.UserAgent
	}
	if override.AllowFailures {
		c.AllowFailures = override.AllowFailures
	}
	return c
}
