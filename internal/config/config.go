// Package config loads the server configuration from a JSON file or the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level shiftdesk configuration.
type Config struct {
	Server     ServerConfig `json:"server"`
	DataDir    string       `json:"data_dir"`
	ArchiveDir string       `json:"archive_dir,omitempty"`
	CatalogDir string       `json:"catalog_dir,omitempty"`
	SurveyDir  string       `json:"survey_dir,omitempty"`
	TuningFile string       `json:"tuning_file,omitempty"`
	AdminKey   string       `json:"admin_key,omitempty"`
	Slack      *SlackConfig `json:"slack,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// SlackConfig holds the researcher-notification channel.
type SlackConfig struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with the
// SHIFTDESK_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getenv("SHIFTDESK_HOST", "0.0.0.0"),
			Port: getenvInt("SHIFTDESK_PORT", 3001),
		},
		DataDir:    getenv("SHIFTDESK_DATA_DIR", "/data"),
		CatalogDir: os.Getenv("SHIFTDESK_CATALOG_DIR"),
		SurveyDir:  os.Getenv("SHIFTDESK_SURVEY_DIR"),
		TuningFile: os.Getenv("SHIFTDESK_TUNING_FILE"),
		AdminKey:   os.Getenv("SHIFTDESK_ADMIN_KEY"),
	}
	if origins := os.Getenv("SHIFTDESK_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if token := os.Getenv("SHIFTDESK_SLACK_TOKEN"); token != "" {
		cfg.Slack = &SlackConfig{
			Token:   token,
			Channel: getenv("SHIFTDESK_SLACK_CHANNEL", "#experiment"),
		}
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3001
	}
	if cfg.ArchiveDir == "" && cfg.DataDir != "" {
		cfg.ArchiveDir = cfg.DataDir + "/archive"
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Slack != nil {
		if c.Slack.Token == "" {
			errs = append(errs, "slack.token is required")
		}
		if c.Slack.Channel == "" {
			errs = append(errs, "slack.channel is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
