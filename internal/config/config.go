// Package config loads the YAML configuration file and applies the
// environment overrides the deployment contract defines.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Time      TimeConfig      `yaml:"time"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL runs the
// server on the in-memory stores only.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// TimeConfig pins the clock model: Zone is the local zone all persisted
// times live in; UseUTC moves cron evaluation to UTC.
type TimeConfig struct {
	Zone   string `yaml:"zone"`
	UseUTC bool   `yaml:"use_utc"`
}

// SchedulerConfig holds the two liveness timeouts, in seconds.
type SchedulerConfig struct {
	WebsocketTimeoutSeconds int `yaml:"websocket_timeout_seconds"`
	ExecutionTimeoutSeconds int `yaml:"execution_timeout_seconds"`
}

// NotifyConfig selects and configures the outbound mail path. When
// SMTP.Host is set the SMTP path is used; otherwise the HTTP gateway at
// APIURL.
type NotifyConfig struct {
	Email  string     `yaml:"email"`
	APIURL string     `yaml:"api_url"`
	SMTP   SMTPConfig `yaml:"smtp"`
}

// SMTPConfig holds direct-SMTP delivery settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Password string `yaml:"password"`
}

// LoggingConfig holds file logging and rotation settings.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Level      string `yaml:"level"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 10080,
		},
		Time: TimeConfig{
			Zone:   "Asia/Shanghai",
			UseUTC: false,
		},
		Scheduler: SchedulerConfig{
			WebsocketTimeoutSeconds: 120,
			ExecutionTimeoutSeconds: 120,
		},
		Logging: LoggingConfig{
			File:       "logs/foreman.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Level:      "info",
		},
	}
}

// Load reads a YAML configuration file at path, then applies environment
// overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns defaults with environment
// overrides applied. Any other error is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = defaults()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the deployment-contract environment variables. Env
// always wins over the file.
func (c *Config) applyEnv() {
	if v, ok := envInt("WEBSOCKET_TIMEOUT_SECONDS"); ok {
		c.Scheduler.WebsocketTimeoutSeconds = v
	}
	if v, ok := envInt("EXECUTION_TIMEOUT_SECONDS"); ok {
		c.Scheduler.ExecutionTimeoutSeconds = v
	}
	if v, ok := envString("TIME_ZONE"); ok {
		c.Time.Zone = v
	}
	if v, ok := envBool("USE_TZ"); ok {
		c.Time.UseUTC = v
	}
	if v, ok := envString("NOTIFICATION_EMAIL"); ok {
		c.Notify.Email = v
	}
	if v, ok := envString("EMAIL_API_URL"); ok {
		c.Notify.APIURL = v
	}
	if v, ok := envString("DATABASE_URL"); ok {
		c.Database.URL = v
	}
	if v, ok := envInt("SERVER_PORT"); ok {
		c.Server.Port = v
	}
}

// Validate enforces the required settings: a destination address always,
// and a mail gateway URL unless direct SMTP is configured.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Notify.Email) == "" {
		return errors.New("NOTIFICATION_EMAIL (notify.email) is required")
	}
	if strings.TrimSpace(c.Notify.APIURL) == "" && strings.TrimSpace(c.Notify.SMTP.Host) == "" {
		return errors.New("EMAIL_API_URL (notify.api_url) is required unless notify.smtp.host is set")
	}
	if c.Scheduler.WebsocketTimeoutSeconds <= 0 {
		return fmt.Errorf("websocket timeout must be positive, got %d", c.Scheduler.WebsocketTimeoutSeconds)
	}
	if c.Scheduler.ExecutionTimeoutSeconds <= 0 {
		return fmt.Errorf("execution timeout must be positive, got %d", c.Scheduler.ExecutionTimeoutSeconds)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	v, ok := envString(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v, ok := envString(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
