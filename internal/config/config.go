// Package config provides layered configuration loading for paseod.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the daemon.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Paseo   PaseoConfig   `mapstructure:"paseo"`
	Relay   RelayConfig   `mapstructure:"relay"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds local WebSocket/HTTP transport configuration.
type ServerConfig struct {
	Host               string   `mapstructure:"host"`
	Port               int      `mapstructure:"port"`
	ReadTimeout        int      `mapstructure:"readTimeout"`  // seconds
	WriteTimeout       int      `mapstructure:"writeTimeout"` // seconds
	CORSAllowedOrigins []string `mapstructure:"corsAllowedOrigins"`
	StaticDir          string   `mapstructure:"staticDir"`
}

// PaseoConfig holds the daemon's on-disk state directory layout.
type PaseoConfig struct {
	// Home is the root state directory ($paseoHome): registry snapshot,
	// daemon keypair, and per-provider resume subdirectories.
	Home string `mapstructure:"home"`
	// AgentRegistryPath overrides the default "<home>/agents.json" location.
	AgentRegistryPath string `mapstructure:"agentRegistryPath"`
}

// RelayConfig holds the encrypted relay client configuration.
type RelayConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	ServerID string `mapstructure:"serverId"`
}

// NATSConfig holds optional NATS event-bus configuration. An empty URL
// selects the in-process bus; the Session hub observes lifecycle events
// directly regardless of this setting.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// EventsConfig holds event bus namespace configuration.
type EventsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns "json" under an orchestrated/production
// environment and "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("PASEO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultPaseoHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".paseo")
	}
	return ".paseo"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.corsAllowedOrigins", []string{})
	v.SetDefault("server.staticDir", "")

	v.SetDefault("paseo.home", defaultPaseoHome())
	v.SetDefault("paseo.agentRegistryPath", "")

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.url", "")
	v.SetDefault("relay.serverId", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "paseod")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("events.namespace", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from defaults, an optional config file, and
// PASEO_-prefixed environment variables.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration rooted at configPath in addition to the
// current directory and /etc/paseo/.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PASEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("paseo.home", "PASEO_HOME")
	_ = v.BindEnv("logging.level", "PASEO_LOG_LEVEL")
	_ = v.BindEnv("events.namespace", "PASEO_EVENTS_NAMESPACE")
	_ = v.BindEnv("relay.url", "PASEO_RELAY_URL")
	_ = v.BindEnv("relay.serverId", "PASEO_RELAY_SERVER_ID")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/paseo/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Paseo.AgentRegistryPath == "" {
		cfg.Paseo.AgentRegistryPath = filepath.Join(cfg.Paseo.Home, "agents.json")
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that required configuration fields are sane.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Relay.Enabled && cfg.Relay.URL == "" {
		errs = append(errs, "relay.url is required when relay.enabled is true")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
