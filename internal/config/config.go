// Package config handles configuration loading, validation, and persistence
// for the matchmaker.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultServerPort = 5555
	DefaultAPIPort    = 5080
	DefaultGamePort   = 28000

	// Engine build the default secret belongs to.
	DefaultGameVersion  = 21
	DefaultGameRevision = 2033
	DefaultGameSecret   = 257752152
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Server   ServerConfig   `json:"server"`
	Game     GameConfig     `json:"game"`
	Database DatabaseConfig `json:"database"`
	API      APIConfig      `json:"api"`
	Metrics  MetricsConfig  `json:"metrics"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Alerts   AlertsConfig   `json:"alerts"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig is the UDP endpoint game servers and clients talk to.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// GameConfig describes the engine build being served.
type GameConfig struct {
	Version     int    `json:"version"`
	Revision    int    `json:"revision"`
	Secret      uint32 `json:"secret"`
	DefaultPort int    `json:"default_port"`
}

// DatabaseConfig holds the address store settings.
type DatabaseConfig struct {
	Path               string `json:"path"`
	CleanupEnabled     bool   `json:"cleanup_enabled"`
	CleanupIntervalSec int    `json:"cleanup_interval_sec"`
	ExpireAfterSec     int    `json:"expire_after_sec"`
}

// CleanupInterval returns the expiry sweep period.
func (d DatabaseConfig) CleanupInterval() time.Duration {
	return time.Duration(d.CleanupIntervalSec) * time.Second
}

// ExpireAfter returns how long a silent server is kept.
func (d DatabaseConfig) ExpireAfter() time.Duration {
	return time.Duration(d.ExpireAfterSec) * time.Second
}

// APIConfig holds the admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AdminToken     string   `json:"admin_token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	IPWhitelist    []string `json:"ip_whitelist"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MetricsConfig controls the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

// AlertsConfig sends health alerts to a Discord-compatible webhook.
// Recovered checks are only reported when NotifyRecovery is set.
type AlertsConfig struct {
	Enabled        bool   `json:"enabled"`
	WebhookURL     string `json:"webhook_url"`
	NotifyRecovery bool   `json:"notify_recovery"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	JSON       bool   `json:"json"`
}

// LogConfig converts the section for util.InitLogger.
func (l LoggingConfig) LogConfig() util.LogConfig {
	return util.LogConfig{
		Level:      l.Level,
		Directory:  l.Directory,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		Console:    l.Console,
		JSON:       l.JSON,
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: DefaultServerPort,
		},
		Game: GameConfig{
			Version:     DefaultGameVersion,
			Revision:    DefaultGameRevision,
			Secret:      DefaultGameSecret,
			DefaultPort: DefaultGamePort,
		},
		Database: DatabaseConfig{
			Path:               filepath.Join("data", "matchmaker.db"),
			CleanupEnabled:     true,
			CleanupIntervalSec: 600,
			ExpireAfterSec:     3600,
		},
		API: APIConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
			TLSCertFile:  filepath.Join(DefaultConfigDir, "tls", "cert.pem"),
			TLSKeyFile:   filepath.Join(DefaultConfigDir, "tls", "key.pem"),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "matchmaker",
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			ClientID:    "matchmaker",
			TopicPrefix: "matchmaker",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file in configDir, creating it with
// defaults if it does not exist.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file picks up fields added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server section.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetGame returns a copy of the game section.
func (c *Config) GetGame() GameConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Game
}

// GetDatabase returns a copy of the database section.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	api.IPWhitelist = append([]string(nil), c.API.IPWhitelist...)
	return api
}

// GetMetrics returns a copy of the metrics section.
func (c *Config) GetMetrics() MetricsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Metrics
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetAlerts returns a copy of the alerts section.
func (c *Config) GetAlerts() AlertsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Alerts
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// SetLogLevel overrides the configured level, e.g. from a command line flag.
func (c *Config) SetLogLevel(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logging.Level = level
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
