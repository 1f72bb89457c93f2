package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/energizer-project/matchmaker/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks every section of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validatePort(cfg.Server.Port, "server.port", result)
	if cfg.Server.Host != "" && net.ParseIP(cfg.Server.Host) == nil && cfg.Server.Host != "localhost" {
		result.AddWarning("server.host", fmt.Sprintf("%q is not an IP address and will be resolved at startup", cfg.Server.Host))
	}

	validateGame(&cfg.Game, result)
	validateDatabase(&cfg.Database, result)
	validateAPI(&cfg.API, result)

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Namespace) == "" {
		result.AddError("metrics.namespace", "metrics namespace is required when enabled")
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if strings.TrimSpace(cfg.MQTT.TopicPrefix) == "" {
			result.AddError("mqtt.topic_prefix", "MQTT topic prefix is required when enabled")
		}
	}

	if cfg.Alerts.Enabled {
		u, err := url.Parse(cfg.Alerts.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result.AddError("alerts.webhook_url", "alerts need an http(s) webhook URL")
		}
	}

	return result
}

func validateGame(game *GameConfig, result *ValidationResult) {
	if game.Secret == 0 {
		result.AddError("game.secret", "protocol secret must not be zero")
	} else if game.Secret != protocol.DefaultSecret {
		result.AddWarning("game.secret",
			fmt.Sprintf("secret %d differs from the v%d default; clients must be built with the same value",
				game.Secret, DefaultGameVersion))
	}
	validatePort(game.DefaultPort, "game.default_port", result)
}

func validateDatabase(db *DatabaseConfig, result *ValidationResult) {
	if strings.TrimSpace(db.Path) == "" {
		result.AddError("database.path", "database path is required")
	}
	if !db.CleanupEnabled {
		return
	}
	if db.CleanupIntervalSec < 1 {
		result.AddError("database.cleanup_interval_sec", "cleanup interval must be at least 1 second")
	} else if db.CleanupIntervalSec < 10 {
		result.AddWarning("database.cleanup_interval_sec",
			"cleanup interval less than 10s keeps the database busy")
	}
	if db.ExpireAfterSec < 1 {
		result.AddError("database.expire_after_sec", "expiry must be at least 1 second")
	} else if db.ExpireAfterSec < db.CleanupIntervalSec {
		result.AddWarning("database.expire_after_sec",
			"expiry shorter than the cleanup interval; servers may outlive it by up to one interval")
	}
}

func validateAPI(api *APIConfig, result *ValidationResult) {
	if !api.Enabled {
		return
	}

	validatePort(api.Port, "api.port", result)

	for _, entry := range api.IPWhitelist {
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			result.AddError("api.ip_whitelist", fmt.Sprintf("%q is neither an IP nor a CIDR", entry))
		}
	}

	if api.TLSEnabled {
		if strings.TrimSpace(api.TLSCertFile) == "" {
			result.AddError("api.tls_cert_file", "TLS certificate file is required when TLS is enabled")
		}
		if strings.TrimSpace(api.TLSKeyFile) == "" {
			result.AddError("api.tls_key_file", "TLS key file is required when TLS is enabled")
		}
	}

	if api.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}

	if api.AdminToken == "" && !isLoopback(api.Host) {
		result.AddWarning("api.admin_token",
			fmt.Sprintf("admin endpoints on %s have no token", api.Host))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsUDPPortAvailable checks if a UDP port can be bound on host.
func IsUDPPortAvailable(host string, port int) bool {
	conn, err := net.ListenPacket("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// IsTCPPortAvailable checks if a TCP port can be bound on host.
func IsTCPPortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
