package config

import (
	"fmt"
	"strings"
	"time"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port    int    `json:"port"`
	GinMode string `json:"gin_mode"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
}

func (c ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Port)
	}
	switch c.GinMode {
	case "debug", "release", "test":
		return nil
	}
	return fmt.Errorf("unknown server.gin_mode %s", c.GinMode)
}

// DatabaseConfig selects the store. A DSN means Postgres, otherwise SQLite at Path.
type DatabaseConfig struct {
	DSN  string `json:"dsn"`
	Path string `json:"path"`
	// SlowQueryMS logs queries slower than this through the service logger.
	SlowQueryMS int `json:"slow_query_ms"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "relief.db"
	}
	if c.SlowQueryMS == 0 {
		c.SlowQueryMS = 200
	}
}

func (c DatabaseConfig) Validate() error {
	if c.SlowQueryMS < 0 {
		return fmt.Errorf("database.slow_query_ms must not be negative")
	}
	return nil
}

// AuthConfig holds token signing and the bootstrap administrator.
type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenTTLHours int    `json:"token_ttl_hours"`
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"admin_password"`
}

func (c *AuthConfig) SetDefaults() {
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 24
	}
	if c.AdminUsername == "" {
		c.AdminUsername = "admin"
	}
}

func (c AuthConfig) Validate() error {
	if c.TokenTTLHours < 0 {
		return fmt.Errorf("auth.token_ttl_hours must not be negative")
	}
	return nil
}

// TokenTTL is the lifetime of issued operator tokens.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// AssignmentConfig tunes the coordinator.
type AssignmentConfig struct {
	MaxActiveTasks     int `json:"max_active_tasks"`
	LockTimeoutSeconds int `json:"lock_timeout_seconds"`
}

func (c *AssignmentConfig) SetDefaults() {
	if c.MaxActiveTasks == 0 {
		c.MaxActiveTasks = 1
	}
	if c.LockTimeoutSeconds == 0 {
		c.LockTimeoutSeconds = 10
	}
}

func (c AssignmentConfig) Validate() error {
	if c.MaxActiveTasks < 1 {
		return fmt.Errorf("assignment.max_active_tasks must be at least 1")
	}
	if c.LockTimeoutSeconds < 0 {
		return fmt.Errorf("assignment.lock_timeout_seconds must not be negative")
	}
	return nil
}

// LockTimeout bounds how long one call may wait for a request lock.
func (c AssignmentConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// MQTTConfig enables assignment event publishing when Broker is set.
type MQTTConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
}

func (c *MQTTConfig) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "relief-dispatch"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "relief"
	}
}

func (c MQTTConfig) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// AlertsConfig selects the alert board backend: "sql" (same database) or "mongo".
type AlertsConfig struct {
	Backend       string `json:"backend"`
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
}

func (c *AlertsConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sql"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "relief"
	}
}

func (c AlertsConfig) Validate() error {
	switch c.Backend {
	case "sql":
		return nil
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("alerts.mongo_uri is required for the mongo backend")
		}
		return nil
	}
	return fmt.Errorf("unknown alerts.backend %s", c.Backend)
}

// MetricsConfig toggles the Prometheus endpoint and where it is mounted.
type MetricsConfig struct {
	Disabled bool   `json:"disabled"`
	Path     string `json:"path"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c MetricsConfig) Validate() error {
	if c.Disabled {
		return nil
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Path)
	}
	return nil
}
