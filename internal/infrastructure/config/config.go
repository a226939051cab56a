package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic LIFX
// bridge. All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	LIFX     LIFXConfig     `yaml:"lifx"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	// ID is the bridge identifier used in topics and health messages.
	ID string `yaml:"id"`

	// HealthInterval is how often health status is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// LIFXConfig contains LAN protocol settings for the device fleet.
type LIFXConfig struct {
	// Port is the UDP port LIFX devices listen on.
	Port int `yaml:"port"`

	// Interfaces restricts discovery to the named network interfaces.
	// Empty means every broadcast-capable interface.
	Interfaces []string `yaml:"interfaces"`

	// DiscoveryInterval is the seconds between discovery broadcasts.
	DiscoveryInterval int `yaml:"discovery_interval"`

	// ResponseTimeout is the milliseconds one attempt waits for a reply
	// before the request is resent.
	ResponseTimeout int `yaml:"response_timeout"`

	// RetryCount is the number of send attempts per request.
	RetryCount int `yaml:"retry_count"`

	// GracePeriod is the seconds of silence before a device is demoted
	// to unavailable.
	GracePeriod int `yaml:"grace_period"`

	// InflightCeiling caps concurrent outstanding requests per device.
	InflightCeiling int `yaml:"inflight_ceiling"`

	// StatePollInterval is the seconds between state polls per device.
	StatePollInterval int `yaml:"state_poll_interval"`

	// RefreshConcurrency caps concurrent post-discovery identity
	// refreshes.
	RefreshConcurrency int `yaml:"refresh_concurrency"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "lifx",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-lifx.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-lifx",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		LIFX: LIFXConfig{
			Port:               56700,
			DiscoveryInterval:  60,
			ResponseTimeout:    1000,
			RetryCount:         8,
			GracePeriod:        180,
			InflightCeiling:    8,
			StatePollInterval:  10,
			RefreshConcurrency: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("GRAYLOGIC_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// LIFX validation. The fleet treats zero as "use the default", so
	// only genuinely unusable values are rejected here.
	if c.LIFX.Port < 1 || c.LIFX.Port > 65535 {
		errs = append(errs, "lifx.port must be between 1 and 65535")
	}
	if c.LIFX.RetryCount < 1 {
		errs = append(errs, "lifx.retry_count must be at least 1")
	}
	if c.LIFX.ResponseTimeout < 50 {
		errs = append(errs, "lifx.response_timeout must be at least 50 milliseconds")
	}
	if c.LIFX.InflightCeiling < 1 || c.LIFX.InflightCeiling > 255 {
		errs = append(errs, "lifx.inflight_ceiling must be between 1 and 255")
	}
	if c.LIFX.GracePeriod < 1 {
		errs = append(errs, "lifx.grace_period must be at least 1 second")
	}
	if c.LIFX.DiscoveryInterval < 1 {
		errs = append(errs, "lifx.discovery_interval must be at least 1 second")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetDiscoveryInterval returns the discovery broadcast interval as a Duration.
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.LIFX.DiscoveryInterval) * time.Second
}

// GetResponseTimeout returns the per-attempt response timeout as a Duration.
func (c *Config) GetResponseTimeout() time.Duration {
	return time.Duration(c.LIFX.ResponseTimeout) * time.Millisecond
}

// GetGracePeriod returns the availability grace period as a Duration.
func (c *Config) GetGracePeriod() time.Duration {
	return time.Duration(c.LIFX.GracePeriod) * time.Second
}

// GetStatePollInterval returns the state poll interval as a Duration.
func (c *Config) GetStatePollInterval() time.Duration {
	return time.Duration(c.LIFX.StatePollInterval) * time.Second
}
