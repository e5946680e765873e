package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Audioflow bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audioflow AudioflowConfig `yaml:"audioflow"`
}

// DatabaseConfig contains SQLite database settings.
// The database backs the device settings store.
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// When enabled, zone on/off transitions are recorded as time series.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"` // stdout, stderr, file
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Only used when output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// AudioflowConfig contains the speaker-switch bridge settings.
type AudioflowConfig struct {
	// BridgeID identifies this bridge in health messages.
	BridgeID string `yaml:"bridge_id"`

	// PollInterval is the reconciliation cadence per device.
	// Default: 5s
	PollInterval time.Duration `yaml:"poll_interval"`

	// RequestTimeout bounds every HTTP request to a switch.
	// Default: 3s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PassTimeout bounds one full reconciliation pass.
	// Default: 30s
	PassTimeout time.Duration `yaml:"pass_timeout"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30
	HealthInterval int `yaml:"health_interval"`

	// RepairAfterFailures is the number of consecutive failed passes after
	// which the device is looked up again by serial. 0 disables repair.
	// Default: 3
	RepairAfterFailures int `yaml:"repair_after_failures"`

	Discovery DiscoveryConfig `yaml:"discovery"`

	// Devices are statically configured switches. Paired switches are
	// loaded from the settings store in addition to these.
	Devices []DeviceConfig `yaml:"devices"`
}

// DiscoveryConfig contains UDP discovery settings.
type DiscoveryConfig struct {
	Port             int           `yaml:"port"`
	BroadcastAddress string        `yaml:"broadcast_address"`
	PairingWindow    time.Duration `yaml:"pairing_window"`
	RepairWindow     time.Duration `yaml:"repair_window"`
}

// DeviceConfig describes one statically configured switch.
type DeviceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Model   string `yaml:"model"`
	Serial  string `yaml:"serial"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_AUDIOFLOW_SECTION_KEY
// For example: GRAYLOGIC_AUDIOFLOW_DATABASE_PATH, GRAYLOGIC_AUDIOFLOW_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/audioflow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-audioflow",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8091,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/audioflow.log",
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		Audioflow: AudioflowConfig{
			BridgeID:            "audioflow",
			PollInterval:        5 * time.Second,
			RequestTimeout:      3 * time.Second,
			PassTimeout:         30 * time.Second,
			HealthInterval:      30,
			RepairAfterFailures: 3,
			Discovery: DiscoveryConfig{
				Port:             10499,
				BroadcastAddress: "255.255.255.255",
				PairingWindow:    3 * time.Second,
				RepairWindow:     5 * time.Second,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_AUDIOFLOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_AUDIOFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_AUDIOFLOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_AUDIOFLOW_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_AUDIOFLOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_AUDIOFLOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_AUDIOFLOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Polling
	if v := os.Getenv("GRAYLOGIC_AUDIOFLOW_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Audioflow.PollInterval = d
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	af := c.Audioflow
	if af.BridgeID == "" {
		errs = append(errs, "audioflow.bridge_id is required")
	}
	if af.PollInterval <= 0 {
		errs = append(errs, "audioflow.poll_interval must be positive")
	}
	if af.RequestTimeout <= 0 {
		errs = append(errs, "audioflow.request_timeout must be positive")
	}
	if af.RepairAfterFailures < 0 {
		errs = append(errs, "audioflow.repair_after_failures cannot be negative")
	}
	if af.Discovery.Port < 1 || af.Discovery.Port > 65535 {
		errs = append(errs, "audioflow.discovery.port must be between 1 and 65535")
	}

	seen := make(map[string]bool, len(af.Devices))
	for i, d := range af.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("audioflow.devices[%d].id is required", i))
		} else if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("audioflow.devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
		if d.Address == "" {
			errs = append(errs, fmt.Sprintf("audioflow.devices[%d].address is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetHealthInterval returns the bridge health interval as a Duration.
func (a AudioflowConfig) GetHealthInterval() time.Duration {
	if a.HealthInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.HealthInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
