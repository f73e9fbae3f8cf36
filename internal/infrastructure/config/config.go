package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the JBL bridge daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Receiver  ReceiverConfig  `yaml:"receiver"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	History   HistoryConfig   `yaml:"history"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ReceiverConfig contains the AV receiver connection settings.
type ReceiverConfig struct {
	// Host is the receiver's IP address or hostname. Required.
	Host string `yaml:"host"`

	// Port is the IP control port. The receiver listens on 50000.
	Port int `yaml:"port"`

	// Timeouts in seconds.
	ConnectTimeout    int `yaml:"connect_timeout"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	IdleTimeout       int `yaml:"idle_timeout"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Command   CommandConfig   `yaml:"command"`
}

// ReconnectConfig contains reconnection backoff settings (seconds).
type ReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// CommandConfig contains command pipeline settings.
type CommandConfig struct {
	// DebounceMS is the per-axis coalescing window in milliseconds.
	DebounceMS int `yaml:"debounce_ms"`

	// AckTimeoutMS is the acknowledgment wait per attempt in milliseconds.
	AckTimeoutMS int `yaml:"ack_timeout_ms"`

	// MaxRetries is the number of resends for an unacknowledged command.
	MaxRetries int `yaml:"max_retries"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
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
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path         string `yaml:"path"`
	PingInterval int    `yaml:"ping_interval"`
	PongTimeout  int    `yaml:"pong_timeout"`
}

// HistoryConfig contains the SQLite state history settings.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// RetentionDays prunes history older than this. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`

	// BusyTimeout in seconds for SQLite lock contention.
	BusyTimeout int `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
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
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file log settings.
type FileLoggingConfig struct {
	// Path enables file logging when non-empty.
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // Megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // Days
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: JBLBRIDGE_SECTION_KEY
// For example: JBLBRIDGE_RECEIVER_HOST, JBLBRIDGE_MQTT_PASSWORD
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
		Receiver: ReceiverConfig{
			Port:              50000,
			ConnectTimeout:    10,
			HeartbeatInterval: 20,
			IdleTimeout:       50,
			Reconnect: ReconnectConfig{
				InitialDelay: 2,
				MaxDelay:     120,
			},
			Command: CommandConfig{
				DebounceMS:   50,
				AckTimeoutMS: 2000,
				MaxRetries:   2,
			},
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "jblbridge",
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
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:         "/ws",
			PingInterval: 30,
			PongTimeout:  10,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/jblbridge.db",
			RetentionDays: 30,
			BusyTimeout:   5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: JBLBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Receiver
	if v := os.Getenv("JBLBRIDGE_RECEIVER_HOST"); v != "" {
		cfg.Receiver.Host = v
	}
	if v := os.Getenv("JBLBRIDGE_RECEIVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Receiver.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("JBLBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("JBLBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("JBLBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("JBLBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// History
	if v := os.Getenv("JBLBRIDGE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// InfluxDB
	if v := os.Getenv("JBLBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Receiver.Host == "" {
		errs = append(errs, "receiver.host is required (set JBLBRIDGE_RECEIVER_HOST environment variable)")
	}
	if c.Receiver.Port < 1 || c.Receiver.Port > 65535 {
		errs = append(errs, "receiver.port must be between 1 and 65535")
	}
	if c.Receiver.Command.MaxRetries < 0 {
		errs = append(errs, "receiver.command.max_retries must not be negative")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set JBLBRIDGE_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the receiver connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Receiver.ConnectTimeout) * time.Second
}

// GetHeartbeatInterval returns the heartbeat interval as a Duration.
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Receiver.HeartbeatInterval) * time.Second
}

// GetIdleTimeout returns the receiver idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Receiver.IdleTimeout) * time.Second
}

// GetReconnectInterval returns the initial reconnect delay as a Duration.
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.Receiver.Reconnect.InitialDelay) * time.Second
}

// GetMaxReconnectInterval returns the reconnect backoff cap as a Duration.
func (c *Config) GetMaxReconnectInterval() time.Duration {
	return time.Duration(c.Receiver.Reconnect.MaxDelay) * time.Second
}

// GetCommandDebounce returns the command coalescing window as a Duration.
func (c *Config) GetCommandDebounce() time.Duration {
	return time.Duration(c.Receiver.Command.DebounceMS) * time.Millisecond
}

// GetAckTimeout returns the command acknowledgment timeout as a Duration.
func (c *Config) GetAckTimeout() time.Duration {
	return time.Duration(c.Receiver.Command.AckTimeoutMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleHTTPTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleHTTPTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
