package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
receiver:
  host: "192.168.1.50"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8090
history:
  path: "/tmp/test.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Receiver.Host != "192.168.1.50" {
		t.Errorf("Receiver.Host = %q, want %q", cfg.Receiver.Host, "192.168.1.50")
	}

	// Unspecified values keep their defaults.
	if cfg.Receiver.Port != 50000 {
		t.Errorf("Receiver.Port = %d, want default 50000", cfg.Receiver.Port)
	}

	if cfg.History.Path != "/tmp/test.db" {
		t.Errorf("History.Path = %q, want %q", cfg.History.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
receiver:
  host: ""
api:
  port: 8090
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty receiver.host, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Receiver.Host = "192.168.1.50"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing receiver host",
			mutate:  func(c *Config) { c.Receiver.Host = "" },
			wantErr: true,
		},
		{
			name:    "invalid receiver port",
			mutate:  func(c *Config) { c.Receiver.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid API port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name: "disabled API skips port check",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
		{
			name:    "history enabled without path",
			mutate:  func(c *Config) { c.History.Path = "" },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without token",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "http://localhost:8086" },
			wantErr: true,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Receiver.Command.MaxRetries = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DurationGetters(t *testing.T) {
	cfg := &Config{
		Receiver: ReceiverConfig{
			ConnectTimeout:    10,
			HeartbeatInterval: 20,
			IdleTimeout:       50,
			Reconnect:         ReconnectConfig{InitialDelay: 2, MaxDelay: 120},
			Command:           CommandConfig{DebounceMS: 50, AckTimeoutMS: 2000},
		},
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.GetConnectTimeout().Seconds(); got != 10 {
		t.Errorf("GetConnectTimeout() = %v, want 10", got)
	}
	if got := cfg.GetHeartbeatInterval().Seconds(); got != 20 {
		t.Errorf("GetHeartbeatInterval() = %v, want 20", got)
	}
	if got := cfg.GetMaxReconnectInterval().Seconds(); got != 120 {
		t.Errorf("GetMaxReconnectInterval() = %v, want 120", got)
	}
	if got := cfg.GetCommandDebounce().Milliseconds(); got != 50 {
		t.Errorf("GetCommandDebounce() = %v, want 50", got)
	}
	if got := cfg.GetAckTimeout().Milliseconds(); got != 2000 {
		t.Errorf("GetAckTimeout() = %v, want 2000", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("JBLBRIDGE_RECEIVER_HOST", "10.0.0.7")
	t.Setenv("JBLBRIDGE_RECEIVER_PORT", "50001")
	t.Setenv("JBLBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("JBLBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("JBLBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("JBLBRIDGE_HISTORY_PATH", "/custom/path.db")
	t.Setenv("JBLBRIDGE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Receiver.Host != "10.0.0.7" {
		t.Errorf("Receiver.Host = %q, want %q", cfg.Receiver.Host, "10.0.0.7")
	}
	if cfg.Receiver.Port != 50001 {
		t.Errorf("Receiver.Port = %d, want 50001", cfg.Receiver.Port)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.History.Path != "/custom/path.db" {
		t.Errorf("History.Path = %q, want %q", cfg.History.Path, "/custom/path.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Receiver.Port != 50000 {
		t.Errorf("defaultConfig Receiver.Port = %d, want 50000", cfg.Receiver.Port)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
	if cfg.Receiver.Command.DebounceMS != 50 {
		t.Errorf("defaultConfig DebounceMS = %d, want 50", cfg.Receiver.Command.DebounceMS)
	}
}
