package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("JBLBRIDGE_CONFIG")
	defer os.Setenv("JBLBRIDGE_CONFIG", originalEnv)

	os.Setenv("JBLBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingReceiverHost verifies run fails when no receiver host is set.
func TestRun_MissingReceiverHost(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
receiver:
  host: ""

mqtt:
  enabled: false

api:
  enabled: false

history:
  enabled: false

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("JBLBRIDGE_CONFIG")
	defer os.Setenv("JBLBRIDGE_CONFIG", originalEnv)
	os.Setenv("JBLBRIDGE_CONFIG", configPath)
	// Unset the host override so the empty config value stands.
	originalHost := os.Getenv("JBLBRIDGE_RECEIVER_HOST")
	defer os.Setenv("JBLBRIDGE_RECEIVER_HOST", originalHost)
	os.Unsetenv("JBLBRIDGE_RECEIVER_HOST")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without a receiver host")
	}
}

// TestRun_StartupAndShutdown runs the daemon with all surfaces disabled and
// an unreachable receiver, then cancels. The controller retries in the
// background; run() should still exit cleanly on cancellation.
func TestRun_StartupAndShutdown(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	dbPath := filepath.Join(tmpDir, "history.db")

	configContent := `
receiver:
  host: "127.0.0.1"
  port: 50000
  reconnect:
    initial_delay: 1
    max_delay: 2

mqtt:
  enabled: false

api:
  enabled: false

history:
  enabled: true
  path: "` + dbPath + `"
  retention_days: 1
  busy_timeout: 5

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("JBLBRIDGE_CONFIG")
	defer os.Setenv("JBLBRIDGE_CONFIG", originalEnv)
	os.Setenv("JBLBRIDGE_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() returned error: %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("JBLBRIDGE_CONFIG")
	defer os.Setenv("JBLBRIDGE_CONFIG", originalEnv)

	os.Unsetenv("JBLBRIDGE_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("JBLBRIDGE_CONFIG")
	defer os.Setenv("JBLBRIDGE_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("JBLBRIDGE_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
