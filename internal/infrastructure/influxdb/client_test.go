package influxdb_test

import (
	"errors"
	"testing"

	"github.com/aviolabs/jblbridge/internal/infrastructure/config"
	"github.com/aviolabs/jblbridge/internal/infrastructure/influxdb"
)

func TestConnectDisabled(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1", // Nothing listens here
		Token:   "token",
		Org:     "org",
		Bucket:  "bucket",
	}

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestZeroValueClientIsSafe(t *testing.T) {
	var c influxdb.Client

	// Writers and lifecycle methods must be no-ops when never connected.
	c.WriteStateMetric("volume", 1)
	c.WriteConnectionEvent("connected")
	c.WriteLinkStats(map[string]interface{}{"frames_tx": 1})
	c.Flush()
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true on zero value")
	}
}
