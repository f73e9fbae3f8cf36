// jblbridged - JBL MA-series AV receiver bridge daemon
//
// This is the main entry point for the bridge. It maintains the TCP control
// channel to the receiver and exposes it over MQTT, a REST API and a
// WebSocket event stream, with optional state history (SQLite) and telemetry
// (InfluxDB).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aviolabs/jblbridge/internal/api"
	"github.com/aviolabs/jblbridge/internal/bridge"
	"github.com/aviolabs/jblbridge/internal/history"
	"github.com/aviolabs/jblbridge/internal/infrastructure/config"
	"github.com/aviolabs/jblbridge/internal/infrastructure/database"
	"github.com/aviolabs/jblbridge/internal/infrastructure/influxdb"
	"github.com/aviolabs/jblbridge/internal/infrastructure/logging"
	"github.com/aviolabs/jblbridge/internal/infrastructure/mqtt"
	"github.com/aviolabs/jblbridge/internal/jbl"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting jblbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Build the receiver control stack
	controller, err := jbl.NewController(jbl.ControllerConfig{
		Client: jbl.ClientConfig{
			Host:                 cfg.Receiver.Host,
			Port:                 cfg.Receiver.Port,
			ConnectTimeout:       cfg.GetConnectTimeout(),
			HeartbeatInterval:    cfg.GetHeartbeatInterval(),
			IdleTimeout:          cfg.GetIdleTimeout(),
			ReconnectInterval:    cfg.GetReconnectInterval(),
			MaxReconnectInterval: cfg.GetMaxReconnectInterval(),
		},
		Dispatcher: jbl.DispatcherConfig{
			Debounce:   cfg.GetCommandDebounce(),
			AckTimeout: cfg.GetAckTimeout(),
			MaxRetries: cfg.Receiver.Command.MaxRetries,
		},
	})
	if err != nil {
		return fmt.Errorf("creating receiver controller: %w", err)
	}
	controller.SetLogger(log)

	// State history (optional)
	var historyRepo history.Repository
	if cfg.History.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.History.Path,
			BusyTimeout: cfg.History.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening history database: %w", openErr)
		}
		defer func() {
			log.Info("closing history database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()
		log.Info("history database opened", "path", cfg.History.Path)

		repo, repoErr := history.NewSQLiteRepository(db.DB)
		if repoErr != nil {
			return fmt.Errorf("initialising history schema: %w", repoErr)
		}
		historyRepo = repo

		retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		recorder := history.NewRecorder(repo, retention, log)
		defer recorder.Close()
		controller.OnChange(recorder.OnChange)
	} else {
		log.Info("state history disabled")
	}

	// InfluxDB telemetry (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		controller.OnChange(telemetryObserver(influxClient))
		go linkStatsLoop(ctx, influxClient, controller)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT surface (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge := bridge.New(controller, mqttClient, bridge.Config{
			QoS: byte(cfg.MQTT.QoS),
		})
		mqttBridge.SetLogger(log)
		if startErr := mqttBridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer mqttBridge.Close()
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT disabled")
	}

	// REST API and WebSocket event stream (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log,
			Controller: controller,
			History:    historyRepo,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	} else {
		log.Info("API server disabled")
	}

	// Start the control channel last so every observer is registered before
	// the first state change arrives.
	if err := controller.Start(); err != nil {
		return fmt.Errorf("starting receiver controller: %w", err)
	}
	defer func() {
		log.Info("closing receiver connection")
		if closeErr := controller.Close(); closeErr != nil {
			log.Error("error closing receiver connection", "error", closeErr)
		}
	}()
	log.Info("receiver controller started",
		"host", cfg.Receiver.Host,
		"port", cfg.Receiver.Port,
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Receiver controller
	// 2. API server
	// 3. MQTT bridge, then MQTT client
	// 4. InfluxDB (if enabled)
	// 5. History recorder, then database

	log.Info("jblbridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses JBLBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("JBLBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// linkStatsInterval is how often control channel counters are recorded.
const linkStatsInterval = time.Minute

// linkStatsLoop periodically writes control channel counters to InfluxDB
// for connection quality trending.
func linkStatsLoop(ctx context.Context, client *influxdb.Client, controller *jbl.Controller) {
	ticker := time.NewTicker(linkStatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := controller.Stats()
			client.WriteLinkStats(map[string]interface{}{
				"frames_tx":      stats.Client.FramesTx,
				"frames_rx":      stats.Client.FramesRx,
				"frames_invalid": stats.Client.FramesInvalid,
				"frames_dropped": stats.Client.FramesDropped,
				"reconnects":     stats.Client.ReconnectsTotal,
				"commands_sent":  stats.Dispatcher.Sent,
				"retries":        stats.Dispatcher.Retries,
				"timeouts":       stats.Dispatcher.Timeouts,
			})
		}
	}
}

// telemetryObserver returns a state observer that writes numeric receiver
// fields and connection transitions to InfluxDB.
func telemetryObserver(client *influxdb.Client) func(jbl.Change) {
	return func(change jbl.Change) {
		if change.Full {
			event := "disconnected"
			if change.Snapshot.Connected {
				event = "connected"
			}
			client.WriteConnectionEvent(event)
			return
		}

		for field, value := range change.Fields {
			switch v := value.(type) {
			case int:
				client.WriteStateMetric(field, float64(v))
			case float64:
				client.WriteStateMetric(field, v)
			case bool:
				metric := 0.0
				if v {
					metric = 1.0
				}
				client.WriteStateMetric(field, metric)
			}
		}
	}
}
