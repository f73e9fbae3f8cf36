// Package mqtt provides MQTT client connectivity for the JBL bridge daemon.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the bridge's integration surface: home automation controllers
// publish commands to jblbridge/avr/command and consume the retained
// receiver state from jblbridge/avr/state.
//
//	Controller ↔ MQTT Broker ↔ jblbridge ↔ AV Receiver
//
// # Security Considerations
//
//   - TLS is recommended for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Receive commands for the receiver
//	err = client.Subscribe(mqtt.Topics{}.AVRCommand(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(payload)
//	    })
//
//	// Publish retained state
//	client.PublishRetained(mqtt.Topics{}.AVRState(), stateJSON)
package mqtt
