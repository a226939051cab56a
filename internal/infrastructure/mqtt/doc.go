// Package mqtt provides MQTT client connectivity for the Gray Logic LIFX bridge.
//
// This package manages:
//   - Connection to Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) registration for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Gray Logic uses MQTT as the internal message bus connecting the Core
// to protocol bridges. This bridge sits on the LIFX side of the bus,
// translating between MQTT messages and LAN protocol datagrams.
//
//	Gray Logic Core ↔ MQTT Broker ↔ LIFX Bridge ↔ LAN devices
//
// Topic construction lives with the message schemas in the bridge
// package; this package moves opaque payloads.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Performance Characteristics
//
//   - Connection: <1 second to local broker
//   - Publish latency: <10ms for QoS 1 to local broker
//   - Reconnect: Exponential backoff 1s-60s
//   - Message throughput: Broker-limited (typically 10K+ msg/sec)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:   "graylogic/health/lifx",
//	    Payload: lwtPayload,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all commands addressed to this bridge
//	err = client.Subscribe("graylogic/command/lifx/#", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
