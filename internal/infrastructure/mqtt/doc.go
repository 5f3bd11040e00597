// Package mqtt provides MQTT connectivity for the offload daemon.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// Producers publish job requests to {prefix}/submit and receive results on
// {prefix}/result/{id}. Dispatch events are mirrored to
// {prefix}/events/{kind}. {prefix}/status carries a retained online or
// offline status, with the LWT reporting an unexpected disconnect.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) for anything beyond localhost
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().Submit(), 1, handler)
package mqtt
