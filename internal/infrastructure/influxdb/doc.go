// Package influxdb records dispatch metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// # Measurements
//
//   - dispatch: one point per dispatched, failed-back or rejected message
//   - lifecycle: one point per server state transition
//   - queue: periodic message queue depth and idle worker count
//   - device_queue: periodic outstanding work per device
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	srv := server.New(scfg, platform, server.WithEvents(client))
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Write errors are delivered asynchronously to the SetOnError callback.
package influxdb
