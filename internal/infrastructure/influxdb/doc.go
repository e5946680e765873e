// Package influxdb provides InfluxDB connectivity for the Audioflow bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes and health monitoring. The bridge records two
// series:
//   - audioflow_zone_state: one point per zone on/off transition
//   - audioflow_poll: duration and outcome of each reconciliation pass
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteZoneTransition("AF0123456789", 2, "Kitchen", true, time.Now())
//
// # Error Handling
//
// Writes are non-blocking; batch failures are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
