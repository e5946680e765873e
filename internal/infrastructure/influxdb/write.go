package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementZoneState = "audioflow_zone_state"
	measurementPoll      = "audioflow_poll"
)

// WriteZoneTransition records a zone switching on or off.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Switch identifier (e.g., "AF0123456789")
//   - zone: 1-based zone number
//   - zoneName: Display name at the time of the transition
//   - on: New state
//   - at: Observation time
func (c *Client) WriteZoneTransition(deviceID string, zone int, zoneName string, on bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(zoneTransitionPoint(deviceID, zone, zoneName, on, at))
}

// WritePollOutcome records the duration and result of one reconciliation pass.
func (c *Client) WritePollOutcome(deviceID string, duration time.Duration, success bool, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(pollOutcomePoint(deviceID, duration, success, at))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func zoneTransitionPoint(deviceID string, zone int, zoneName string, on bool, at time.Time) *write.Point {
	state := 0
	if on {
		state = 1
	}
	return write.NewPoint(
		measurementZoneState,
		map[string]string{
			"device_id": deviceID,
			"zone":      strconv.Itoa(zone),
		},
		map[string]interface{}{
			"on":   state,
			"name": zoneName,
		},
		at,
	)
}

func pollOutcomePoint(deviceID string, duration time.Duration, success bool, at time.Time) *write.Point {
	return write.NewPoint(
		measurementPoll,
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"success":     success,
		},
		at,
	)
}
