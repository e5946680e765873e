// Package api implements the local HTTP REST API of the Audioflow bridge.
//
// This package provides:
//   - Device listing, pairing, removal and repair
//   - Zone control: on/off, all off, names, exclusive mode, reboot
//   - Settings read and change, with hardware-rejected changes reported
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API is the admin surface of the bridge. Requests go straight to the
// bridge's dispatcher and settings store; the MQTT bus is not involved.
//
// # Error Mapping
//
//   - Invalid zone or argument: 400
//   - Unknown device: 404
//   - Device already paired or settings change rejected by the switch: 409
//   - Switch unreachable or timed out: 502
//
// There is no authentication; the API binds to the local network only.
package api
