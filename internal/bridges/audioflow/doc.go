// Package audioflow implements the Audioflow speaker-switch bridge for Gray Logic.
//
// An Audioflow switch routes one amplifier to two, three or four speaker
// zones. It answers UDP discovery probes and exposes a small plaintext HTTP
// API. It never pushes state, so the bridge polls it and reconciles a local
// mirror against what the hardware reports.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   HTTP    ┌──────────┐
//	│   Gray Logic    │   MQTT   │ Audioflow Bridge│◄─────────►│  Switch  │
//	│      Core       │◄────────►│   (this pkg)    │  UDP/10499│          │
//	└─────────────────┘          └─────────────────┘◄─────────►└──────────┘
//
// # Key Responsibilities
//
//   - Find switches by broadcasting "afping" and parsing "afpong" replies
//   - Poll each switch and diff it against the zone mirror (Reconciler)
//   - Skip poll ticks while a pass is still running (Poller)
//   - Emit zone_turned_on / zone_turned_off events for automations
//   - Validate and forward user intent to the switch (Dispatcher)
//   - Keep per-zone enabled, label and exclusive settings in step
//   - Re-find a switch by serial when its address changes
//   - Publish retained state snapshots and bridge health
//
// # Zone Numbering
//
// Zones are numbered 1..N everywhere except the hardware's zone list, whose
// "id" field is 0-based. N is fixed from the model code when a device is
// added (see ZoneCountForModel).
//
// Example:
//
//	d, err := bridge.Device("AF0123456789")
//	if err != nil {
//	    return err
//	}
//	// Zone 2 is hardware index 1.
//	err = d.Dispatcher().SetZoneState(ctx, 2, true)
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package audioflow
