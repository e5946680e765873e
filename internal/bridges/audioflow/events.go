package audioflow

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted by the reconciliation engine.
const (
	EventZoneTurnedOn  = "zone_turned_on"
	EventZoneTurnedOff = "zone_turned_off"
)

// Event is a fire-and-forget notification for automations.
type Event struct {
	// ID is unique per emitted event.
	ID string `json:"id"`

	DeviceID string `json:"device_id"`

	// Kind is EventZoneTurnedOn or EventZoneTurnedOff.
	Kind string `json:"kind"`

	// Tokens is the event payload: {"zone_name": "..."}.
	Tokens map[string]string `json:"tokens"`

	// State correlates the event with a zone: {"zone": "2"}.
	State map[string]string `json:"state"`

	Timestamp time.Time `json:"timestamp"`
}

// newZoneEvent builds the on/off transition event for zone n.
func newZoneEvent(deviceID string, zone int, zoneName string, on bool, at time.Time) Event {
	kind := EventZoneTurnedOff
	if on {
		kind = EventZoneTurnedOn
	}
	return Event{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Kind:      kind,
		Tokens:    map[string]string{"zone_name": zoneName},
		State:     map[string]string{"zone": strconv.Itoa(zone)},
		Timestamp: at,
	}
}

// Zone returns the 1-based zone number the event refers to.
func (e Event) Zone() (int, bool) {
	n, err := strconv.Atoi(e.State["zone"])
	if err != nil {
		return 0, false
	}
	return n, true
}

// EventSink receives events. Delivery failures are reported but callers
// treat them as non-fatal.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// MultiSink fans an event out to every sink. All sinks are tried; the
// returned error joins every failure.
type MultiSink []EventSink

// Emit delivers the event to each sink in order.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
