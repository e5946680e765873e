package audioflow

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// Dispatcher constants.
const (
	// MaxZoneNameLength is the longest name the switch stores.
	MaxZoneNameLength = 15

	// Exclusive-mode tokens accepted by the switch.
	ExclusiveEnable  = "enable"
	ExclusiveDisable = "disable"

	// maxParallelWrites limits concurrent requests during bulk fan-out.
	maxParallelWrites = 2
)

// ZoneCounter reports the fixed zone count of a device. *Mirror implements it.
type ZoneCounter interface {
	ZoneCount() int
}

// Dispatcher turns user intent into switch writes.
//
// Zone numbers are validated against the device's zone count before any
// request is made. The dispatcher never writes the mirror; the next
// reconciliation pass confirms what the hardware accepted.
type Dispatcher struct {
	logSupport

	deviceID  string
	transport Transport
	zones     ZoneCounter
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(deviceID string, transport Transport, zones ZoneCounter, logger Logger) *Dispatcher {
	d := &Dispatcher{
		deviceID:  deviceID,
		transport: transport,
		zones:     zones,
	}
	d.SetLogger(logger)
	return d
}

// SetZoneState switches one zone on or off.
func (d *Dispatcher) SetZoneState(ctx context.Context, zone int, on bool) error {
	if err := d.validateZone(zone); err != nil {
		return err
	}
	if err := d.transport.SetZoneState(ctx, zone, on); err != nil {
		return fmt.Errorf("setting zone %d state: %w", zone, err)
	}
	return nil
}

// AllZonesOff switches every zone off.
//
// Each zone is attempted independently. Individual failures are logged and
// the operation still succeeds.
func (d *Dispatcher) AllZonesOff(ctx context.Context) error {
	count := d.zones.ZoneCount()

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(maxParallelWrites)

	for zone := 1; zone <= count; zone++ {
		g.Go(func() error {
			if err := d.transport.SetZoneState(ctx, zone, false); err != nil {
				failed.Add(1)
				d.logWarn("zone off failed",
					"device_id", d.deviceID,
					"zone", zone,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	if n := failed.Load(); n > 0 {
		d.logWarn("all zones off completed with failures",
			"device_id", d.deviceID,
			"failed", n,
			"zones", count)
	}
	return nil
}

// SetZoneStates writes every zone at once. states holds one '1' or '0'
// per zone, zone 1 first.
func (d *Dispatcher) SetZoneStates(ctx context.Context, states string) error {
	count := d.zones.ZoneCount()
	if len(states) != count {
		return fmt.Errorf("%w: states %q must have %d characters", ErrInvalidArgument, states, count)
	}
	if strings.Trim(states, "01") != "" {
		return fmt.Errorf("%w: states %q may only contain 0 and 1", ErrInvalidArgument, states)
	}
	if err := d.transport.SetAllZones(ctx, states); err != nil {
		return fmt.Errorf("setting zone states: %w", err)
	}
	return nil
}

// SetZoneName writes a zone's name and enabled flag.
func (d *Dispatcher) SetZoneName(ctx context.Context, zone int, name string, enabled bool) error {
	if err := d.validateZone(zone); err != nil {
		return err
	}
	if err := d.transport.SetZoneName(ctx, zone, EncodeZoneName(name, enabled)); err != nil {
		return fmt.Errorf("setting zone %d name: %w", zone, err)
	}
	return nil
}

// SetExclusive writes the exclusive mode. mode must be "enable" or "disable".
func (d *Dispatcher) SetExclusive(ctx context.Context, mode string) error {
	if mode != ExclusiveEnable && mode != ExclusiveDisable {
		return fmt.Errorf("%w: exclusive mode %q (want %q or %q)", ErrInvalidArgument, mode, ExclusiveEnable, ExclusiveDisable)
	}
	if err := d.transport.SetExclusive(ctx, mode); err != nil {
		return fmt.Errorf("setting exclusive mode: %w", err)
	}
	return nil
}

// Reboot restarts the switch.
func (d *Dispatcher) Reboot(ctx context.Context) error {
	if err := d.transport.Reboot(ctx); err != nil {
		return fmt.Errorf("rebooting: %w", err)
	}
	d.logInfo("reboot requested", "device_id", d.deviceID)
	return nil
}

func (d *Dispatcher) validateZone(zone int) error {
	count := d.zones.ZoneCount()
	if zone < 1 || zone > count {
		return fmt.Errorf("%w: %d (device has %d zones)", ErrInvalidZone, zone, count)
	}
	return nil
}

// EncodeZoneName builds the /zonename payload: '1' or '0' for the enabled
// flag followed by the name cut to MaxZoneNameLength characters.
func EncodeZoneName(name string, enabled bool) string {
	flag := "0"
	if enabled {
		flag = "1"
	}
	if utf8.RuneCountInString(name) > MaxZoneNameLength {
		name = string([]rune(name)[:MaxZoneNameLength])
	}
	return flag + name
}

// ExclusiveMode maps a boolean to the switch's exclusive-mode token.
func ExclusiveMode(enabled bool) string {
	if enabled {
		return ExclusiveEnable
	}
	return ExclusiveDisable
}
