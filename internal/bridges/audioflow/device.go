package audioflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-audioflow/internal/settings"
)

// Lifecycle is how the bridge drives a device.
type Lifecycle interface {
	// OnInit seeds the device settings and starts polling.
	OnInit(ctx context.Context) error

	// OnSettingsChanged applies a user settings change to the hardware.
	// A returned error rejects the change.
	OnSettingsChanged(ctx context.Context, old, updated map[string]string, changed []string) error

	// OnRemoved stops polling. It waits for an in-flight pass.
	OnRemoved(ctx context.Context) error
}

// Repairer finds a switch by serial after its address changed.
// *Discoverer implements it.
type Repairer interface {
	Repair(ctx context.Context, serial string, window time.Duration) (Descriptor, bool)
}

// DeviceConfig holds everything needed to build a Device.
type DeviceConfig struct {
	ID      string
	Name    string
	Address string
	Model   string
	Serial  string

	// RequestTimeout bounds each switch request. Default: DefaultRequestTimeout.
	RequestTimeout time.Duration

	// PollInterval and PassTimeout configure the poller.
	PollInterval time.Duration
	PassTimeout  time.Duration

	// RepairAfterFailures triggers repair discovery after that many failed
	// passes in a row. Zero disables automatic repair.
	RepairAfterFailures int

	// RepairWindow bounds repair discovery. Default: RepairWindow.
	RepairWindow time.Duration

	// Transport overrides the HTTP transport.
	Transport Transport

	// Settings is optional.
	Settings settings.Store

	// Events receives zone events. Optional.
	Events EventSink

	// Repairer is optional; without it automatic repair is disabled.
	Repairer Repairer

	// OnPass runs after every pass. Optional.
	OnPass func(d *Device, outcome PassOutcome)

	Logger Logger
}

// Device is one paired switch: its transport, mirror, reconciler, poller
// and dispatcher.
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	logSupport

	id     string
	model  string
	serial string

	name   string
	nameMu sync.RWMutex

	transport  Transport
	mirror     *Mirror
	reconciler *Reconciler
	poller     *Poller
	dispatcher *Dispatcher
	settings   settings.Store

	repairer     Repairer
	repairAfter  int
	repairWindow time.Duration
	repairing    atomic.Bool
	onPass       func(*Device, PassOutcome)
}

// NewDevice creates a device. The zone count is fixed from the model.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidArgument)
	}
	if cfg.Transport == nil && cfg.Address == "" {
		return nil, fmt.Errorf("%w: device %s has no address", ErrInvalidArgument, cfg.ID)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.Address, cfg.RequestTimeout)
	}

	name := cfg.Name
	if name == "" {
		name = Descriptor{Model: cfg.Model}.Name()
	}

	d := &Device{
		id:           cfg.ID,
		model:        cfg.Model,
		serial:       cfg.Serial,
		name:         name,
		transport:    transport,
		mirror:       NewMirror(ZoneCountForModel(cfg.Model)),
		settings:     cfg.Settings,
		repairer:     cfg.Repairer,
		repairAfter:  cfg.RepairAfterFailures,
		repairWindow: cfg.RepairWindow,
		onPass:       cfg.OnPass,
	}
	d.SetLogger(cfg.Logger)

	d.reconciler = NewReconciler(ReconcilerConfig{
		DeviceID:  cfg.ID,
		Transport: transport,
		Mirror:    d.mirror,
		Settings:  cfg.Settings,
		Events:    cfg.Events,
		Logger:    cfg.Logger,
	})
	d.poller = NewPoller(PollerConfig{
		DeviceID:    cfg.ID,
		Interval:    cfg.PollInterval,
		PassTimeout: cfg.PassTimeout,
		Passer:      d.reconciler,
		OnPass:      d.handlePass,
		Logger:      cfg.Logger,
	})
	d.dispatcher = NewDispatcher(cfg.ID, transport, d.mirror, cfg.Logger)

	return d, nil
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Model returns the model code the device was added with.
func (d *Device) Model() string { return d.model }

// Serial returns the serial number the device was added with.
func (d *Device) Serial() string { return d.serial }

// Name returns the display name.
func (d *Device) Name() string {
	d.nameMu.RLock()
	defer d.nameMu.RUnlock()
	return d.name
}

// Address returns the switch's current address.
func (d *Device) Address() string { return d.transport.Address() }

// Mirror returns the zone mirror (read-only for callers).
func (d *Device) Mirror() *Mirror { return d.mirror }

// Dispatcher returns the intent dispatcher.
func (d *Device) Dispatcher() *Dispatcher { return d.dispatcher }

// Stats returns the poller counters.
func (d *Device) Stats() PollStats { return d.poller.Stats() }

// Failing reports whether the most recent pass failed.
func (d *Device) Failing() bool { return d.poller.Stats().ConsecutiveFailures > 0 }

// Snapshot returns the current state message for the device.
func (d *Device) Snapshot() StateMessage {
	return NewStateMessage(d.id, d.Address(), d.mirror)
}

// Trigger schedules a pass outside the tick cadence. It returns false when a
// pass is already running.
func (d *Device) Trigger() bool { return d.poller.Trigger() }

// Refresh runs a pass now and waits for it. It queues behind a running
// pass rather than overlapping it.
// A successful pass is reported to OnPass like a polled one.
func (d *Device) Refresh(ctx context.Context) (PassResult, error) {
	start := time.Now()
	result, err := d.reconciler.Reconcile(ctx)
	if err == nil && d.onPass != nil {
		d.onPass(d, PassOutcome{Result: result, Duration: time.Since(start)})
	}
	return result, err
}

// OnInit seeds address, model, serial and name, then starts polling.
func (d *Device) OnInit(ctx context.Context) error {
	if d.settings != nil {
		seed := map[string]string{
			SettingAddress: d.Address(),
			SettingModel:   d.model,
			SettingSerial:  d.serial,
		}
		for key, value := range seed {
			if value == "" {
				continue
			}
			d.seedSetting(ctx, key, value, true)
		}
		d.seedSetting(ctx, SettingName, d.Name(), false)
	}

	d.poller.Start()
	d.logInfo("device initialised",
		"device_id", d.id,
		"address", d.Address(),
		"model", d.model,
		"zones", d.mirror.ZoneCount())
	return nil
}

// seedSetting writes key unless it is already present and overwrite is false.
func (d *Device) seedSetting(ctx context.Context, key, value string, overwrite bool) {
	if !overwrite {
		if _, ok, err := d.settings.Get(ctx, d.id, key); err == nil && ok {
			return
		}
	}
	if err := d.settings.Set(ctx, d.id, key, value); err != nil {
		d.logWarn("seeding setting failed",
			"device_id", d.id,
			"key", key,
			"error", fmt.Errorf("%w: %w", ErrSettingsWrite, err))
	}
}

// OnSettingsChanged applies a user change.
//
// Everything is validated before the first request so a bad value never
// leaves the switch half-updated. The first hardware failure is returned.
func (d *Device) OnSettingsChanged(ctx context.Context, _, updated map[string]string, changed []string) error {
	var (
		addressChanged bool
		nameChanged    bool
		exclusive      *bool
		zones          = make(map[int]struct{})
	)

	for _, key := range changed {
		switch key {
		case SettingAddress:
			if updated[key] == "" {
				return fmt.Errorf("%w: address must not be empty", ErrInvalidArgument)
			}
			addressChanged = true
		case SettingName:
			nameChanged = true
		case SettingExclusive:
			v, ok := parseBool(updated[key])
			if !ok {
				return fmt.Errorf("%w: exclusive %q", ErrInvalidArgument, updated[key])
			}
			exclusive = &v
		default:
			zone, _, ok := parseZoneKey(key)
			if !ok {
				continue
			}
			if !d.mirror.ValidZone(zone) {
				return fmt.Errorf("%w: %s (device has %d zones)", ErrInvalidZone, key, d.mirror.ZoneCount())
			}
			if _, ok := parseBool(d.zoneEnabledValue(zone, updated)); !ok {
				return fmt.Errorf("%w: %s %q", ErrInvalidArgument, ZoneEnabledKey(zone), updated[ZoneEnabledKey(zone)])
			}
			zones[zone] = struct{}{}
		}
	}

	if addressChanged {
		d.transport.SetAddress(updated[SettingAddress])
		d.logInfo("device address changed", "device_id", d.id, "address", updated[SettingAddress])
	}

	if nameChanged {
		d.nameMu.Lock()
		d.name = updated[SettingName]
		d.nameMu.Unlock()
	}

	ordered := make([]int, 0, len(zones))
	for zone := range zones {
		ordered = append(ordered, zone)
	}
	sort.Ints(ordered)

	for _, zone := range ordered {
		enabled, _ := parseBool(d.zoneEnabledValue(zone, updated))
		name := updated[ZoneNameKey(zone)]
		if name == "" {
			current, _ := d.mirror.Zone(zone)
			name = current.Name
		}
		if err := d.dispatcher.SetZoneName(ctx, zone, name, enabled); err != nil {
			return err
		}
	}

	if exclusive != nil {
		if err := d.dispatcher.SetExclusive(ctx, ExclusiveMode(*exclusive)); err != nil {
			return err
		}
	}

	if addressChanged || len(ordered) > 0 || exclusive != nil {
		d.poller.Trigger()
	}
	return nil
}

// zoneEnabledValue returns the enabled flag of zone from settings, or the
// mirror's flag when the setting is absent.
func (d *Device) zoneEnabledValue(zone int, values map[string]string) string {
	if v, ok := values[ZoneEnabledKey(zone)]; ok {
		return v
	}
	current, _ := d.mirror.Zone(zone)
	return formatBool(current.Enabled)
}

// OnRemoved stops polling.
func (d *Device) OnRemoved(_ context.Context) error {
	d.poller.Stop()
	d.logInfo("device removed", "device_id", d.id)
	return nil
}

// Repair runs repair discovery by serial. On a match at a new address the
// transport and the address setting move to it. found is false when no
// switch answered; the old address is kept.
func (d *Device) Repair(ctx context.Context) (Descriptor, bool, error) {
	if d.repairer == nil {
		return Descriptor{}, false, fmt.Errorf("%w: repair discovery is not configured", ErrInvalidArgument)
	}
	if d.serial == "" {
		return Descriptor{}, false, fmt.Errorf("%w: device %s has no serial", ErrInvalidArgument, d.id)
	}
	if !d.repairing.CompareAndSwap(false, true) {
		return Descriptor{}, false, nil
	}
	defer d.repairing.Store(false)

	desc, ok := d.repairer.Repair(ctx, d.serial, d.repairWindow)
	if !ok {
		return Descriptor{}, false, nil
	}

	if desc.Address != d.Address() {
		old := d.Address()
		d.transport.SetAddress(desc.Address)
		if d.settings != nil {
			if err := d.settings.Set(ctx, d.id, SettingAddress, desc.Address); err != nil {
				d.logWarn("recording repaired address failed",
					"device_id", d.id,
					"error", fmt.Errorf("%w: %w", ErrSettingsWrite, err))
			}
		}
		d.logInfo("device address repaired", "device_id", d.id, "old_address", old, "address", desc.Address)
	}
	return desc, true, nil
}

// handlePass runs on the pass goroutine after every pass.
func (d *Device) handlePass(outcome PassOutcome) {
	if d.onPass != nil {
		d.onPass(d, outcome)
	}

	if outcome.Err == nil || d.repairer == nil || d.repairAfter <= 0 || d.serial == "" {
		return
	}
	if outcome.ConsecutiveFailures%d.repairAfter != 0 {
		return
	}

	window := d.repairWindow
	if window <= 0 {
		window = RepairWindow
	}
	ctx, cancel := context.WithTimeout(context.Background(), window+time.Second)
	defer cancel()

	d.logInfo("switch unreachable, running repair discovery",
		"device_id", d.id,
		"consecutive_failures", outcome.ConsecutiveFailures)
	if _, _, err := d.Repair(ctx); err != nil {
		d.logWarn("repair failed", "device_id", d.id, "error", err)
	}
}

var _ Lifecycle = (*Device)(nil)
