package audioflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-audioflow/internal/settings"
)

// Bridge operation constants.
const (
	// commandTimeout bounds one MQTT command, including bulk fan-out.
	commandTimeout = 10 * time.Second

	// initTimeout bounds settings seeding for one device at start-up.
	initTimeout = 5 * time.Second
)

// DiscoveryService finds switches on the network. *Discoverer implements it.
type DiscoveryService interface {
	Discover(ctx context.Context, window time.Duration) []Descriptor
	Repairer
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the audioflow section of the loaded configuration.
	Config config.AudioflowConfig

	// Version is reported in health messages.
	Version string

	// MQTTClient carries commands, events, state and health.
	MQTTClient MQTTClient

	// QoS for every publication. Default: 1.
	QoS byte

	// Settings is the per-device settings store.
	Settings settings.Store

	// History is optional; when set zone transitions and pass outcomes are
	// recorded.
	History HistoryWriter

	// Discovery is optional; without it pairing and repair are unavailable.
	Discovery DiscoveryService

	// TransportFactory overrides the HTTP transport. Used by tests.
	TransportFactory func(address string, timeout time.Duration) Transport

	Logger Logger
}

// Bridge manages every paired switch and connects them to the Gray Logic bus.
//
// It handles:
//   - Loading configured and previously paired switches and polling them
//   - Translating MQTT commands into switch requests and acknowledging them
//   - Publishing zone events, retained state snapshots and health
//   - Pairing, removal and repair of switches
//   - Routing user settings changes to the owning device
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	logSupport

	cfg              config.AudioflowConfig
	mqtt             MQTTClient
	qos              byte
	settings         settings.Store
	publisher        *MQTTPublisher
	history          *HistoryRecorder
	discovery        DiscoveryService
	health           *HealthReporter
	transportFactory func(address string, timeout time.Duration) Transport

	devices   map[string]*Device
	devicesMu sync.RWMutex

	// Counters for health statistics.
	commands atomic.Uint64
	events   atomic.Uint64

	// Shutdown coordination
	done      chan struct{}
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}

	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:              opts.Config,
		mqtt:             opts.MQTTClient,
		qos:              qos,
		settings:         opts.Settings,
		publisher:        NewMQTTPublisher(opts.MQTTClient, qos),
		history:          NewHistoryRecorder(opts.History),
		discovery:        opts.Discovery,
		transportFactory: opts.TransportFactory,
		devices:          make(map[string]*Device),
		done:             make(chan struct{}),
		ctx:              ctx,
		ctxCancel:        ctxCancel,
	}
	b.SetLogger(opts.Logger)

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.BridgeID,
		Version:   opts.Version,
		Interval:  opts.Config.GetHealthInterval(),
		Publisher: opts.MQTTClient,
		Fleet:     b,
	})
	b.health.SetLogger(opts.Logger)

	return b, nil
}

// Start loads devices, subscribes to commands and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.settings.Subscribe(b.handleSettingsChange)

	if err := b.loadDevices(ctx); err != nil {
		return err
	}

	commandTopic := mqtt.Topics{}.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.BridgeID,
		"devices", b.deviceCount())
	return nil
}

// Stop gracefully shuts down the bridge. Polling stops after any in-flight
// pass completes.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		if err := b.mqtt.Unsubscribe(mqtt.Topics{}.AllCommands()); err != nil {
			b.logDebug("unsubscribe from commands failed", "error", err)
		}

		b.devicesMu.RLock()
		devices := make([]*Device, 0, len(b.devices))
		for _, d := range b.devices {
			devices = append(devices, d)
		}
		b.devicesMu.RUnlock()

		for _, d := range devices {
			//nolint:errcheck // OnRemoved never fails
			d.OnRemoved(context.Background())
		}

		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// loadDevices creates every configured switch plus every switch paired
// earlier (any device with stored settings).
func (b *Bridge) loadDevices(ctx context.Context) error {
	configured := make(map[string]bool, len(b.cfg.Devices))
	for _, dc := range b.cfg.Devices {
		configured[dc.ID] = true
		if _, err := b.addDevice(ctx, dc); err != nil {
			b.logError("failed to add configured device", err, "device_id", dc.ID)
		}
	}

	ids, err := b.settings.DeviceIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing paired devices: %w", err)
	}

	for _, id := range ids {
		if configured[id] {
			continue
		}
		stored, err := b.settings.All(ctx, id)
		if err != nil {
			b.logError("failed to read device settings", err, "device_id", id)
			continue
		}
		dc := config.DeviceConfig{
			ID:      id,
			Name:    stored[SettingName],
			Address: stored[SettingAddress],
			Model:   stored[SettingModel],
			Serial:  stored[SettingSerial],
		}
		if _, err := b.addDevice(ctx, dc); err != nil {
			b.logError("failed to restore paired device", err, "device_id", id)
		}
	}
	return nil
}

// addDevice builds, initialises and registers a device.
func (b *Bridge) addDevice(ctx context.Context, dc config.DeviceConfig) (*Device, error) {
	b.devicesMu.Lock()
	if _, exists := b.devices[dc.ID]; exists {
		b.devicesMu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, dc.ID)
	}

	var events MultiSink
	events = append(events, b.publisher)
	if b.history != nil {
		events = append(events, b.history)
	}

	devCfg := DeviceConfig{
		ID:                  dc.ID,
		Name:                dc.Name,
		Address:             dc.Address,
		Model:               dc.Model,
		Serial:              dc.Serial,
		RequestTimeout:      b.cfg.RequestTimeout,
		PollInterval:        b.cfg.PollInterval,
		PassTimeout:         b.cfg.PassTimeout,
		RepairAfterFailures: b.cfg.RepairAfterFailures,
		RepairWindow:        b.cfg.Discovery.RepairWindow,
		Settings:            b.settings,
		Events:              events,
		OnPass:              b.handlePass,
		Logger:              b.getLogger(),
	}
	if b.discovery != nil {
		devCfg.Repairer = b.discovery
	}
	if b.transportFactory != nil && dc.Address != "" {
		devCfg.Transport = b.transportFactory(dc.Address, b.cfg.RequestTimeout)
	}

	d, err := NewDevice(devCfg)
	if err != nil {
		b.devicesMu.Unlock()
		return nil, err
	}
	b.devices[dc.ID] = d
	b.devicesMu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := d.OnInit(initCtx); err != nil {
		b.devicesMu.Lock()
		delete(b.devices, dc.ID)
		b.devicesMu.Unlock()
		return nil, fmt.Errorf("initialising device %s: %w", dc.ID, err)
	}
	return d, nil
}

// handlePass publishes state and records history after every pass.
func (b *Bridge) handlePass(d *Device, outcome PassOutcome) {
	b.history.RecordPass(d.ID(), outcome, time.Now())

	if outcome.Err != nil {
		return
	}
	b.events.Add(uint64(len(outcome.Result.Events)))

	if outcome.Result.Changed {
		if err := b.publisher.PublishState(d.Snapshot()); err != nil {
			b.logDebug("state publish failed", "device_id", d.ID(), "error", err)
		}
	}
}

// handleSettingsChange routes a user change to the owning device.
func (b *Bridge) handleSettingsChange(ctx context.Context, deviceID string, old, updated map[string]string, changed []string) error {
	d, err := b.Device(deviceID)
	if err != nil {
		return err
	}
	return d.OnSettingsChanged(ctx, old, updated, changed)
}

// =============================================================================
// Device management
// =============================================================================

// Devices returns every managed device, sorted by ID.
func (b *Bridge) Devices() []*Device {
	b.devicesMu.RLock()
	out := make([]*Device, 0, len(b.devices))
	for _, d := range b.devices {
		out = append(out, d)
	}
	b.devicesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Device returns the device with the given ID.
func (b *Bridge) Device(id string) (*Device, error) {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	d, ok := b.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

func (b *Bridge) deviceCount() int {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	return len(b.devices)
}

// Pair runs a pairing discovery session and returns the switches that are
// not managed yet. The candidates are also announced on the bus.
func (b *Bridge) Pair(ctx context.Context) ([]Descriptor, error) {
	if b.discovery == nil {
		return nil, fmt.Errorf("%w: discovery is not configured", ErrInvalidArgument)
	}

	found := b.discovery.Discover(ctx, b.cfg.Discovery.PairingWindow)

	b.devicesMu.RLock()
	fresh := make([]Descriptor, 0, len(found))
	for _, desc := range found {
		if _, managed := b.devices[desc.ID]; !managed {
			fresh = append(fresh, desc)
		}
	}
	b.devicesMu.RUnlock()

	if err := b.publisher.PublishDiscovery(NewDiscoveryMessage(b.cfg.BridgeID, fresh)); err != nil {
		b.logDebug("discovery publish failed", "error", err)
	}
	return fresh, nil
}

// AddDevice adopts a switch. name may be empty.
func (b *Bridge) AddDevice(ctx context.Context, desc Descriptor, name string) (*Device, error) {
	if desc.ID == "" || desc.Address == "" {
		return nil, fmt.Errorf("%w: id and address are required", ErrInvalidArgument)
	}
	d, err := b.addDevice(ctx, config.DeviceConfig{
		ID:      desc.ID,
		Name:    name,
		Address: desc.Address,
		Model:   desc.Model,
		Serial:  desc.Serial,
	})
	if err != nil {
		return nil, err
	}
	b.logInfo("device paired", "device_id", desc.ID, "address", desc.Address, "model", desc.Model)
	return d, nil
}

// RemoveDevice stops a device and deletes its settings and retained state.
func (b *Bridge) RemoveDevice(ctx context.Context, id string) error {
	b.devicesMu.Lock()
	d, ok := b.devices[id]
	if ok {
		delete(b.devices, id)
	}
	b.devicesMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	//nolint:errcheck // OnRemoved never fails
	d.OnRemoved(ctx)

	var errs []error
	if err := b.settings.Remove(ctx, id); err != nil {
		errs = append(errs, fmt.Errorf("removing settings: %w", err))
	}
	if err := b.publisher.ClearState(id); err != nil {
		errs = append(errs, fmt.Errorf("clearing state: %w", err))
	}
	return errors.Join(errs...)
}

// RepairDevice runs repair discovery for one device on demand.
func (b *Bridge) RepairDevice(ctx context.Context, id string) (Descriptor, bool, error) {
	d, err := b.Device(id)
	if err != nil {
		return Descriptor{}, false, err
	}
	return d.Repair(ctx)
}

// Settings returns every setting of a managed device.
func (b *Bridge) Settings(ctx context.Context, id string) (map[string]string, error) {
	if _, err := b.Device(id); err != nil {
		return nil, err
	}
	return b.settings.All(ctx, id)
}

// UpdateSettings applies a user settings change to a managed device. The
// change is rejected (and nothing stored) when the switch refuses it.
func (b *Bridge) UpdateSettings(ctx context.Context, id string, changes map[string]string) error {
	if _, err := b.Device(id); err != nil {
		return err
	}
	return b.settings.Update(ctx, id, changes)
}

// FleetSnapshot implements FleetSource.
func (b *Bridge) FleetSnapshot() FleetSnapshot {
	snap := FleetSnapshot{
		Stats: BridgeStatistics{
			Commands: b.commands.Load(),
			Events:   b.events.Load(),
		},
	}
	for _, d := range b.Devices() {
		stats := d.Stats()
		snap.Devices++
		if stats.ConsecutiveFailures > 0 {
			snap.Failing++
		}
		snap.Stats.Passes += stats.Passes
		snap.Stats.Failures += stats.Failures
		snap.Stats.SkippedTicks += stats.SkippedTicks
	}
	return snap
}

// Health returns the current health status and message.
func (b *Bridge) Health() HealthMessage {
	status, reason := b.health.Status()
	return b.health.Message(status, reason)
}

// =============================================================================
// Command handling
// =============================================================================

// handleMQTTMessage processes a command from graylogic/command/audioflow/{id}.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	select {
	case <-b.done:
		return nil
	default:
	}

	deviceID, ok := mqtt.DeviceIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("invalid command topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("parsing command: %w", err)
	}
	cmd.DeviceID = deviceID

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.commands.Add(1)
	if err := b.ExecuteCommand(ctx, cmd); err != nil {
		b.publishAck(NewAckError(cmd, commandErrorCode(err), err.Error()))
		b.logWarn("command failed",
			"command_id", cmd.ID,
			"device_id", cmd.DeviceID,
			"command", cmd.Command,
			"error", err)
		return nil
	}

	b.publishAck(NewAckMessage(cmd))
	return nil
}

// errUnknownCommand marks command names the bridge does not implement.
var errUnknownCommand = errors.New("audioflow: unknown command")

func commandErrorCode(err error) string {
	if errors.Is(err, errUnknownCommand) {
		return ErrCodeInvalidCommand
	}
	return ErrorCode(err)
}

// ExecuteCommand runs a command against its device.
func (b *Bridge) ExecuteCommand(ctx context.Context, cmd CommandMessage) error {
	d, err := b.Device(cmd.DeviceID)
	if err != nil {
		return err
	}
	dispatcher := d.Dispatcher()

	switch cmd.Command {
	case CommandZoneOn, CommandZoneOff:
		zone, err := intParam(cmd.Parameters, "zone")
		if err != nil {
			return err
		}
		err = dispatcher.SetZoneState(ctx, zone, cmd.Command == CommandZoneOn)
		b.triggerOnSuccess(d, err)
		return err

	case CommandAllOff:
		err := dispatcher.AllZonesOff(ctx)
		b.triggerOnSuccess(d, err)
		return err

	case CommandSetZones:
		states, err := stringParam(cmd.Parameters, "states")
		if err != nil {
			return err
		}
		err = dispatcher.SetZoneStates(ctx, states)
		b.triggerOnSuccess(d, err)
		return err

	case CommandSetZoneName:
		zone, err := intParam(cmd.Parameters, "zone")
		if err != nil {
			return err
		}
		if !d.Mirror().ValidZone(zone) {
			return fmt.Errorf("%w: %d", ErrInvalidZone, zone)
		}
		changes := make(map[string]string, 2)
		if name, ok := cmd.Parameters["name"]; ok {
			s, isString := name.(string)
			if !isString {
				return fmt.Errorf("%w: name must be a string", ErrInvalidArgument)
			}
			changes[ZoneNameKey(zone)] = s
		}
		if _, ok := cmd.Parameters["enabled"]; ok {
			enabled, err := boolParam(cmd.Parameters, "enabled")
			if err != nil {
				return err
			}
			changes[ZoneEnabledKey(zone)] = formatBool(enabled)
		}
		if len(changes) == 0 {
			return fmt.Errorf("%w: name or enabled is required", ErrInvalidArgument)
		}
		return b.settings.Update(ctx, d.ID(), changes)

	case CommandSetExclusive:
		mode, err := stringParam(cmd.Parameters, "mode")
		if err != nil {
			return err
		}
		if mode != ExclusiveEnable && mode != ExclusiveDisable {
			return fmt.Errorf("%w: exclusive mode %q", ErrInvalidArgument, mode)
		}
		return b.settings.Update(ctx, d.ID(), map[string]string{
			SettingExclusive: formatBool(mode == ExclusiveEnable),
		})

	case CommandReboot:
		return dispatcher.Reboot(ctx)

	case CommandRefresh:
		_, err := d.Refresh(ctx)
		return err

	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
}

// triggerOnSuccess starts a pass so the mirror confirms a write quickly.
func (b *Bridge) triggerOnSuccess(d *Device, err error) {
	if err == nil {
		d.Trigger()
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	if err := b.publisher.PublishAck(ack); err != nil {
		b.logError("failed to publish ack", err, "command_id", ack.CommandID)
	}
}

// intParam reads an integer parameter. JSON numbers arrive as float64.
func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgument, key)
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, key)
		}
		return int(n), nil
	case int:
		return n, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, key)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidArgument, key)
	}
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, key)
	}
	return v, nil
}

func boolParam(params map[string]any, key string) (bool, error) {
	switch v := params[key].(type) {
	case bool:
		return v, nil
	case string:
		if b, ok := parseBool(v); ok {
			return b, nil
		}
	case float64:
		return v != 0, nil
	}
	return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidArgument, key)
}

var _ FleetSource = (*Bridge)(nil)
