package audioflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-audioflow/internal/settings"
)

// fakeRepairer answers Repair with a fixed result.
type fakeRepairer struct {
	mu    sync.Mutex
	desc  Descriptor
	ok    bool
	calls []string
}

func (f *fakeRepairer) Repair(_ context.Context, serial string, _ time.Duration) (Descriptor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serial)
	return f.desc, f.ok
}

func (f *fakeRepairer) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestDevice(t *testing.T, mutate func(*DeviceConfig)) (*Device, *fakeTransport, *settings.MemoryStore) {
	t.Helper()
	transport := newFakeTransport(
		hwZone(1, "Kitchen", false, true),
		hwZone(2, "Den", false, true),
		hwZone(3, "Patio", false, false),
	)
	store := settings.NewMemoryStore()
	cfg := DeviceConfig{
		ID:           "AF1",
		Model:        "3S-3Z",
		Serial:       "AF1",
		PollInterval: time.Hour,
		Transport:    transport,
		Settings:     store,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDevice(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.OnRemoved(context.Background()) })
	return d, transport, store
}

func TestNewDevice_Validation(t *testing.T) {
	_, err := NewDevice(DeviceConfig{Address: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewDevice(DeviceConfig{ID: "AF1"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewDevice_ZoneCountFromModel(t *testing.T) {
	d, _, _ := newTestDevice(t, func(c *DeviceConfig) { c.Model = "3S-2Z" })
	assert.Equal(t, 2, d.Mirror().ZoneCount())
	assert.Equal(t, "Audioflow 3S-2Z", d.Name())
}

func TestDevice_OnInit(t *testing.T) {
	d, _, store := newTestDevice(t, func(c *DeviceConfig) { c.Name = "Living" })
	ctx := context.Background()

	require.NoError(t, d.OnInit(ctx))
	require.True(t, waitFor(func() bool { return d.Stats().Passes >= 1 }), "eager pass did not run")

	all, err := store.All(ctx, "AF1")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", all[SettingAddress])
	assert.Equal(t, "3S-3Z", all[SettingModel])
	assert.Equal(t, "AF1", all[SettingSerial])
	assert.Equal(t, "Living", all[SettingName])

	z1, _ := d.Mirror().Zone(1)
	assert.True(t, z1.Visible)
}

func TestDevice_OnInit_KeepsUserName(t *testing.T) {
	d, _, store := newTestDevice(t, func(c *DeviceConfig) { c.Name = "Default" })
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "AF1", SettingName, "Renamed"))

	require.NoError(t, d.OnInit(ctx))

	v, _, _ := store.Get(ctx, "AF1", SettingName)
	assert.Equal(t, "Renamed", v)
}

func TestDevice_OnSettingsChanged_Zone(t *testing.T) {
	d, transport, _ := newTestDevice(t, nil)

	err := d.OnSettingsChanged(context.Background(),
		nil,
		map[string]string{"zone_2_name": "Dining", "zone_2_enabled": "false"},
		[]string{"zone_2_enabled", "zone_2_name"})
	require.NoError(t, err)

	assert.Equal(t, []string{"SetZoneName 2 0Dining"}, transport.writeCalls(), "one write per zone")
}

func TestDevice_LongZoneNameSettlesOnSwitchName(t *testing.T) {
	d, transport, store := newTestDevice(t, nil)
	transport.setZones(
		hwZone(1, "Living Room Lon", false, true),
		hwZone(2, "Den", false, true),
		hwZone(3, "Patio", false, false),
	)
	store.Subscribe(func(ctx context.Context, _ string, old, updated map[string]string, changed []string) error {
		return d.OnSettingsChanged(ctx, old, updated, changed)
	})
	ctx := context.Background()
	_, err := d.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, "AF1", map[string]string{"zone_1_name": "Living Room Long Name"}))
	assert.Contains(t, transport.writeCalls(), "SetZoneName 1 1Living Room Lon")

	for i := 0; i < 3; i++ {
		_, err = d.Refresh(ctx)
		require.NoError(t, err)
	}

	v, _, err := store.Get(ctx, "AF1", "zone_1_name")
	require.NoError(t, err)
	assert.Equal(t, "Living Room Lon", v)
	z1, _ := d.Mirror().Zone(1)
	assert.Equal(t, v, z1.Name)
}

func TestDevice_OnSettingsChanged_EnabledOnlyUsesMirrorName(t *testing.T) {
	d, transport, _ := newTestDevice(t, nil)
	_, err := d.Refresh(context.Background())
	require.NoError(t, err)

	err = d.OnSettingsChanged(context.Background(),
		nil,
		map[string]string{"zone_3_enabled": "true"},
		[]string{"zone_3_enabled"})
	require.NoError(t, err)

	assert.Equal(t, []string{"SetZoneName 3 1Zone 3"}, transport.writeCalls())
}

func TestDevice_OnSettingsChanged_Exclusive(t *testing.T) {
	d, transport, _ := newTestDevice(t, nil)

	require.NoError(t, d.OnSettingsChanged(context.Background(), nil,
		map[string]string{SettingExclusive: "true"}, []string{SettingExclusive}))
	assert.Equal(t, []string{"SetExclusive enable"}, transport.writeCalls())

	err := d.OnSettingsChanged(context.Background(), nil,
		map[string]string{SettingExclusive: "sometimes"}, []string{SettingExclusive})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDevice_OnSettingsChanged_Address(t *testing.T) {
	d, transport, _ := newTestDevice(t, nil)

	require.NoError(t, d.OnSettingsChanged(context.Background(), nil,
		map[string]string{SettingAddress: "10.0.0.9"}, []string{SettingAddress}))
	assert.Equal(t, "10.0.0.9", transport.Address())
	assert.Equal(t, "10.0.0.9", d.Address())

	err := d.OnSettingsChanged(context.Background(), nil,
		map[string]string{SettingAddress: ""}, []string{SettingAddress})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDevice_OnSettingsChanged_ValidatesBeforeWriting(t *testing.T) {
	d, transport, _ := newTestDevice(t, nil)

	err := d.OnSettingsChanged(context.Background(), nil,
		map[string]string{"zone_1_name": "A", "zone_9_name": "B"},
		[]string{"zone_1_name", "zone_9_name"})
	assert.ErrorIs(t, err, ErrInvalidZone)
	assert.Empty(t, transport.writeCalls())
}

func TestDevice_OnSettingsChanged_HardwareFailure(t *testing.T) {
	d, transport, _ := newTestDevice(t, nil)
	transport.zoneErr[1] = ErrTransport

	err := d.OnSettingsChanged(context.Background(), nil,
		map[string]string{"zone_1_name": "A"}, []string{"zone_1_name"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestDevice_OnSettingsChanged_RejectedThroughStore(t *testing.T) {
	d, transport, store := newTestDevice(t, nil)
	store.Subscribe(func(ctx context.Context, _ string, old, updated map[string]string, changed []string) error {
		return d.OnSettingsChanged(ctx, old, updated, changed)
	})
	transport.writeErr = ErrTransportTimeout
	ctx := context.Background()

	err := store.Update(ctx, "AF1", map[string]string{"zone_1_name": "Dining"})
	require.ErrorIs(t, err, settings.ErrRejected)
	assert.ErrorIs(t, err, ErrTransportTimeout)

	_, ok, _ := store.Get(ctx, "AF1", "zone_1_name")
	assert.False(t, ok, "rejected change must not be stored")
}

func TestDevice_Repair(t *testing.T) {
	repairer := &fakeRepairer{desc: Descriptor{ID: "AF1", Address: "10.0.0.42", Serial: "AF1"}, ok: true}
	d, transport, store := newTestDevice(t, func(c *DeviceConfig) { c.Repairer = repairer })
	ctx := context.Background()

	desc, found, err := d.Repair(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "10.0.0.42", desc.Address)
	assert.Equal(t, "10.0.0.42", transport.Address())

	v, _, _ := store.Get(ctx, "AF1", SettingAddress)
	assert.Equal(t, "10.0.0.42", v)
}

func TestDevice_Repair_NoMatchKeepsAddress(t *testing.T) {
	repairer := &fakeRepairer{}
	d, transport, _ := newTestDevice(t, func(c *DeviceConfig) { c.Repairer = repairer })

	_, found, err := d.Repair(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "192.168.1.50", transport.Address())
}

func TestDevice_Repair_Unavailable(t *testing.T) {
	d, _, _ := newTestDevice(t, nil)
	_, _, err := d.Repair(context.Background())
	assert.ErrorIs(t, err, ErrInvalidArgument)

	d2, _, _ := newTestDevice(t, func(c *DeviceConfig) {
		c.Serial = ""
		c.Repairer = &fakeRepairer{}
	})
	_, _, err = d2.Repair(context.Background())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDevice_AutomaticRepairAfterFailures(t *testing.T) {
	repairer := &fakeRepairer{desc: Descriptor{ID: "AF1", Address: "10.0.0.42", Serial: "AF1"}, ok: true}
	d, transport, _ := newTestDevice(t, func(c *DeviceConfig) {
		c.Repairer = repairer
		c.RepairAfterFailures = 2
	})
	transport.zonesErr = errors.New("no route to host")

	d.handlePass(PassOutcome{Err: transport.zonesErr, ConsecutiveFailures: 1})
	assert.Empty(t, repairer.getCalls())

	d.handlePass(PassOutcome{Err: transport.zonesErr, ConsecutiveFailures: 2})
	assert.Equal(t, []string{"AF1"}, repairer.getCalls())
	assert.Equal(t, "10.0.0.42", transport.Address())

	d.handlePass(PassOutcome{ConsecutiveFailures: 0})
	assert.Len(t, repairer.getCalls(), 1)
}

func TestDevice_Snapshot(t *testing.T) {
	d, _, _ := newTestDevice(t, nil)
	_, err := d.Refresh(context.Background())
	require.NoError(t, err)

	snap := d.Snapshot()
	assert.Equal(t, "AF1", snap.DeviceID)
	assert.Equal(t, Protocol, snap.Protocol)
	assert.Equal(t, "192.168.1.50", snap.Address)
	require.Len(t, snap.Zones, 3)
	assert.Equal(t, "Kitchen", snap.Zones[0].Name)
	assert.Equal(t, "Audioflow", snap.Switch.Name)
}
