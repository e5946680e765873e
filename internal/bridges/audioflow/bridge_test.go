package audioflow

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-audioflow/internal/settings"
)

const commandTopic = "graylogic/command/audioflow/+"

// fakeDiscovery implements DiscoveryService.
type fakeDiscovery struct {
	found []Descriptor
}

func (f *fakeDiscovery) Discover(_ context.Context, _ time.Duration) []Descriptor {
	return f.found
}

func (f *fakeDiscovery) Repair(_ context.Context, serial string, _ time.Duration) (Descriptor, bool) {
	for _, d := range f.found {
		if d.Serial == serial {
			return d, true
		}
	}
	return Descriptor{}, false
}

type bridgeFixture struct {
	bridge     *Bridge
	client     *mockMQTTClient
	store      *settings.MemoryStore
	discovery  *fakeDiscovery
	mu         sync.Mutex
	transports map[string]*fakeTransport
}

func newBridgeFixture(t *testing.T, devices ...config.DeviceConfig) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		client:     newMockMQTTClient(),
		store:      settings.NewMemoryStore(),
		discovery:  &fakeDiscovery{},
		transports: make(map[string]*fakeTransport),
	}

	b, err := NewBridge(BridgeOptions{
		Config: config.AudioflowConfig{
			BridgeID:     "audioflow",
			PollInterval: time.Hour,
			Devices:      devices,
		},
		Version:    "test",
		MQTTClient: f.client,
		Settings:   f.store,
		Discovery:  f.discovery,
		TransportFactory: func(address string, _ time.Duration) Transport {
			f.mu.Lock()
			defer f.mu.Unlock()
			tr := newFakeTransport(
				hwZone(1, "Kitchen", true, true),
				hwZone(2, "Den", false, true),
				hwZone(3, "Patio", false, false),
				hwZone(4, "Garage", false, false),
			)
			tr.address = address
			f.transports[address] = tr
			return tr
		},
	})
	require.NoError(t, err)
	f.bridge = b
	t.Cleanup(b.Stop)
	return f
}

func (f *bridgeFixture) transport(address string) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[address]
}

// send delivers a command as the broker would.
func (f *bridgeFixture) send(t *testing.T, deviceID string, cmd CommandMessage) AckMessage {
	t.Helper()
	handler := f.client.handler(commandTopic)
	require.NotNil(t, handler, "bridge did not subscribe to commands")

	payload, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, handler("graylogic/command/audioflow/"+deviceID, payload))

	acks := f.client.getMessages("graylogic/ack/audioflow/" + deviceID)
	require.NotEmpty(t, acks)
	var ack AckMessage
	require.NoError(t, json.Unmarshal(acks[len(acks)-1].Payload, &ack))
	return ack
}

var kitchenSwitch = config.DeviceConfig{
	ID:      "AF1",
	Name:    "Kitchen switch",
	Address: "10.0.0.1",
	Model:   "3S-4Z",
	Serial:  "AF1",
}

func TestNewBridge_RequiresCollaborators(t *testing.T) {
	_, err := NewBridge(BridgeOptions{Settings: settings.NewMemoryStore()})
	assert.Error(t, err)

	_, err = NewBridge(BridgeOptions{MQTTClient: newMockMQTTClient()})
	assert.Error(t, err)
}

func TestBridge_StartLoadsConfiguredAndPairedDevices(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "AF2", SettingAddress, "10.0.0.2"))
	require.NoError(t, f.store.Set(ctx, "AF2", SettingModel, "3S-2Z"))
	require.NoError(t, f.store.Set(ctx, "AF2", SettingSerial, "AF2"))

	require.NoError(t, f.bridge.Start(ctx))

	devices := f.bridge.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "AF1", devices[0].ID())
	assert.Equal(t, "AF2", devices[1].ID())
	assert.Equal(t, 2, devices[1].Mirror().ZoneCount())

	health := f.client.getMessages(healthTopic)
	require.NotEmpty(t, health)
	var first HealthMessage
	require.NoError(t, json.Unmarshal(health[0].Payload, &first))
	assert.Equal(t, HealthStarting, first.Status)
}

func TestBridge_PublishesStateAndEventsAfterPass(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	require.NoError(t, f.bridge.Start(context.Background()))

	require.True(t, waitFor(func() bool {
		return len(f.client.getMessages("graylogic/state/audioflow/AF1")) > 0
	}), "state was not published")

	events := f.client.getMessages("graylogic/event/audioflow/AF1/zone_turned_on")
	require.Len(t, events, 1)

	var state StateMessage
	msgs := f.client.getMessages("graylogic/state/audioflow/AF1")
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &state))
	assert.True(t, msgs[len(msgs)-1].Retained)
	require.Len(t, state.Zones, 4)
	assert.True(t, state.Zones[0].On)
	assert.False(t, state.Zones[2].Visible)
}

func TestBridge_CommandZoneOn(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	require.NoError(t, f.bridge.Start(context.Background()))

	ack := f.send(t, "AF1", CommandMessage{
		ID:         "cmd-1",
		Command:    CommandZoneOn,
		Parameters: map[string]any{"zone": 2},
	})

	assert.Equal(t, AckAccepted, ack.Status)
	assert.Equal(t, "cmd-1", ack.CommandID)
	assert.Equal(t, "AF1", ack.DeviceID)
	assert.Contains(t, f.transport("10.0.0.1").writeCalls(), "SetZoneState 2 true")
}

func TestBridge_CommandErrors(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	require.NoError(t, f.bridge.Start(context.Background()))

	tests := []struct {
		name     string
		deviceID string
		cmd      CommandMessage
		wantCode string
	}{
		{
			name:     "zone out of range",
			deviceID: "AF1",
			cmd:      CommandMessage{ID: "1", Command: CommandZoneOff, Parameters: map[string]any{"zone": 5}},
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "missing zone",
			deviceID: "AF1",
			cmd:      CommandMessage{ID: "2", Command: CommandZoneOff},
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "bad exclusive mode",
			deviceID: "AF1",
			cmd:      CommandMessage{ID: "3", Command: CommandSetExclusive, Parameters: map[string]any{"mode": "on"}},
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "bad states string",
			deviceID: "AF1",
			cmd:      CommandMessage{ID: "4", Command: CommandSetZones, Parameters: map[string]any{"states": "11"}},
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "unknown command",
			deviceID: "AF1",
			cmd:      CommandMessage{ID: "5", Command: "dim"},
			wantCode: ErrCodeInvalidCommand,
		},
		{
			name:     "unknown device",
			deviceID: "AF9",
			cmd:      CommandMessage{ID: "6", Command: CommandAllOff},
			wantCode: ErrCodeNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := f.send(t, tt.deviceID, tt.cmd)
			assert.Equal(t, AckFailed, ack.Status)
			require.NotNil(t, ack.Error)
			assert.Equal(t, tt.wantCode, ack.Error.Code)
		})
	}

	assert.Empty(t, f.transport("10.0.0.1").writeCalls(), "invalid commands must not reach the switch")
}

func TestBridge_CommandTransportFailure(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	require.NoError(t, f.bridge.Start(context.Background()))

	tr := f.transport("10.0.0.1")
	tr.mu.Lock()
	tr.writeErr = ErrTransport
	tr.mu.Unlock()

	ack := f.send(t, "AF1", CommandMessage{ID: "1", Command: CommandReboot})
	require.NotNil(t, ack.Error)
	assert.Equal(t, ErrCodeDeviceUnreachable, ack.Error.Code)
}

func TestBridge_CommandSetZoneNameGoesThroughSettings(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	ctx := context.Background()
	require.NoError(t, f.bridge.Start(ctx))

	ack := f.send(t, "AF1", CommandMessage{
		ID:         "1",
		Command:    CommandSetZoneName,
		Parameters: map[string]any{"zone": 3, "name": "Terrace", "enabled": true},
	})
	require.Equal(t, AckAccepted, ack.Status, "%+v", ack.Error)

	assert.Contains(t, f.transport("10.0.0.1").writeCalls(), "SetZoneName 3 1Terrace")
	v, _, err := f.store.Get(ctx, "AF1", "zone_3_name")
	require.NoError(t, err)
	assert.Equal(t, "Terrace", v)
}

func TestBridge_UpdateSettingsRejectedOnHardwareFailure(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	ctx := context.Background()
	require.NoError(t, f.bridge.Start(ctx))

	tr := f.transport("10.0.0.1")
	tr.mu.Lock()
	tr.writeErr = ErrTransportTimeout
	tr.mu.Unlock()

	err := f.bridge.UpdateSettings(ctx, "AF1", map[string]string{SettingExclusive: "true"})
	require.ErrorIs(t, err, settings.ErrRejected)
	assert.ErrorIs(t, err, ErrTransportTimeout)

	_, err = f.bridge.Settings(ctx, "AF9")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestBridge_PairAddRemove(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	ctx := context.Background()
	require.NoError(t, f.bridge.Start(ctx))

	f.discovery.found = []Descriptor{
		{ID: "AF1", Address: "10.0.0.1", Model: "3S-4Z", Serial: "AF1"},
		{ID: "AF3", Address: "10.0.0.3", Model: "3S-3Z", Serial: "AF3"},
	}

	candidates, err := f.bridge.Pair(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1, "managed switches are not offered again")
	assert.Equal(t, "AF3", candidates[0].ID)
	assert.Len(t, f.client.getMessages("graylogic/discovery/audioflow"), 1)

	d, err := f.bridge.AddDevice(ctx, candidates[0], "")
	require.NoError(t, err)
	assert.Equal(t, 3, d.Mirror().ZoneCount())

	_, err = f.bridge.AddDevice(ctx, candidates[0], "")
	assert.ErrorIs(t, err, ErrDeviceExists)

	addr, ok, _ := f.store.Get(ctx, "AF3", SettingAddress)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3", addr)

	require.NoError(t, f.bridge.RemoveDevice(ctx, "AF3"))
	_, err = f.bridge.Device("AF3")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	all, err := f.store.All(ctx, "AF3")
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.ErrorIs(t, f.bridge.RemoveDevice(ctx, "AF3"), ErrDeviceNotFound)
}

func TestBridge_RepairDevice(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	ctx := context.Background()
	require.NoError(t, f.bridge.Start(ctx))

	f.discovery.found = []Descriptor{{ID: "AF1", Address: "10.0.0.77", Serial: "AF1"}}

	desc, found, err := f.bridge.RepairDevice(ctx, "AF1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "10.0.0.77", desc.Address)

	d, err := f.bridge.Device("AF1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.77", d.Address())
}

func TestBridge_FleetSnapshot(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	require.NoError(t, f.bridge.Start(context.Background()))

	require.True(t, waitFor(func() bool { return f.bridge.FleetSnapshot().Stats.Passes >= 1 }))
	snap := f.bridge.FleetSnapshot()
	assert.Equal(t, 1, snap.Devices)
	assert.Zero(t, snap.Failing)

	health := f.bridge.Health()
	assert.Equal(t, HealthHealthy, health.Status)
	assert.Equal(t, 1, health.DevicesManaged)
}

func TestBridge_StopIsIdempotent(t *testing.T) {
	f := newBridgeFixture(t, kitchenSwitch)
	require.NoError(t, f.bridge.Start(context.Background()))

	f.bridge.Stop()
	f.bridge.Stop()

	assert.Nil(t, f.client.handler(commandTopic), "commands unsubscribed")
	assert.Equal(t, HealthStopping, lastHealth(t, f.client).Status)
}
