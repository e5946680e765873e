package audioflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedFleet FleetSnapshot

func (f fixedFleet) FleetSnapshot() FleetSnapshot { return FleetSnapshot(f) }

const healthTopic = "graylogic/health/audioflow"

func lastHealth(t *testing.T, client *mockMQTTClient) HealthMessage {
	t.Helper()
	msgs := client.getMessages(healthTopic)
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.True(t, last.Retained)

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(last.Payload, &msg))
	return msg
}

func TestHealthReporter_Status(t *testing.T) {
	client := newMockMQTTClient()

	h := NewHealthReporter(HealthReporterConfig{BridgeID: "audioflow", Publisher: client})
	status, _ := h.Status()
	assert.Equal(t, HealthHealthy, status)

	h = NewHealthReporter(HealthReporterConfig{
		BridgeID:  "audioflow",
		Publisher: client,
		Fleet:     fixedFleet{Devices: 3, Failing: 1},
	})
	status, reason := h.Status()
	assert.Equal(t, HealthDegraded, status)
	assert.Contains(t, reason, "1 of 3")

	client.setConnected(false)
	status, reason = h.Status()
	assert.Equal(t, HealthDegraded, status)
	assert.Equal(t, "MQTT disconnected", reason)
}

func TestHealthReporter_PublishNow(t *testing.T) {
	client := newMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "audioflow",
		Version:   "1.2.3",
		Publisher: client,
		Fleet: fixedFleet{
			Devices: 2,
			Stats:   BridgeStatistics{Passes: 10, Failures: 1, Commands: 4},
		},
	})

	require.NoError(t, h.PublishNow())

	msg := lastHealth(t, client)
	assert.Equal(t, HealthHealthy, msg.Status)
	assert.Equal(t, "1.2.3", msg.Version)
	assert.Equal(t, 2, msg.DevicesManaged)
	require.NotNil(t, msg.Statistics)
	assert.EqualValues(t, 10, msg.Statistics.Passes)
	assert.EqualValues(t, 4, msg.Statistics.Commands)
}

func TestHealthReporter_StartStop(t *testing.T) {
	client := newMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "audioflow",
		Interval:  10 * time.Millisecond,
		Publisher: client,
	})

	require.NoError(t, h.PublishStarting())
	assert.Equal(t, HealthStarting, lastHealth(t, client).Status)

	h.Start(context.Background())
	require.True(t, waitFor(func() bool { return len(client.getMessages(healthTopic)) >= 3 }))

	h.Stop()
	h.Stop()
	assert.Equal(t, HealthStopping, lastHealth(t, client).Status)
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "audioflow"})
	assert.NoError(t, h.PublishNow())
}
