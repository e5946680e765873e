package audioflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/mqtt"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// MQTTPublisher publishes events and state snapshots to the bus.
type MQTTPublisher struct {
	client MQTTClient
	qos    byte
	topics mqtt.Topics
}

// NewMQTTPublisher creates a publisher using QoS qos.
func NewMQTTPublisher(client MQTTClient, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, qos: qos}
}

// Emit publishes an event on graylogic/event/audioflow/{device_id}/{kind}.
// Events are not retained.
func (p *MQTTPublisher) Emit(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	return p.client.Publish(p.topics.Event(event.DeviceID, event.Kind), payload, p.qos, false)
}

// PublishState publishes the retained mirror snapshot of a device.
func (p *MQTTPublisher) PublishState(msg StateMessage) error {
	return p.publishJSON(p.topics.State(msg.DeviceID), msg, true)
}

// ClearState removes the retained snapshot of a removed device.
func (p *MQTTPublisher) ClearState(deviceID string) error {
	return p.client.Publish(p.topics.State(deviceID), nil, p.qos, true)
}

// PublishAck publishes a command acknowledgement.
func (p *MQTTPublisher) PublishAck(ack AckMessage) error {
	return p.publishJSON(p.topics.Ack(ack.DeviceID), ack, false)
}

// PublishDiscovery announces pairing candidates.
func (p *MQTTPublisher) PublishDiscovery(msg DiscoveryMessage) error {
	return p.publishJSON(p.topics.Discovery(), msg, false)
}

func (p *MQTTPublisher) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	return p.client.Publish(topic, payload, p.qos, retained)
}

var _ EventSink = (*MQTTPublisher)(nil)
