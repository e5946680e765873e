package audioflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-audioflow/internal/infrastructure/mqtt"
)

// fakeTransport implements Transport in memory and records every call.
type fakeTransport struct {
	mu sync.Mutex

	address string
	info    SwitchInfo
	zones   []ZoneSnapshot

	zonesErr  error
	switchErr error

	// zoneErr fails SetZoneState / SetZoneName for specific zones.
	zoneErr  map[int]error
	writeErr error

	// block, when set, is waited on inside GetZones.
	block chan struct{}

	calls []string
}

func newFakeTransport(zones ...ZoneSnapshot) *fakeTransport {
	return &fakeTransport{
		address: "192.168.1.50",
		info:    SwitchInfo{Name: "Audioflow", Model: "3S-4Z", Serial: "AF0123456789"},
		zones:   zones,
		zoneErr: make(map[int]error),
	}
}

func (f *fakeTransport) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeTransport) GetSwitch(_ context.Context) (SwitchInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetSwitch")
	return f.info, f.switchErr
}

func (f *fakeTransport) GetZones(ctx context.Context) ([]ZoneSnapshot, error) {
	f.mu.Lock()
	f.record("GetZones")
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.zonesErr != nil {
		return nil, f.zonesErr
	}
	out := make([]ZoneSnapshot, len(f.zones))
	copy(out, f.zones)
	return out, nil
}

func (f *fakeTransport) GetZone(_ context.Context, zone int) (ZoneSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetZone %d", zone)
	for _, z := range f.zones {
		if z.ID == zone-1 {
			return z, nil
		}
	}
	return ZoneSnapshot{}, ErrTransport
}

func (f *fakeTransport) SetZoneState(_ context.Context, zone int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetZoneState %d %t", zone, on)
	if err := f.zoneErr[zone]; err != nil {
		return err
	}
	return f.writeErr
}

func (f *fakeTransport) SetAllZones(_ context.Context, states string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetAllZones %s", states)
	return f.writeErr
}

func (f *fakeTransport) SetZoneName(_ context.Context, zone int, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetZoneName %d %s", zone, payload)
	if err := f.zoneErr[zone]; err != nil {
		return err
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	// Apply the write so later passes read back what the switch stored.
	for i := range f.zones {
		if f.zones[i].ID == zone-1 && payload != "" {
			f.zones[i].Enabled = payload[0] == '1'
			f.zones[i].Name = payload[1:]
		}
	}
	return nil
}

func (f *fakeTransport) SetExclusive(_ context.Context, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetExclusive %s", mode)
	return f.writeErr
}

func (f *fakeTransport) Reboot(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Reboot")
	return f.writeErr
}

func (f *fakeTransport) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

func (f *fakeTransport) SetAddress(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.address = address
}

func (f *fakeTransport) setZones(zones ...ZoneSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zones = zones
}

func (f *fakeTransport) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// writeCalls returns the recorded calls other than reads.
func (f *fakeTransport) writeCalls() []string {
	var out []string
	for _, c := range f.getCalls() {
		switch c {
		case "GetSwitch", "GetZones":
			continue
		}
		out = append(out, c)
	}
	return out
}

var _ Transport = (*fakeTransport)(nil)

// recordingSink collects emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) getEvents() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// mockLogger records log lines by level.
type mockLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *mockLogger) log(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, level+": "+msg)
	l.mu.Unlock()
}

func (l *mockLogger) Debug(msg string, _ ...any) { l.log("DEBUG", msg) }
func (l *mockLogger) Info(msg string, _ ...any)  { l.log("INFO", msg) }
func (l *mockLogger) Warn(msg string, _ ...any)  { l.log("WARN", msg) }
func (l *mockLogger) Error(msg string, _ ...any) { l.log("ERROR", msg) }

func (l *mockLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if len(line) >= len(prefix) && line[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// mockMQTTClient implements MQTTClient for testing.
type mockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTTClient) setConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *mockMQTTClient) handler(topic string) mqtt.MessageHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers[topic]
}

// getMessages returns publications on topic.
func (m *mockMQTTClient) getMessages(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// hwZone builds a hardware zone entry for 1-based zone n.
func hwZone(n int, name string, on, enabled bool) ZoneSnapshot {
	return ZoneSnapshot{ID: n - 1, Name: name, On: on, Enabled: enabled}
}
