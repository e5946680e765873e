package audioflow

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pong builds a discovery response datagram.
func pong(model, serial string) []byte {
	b := make([]byte, responseMinLen)
	copy(b, responseMagic)
	copy(b[modelOffset:serialOffset], model)
	copy(b[serialOffset:responseMinLen], serial)
	return b
}

// fakeResponder answers every probe on 127.0.0.1 with the given datagrams.
type fakeResponder struct {
	conn   *net.UDPConn
	probes atomic.Int32
}

func newFakeResponder(t *testing.T, replies ...[]byte) *fakeResponder {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	r := &fakeResponder{conn: conn}
	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) != probeMagic {
				continue
			}
			r.probes.Add(1)
			for _, reply := range replies {
				_, _ = conn.WriteToUDP(reply, addr)
			}
		}
	}()
	return r
}

func (r *fakeResponder) port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func newTestDiscoverer(r *fakeResponder) *Discoverer {
	return NewDiscoverer(DiscovererConfig{
		Port:             r.port(),
		BroadcastAddress: "127.0.0.1",
	})
}

func TestParseResponse(t *testing.T) {
	want := Descriptor{
		ID:      "AF0123456789",
		Address: "192.168.1.50",
		Model:   "3S-4Z",
		Serial:  "AF0123456789",
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "exact length",
			payload: pong("3S-4Z", "AF0123456789"),
		},
		{
			name:    "trailing bytes ignored",
			payload: append(pong("3S-4Z", "AF0123456789"), "EXTRA"...),
		},
		{
			name:    "space padded fields",
			payload: pong(" 3S-4Z  ", "  AF0123456789 "),
		},
		{
			name:    "bytes after NUL dropped",
			payload: pong("3S-4Z\x00xx", "AF0123456789\x00ju"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseResponse(tt.payload, "192.168.1.50")
			require.NoError(t, err)
			assert.Equal(t, want, d)
		})
	}
}

func TestParseResponse_EmptySerial(t *testing.T) {
	d, err := ParseResponse(pong("3S-2Z", ""), "10.0.0.7")
	require.NoError(t, err)
	assert.Equal(t, "AF_10_0_0_7", d.ID)
	assert.Empty(t, d.Serial)
}

func TestParseResponse_Invalid(t *testing.T) {
	short := pong("3S-2Z", "X")[:29]
	badMagic := pong("3S-2Z", "X")
	copy(badMagic, "afping")

	for name, payload := range map[string][]byte{
		"short":     short,
		"bad magic": badMagic,
		"empty":     nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseResponse(payload, "10.0.0.1")
			assert.ErrorIs(t, err, ErrDiscoveryParse)
		})
	}
}

func TestDescriptor_Candidate(t *testing.T) {
	c := Descriptor{ID: "AF1", Address: "10.0.0.2", Model: "3S-3Z", Serial: "AF1"}.Candidate()

	assert.Equal(t, "Audioflow 3S-3Z", c.Name)
	assert.Equal(t, "AF1", c.Data.ID)
	assert.Equal(t, map[string]string{"address": "10.0.0.2"}, c.Settings)
	assert.Equal(t, map[string]string{"model": "3S-3Z", "serial": "AF1"}, c.Store)
}

func TestDiscoverer_Discover(t *testing.T) {
	r := newFakeResponder(t,
		pong("3S-4Z", "AF0000000001"),
		pong("3S-4Z", "AF0000000001"), // duplicate
		[]byte("garbage"),
		pong("3S-2Z", ""),
	)
	d := newTestDiscoverer(r)

	found := d.Discover(context.Background(), 300*time.Millisecond)

	require.Len(t, found, 2)
	assert.Equal(t, "AF0000000001", found[0].ID)
	assert.Equal(t, "127.0.0.1", found[0].Address)
	assert.Equal(t, "AF_127_0_0_1", found[1].ID)
	assert.EqualValues(t, 1, r.probes.Load())
}

func TestDiscoverer_Discover_NoResponses(t *testing.T) {
	r := newFakeResponder(t)
	d := newTestDiscoverer(r)

	start := time.Now()
	found := d.Discover(context.Background(), 150*time.Millisecond)

	assert.Empty(t, found)
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond, "window should elapse")
}

func TestDiscoverer_Discover_Cancel(t *testing.T) {
	r := newFakeResponder(t)
	d := newTestDiscoverer(r)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	found := d.Discover(ctx, 5*time.Second)

	assert.Empty(t, found)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDiscoverer_Repair(t *testing.T) {
	r := newFakeResponder(t,
		pong("3S-4Z", "AF0000000001"),
		pong("3S-4Z", "AF0000000002"),
	)
	d := newTestDiscoverer(r)

	start := time.Now()
	desc, ok := d.Repair(context.Background(), "AF0000000002", 3*time.Second)

	require.True(t, ok)
	assert.Equal(t, "AF0000000002", desc.Serial)
	assert.Equal(t, "127.0.0.1", desc.Address)
	assert.Less(t, time.Since(start), 2*time.Second, "repair should return at the first match")
}

func TestDiscoverer_Repair_NoMatch(t *testing.T) {
	r := newFakeResponder(t, pong("3S-4Z", "AF0000000001"))
	d := newTestDiscoverer(r)

	_, ok := d.Repair(context.Background(), "AF9999999999", 150*time.Millisecond)
	assert.False(t, ok)
}

func TestDiscoverer_Repair_EmptySerial(t *testing.T) {
	d := NewDiscoverer(DiscovererConfig{})
	_, ok := d.Repair(context.Background(), "", time.Second)
	assert.False(t, ok)
}
