package audioflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// Discovery wire protocol.
const (
	// DiscoveryPort is the UDP port switches listen on.
	DiscoveryPort = 10499

	// DefaultBroadcastAddress is the limited broadcast address probes go to.
	DefaultBroadcastAddress = "255.255.255.255"

	// PairingWindow is how long pairing discovery collects responses.
	PairingWindow = 3 * time.Second

	// RepairWindow is how long repair discovery waits for a serial match.
	RepairWindow = 5 * time.Second

	probeMagic    = "afping"
	responseMagic = "afpong"

	// Response layout: magic [0:6), model [6:14), serial [14:30).
	modelOffset    = 6
	serialOffset   = 14
	responseMinLen = 30

	maxDatagramSize = 1500
)

// Descriptor identifies a switch found by discovery.
type Descriptor struct {
	// ID is the serial, or AF_<address with dots as underscores> when the
	// switch reports no serial.
	ID      string `json:"id"`
	Address string `json:"address"`
	Model   string `json:"model"`
	Serial  string `json:"serial"`
}

// Name returns a display name for the pairing list.
func (d Descriptor) Name() string {
	if d.Model == "" {
		return "Audioflow Switch"
	}
	return "Audioflow " + d.Model
}

// Candidate is the pairing entry offered to the operator.
type Candidate struct {
	Name     string            `json:"name"`
	Data     CandidateData     `json:"data"`
	Settings map[string]string `json:"settings"`
	Store    map[string]string `json:"store"`
}

// CandidateData is the opaque identity payload of a pairing entry.
type CandidateData struct {
	ID string `json:"id"`
}

// Candidate converts a descriptor to a pairing entry.
func (d Descriptor) Candidate() Candidate {
	return Candidate{
		Name:     d.Name(),
		Data:     CandidateData{ID: d.ID},
		Settings: map[string]string{SettingAddress: d.Address},
		Store:    map[string]string{SettingModel: d.Model, SettingSerial: d.Serial},
	}
}

// ParseResponse decodes a discovery response datagram.
//
// Parameters:
//   - payload: Raw datagram
//   - source: Sender IP address, used as the switch address
//
// Returns:
//   - Descriptor: Decoded switch identity
//   - error: ErrDiscoveryParse for short datagrams or a wrong magic
func ParseResponse(payload []byte, source string) (Descriptor, error) {
	if len(payload) < responseMinLen {
		return Descriptor{}, fmt.Errorf("%w: %d bytes", ErrDiscoveryParse, len(payload))
	}
	if !bytes.Equal(payload[:modelOffset], []byte(responseMagic)) {
		return Descriptor{}, fmt.Errorf("%w: bad magic %q", ErrDiscoveryParse, payload[:modelOffset])
	}

	d := Descriptor{
		Address: source,
		Model:   fixedField(payload[modelOffset:serialOffset]),
		Serial:  fixedField(payload[serialOffset:responseMinLen]),
	}
	d.ID = d.Serial
	if d.ID == "" {
		d.ID = FallbackID(source)
	}
	return d, nil
}

// FallbackID derives a stable identity from an address: 192.168.1.50
// becomes AF_192_168_1_50.
func FallbackID(address string) string {
	return "AF_" + strings.ReplaceAll(address, ".", "_")
}

// fixedField reads a NUL-padded field up to its first NUL and trims
// surrounding whitespace.
func fixedField(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// DiscovererConfig holds configuration for a Discoverer.
type DiscovererConfig struct {
	// Port is the destination port of probes. Default: DiscoveryPort.
	Port int

	// BroadcastAddress is the destination of probes.
	// Default: DefaultBroadcastAddress.
	BroadcastAddress string

	// Logger is optional.
	Logger Logger
}

// Discoverer runs discovery sessions. Each session owns its own socket;
// sessions may run concurrently.
type Discoverer struct {
	logSupport

	port      int
	broadcast string
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(cfg DiscovererConfig) *Discoverer {
	d := &Discoverer{
		port:      cfg.Port,
		broadcast: cfg.BroadcastAddress,
	}
	if d.port == 0 {
		d.port = DiscoveryPort
	}
	if d.broadcast == "" {
		d.broadcast = DefaultBroadcastAddress
	}
	d.SetLogger(cfg.Logger)
	return d
}

// Discover probes the network and collects every switch that answers
// within window, deduplicated by ID (first response wins).
//
// It never fails: socket errors are logged and yield an empty result once
// the window has elapsed. Cancelling ctx ends the session early.
func (d *Discoverer) Discover(ctx context.Context, window time.Duration) []Descriptor {
	if window <= 0 {
		window = PairingWindow
	}
	found := d.session(ctx, window, nil)
	d.logInfo("discovery finished", "devices", len(found), "window", window)
	return found
}

// Repair looks for the switch with the given serial and returns as soon as
// it answers. ok is false when nothing matched within window; callers keep
// the old address in that case.
func (d *Discoverer) Repair(ctx context.Context, serial string, window time.Duration) (Descriptor, bool) {
	if window <= 0 {
		window = RepairWindow
	}
	if serial == "" {
		return Descriptor{}, false
	}

	found := d.session(ctx, window, func(desc Descriptor) bool {
		return desc.Serial == serial
	})
	for _, desc := range found {
		if desc.Serial == serial {
			d.logInfo("repair discovery matched", "serial", serial, "address", desc.Address)
			return desc, true
		}
	}
	d.logInfo("repair discovery found no match", "serial", serial)
	return Descriptor{}, false
}

// session runs one probe/collect cycle. When match is non-nil the session
// ends at the first matching descriptor.
func (d *Discoverer) session(ctx context.Context, window time.Duration, match func(Descriptor) bool) []Descriptor {
	sessCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(sessCtx, "udp4", ":0")
	if err != nil {
		d.logError("discovery socket bind failed", err)
		<-sessCtx.Done()
		return nil
	}

	// Closing the socket is the session-ended signal for the read loop.
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { conn.Close() }) //nolint:errcheck // nothing to do on close failure
	}
	defer closeConn()
	go func() {
		<-sessCtx.Done()
		closeConn()
	}()

	dst := &net.UDPAddr{IP: net.ParseIP(d.broadcast), Port: d.port}
	if _, err := conn.WriteTo([]byte(probeMagic), dst); err != nil {
		d.logError("discovery probe send failed", err, "destination", dst.String())
	} else {
		d.logDebug("discovery probe sent", "destination", dst.String())
	}

	var found []Descriptor
	seen := make(map[string]bool)
	buf := make([]byte, maxDatagramSize)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if sessCtx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				d.logError("discovery read failed", err)
				<-sessCtx.Done()
			}
			return found
		}

		desc, err := ParseResponse(buf[:n], sourceIP(addr))
		if err != nil {
			d.logDebug("ignoring datagram", "from", addr.String(), "error", err)
			continue
		}
		if seen[desc.ID] {
			continue
		}
		seen[desc.ID] = true
		found = append(found, desc)
		d.logDebug("switch answered", "id", desc.ID, "address", desc.Address, "model", desc.Model)

		if match != nil && match(desc) {
			return found
		}
	}
}

func sourceIP(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
