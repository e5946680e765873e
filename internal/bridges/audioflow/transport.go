package audioflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Transport constants.
const (
	// DefaultRequestTimeout bounds a single request to a switch.
	DefaultRequestTimeout = 3 * time.Second

	// maxResponseSize caps response bodies; real payloads are a few hundred bytes.
	maxResponseSize = 64 << 10
)

// ZoneSnapshot is one zone as reported by the hardware.
type ZoneSnapshot struct {
	// ID is the 0-based hardware index.
	ID      int
	Name    string
	On      bool
	Enabled bool
}

// SwitchInfo is the /switch document.
type SwitchInfo struct {
	Name   string
	Model  string
	Serial string

	// Exclusive is nil when the firmware does not report the flag.
	Exclusive *bool
}

// Transport performs requests against one switch.
//
// Zone numbers passed to write methods are 1-based.
type Transport interface {
	GetSwitch(ctx context.Context) (SwitchInfo, error)
	GetZones(ctx context.Context) ([]ZoneSnapshot, error)
	GetZone(ctx context.Context, zone int) (ZoneSnapshot, error)
	SetZoneState(ctx context.Context, zone int, on bool) error
	SetAllZones(ctx context.Context, states string) error
	SetZoneName(ctx context.Context, zone int, payload string) error
	SetExclusive(ctx context.Context, mode string) error
	Reboot(ctx context.Context) error

	// Address returns the current host (or host:port).
	Address() string

	// SetAddress retargets subsequent requests.
	SetAddress(address string)
}

// HTTPTransport implements Transport over the switch's plaintext HTTP API.
//
// Thread Safety: All methods are safe for concurrent use.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration

	address   string
	addressMu sync.RWMutex
}

// NewHTTPTransport creates a transport for the switch at address.
//
// Parameters:
//   - address: Host or host:port of the switch (a scheme is optional)
//   - timeout: Per-request deadline; zero uses DefaultRequestTimeout
func NewHTTPTransport(address string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPTransport{
		client:  &http.Client{},
		timeout: timeout,
		address: address,
	}
}

// Address returns the current switch address.
func (t *HTTPTransport) Address() string {
	t.addressMu.RLock()
	defer t.addressMu.RUnlock()
	return t.address
}

// SetAddress retargets subsequent requests.
func (t *HTTPTransport) SetAddress(address string) {
	t.addressMu.Lock()
	t.address = address
	t.addressMu.Unlock()
}

func (t *HTTPTransport) baseURL() string {
	addr := strings.TrimRight(t.Address(), "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// GetSwitch reads the device metadata.
func (t *HTTPTransport) GetSwitch(ctx context.Context) (SwitchInfo, error) {
	body, err := t.do(ctx, http.MethodGet, "/switch", "")
	if err != nil {
		return SwitchInfo{}, err
	}
	if !gjson.ValidBytes(body) {
		return SwitchInfo{}, fmt.Errorf("%w: /switch: invalid JSON", ErrTransport)
	}

	doc := gjson.ParseBytes(body)
	info := SwitchInfo{
		Name:   doc.Get("name").String(),
		Model:  doc.Get("model").String(),
		Serial: doc.Get("serial").String(),
	}
	if ex := doc.Get("exclusive"); ex.Exists() && ex.Type != gjson.Null {
		v := flagValue(ex)
		info.Exclusive = &v
	}
	return info, nil
}

// GetZones reads every zone.
func (t *HTTPTransport) GetZones(ctx context.Context) ([]ZoneSnapshot, error) {
	body, err := t.do(ctx, http.MethodGet, "/zones", "")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: /zones: invalid JSON", ErrTransport)
	}

	list := gjson.GetBytes(body, "zones")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: /zones: missing zones array", ErrTransport)
	}

	var zones []ZoneSnapshot
	for i, z := range list.Array() {
		zones = append(zones, decodeZone(z, i))
	}
	return zones, nil
}

// GetZone reads one zone (1-based).
func (t *HTTPTransport) GetZone(ctx context.Context, zone int) (ZoneSnapshot, error) {
	body, err := t.do(ctx, http.MethodGet, "/zones/"+strconv.Itoa(zone), "")
	if err != nil {
		return ZoneSnapshot{}, err
	}
	if !gjson.ValidBytes(body) {
		return ZoneSnapshot{}, fmt.Errorf("%w: /zones/%d: invalid JSON", ErrTransport, zone)
	}

	doc := gjson.ParseBytes(body)
	if wrapped := doc.Get("zone"); wrapped.IsObject() {
		doc = wrapped
	}
	return decodeZone(doc, zone-1), nil
}

// SetZoneState switches one zone (1-based) on or off.
func (t *HTTPTransport) SetZoneState(ctx context.Context, zone int, on bool) error {
	state := "0"
	if on {
		state = "1"
	}
	_, err := t.do(ctx, http.MethodPut, "/zones/"+strconv.Itoa(zone), state)
	return err
}

// SetAllZones writes the state string for every zone at once.
func (t *HTTPTransport) SetAllZones(ctx context.Context, states string) error {
	_, err := t.do(ctx, http.MethodPut, "/zones", states)
	return err
}

// SetZoneName writes a framed name payload (see EncodeZoneName).
func (t *HTTPTransport) SetZoneName(ctx context.Context, zone int, payload string) error {
	_, err := t.do(ctx, http.MethodPut, "/zonename/"+strconv.Itoa(zone), payload)
	return err
}

// SetExclusive writes "enable" or "disable".
func (t *HTTPTransport) SetExclusive(ctx context.Context, mode string) error {
	_, err := t.do(ctx, http.MethodPut, "/exclusive", mode)
	return err
}

// Reboot asks the switch to restart.
func (t *HTTPTransport) Reboot(ctx context.Context) error {
	_, err := t.do(ctx, http.MethodGet, "/reboot_now", "")
	return err
}

// do performs one request and returns the body of a 2xx response.
func (t *HTTPTransport) do(ctx context.Context, method, path, body string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyError(method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyError(method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrTransport, method, path, resp.StatusCode)
	}
	return data, nil
}

func classifyError(method, path string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s %s: %w", ErrTransportTimeout, method, path, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
}

// decodeZone reads one zone object. fallbackID is used when "id" is absent.
func decodeZone(z gjson.Result, fallbackID int) ZoneSnapshot {
	id := fallbackID
	if v := z.Get("id"); v.Exists() {
		id = int(v.Int())
	}
	return ZoneSnapshot{
		ID:      id,
		Name:    strings.TrimSpace(z.Get("name").String()),
		On:      flagValue(z.Get("state")),
		Enabled: flagValue(z.Get("enabled")),
	}
}

// flagValue reads a boolean that firmware versions encode as "on"/"off",
// JSON booleans, numbers or "1"/"0".
func flagValue(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.False, gjson.Null:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		v, _ := parseBool(r.Str)
		return v
	default:
		return false
	}
}

var _ Transport = (*HTTPTransport)(nil)
