package audioflow

import "sync"

// Zone is the mirrored state of one zone.
type Zone struct {
	// Index is the 1-based zone number. It never changes.
	Index int `json:"zone"`

	// Name is the cached display name.
	Name string `json:"name"`

	// On is the last known power state. Only meaningful while Visible.
	On bool `json:"on"`

	// Enabled is the hardware-reported enable flag.
	Enabled bool `json:"enabled"`

	// Visible reports whether the zone is exposed as a control. After a
	// completed pass Visible == Enabled.
	Visible bool `json:"visible"`
}

// SwitchMeta is the device-wide metadata from the last successful /switch read.
type SwitchMeta struct {
	Name   string `json:"name,omitempty"`
	Model  string `json:"model,omitempty"`
	Serial string `json:"serial,omitempty"`

	// Exclusive is nil when the firmware does not report the flag.
	Exclusive *bool `json:"exclusive,omitempty"`
}

// Mirror is the local record of a switch's zones.
//
// Entries 1..N are created with the mirror, named "Zone n", hidden and off.
// Only the Reconciler mutates it; every other reader uses the snapshot
// accessors.
//
// Thread Safety: All methods are safe for concurrent use.
type Mirror struct {
	mu    sync.RWMutex
	zones []Zone
	meta  SwitchMeta
}

// NewMirror creates a mirror with zoneCount hidden zones.
func NewMirror(zoneCount int) *Mirror {
	zones := make([]Zone, zoneCount)
	for i := range zones {
		zones[i] = Zone{
			Index: i + 1,
			Name:  DefaultZoneName(i + 1),
		}
	}
	return &Mirror{zones: zones}
}

// ZoneCount returns the fixed number of zones.
func (m *Mirror) ZoneCount() int {
	return len(m.zones)
}

// ValidZone reports whether zone is within 1..N.
func (m *Mirror) ValidZone(zone int) bool {
	return zone >= 1 && zone <= len(m.zones)
}

// Zone returns a copy of zone n.
func (m *Mirror) Zone(zone int) (Zone, bool) {
	if !m.ValidZone(zone) {
		return Zone{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zones[zone-1], true
}

// Zones returns a copy of every zone in index order.
func (m *Mirror) Zones() []Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Zone, len(m.zones))
	copy(out, m.zones)
	return out
}

// Meta returns a copy of the switch metadata.
func (m *Mirror) Meta() SwitchMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta := m.meta
	if meta.Exclusive != nil {
		v := *meta.Exclusive
		meta.Exclusive = &v
	}
	return meta
}

// setZone replaces zone z.Index.
func (m *Mirror) setZone(z Zone) {
	m.mu.Lock()
	m.zones[z.Index-1] = z
	m.mu.Unlock()
}

// setMeta replaces the switch metadata and reports whether it changed.
func (m *Mirror) setMeta(meta SwitchMeta) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.meta.Name != meta.Name ||
		m.meta.Model != meta.Model ||
		m.meta.Serial != meta.Serial ||
		!equalBoolPtr(m.meta.Exclusive, meta.Exclusive)
	m.meta = meta
	return changed
}

func equalBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
