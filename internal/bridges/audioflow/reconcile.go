package audioflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-audioflow/internal/settings"
)

// PassResult describes the effects of one reconciliation pass.
type PassResult struct {
	// Events lists the events emitted, in zone order.
	Events []Event

	// Changed reports whether the mirror (zones or switch metadata) changed.
	Changed bool
}

// ReconcilerConfig holds the collaborators of a Reconciler.
type ReconcilerConfig struct {
	DeviceID  string
	Transport Transport
	Mirror    *Mirror

	// Settings is optional; without it label, enabled and exclusive
	// records are not written.
	Settings settings.Store

	// Events is optional.
	Events EventSink

	Logger Logger

	// Now is the clock used for event timestamps. Default: time.Now.
	Now func() time.Time
}

// Reconciler brings a Mirror in line with the hardware, one pass at a time.
//
// Passes are serialised: a Reconcile call waits for any pass already
// running on the same Reconciler.
type Reconciler struct {
	logSupport

	deviceID  string
	transport Transport
	mirror    *Mirror
	settings  settings.Store
	events    EventSink
	now       func() time.Time

	passMu sync.Mutex
}

// NewReconciler creates a Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		deviceID:  cfg.DeviceID,
		transport: cfg.Transport,
		mirror:    cfg.Mirror,
		settings:  cfg.Settings,
		events:    cfg.Events,
		now:       cfg.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.SetLogger(cfg.Logger)
	return r
}

// Reconcile runs one pass.
//
// The zone snapshot is required: if it cannot be fetched the pass aborts,
// the mirror is untouched and the error is returned for the caller to log.
// Switch metadata is best-effort. Settings writes and event delivery
// failures are logged and never fail the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (PassResult, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	snapshot, err := r.transport.GetZones(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("fetching zones: %w", err)
	}

	info, switchErr := r.transport.GetSwitch(ctx)
	if switchErr != nil {
		r.logDebug("switch metadata unavailable", "device_id", r.deviceID, "error", switchErr)
	}

	var result PassResult
	for _, snap := range snapshot {
		r.reconcileZone(ctx, snap, &result)
	}

	if switchErr == nil {
		r.reconcileSwitch(ctx, info, &result)
	}

	return result, nil
}

// reconcileZone applies one hardware zone entry to the mirror.
func (r *Reconciler) reconcileZone(ctx context.Context, snap ZoneSnapshot, result *PassResult) {
	zoneNum := snap.ID + 1
	prev, ok := r.mirror.Zone(zoneNum)
	if !ok {
		// Hardware reports more zones than the model supports.
		return
	}

	zoneName := snap.Name
	if zoneName == "" {
		zoneName = DefaultZoneName(zoneNum)
	}

	next := prev
	next.Enabled = snap.Enabled

	switch {
	case prev.Visible && !snap.Enabled:
		next.Visible = false
		r.commit(prev, next, result)
		r.logInfo("zone hidden", "device_id", r.deviceID, "zone", zoneNum)
		return
	case !prev.Visible && snap.Enabled:
		next.Visible = true
		r.logInfo("zone shown", "device_id", r.deviceID, "zone", zoneNum)
	}

	if !next.Visible {
		// Still hidden: keep the enabled record in step with hardware.
		r.syncEnabledSetting(ctx, zoneNum, snap.Enabled)
		r.commit(prev, next, result)
		return
	}

	if prev.On != snap.On {
		next.On = snap.On
		event := newZoneEvent(r.deviceID, zoneNum, zoneName, snap.On, r.now())
		result.Events = append(result.Events, event)
		r.emit(ctx, event)
	}

	next.Name = zoneName

	r.syncNameSetting(ctx, zoneNum, zoneName)
	r.syncEnabledSetting(ctx, zoneNum, snap.Enabled)
	r.commit(prev, next, result)
}

// reconcileSwitch applies the /switch document.
func (r *Reconciler) reconcileSwitch(ctx context.Context, info SwitchInfo, result *PassResult) {
	meta := r.mirror.Meta()
	meta.Name = info.Name
	meta.Model = info.Model
	meta.Serial = info.Serial
	if info.Exclusive != nil {
		v := *info.Exclusive
		meta.Exclusive = &v
	}
	if r.mirror.setMeta(meta) {
		result.Changed = true
	}

	if info.Exclusive == nil || r.settings == nil {
		return
	}
	stored, ok, err := r.settings.Get(ctx, r.deviceID, SettingExclusive)
	if err != nil {
		r.logWarn("reading exclusive setting failed", "device_id", r.deviceID, "error", err)
		return
	}
	current, valid := parseBool(stored)
	if ok && valid && current == *info.Exclusive {
		return
	}
	r.writeSetting(ctx, SettingExclusive, formatBool(*info.Exclusive))
}

// syncNameSetting writes zone_<n>_name when it differs from the name the
// switch reports. A label longer than MaxZoneNameLength settles on the cut name.
func (r *Reconciler) syncNameSetting(ctx context.Context, zoneNum int, name string) {
	if r.settings == nil {
		return
	}
	key := ZoneNameKey(zoneNum)
	stored, ok, err := r.settings.Get(ctx, r.deviceID, key)
	if err != nil {
		r.logWarn("reading name setting failed", "device_id", r.deviceID, "key", key, "error", err)
		return
	}
	if ok && stored == name {
		return
	}
	r.writeSetting(ctx, key, name)
}

// syncEnabledSetting writes zone_<n>_enabled when it disagrees with hardware.
func (r *Reconciler) syncEnabledSetting(ctx context.Context, zoneNum int, enabled bool) {
	if r.settings == nil {
		return
	}
	key := ZoneEnabledKey(zoneNum)
	stored, ok, err := r.settings.Get(ctx, r.deviceID, key)
	if err != nil {
		r.logWarn("reading enabled setting failed", "device_id", r.deviceID, "key", key, "error", err)
		return
	}
	current, valid := parseBool(stored)
	if ok && valid && current == enabled {
		return
	}
	r.writeSetting(ctx, key, formatBool(enabled))
}

// writeSetting performs a best-effort system write.
func (r *Reconciler) writeSetting(ctx context.Context, key, value string) {
	if r.settings == nil {
		return
	}
	if err := r.settings.Set(ctx, r.deviceID, key, value); err != nil {
		r.logWarn("settings write failed",
			"device_id", r.deviceID,
			"key", key,
			"error", fmt.Errorf("%w: %w", ErrSettingsWrite, err))
	}
}

func (r *Reconciler) emit(ctx context.Context, event Event) {
	r.logInfo("zone state changed",
		"device_id", r.deviceID,
		"zone", event.State["zone"],
		"event", event.Kind)

	if r.events == nil {
		return
	}
	if err := r.events.Emit(ctx, event); err != nil {
		r.logDebug("event delivery failed", "device_id", r.deviceID, "event", event.Kind, "error", err)
	}
}

func (r *Reconciler) commit(prev, next Zone, result *PassResult) {
	if prev == next {
		return
	}
	r.mirror.setZone(next)
	result.Changed = true
}
