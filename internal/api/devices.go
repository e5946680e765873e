package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-audioflow/internal/bridges/audioflow"
)

// deviceResponse is the JSON shape of one managed switch.
type deviceResponse struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Model   string               `json:"model,omitempty"`
	Serial  string               `json:"serial,omitempty"`
	Address string               `json:"address"`
	Failing bool                 `json:"failing"`
	Switch  audioflow.SwitchMeta `json:"switch"`
	Zones   []audioflow.Zone     `json:"zones,omitempty"`
	Stats   audioflow.PollStats  `json:"stats"`
}

func newDeviceResponse(d *audioflow.Device, withZones bool) deviceResponse {
	snap := d.Snapshot()
	resp := deviceResponse{
		ID:      d.ID(),
		Name:    d.Name(),
		Model:   d.Model(),
		Serial:  d.Serial(),
		Address: snap.Address,
		Failing: d.Failing(),
		Switch:  snap.Switch,
		Stats:   d.Stats(),
	}
	if withZones {
		resp.Zones = snap.Zones
	}
	return resp
}

// addDeviceRequest is the body of POST /devices.
type addDeviceRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Model   string `json:"model"`
	Serial  string `json:"serial"`
}

// handleListDevices returns every managed switch without zone detail.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	resp := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		resp = append(resp, newDeviceResponse(d, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": resp,
		"count":   len(resp),
	})
}

// handleGetDevice returns one switch with its mirrored zones.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDeviceResponse(d, true))
}

// handleAddDevice adopts a switch, usually one returned by discovery.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := req.ID
	if id == "" {
		id = req.Serial
	}
	desc := audioflow.Descriptor{
		ID:      id,
		Address: req.Address,
		Model:   req.Model,
		Serial:  req.Serial,
	}

	d, err := s.bridge.AddDevice(r.Context(), desc, req.Name)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDeviceResponse(d, true))
}

// handleRemoveDevice stops managing a switch and deletes its settings.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.RemoveDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshDevice runs a reconciliation pass and returns its events.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	result, err := d.Refresh(r.Context())
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	events := result.Events
	if events == nil {
		events = []audioflow.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": result.Changed,
		"events":  events,
		"device":  newDeviceResponse(d, true),
	})
}

// handleRepairDevice searches the network for the switch by serial.
func (s *Server) handleRepairDevice(w http.ResponseWriter, r *http.Request) {
	desc, found, err := s.bridge.RepairDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "switch did not answer repair discovery")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":   true,
		"address": desc.Address,
		"model":   desc.Model,
		"serial":  desc.Serial,
	})
}

// handleReboot asks the switch to restart.
func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if err := d.Dispatcher().Reboot(r.Context()); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}

// handleSetExclusive changes the exclusive mode through the settings store,
// so a switch that refuses the write leaves the stored value untouched.
func (s *Server) handleSetExclusive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool  `json:"enabled"`
		Mode    string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var enabled bool
	switch {
	case req.Enabled != nil:
		enabled = *req.Enabled
	case req.Mode == audioflow.ExclusiveEnable:
		enabled = true
	case req.Mode == audioflow.ExclusiveDisable:
		enabled = false
	default:
		writeBadRequest(w, "enabled (bool) or mode (enable|disable) is required")
		return
	}

	id := chi.URLParam(r, "id")
	err := s.bridge.UpdateSettings(r.Context(), id, map[string]string{
		audioflow.SettingExclusive: strconv.FormatBool(enabled),
	})
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exclusive": enabled})
}

// handleGetSettings returns every stored setting of a switch.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.bridge.Settings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// handleUpdateSettings applies a user settings change. The body is a flat
// object of key to string value.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var changes map[string]string
	if !decodeBody(w, r, &changes) {
		return
	}
	if len(changes) == 0 {
		writeBadRequest(w, "no settings in request body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.bridge.UpdateSettings(r.Context(), id, changes); err != nil {
		writeBridgeError(w, err)
		return
	}
	values, err := s.bridge.Settings(r.Context(), id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

// handleSetZones writes every zone at once from a "1010" style string.
func (s *Server) handleSetZones(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	var req struct {
		States string `json:"states"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := d.Dispatcher().SetZoneStates(r.Context(), req.States); err != nil {
		writeBridgeError(w, err)
		return
	}
	d.Trigger()
	w.WriteHeader(http.StatusNoContent)
}

// handleAllZonesOff turns every zone off. Per-zone failures are logged by the
// dispatcher and do not fail the request.
func (s *Server) handleAllZonesOff(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if err := d.Dispatcher().AllZonesOff(r.Context()); err != nil {
		writeBridgeError(w, err)
		return
	}
	d.Trigger()
	w.WriteHeader(http.StatusNoContent)
}

// handleSetZoneState turns one zone on or off.
func (s *Server) handleSetZoneState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	zone, ok := zoneParam(w, r)
	if !ok {
		return
	}
	var req struct {
		On *bool `json:"on"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.On == nil {
		writeBadRequest(w, "on is required")
		return
	}
	if err := d.Dispatcher().SetZoneState(r.Context(), zone, *req.On); err != nil {
		writeBridgeError(w, err)
		return
	}
	d.Trigger()
	w.WriteHeader(http.StatusNoContent)
}

// handleSetZoneName renames a zone and/or toggles its enabled flag through
// the settings store.
func (s *Server) handleSetZoneName(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	zone, ok := zoneParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Name    *string `json:"name"`
		Enabled *bool   `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	changes := make(map[string]string, 2)
	if req.Name != nil {
		changes[audioflow.ZoneNameKey(zone)] = *req.Name
	}
	if req.Enabled != nil {
		changes[audioflow.ZoneEnabledKey(zone)] = strconv.FormatBool(*req.Enabled)
	}
	if len(changes) == 0 {
		writeBadRequest(w, "name or enabled is required")
		return
	}
	if !d.Mirror().ValidZone(zone) {
		writeBridgeError(w, fmt.Errorf("%w: %d", audioflow.ErrInvalidZone, zone))
		return
	}

	if err := s.bridge.UpdateSettings(r.Context(), d.ID(), changes); err != nil {
		writeBridgeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupDevice resolves the {id} URL parameter, writing 404 when unknown.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*audioflow.Device, bool) {
	d, err := s.bridge.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeBridgeError(w, err)
		return nil, false
	}
	return d, true
}

// zoneParam parses the {zone} URL parameter. Range checks are left to the
// dispatcher, which knows the zone count.
func zoneParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	zone, err := strconv.Atoi(chi.URLParam(r, "zone"))
	if err != nil {
		writeBadRequest(w, "zone must be an integer")
		return 0, false
	}
	return zone, true
}

// decodeBody decodes a JSON request body, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// discoveryResponse is returned by POST /discovery.
type discoveryResponse struct {
	Timestamp  time.Time             `json:"timestamp"`
	Candidates []audioflow.Candidate `json:"candidates"`
	Count      int                   `json:"count"`
}

// handleDiscover runs a pairing session. The request blocks for the pairing
// window.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found, err := s.bridge.Pair(r.Context())
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	candidates := make([]audioflow.Candidate, 0, len(found))
	for _, desc := range found {
		candidates = append(candidates, desc.Candidate())
	}
	writeJSON(w, http.StatusOK, discoveryResponse{
		Timestamp:  time.Now().UTC(),
		Candidates: candidates,
		Count:      len(candidates),
	})
}
