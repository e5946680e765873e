package audioflow

import (
	"context"
	"time"
)

// HistoryWriter stores time-series points. *influxdb.Client implements it.
type HistoryWriter interface {
	WriteZoneTransition(deviceID string, zone int, zoneName string, on bool, at time.Time)
	WritePollOutcome(deviceID string, duration time.Duration, success bool, at time.Time)
}

// HistoryRecorder writes zone transitions and pass outcomes to a
// time-series store. Writes are batched by the store and never fail.
type HistoryRecorder struct {
	writer HistoryWriter
}

// NewHistoryRecorder creates a recorder. A nil writer yields a nil
// recorder, which is a valid no-op sink.
func NewHistoryRecorder(writer HistoryWriter) *HistoryRecorder {
	if writer == nil {
		return nil
	}
	return &HistoryRecorder{writer: writer}
}

// Emit records a zone transition.
func (h *HistoryRecorder) Emit(_ context.Context, event Event) error {
	if h == nil {
		return nil
	}
	zone, ok := event.Zone()
	if !ok {
		return nil
	}
	h.writer.WriteZoneTransition(event.DeviceID, zone, event.Tokens["zone_name"], event.Kind == EventZoneTurnedOn, event.Timestamp)
	return nil
}

// RecordPass records the duration and result of one pass.
func (h *HistoryRecorder) RecordPass(deviceID string, outcome PassOutcome, at time.Time) {
	if h == nil {
		return
	}
	h.writer.WritePollOutcome(deviceID, outcome.Duration, outcome.Err == nil, at)
}

var _ EventSink = (*HistoryRecorder)(nil)
