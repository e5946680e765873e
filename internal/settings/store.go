package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	// ErrRejected wraps the subscriber error that vetoed a user change.
	ErrRejected = errors.New("settings: change rejected")

	// ErrInvalidKey is returned for empty device IDs or keys.
	ErrInvalidKey = errors.New("settings: device id and key are required")
)

// ChangeHandler is notified of a user change before it is stored.
//
// old and updated are full snapshots of the device's settings; changed lists
// the keys whose value differs, sorted. Returning an error rejects the
// change.
type ChangeHandler func(ctx context.Context, deviceID string, old, updated map[string]string, changed []string) error

// Store defines settings persistence. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, deviceID, key string) (string, bool, error)

	// Set records a system-observed value without notifying subscribers.
	Set(ctx context.Context, deviceID, key, value string) error

	// Remove deletes every setting of a device.
	Remove(ctx context.Context, deviceID string) error

	// All returns a copy of every setting of a device (empty map if none).
	All(ctx context.Context, deviceID string) (map[string]string, error)

	// DeviceIDs lists the devices that have at least one setting, sorted.
	DeviceIDs(ctx context.Context) ([]string, error)

	// Update applies a user change. Subscribers run first; the first error
	// aborts the change with nothing written. Values equal to the stored
	// ones are not reported as changed; a change with no differences is a
	// no-op.
	Update(ctx context.Context, deviceID string, changes map[string]string) error

	// Subscribe registers a handler for user changes.
	Subscribe(handler ChangeHandler)
}

// notifier holds subscribers and serialises user changes.
type notifier struct {
	handlers  []ChangeHandler
	handlerMu sync.RWMutex

	// updateMu serialises Update so each change sees a consistent "old".
	updateMu sync.Mutex
}

func (n *notifier) Subscribe(handler ChangeHandler) {
	if handler == nil {
		return
	}
	n.handlerMu.Lock()
	n.handlers = append(n.handlers, handler)
	n.handlerMu.Unlock()
}

// diff merges changes into old and reports the keys that actually change.
func diff(old, changes map[string]string) (map[string]string, []string) {
	updated := maps.Clone(old)
	if updated == nil {
		updated = make(map[string]string, len(changes))
	}

	var changed []string
	for k, v := range changes {
		if prev, ok := old[k]; ok && prev == v {
			continue
		}
		updated[k] = v
		changed = append(changed, k)
	}
	slices.Sort(changed)
	return updated, changed
}

// notify runs every subscriber in registration order.
func (n *notifier) notify(ctx context.Context, deviceID string, old, updated map[string]string, changed []string) error {
	n.handlerMu.RLock()
	handlers := slices.Clone(n.handlers)
	n.handlerMu.RUnlock()

	for _, h := range handlers {
		// Each handler gets its own copies so one cannot corrupt the next.
		if err := h(ctx, deviceID, maps.Clone(old), maps.Clone(updated), slices.Clone(changed)); err != nil {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	return nil
}

func validateKey(deviceID, key string) error {
	if deviceID == "" || key == "" {
		return ErrInvalidKey
	}
	return nil
}
