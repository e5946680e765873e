package settings

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	notifier

	data map[string]map[string]string
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

// Get returns the value for key and whether it was present.
func (s *MemoryStore) Get(_ context.Context, deviceID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[deviceID][key]
	return v, ok, nil
}

// Set records a system-observed value.
func (s *MemoryStore) Set(_ context.Context, deviceID, key, value string) error {
	if err := validateKey(deviceID, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(deviceID, key, value)
	return nil
}

func (s *MemoryStore) setLocked(deviceID, key, value string) {
	dev, ok := s.data[deviceID]
	if !ok {
		dev = make(map[string]string)
		s.data[deviceID] = dev
	}
	dev[key] = value
}

// Remove deletes every setting of a device.
func (s *MemoryStore) Remove(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, deviceID)
	return nil
}

// All returns a copy of every setting of a device.
func (s *MemoryStore) All(_ context.Context, deviceID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := maps.Clone(s.data[deviceID])
	if out == nil {
		out = make(map[string]string)
	}
	return out, nil
}

// DeviceIDs lists devices with at least one setting.
func (s *MemoryStore) DeviceIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.data)), nil
}

// Update applies a user change after every subscriber accepts it.
func (s *MemoryStore) Update(ctx context.Context, deviceID string, changes map[string]string) error {
	for k := range changes {
		if err := validateKey(deviceID, k); err != nil {
			return err
		}
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	old, _ := s.All(ctx, deviceID)
	updated, changed := diff(old, changes)
	if len(changed) == 0 {
		return nil
	}

	if err := s.notify(ctx, deviceID, old, updated, changed); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range changed {
		s.setLocked(deviceID, k, updated[k])
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
