package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore implements Store on the device_settings table.
type SQLiteStore struct {
	notifier

	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated SQLite connection.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const upsertSetting = `
	INSERT INTO device_settings (device_id, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

// Get returns the value for key and whether it was present.
func (s *SQLiteStore) Get(ctx context.Context, deviceID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM device_settings WHERE device_id = ? AND key = ?`,
		deviceID, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("querying setting %s/%s: %w", deviceID, key, err)
	}
	return value, true, nil
}

// Set records a system-observed value.
func (s *SQLiteStore) Set(ctx context.Context, deviceID, key, value string) error {
	if err := validateKey(deviceID, key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSetting, deviceID, key, value, now()); err != nil {
		return fmt.Errorf("writing setting %s/%s: %w", deviceID, key, err)
	}
	return nil
}

// Remove deletes every setting of a device.
func (s *SQLiteStore) Remove(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_settings WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("removing settings for %s: %w", deviceID, err)
	}
	return nil
}

// All returns a copy of every setting of a device.
func (s *SQLiteStore) All(ctx context.Context, deviceID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM device_settings WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying settings for %s: %w", deviceID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return out, nil
}

// DeviceIDs lists devices with at least one setting.
func (s *SQLiteStore) DeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT device_id FROM device_settings ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("querying device ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device ids: %w", err)
	}
	return ids, nil
}

// Update applies a user change after every subscriber accepts it.
// Accepted changes are written in a single transaction.
func (s *SQLiteStore) Update(ctx context.Context, deviceID string, changes map[string]string) error {
	for k := range changes {
		if err := validateKey(deviceID, k); err != nil {
			return err
		}
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	old, err := s.All(ctx, deviceID)
	if err != nil {
		return err
	}
	updated, changed := diff(old, changes)
	if len(changed) == 0 {
		return nil
	}

	if err := s.notify(ctx, deviceID, old, updated, changed); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning settings update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	ts := now()
	for _, k := range changed {
		if _, err := tx.ExecContext(ctx, upsertSetting, deviceID, k, updated[k], ts); err != nil {
			return fmt.Errorf("writing setting %s/%s: %w", deviceID, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings update: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

var _ Store = (*SQLiteStore)(nil)
