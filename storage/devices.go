package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"godrop/models"
)

// UpsertDevice records the last-known address and port for a seen device.
func (s *Store) UpsertDevice(device models.Device) error {
	if device.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if device.Address == "" {
		return errors.New("address is required")
	}

	now := nowUnixMilli()
	seen := now
	if !device.LastSeen.IsZero() {
		seen = device.LastSeen.UnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO devices (
			device_id,
			device_name,
			address,
			http_port,
			first_seen,
			last_seen
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_name = excluded.device_name,
			address = excluded.address,
			http_port = excluded.http_port,
			last_seen = excluded.last_seen`,
		device.DeviceID,
		device.DeviceName,
		device.Address,
		device.HTTPPort,
		now,
		seen,
	)
	if err != nil {
		return fmt.Errorf("upsert device %q: %w", device.DeviceID, err)
	}

	return nil
}

// GetDevice fetches one device row by device ID.
func (s *Store) GetDevice(deviceID string) (*DeviceRow, error) {
	row := s.db.QueryRow(
		`SELECT
			device_id,
			device_name,
			address,
			http_port,
			first_seen,
			last_seen
		FROM devices
		WHERE device_id = ?`,
		deviceID,
	)

	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device %q: %w", deviceID, err)
	}

	return device, nil
}

// ListDevices returns known devices most recently seen first.
func (s *Store) ListDevices() ([]DeviceRow, error) {
	rows, err := s.db.Query(
		`SELECT
			device_id,
			device_name,
			address,
			http_port,
			first_seen,
			last_seen
		FROM devices
		ORDER BY last_seen DESC, device_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]DeviceRow, 0)
	for rows.Next() {
		device, scanErr := scanDeviceRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan device row: %w", scanErr)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device rows: %w", err)
	}
	return devices, nil
}

func scanDeviceRow(row scanner) (*DeviceRow, error) {
	var device DeviceRow
	if err := row.Scan(
		&device.DeviceID,
		&device.DeviceName,
		&device.Address,
		&device.HTTPPort,
		&device.FirstSeen,
		&device.LastSeen,
	); err != nil {
		return nil, err
	}
	return &device, nil
}
