package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// UpsertDevice inserts or updates a device keyed by device_id. Status,
// connection kind, address and port always reflect the incoming record;
// name and OS version are preserved when the incoming value is empty, so a
// sparse discovery result never erases previously enriched fields. Lock
// state is never touched here.
func (s *Store) UpsertDevice(ctx context.Context, dev *Device) (*Device, error) {
	if dev == nil {
		return nil, errors.New("nil device")
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, name, os_version, connection_kind, ip_address, port, status, locked_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)
		ON CONFLICT(device_id) DO UPDATE SET
			name            = CASE WHEN excluded.name != '' THEN excluded.name ELSE devices.name END,
			os_version      = CASE WHEN excluded.os_version != '' THEN excluded.os_version ELSE devices.os_version END,
			connection_kind = excluded.connection_kind,
			ip_address      = excluded.ip_address,
			port            = excluded.port,
			status          = CASE WHEN devices.status = 'locked' AND excluded.status = 'online'
			                       THEN devices.status ELSE excluded.status END,
			locked_by       = CASE WHEN excluded.status = 'offline' THEN '' ELSE devices.locked_by END,
			updated_at      = excluded.updated_at`,
		dev.DeviceID, dev.Name, dev.OSVersion, string(dev.ConnectionKind),
		dev.IPAddress, dev.Port, string(dev.Status), now)
	if err != nil {
		return nil, errors.Wrap(err, "upsert device")
	}
	return s.GetDevice(ctx, dev.DeviceID)
}

// GetDevice fetches a single device row.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, name, os_version, connection_kind, ip_address, port, status, locked_by, updated_at
		FROM devices WHERE device_id = ?`, deviceID)
	return scanDevice(row)
}

// ListDevices returns every known device ordered by id.
func (s *Store) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, name, os_version, connection_kind, ip_address, port, status, locked_by, updated_at
		FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list devices")
	}
	defer rows.Close()

	var result []*Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, dev)
	}
	return result, rows.Err()
}

// LockDevice atomically claims a device for owner. The status guard makes
// concurrent callers race on a single conditional update: exactly one wins,
// the rest observe the loser paths below.
func (s *Store) LockDevice(ctx context.Context, deviceID, owner string) (*Device, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET status = 'locked', locked_by = ?, updated_at = ?
		WHERE device_id = ? AND status = 'online'`,
		owner, time.Now(), deviceID)
	if err != nil {
		return nil, errors.Wrap(err, "lock device")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "lock device rows affected")
	}
	if affected == 0 {
		dev, err := s.GetDevice(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		switch dev.Status {
		case DeviceStatusLocked:
			return nil, ErrDeviceLocked
		case DeviceStatusOffline:
			return nil, ErrDeviceOffline
		}
		return nil, errors.Errorf("device %s not lockable in status %s", deviceID, dev.Status)
	}
	return s.GetDevice(ctx, deviceID)
}

// UnlockDevice releases a lock held by requester. An empty requester forces
// the release regardless of the current holder. Unlocking a device that is
// not locked succeeds without touching the row.
func (s *Store) UnlockDevice(ctx context.Context, deviceID, requester string) (*Device, error) {
	dev, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.Status != DeviceStatusLocked {
		return dev, nil
	}
	if requester != "" && dev.LockedBy != "" && dev.LockedBy != requester {
		return nil, ErrNotLockOwner
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET status = 'online', locked_by = '', updated_at = ?
		WHERE device_id = ? AND status = 'locked'`,
		time.Now(), deviceID)
	if err != nil {
		return nil, errors.Wrap(err, "unlock device")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		// Lost a race with another release; treat as the idempotent case.
		return s.GetDevice(ctx, deviceID)
	}
	return s.GetDevice(ctx, deviceID)
}

// MarkDeviceOffline records that the underlying channel is gone. A disconnect
// always wins over a lock.
func (s *Store) MarkDeviceOffline(ctx context.Context, deviceID string) (*Device, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET status = 'offline', locked_by = '', updated_at = ?
		WHERE device_id = ?`,
		time.Now(), deviceID)
	if err != nil {
		return nil, errors.Wrap(err, "mark device offline")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, ErrDeviceNotFound
	}
	return s.GetDevice(ctx, deviceID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		dev       Device
		kind      string
		status    string
		updatedAt time.Time
	)
	err := row.Scan(&dev.DeviceID, &dev.Name, &dev.OSVersion, &kind,
		&dev.IPAddress, &dev.Port, &status, &dev.LockedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan device")
	}
	dev.ConnectionKind = ConnectionKind(kind)
	dev.Status = DeviceStatus(status)
	dev.UpdatedAt = updatedAt
	return &dev, nil
}
