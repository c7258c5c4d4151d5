package devicehub

import (
	"context"

	"github.com/httprunner/devicehub/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LockManager enforces at-most-one-active-user-per-device. Locking is the
// sole admission control keeping two executions from interleaving bridge
// commands on the same physical device. The claim itself is a single
// conditional update in the store, so concurrent callers cannot both win.
type LockManager struct {
	store  *storage.Store
	bridge *BridgeClient
}

// NewLockManager builds a lock manager over the given store and bridge.
func NewLockManager(store *storage.Store, bridge *BridgeClient) *LockManager {
	return &LockManager{store: store, bridge: bridge}
}

// Lock claims the device for owner. Re-entrant locking is not supported:
// a second lock by the same owner still fails with ErrAlreadyLocked.
func (m *LockManager) Lock(ctx context.Context, deviceID, owner string) (*Device, error) {
	dev, err := m.store.LockDevice(ctx, deviceID, owner)
	switch {
	case errors.Is(err, storage.ErrDeviceNotFound):
		return nil, ErrDeviceNotFound
	case errors.Is(err, storage.ErrDeviceLocked):
		return nil, ErrAlreadyLocked
	case errors.Is(err, storage.ErrDeviceOffline):
		return nil, ErrDeviceOffline
	case err != nil:
		return nil, err
	}
	log.Info().Str("device_id", deviceID).Str("owner", owner).Msg("device locked")
	return dev, nil
}

// Unlock releases a lock held by requester. Unlocking an already-unlocked
// device is an idempotent success.
func (m *LockManager) Unlock(ctx context.Context, deviceID, requester string) (*Device, error) {
	dev, err := m.store.UnlockDevice(ctx, deviceID, requester)
	switch {
	case errors.Is(err, storage.ErrDeviceNotFound):
		return nil, ErrDeviceNotFound
	case errors.Is(err, storage.ErrNotLockOwner):
		return nil, ErrNotOwner
	case err != nil:
		return nil, err
	}
	log.Info().Str("device_id", deviceID).Str("requester", requester).Msg("device unlocked")
	return dev, nil
}

// ForceRelease clears a lock regardless of its holder. Administrative
// operation for abandoned locks.
func (m *LockManager) ForceRelease(ctx context.Context, deviceID string) (*Device, error) {
	dev, err := m.store.UnlockDevice(ctx, deviceID, "")
	if errors.Is(err, storage.ErrDeviceNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	log.Warn().Str("device_id", deviceID).Msg("device lock force-released")
	return dev, nil
}

// DisconnectRemote detaches a remote device from the bridge and marks it
// offline. A disconnect always wins over a lock: the underlying channel is
// gone either way.
func (m *LockManager) DisconnectRemote(ctx context.Context, deviceID string) (*Device, error) {
	dev, err := m.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrDeviceNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	if dev.ConnectionKind != KindRemoteEmulator {
		return nil, errors.Wrapf(ErrUnsupportedConnectionKind, "device %s is %s", deviceID, dev.ConnectionKind)
	}
	if ok := m.bridge.Disconnect(ctx, deviceID); !ok {
		return nil, &CommandFailedError{Command: "disconnect " + deviceID, Stderr: "bridge disconnect failed"}
	}
	dev, err = m.store.MarkDeviceOffline(ctx, deviceID)
	if errors.Is(err, storage.ErrDeviceNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("device_id", deviceID).Msg("remote device disconnected")
	return dev, nil
}
