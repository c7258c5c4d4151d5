package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "devicehub.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, context.Background()
}

func seedDevice(t *testing.T, store *Store, ctx context.Context, id string, status DeviceStatus) *Device {
	t.Helper()
	dev, err := store.UpsertDevice(ctx, &Device{
		DeviceID:       id,
		ConnectionKind: KindUSB,
		Status:         status,
	})
	require.NoError(t, err)
	return dev
}

func TestUpsertDevicePreservesEnrichedFields(t *testing.T) {
	store, ctx := newTestStore(t)

	_, err := store.UpsertDevice(ctx, &Device{
		DeviceID:       "R58M123ABC",
		Name:           "Galaxy S10",
		OSVersion:      "12",
		ConnectionKind: KindUSB,
		Status:         DeviceStatusOnline,
	})
	require.NoError(t, err)

	// A sparse discovery result must not erase the enriched fields.
	dev, err := store.UpsertDevice(ctx, &Device{
		DeviceID:       "R58M123ABC",
		ConnectionKind: KindUSB,
		Status:         DeviceStatusOnline,
	})
	require.NoError(t, err)
	assert.Equal(t, "Galaxy S10", dev.Name)
	assert.Equal(t, "12", dev.OSVersion)
	assert.Equal(t, DeviceStatusOnline, dev.Status)
}

func TestUpsertDeviceOfflineClearsLock(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "R58M123ABC", DeviceStatusOnline)

	_, err := store.LockDevice(ctx, "R58M123ABC", "alice")
	require.NoError(t, err)

	dev, err := store.UpsertDevice(ctx, &Device{
		DeviceID:       "R58M123ABC",
		ConnectionKind: KindUSB,
		Status:         DeviceStatusOffline,
	})
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusOffline, dev.Status)
	assert.Empty(t, dev.LockedBy)
}

func TestUpsertDeviceDiscoveryDoesNotStealLock(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "R58M123ABC", DeviceStatusOnline)
	_, err := store.LockDevice(ctx, "R58M123ABC", "alice")
	require.NoError(t, err)

	dev, err := store.UpsertDevice(ctx, &Device{
		DeviceID:       "R58M123ABC",
		ConnectionKind: KindUSB,
		Status:         DeviceStatusOnline,
	})
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusLocked, dev.Status)
	assert.Equal(t, "alice", dev.LockedBy)
}

func TestLockDevice(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "emulator-5554", DeviceStatusOnline)

	dev, err := store.LockDevice(ctx, "emulator-5554", "alice")
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusLocked, dev.Status)
	assert.Equal(t, "alice", dev.LockedBy)

	// Second claim fails, even by the same owner.
	_, err = store.LockDevice(ctx, "emulator-5554", "alice")
	assert.ErrorIs(t, err, ErrDeviceLocked)

	_, err = store.LockDevice(ctx, "missing", "alice")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestLockDeviceOffline(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "emulator-5554", DeviceStatusOffline)

	_, err := store.LockDevice(ctx, "emulator-5554", "alice")
	assert.ErrorIs(t, err, ErrDeviceOffline)
}

func TestConcurrentLockExactlyOneWinner(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "emulator-5554", DeviceStatusOnline)

	const contenders = 8
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.LockDevice(ctx, "emulator-5554", "user")
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDeviceLocked):
			conflicts++
		default:
			t.Fatalf("unexpected lock error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one lock call must win")
	assert.Equal(t, contenders-1, conflicts)
}

func TestUnlockDevice(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "emulator-5554", DeviceStatusOnline)
	_, err := store.LockDevice(ctx, "emulator-5554", "alice")
	require.NoError(t, err)

	// Non-owner cannot release.
	_, err = store.UnlockDevice(ctx, "emulator-5554", "bob")
	assert.ErrorIs(t, err, ErrNotLockOwner)

	dev, err := store.UnlockDevice(ctx, "emulator-5554", "alice")
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusOnline, dev.Status)
	assert.Empty(t, dev.LockedBy)

	// Idempotent on an unlocked device.
	dev, err = store.UnlockDevice(ctx, "emulator-5554", "alice")
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusOnline, dev.Status)
}

func TestUnlockDeviceForced(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "emulator-5554", DeviceStatusOnline)
	_, err := store.LockDevice(ctx, "emulator-5554", "alice")
	require.NoError(t, err)

	// Empty requester forces the release.
	dev, err := store.UnlockDevice(ctx, "emulator-5554", "")
	require.NoError(t, err)
	assert.Equal(t, DeviceStatusOnline, dev.Status)
	assert.Empty(t, dev.LockedBy)
}

func TestLockInvariantStatusImpliesOwner(t *testing.T) {
	store, ctx := newTestStore(t)
	seedDevice(t, store, ctx, "emulator-5554", DeviceStatusOnline)

	_, err := store.LockDevice(ctx, "emulator-5554", "alice")
	require.NoError(t, err)
	assertLockInvariant(t, store, ctx)

	_, err = store.UnlockDevice(ctx, "emulator-5554", "alice")
	require.NoError(t, err)
	assertLockInvariant(t, store, ctx)

	_, err = store.MarkDeviceOffline(ctx, "emulator-5554")
	require.NoError(t, err)
	assertLockInvariant(t, store, ctx)
}

func assertLockInvariant(t *testing.T, store *Store, ctx context.Context) {
	t.Helper()
	devices, err := store.ListDevices(ctx)
	require.NoError(t, err)
	for _, dev := range devices {
		locked := dev.Status == DeviceStatusLocked
		hasOwner := dev.LockedBy != ""
		assert.Equal(t, locked, hasOwner, "device %s: status=%s locked_by=%q", dev.DeviceID, dev.Status, dev.LockedBy)
	}
}
