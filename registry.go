package devicehub

import (
	"context"

	"github.com/httprunner/devicehub/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Registry maintains the durable record of known devices, reconciled
// against bridge discovery results. Discovery is the source of truth for
// reachability: concurrent reconciliations may reorder writes but never
// corrupt the final state, since every upsert is keyed on device_id.
type Registry struct {
	store *storage.Store
}

// NewRegistry builds a registry over the given store.
func NewRegistry(store *storage.Store) *Registry {
	return &Registry{store: store}
}

// Reconcile upserts every discovered device. Connection kind is derived from
// the identifier shape; local emulators get a forced loopback address.
// Fields missing from discovery never erase previously known values, but
// status and connection kind always reflect the latest result. Devices
// absent from the discovery list are left untouched.
func (r *Registry) Reconcile(ctx context.Context, discovered []DeviceInfo) ([]*Device, error) {
	result := make([]*Device, 0, len(discovered))
	for _, info := range discovered {
		if info.DeviceID == "" {
			continue
		}
		dev := deviceFromInfo(info)
		stored, err := r.store.UpsertDevice(ctx, dev)
		if err != nil {
			return nil, errors.Wrapf(err, "reconcile device %s", info.DeviceID)
		}
		result = append(result, stored)
	}
	log.Debug().Int("discovered", len(discovered)).Int("upserted", len(result)).Msg("device reconciliation complete")
	return result, nil
}

// RegisterConnected records a device attached through an explicit bridge
// connect call: always a remote emulator, always online.
func (r *Registry) RegisterConnected(ctx context.Context, info DeviceInfo, address string, port int) (*Device, error) {
	if port <= 0 {
		port = defaultRemotePort
	}
	dev := &Device{
		DeviceID:       info.DeviceID,
		Name:           info.Name,
		OSVersion:      info.OSVersion,
		ConnectionKind: KindRemoteEmulator,
		IPAddress:      address,
		Port:           port,
		Status:         DeviceStatusOnline,
	}
	stored, err := r.store.UpsertDevice(ctx, dev)
	if err != nil {
		return nil, errors.Wrapf(err, "register connected device %s", info.DeviceID)
	}
	return stored, nil
}

// Get fetches one device by id.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Device, error) {
	dev, err := r.store.GetDevice(ctx, deviceID)
	if errors.Is(err, storage.ErrDeviceNotFound) {
		return nil, ErrDeviceNotFound
	}
	return dev, err
}

// List returns every known device.
func (r *Registry) List(ctx context.Context) ([]*Device, error) {
	return r.store.ListDevices(ctx)
}

func deviceFromInfo(info DeviceInfo) *Device {
	kind := ClassifyConnection(info.DeviceID)
	dev := &Device{
		DeviceID:       info.DeviceID,
		Name:           info.Name,
		OSVersion:      info.OSVersion,
		ConnectionKind: kind,
		Status:         info.Status,
	}
	switch kind {
	case KindRemoteEmulator:
		dev.IPAddress, dev.Port = splitDeviceAddress(info.DeviceID)
	case KindLocalEmulator:
		dev.IPAddress = loopbackAddress
	}
	return dev
}
