package devicehub

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/httprunner/devicehub/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "devicehub.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReconcileClassifiesLocalEmulator(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newTestStore(t))

	devices, err := registry.Reconcile(ctx, []DeviceInfo{
		{DeviceID: "emulator-5554", Status: DeviceStatusOnline},
	})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	dev := devices[0]
	if dev.ConnectionKind != KindLocalEmulator {
		t.Errorf("expected local-emulator, got %s", dev.ConnectionKind)
	}
	if dev.IPAddress != "127.0.0.1" {
		t.Errorf("local emulator address should be loopback, got %q", dev.IPAddress)
	}
	if dev.Status != DeviceStatusOnline {
		t.Errorf("expected online, got %s", dev.Status)
	}
}

func TestReconcileClassifiesRemote(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newTestStore(t))

	devices, err := registry.Reconcile(ctx, []DeviceInfo{
		{DeviceID: "192.168.1.10:5555", Status: DeviceStatusOnline},
	})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	dev := devices[0]
	if dev.ConnectionKind != KindRemoteEmulator {
		t.Errorf("expected remote-emulator, got %s", dev.ConnectionKind)
	}
	if dev.IPAddress != "192.168.1.10" || dev.Port != 5555 {
		t.Errorf("unexpected address %s:%d", dev.IPAddress, dev.Port)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	registry := NewRegistry(store)

	discovered := []DeviceInfo{
		{DeviceID: "emulator-5554", Name: "sdk gphone64", OSVersion: "14", Status: DeviceStatusOnline},
		{DeviceID: "R58M123ABC", Status: DeviceStatusOffline},
	}
	if _, err := registry.Reconcile(ctx, discovered); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	first, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if _, err := registry.Reconcile(ctx, discovered); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	second, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("idempotency broken: %d vs %d devices", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.DeviceID != b.DeviceID || a.Status != b.Status || a.Name != b.Name || a.ConnectionKind != b.ConnectionKind {
			t.Errorf("device %s changed across identical reconciles: %+v vs %+v", a.DeviceID, a, b)
		}
	}
}

func TestReconcileEmptyListDeletesNothing(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newTestStore(t))

	if _, err := registry.Reconcile(ctx, []DeviceInfo{{DeviceID: "emulator-5554", Status: DeviceStatusOnline}}); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}
	if _, err := registry.Reconcile(ctx, nil); err != nil {
		t.Fatalf("empty reconcile: %v", err)
	}
	devices, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("empty discovery must not delete devices, got %d", len(devices))
	}
}

func TestReconcileDoesNotEraseEnrichment(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newTestStore(t))

	if _, err := registry.Reconcile(ctx, []DeviceInfo{
		{DeviceID: "emulator-5554", Name: "sdk gphone64", OSVersion: "14", Status: DeviceStatusOnline},
	}); err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}
	devices, err := registry.Reconcile(ctx, []DeviceInfo{
		{DeviceID: "emulator-5554", Status: DeviceStatusOnline},
	})
	if err != nil {
		t.Fatalf("sparse reconcile: %v", err)
	}
	if devices[0].Name != "sdk gphone64" || devices[0].OSVersion != "14" {
		t.Errorf("sparse discovery erased enrichment: %+v", devices[0])
	}
}

func TestRegisterConnectedForcesRemoteOnline(t *testing.T) {
	ctx := context.Background()
	registry := NewRegistry(newTestStore(t))

	dev, err := registry.RegisterConnected(ctx, DeviceInfo{DeviceID: "192.168.1.10:5555"}, "192.168.1.10", 5555)
	if err != nil {
		t.Fatalf("RegisterConnected: %v", err)
	}
	if dev.ConnectionKind != KindRemoteEmulator {
		t.Errorf("expected remote-emulator, got %s", dev.ConnectionKind)
	}
	if dev.Status != DeviceStatusOnline {
		t.Errorf("expected online, got %s", dev.Status)
	}
}
