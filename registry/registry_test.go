package registry

import (
	"testing"
	"time"

	"godrop/models"
)

func TestUpsertReportsNewOnlyOnce(t *testing.T) {
	reg := New()

	first := models.Device{
		DeviceID:   "abc123def456",
		DeviceName: "Laptop",
		Address:    "192.168.1.20",
		HTTPPort:   8080,
	}
	if !reg.Upsert(first) {
		t.Fatalf("expected first upsert to report a new device")
	}

	updated := first
	updated.Address = "192.168.1.99"
	updated.HTTPPort = 9090
	if reg.Upsert(updated) {
		t.Fatalf("expected repeated upsert to report a known device")
	}

	if reg.Len() != 1 {
		t.Fatalf("expected registry size 1 after repeated announcements, got %d", reg.Len())
	}

	got, ok := reg.Get(first.DeviceID)
	if !ok {
		t.Fatalf("expected device %q to be present", first.DeviceID)
	}
	if got.Address != "192.168.1.99" || got.HTTPPort != 9090 {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}

func TestUpsertFillsLastSeen(t *testing.T) {
	reg := New()

	before := time.Now()
	reg.Upsert(models.Device{DeviceID: "d1", DeviceName: "One"})

	got, _ := reg.Get("d1")
	if got.LastSeen.Before(before) {
		t.Fatalf("expected LastSeen to be stamped on upsert, got %v", got.LastSeen)
	}
}

func TestListSortsByNameThenID(t *testing.T) {
	reg := New()
	reg.Upsert(models.Device{DeviceID: "b", DeviceName: "Zeta"})
	reg.Upsert(models.Device{DeviceID: "c", DeviceName: "Alpha"})
	reg.Upsert(models.Device{DeviceID: "a", DeviceName: "Zeta"})

	listed := reg.List()
	if len(listed) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(listed))
	}
	if listed[0].DeviceName != "Alpha" {
		t.Fatalf("expected Alpha first, got %q", listed[0].DeviceName)
	}
	if listed[1].DeviceID != "a" || listed[2].DeviceID != "b" {
		t.Fatalf("expected name ties broken by ID, got %q then %q", listed[1].DeviceID, listed[2].DeviceID)
	}
}

func TestClearEmptiesRegistry(t *testing.T) {
	reg := New()
	reg.Upsert(models.Device{DeviceID: "d1", DeviceName: "One"})
	reg.Clear()

	if reg.Len() != 0 {
		t.Fatalf("expected empty registry after Clear, got %d", reg.Len())
	}
	if _, ok := reg.Get("d1"); ok {
		t.Fatalf("expected device to be gone after Clear")
	}
}
