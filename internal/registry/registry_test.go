package registry

import (
	"errors"
	"fmt"
	"testing"

	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&types.Device{}, &Stats{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestRegisterDevice(t *testing.T) {
	s := NewService(openTestDB(t))

	device, err := s.RegisterDevice(RegisterDeviceRequest{
		DeviceID:   "DEV_solar_1",
		Owner:      "alice",
		DeviceType: types.DeviceSolar,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if device.Status != types.DeviceActive {
		t.Errorf("new device must start active, got %s", device.Status)
	}
	if device.TotalProduction != 0 || device.SettledNetGeneration != 0 || device.ClaimedCertificateGeneration != 0 {
		t.Error("new device must start with zeroed counters and marks")
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DeviceCount != 1 || stats.ActiveCount != 1 || stats.OwnerCount != 1 {
		t.Errorf("stats = %+v, expected 1/1/1", stats)
	}
}

func TestGetOwnerDevices(t *testing.T) {
	s := NewService(openTestDB(t))

	for _, id := range []string{"DEV_solar_1", "DEV_wind_1"} {
		deviceType := types.DeviceSolar
		if id == "DEV_wind_1" {
			deviceType = types.DeviceWind
		}
		if _, err := s.RegisterDevice(RegisterDeviceRequest{DeviceID: id, Owner: "alice", DeviceType: deviceType}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if _, err := s.RegisterDevice(RegisterDeviceRequest{DeviceID: "DEV_solar_2", Owner: "bob", DeviceType: types.DeviceSolar}); err != nil {
		t.Fatalf("register: %v", err)
	}

	devices, err := s.GetOwnerDevices("alice")
	if err != nil {
		t.Fatalf("owner devices: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("expected alice's 2 devices, got %d", len(devices))
	}
	for _, d := range devices {
		if d.Owner != "alice" {
			t.Errorf("listing leaked device %s owned by %s", d.DeviceID, d.Owner)
		}
	}
}

func TestRegisterDeviceIdempotent(t *testing.T) {
	s := NewService(openTestDB(t))
	req := RegisterDeviceRequest{DeviceID: "DEV_solar_1", Owner: "alice", DeviceType: types.DeviceSolar}

	if _, err := s.RegisterDevice(req); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := s.RegisterDevice(req); err != nil {
		t.Fatalf("repeat register must be a no-op, got %v", err)
	}

	stats, _ := s.GetStats()
	if stats.DeviceCount != 1 {
		t.Errorf("repeat register must not double-count, got %d devices", stats.DeviceCount)
	}
}

func TestRegisterDeviceRejectsUnknownType(t *testing.T) {
	s := NewService(openTestDB(t))

	_, err := s.RegisterDevice(RegisterDeviceRequest{
		DeviceID:   "DEV_x",
		Owner:      "alice",
		DeviceType: "FUSION",
	})
	if err == nil {
		t.Fatal("expected rejection for unknown device type")
	}
}

func TestSetDeviceStatus(t *testing.T) {
	s := NewService(openTestDB(t))
	if _, err := s.RegisterDevice(RegisterDeviceRequest{
		DeviceID:   "DEV_wind_1",
		Owner:      "bob",
		DeviceType: types.DeviceWind,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	device, err := s.SetDeviceStatus("DEV_wind_1", false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if device.Status != types.DeviceInactive {
		t.Errorf("expected INACTIVE, got %s", device.Status)
	}

	stats, _ := s.GetStats()
	if stats.ActiveCount != 0 || stats.DeviceCount != 1 {
		t.Errorf("deactivation must lower active count only, got %+v", stats)
	}

	device, err = s.SetDeviceStatus("DEV_wind_1", true)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if device.Status != types.DeviceActive {
		t.Errorf("expected ACTIVE, got %s", device.Status)
	}
	stats, _ = s.GetStats()
	if stats.ActiveCount != 1 {
		t.Errorf("reactivation must restore active count, got %d", stats.ActiveCount)
	}
}

func TestSetDeviceStatusUnknownDevice(t *testing.T) {
	s := NewService(openTestDB(t))

	_, err := s.SetDeviceStatus("DEV_missing", false)
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeactivatedDeviceKeepsMarks(t *testing.T) {
	db := openTestDB(t)
	s := NewService(db)
	if _, err := s.RegisterDevice(RegisterDeviceRequest{
		DeviceID:   "DEV_solar_2",
		Owner:      "carol",
		DeviceType: types.DeviceSolar,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Simulate accumulated readings before deactivation.
	if err := db.Model(&types.Device{}).
		Where("device_id = ?", "DEV_solar_2").
		Updates(map[string]interface{}{
			"total_production":       uint64(5000),
			"settled_net_generation": uint64(2000),
		}).Error; err != nil {
		t.Fatalf("seed counters: %v", err)
	}

	if _, err := s.SetDeviceStatus("DEV_solar_2", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	device, err := s.GetDevice("DEV_solar_2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if device.TotalProduction != 5000 || device.SettledNetGeneration != 2000 {
		t.Errorf("deactivation must not touch counters, got production=%d settled=%d",
			device.TotalProduction, device.SettledNetGeneration)
	}
}
