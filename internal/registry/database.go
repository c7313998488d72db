package registry

import (
	"errors"

	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetDevice(deviceID string) (*types.Device, error) {
	var device types.Device
	if err := d.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

func (d *Database) GetOwnerDevices(owner string) ([]types.Device, error) {
	var devices []types.Device
	if err := d.db.Where("owner = ?", owner).Order("created_at DESC").Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// UpdateDeviceStatusGuarded flips the status under the optimistic version
// guard so a concurrent counter fold cannot be lost.
func (d *Database) UpdateDeviceStatusGuarded(tx *gorm.DB, device *types.Device, newStatus string) error {
	result := tx.Model(&types.Device{}).
		Where("device_id = ? AND version = ?", device.DeviceID, device.Version).
		Updates(map[string]interface{}{
			"status":  newStatus,
			"version": device.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	device.Status = newStatus
	device.Version++
	return nil
}

func (d *Database) CountOwnerDevices(owner string) (int64, error) {
	var count int64
	if err := d.db.Model(&types.Device{}).Where("owner = ?", owner).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetStats fetches the registry counter singleton, creating it on first use.
func (d *Database) GetStats(tx *gorm.DB) (*Stats, error) {
	var stats Stats
	err := tx.Where("stats_id = ?", statsSingletonID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stats = Stats{StatsID: statsSingletonID}
		if err := tx.Create(&stats).Error; err != nil {
			return nil, err
		}
		return &stats, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (d *Database) SaveStats(tx *gorm.DB, stats *Stats) error {
	result := tx.Model(&Stats{}).
		Where("stats_id = ? AND version = ?", stats.StatsID, stats.Version).
		Updates(map[string]interface{}{
			"device_count": stats.DeviceCount,
			"active_count": stats.ActiveCount,
			"owner_count":  stats.OwnerCount,
			"version":      stats.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	stats.Version++
	return nil
}

// Transaction runs fn atomically.
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}
