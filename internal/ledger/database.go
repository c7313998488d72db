package ledger

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

func (d *Database) GetDevice(tx *gorm.DB, deviceID string) (*types.Device, error) {
	var device types.Device
	if err := tx.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

// AdvanceSettledMark raises the settled high-water mark under the version
// guard. The mark only moves forward; callers compute the new value from the
// same snapshot the guard covers.
func (d *Database) AdvanceSettledMark(tx *gorm.DB, device *types.Device, newSettled uint64) error {
	result := tx.Model(&types.Device{}).
		Where("device_id = ? AND version = ?", device.DeviceID, device.Version).
		Updates(map[string]interface{}{
			"settled_net_generation": newSettled,
			"version":                device.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	device.SettledNetGeneration = newSettled
	device.Version++
	return nil
}

// AdvanceClaimedMark raises the certificate-claim high-water mark.
func (d *Database) AdvanceClaimedMark(tx *gorm.DB, device *types.Device, newClaimed uint64) error {
	result := tx.Model(&types.Device{}).
		Where("device_id = ? AND version = ?", device.DeviceID, device.Version).
		Updates(map[string]interface{}{
			"claimed_certificate_generation": newClaimed,
			"version":                        device.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	device.ClaimedCertificateGeneration = newClaimed
	device.Version++
	return nil
}

func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}
