package telemetry

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

func (d *Database) GetSubmitter(submitterID string) (*Submitter, error) {
	var submitter Submitter
	if err := d.db.Where("submitter_id = ?", submitterID).First(&submitter).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &submitter, nil
}

func (d *Database) GetSubmitters() ([]Submitter, error) {
	var submitters []Submitter
	if err := d.db.Order("created_at ASC").Find(&submitters).Error; err != nil {
		return nil, err
	}
	return submitters, nil
}

func (d *Database) CountSubmitters() (int64, error) {
	var count int64
	if err := d.db.Model(&Submitter{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (d *Database) CreateSubmitter(submitter *Submitter) error {
	return d.db.Create(submitter).Error
}

// PrimaryFailed reports whether every primary submitter is marked failed,
// which is the condition for accepting backup submissions.
func (d *Database) PrimaryFailed() (bool, error) {
	var healthy int64
	err := d.db.Model(&Submitter{}).
		Where("role = ? AND failed = ?", RolePrimary, false).
		Count(&healthy).Error
	if err != nil {
		return false, err
	}
	return healthy == 0, nil
}

// SaveSubmitterStats writes the quality bookkeeping under the version guard.
func (d *Database) SaveSubmitterStats(tx *gorm.DB, submitter *Submitter) error {
	result := tx.Model(&Submitter{}).
		Where("submitter_id = ? AND version = ?", submitter.SubmitterID, submitter.Version).
		Updates(map[string]interface{}{
			"valid_count":    submitter.ValidCount,
			"rejected_count": submitter.RejectedCount,
			"avg_interval":   submitter.AvgInterval,
			"last_accept_at": submitter.LastAcceptAt,
			"failed":         submitter.Failed,
			"version":        submitter.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	submitter.Version++
	return nil
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

// FoldReading advances the device counters and reading cursor in one guarded
// update. A lost race surfaces as WRITE_CONFLICT for the caller to retry.
func (d *Database) FoldReading(tx *gorm.DB, device *types.Device, production, consumption uint64, timestamp int64, submitterID string) error {
	result := tx.Model(&types.Device{}).
		Where("device_id = ? AND version = ?", device.DeviceID, device.Version).
		Updates(map[string]interface{}{
			"total_production":  production,
			"total_consumption": consumption,
			"last_reading_at":   timestamp,
			"last_submitter_id": submitterID,
			"version":           device.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	device.TotalProduction = production
	device.TotalConsumption = consumption
	device.LastReadingAt = timestamp
	device.LastSubmitterID = submitterID
	device.Version++
	return nil
}

func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}

// Handle exposes the raw connection for non-transactional writes.
func (d *Database) Handle() *gorm.DB {
	return d.db
}
