package certificates

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

func (d *Database) CreateCertificate(tx *gorm.DB, cert *Certificate) error {
	return tx.Create(cert).Error
}

func (d *Database) GetCertificate(tx *gorm.DB, certificateID string) (*Certificate, error) {
	var cert Certificate
	if err := tx.Where("certificate_id = ?", certificateID).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cert, nil
}

func (d *Database) GetOwnerCertificates(owner string) ([]Certificate, error) {
	var certs []Certificate
	if err := d.db.Where("owner = ?", owner).Order("created_at DESC").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

func (d *Database) GetDeviceCertificates(deviceID string) ([]Certificate, error) {
	var certs []Certificate
	if err := d.db.Where("device_id = ?", deviceID).Order("created_at DESC").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// SaveCertificate writes the mutable certificate fields under the version
// guard so concurrent lifecycle transitions cannot interleave.
func (d *Database) SaveCertificate(tx *gorm.DB, cert *Certificate) error {
	result := tx.Model(&Certificate{}).
		Where("certificate_id = ? AND version = ?", cert.CertificateID, cert.Version).
		Updates(map[string]interface{}{
			"owner":             cert.Owner,
			"status":            cert.Status,
			"activated_at":      cert.ActivatedAt,
			"retired_at":        cert.RetiredAt,
			"revoked_at":        cert.RevokedAt,
			"revocation_reason": cert.RevocationReason,
			"transfer_count":    cert.TransferCount,
			"version":           cert.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	cert.Version++
	return nil
}

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
			"issued_count":     stats.IssuedCount,
			"active_count":     stats.ActiveCount,
			"retired_count":    stats.RetiredCount,
			"revoked_count":    stats.RevokedCount,
			"energy_certified": stats.EnergyCertified,
			"version":          stats.Version + 1,
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

func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}
