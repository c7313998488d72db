package types

import (
	"time"

	"gorm.io/gorm"
)

// Device statuses
const (
	DeviceActive      = "ACTIVE"
	DeviceInactive    = "INACTIVE"
	DeviceMaintenance = "MAINTENANCE"
)

// Device types
const (
	DeviceSolar   = "SOLAR"
	DeviceWind    = "WIND"
	DeviceBattery = "BATTERY"
	DeviceGrid    = "GRID"
)

// Device is the per-meter accounting record. The two high-water marks are the
// anti-double-spend core: SettledNetGeneration tracks production already
// converted into fungible units, ClaimedCertificateGeneration tracks production
// already backing a certificate. At all times
//
//	SettledNetGeneration + ClaimedCertificateGeneration <= TotalProduction - TotalConsumption
//
// and all four counters are monotonically non-decreasing. Devices are never
// deleted, only deactivated.
type Device struct {
	gorm.Model                   `json:"-"`
	DeviceID                     string    `gorm:"uniqueIndex" json:"device_id"`
	Owner                        string    `gorm:"index" json:"owner"`
	DeviceType                   string    `json:"device_type"`
	Status                       string    `json:"status"`
	TotalProduction              uint64    `json:"total_production"`
	TotalConsumption             uint64    `json:"total_consumption"`
	SettledNetGeneration         uint64    `json:"settled_net_generation"`
	ClaimedCertificateGeneration uint64    `json:"claimed_certificate_generation"`
	LastReadingAt                int64     `json:"last_reading_at"`
	LastSubmitterID              string    `json:"last_submitter_id"`
	Version                      uint64    `json:"-"`
	RegisteredAt                 time.Time `json:"registered_at"`
}

// NetGeneration returns production minus consumption, saturating at zero.
func (d *Device) NetGeneration() uint64 {
	return SaturatingSub(d.TotalProduction, d.TotalConsumption)
}

// UnsettledGeneration is the portion of net generation not yet minted.
func (d *Device) UnsettledGeneration() uint64 {
	return SaturatingSub(d.NetGeneration(), d.SettledNetGeneration)
}

// UnclaimedGeneration is the portion available for certificate claims:
// net generation minus both high-water marks.
func (d *Device) UnclaimedGeneration() uint64 {
	return SaturatingSub(d.UnsettledGeneration(), d.ClaimedCertificateGeneration)
}

// CheckMarks verifies the dual high-water-mark invariant.
func (d *Device) CheckMarks() bool {
	sum, ok := CheckedAdd(d.SettledNetGeneration, d.ClaimedCertificateGeneration)
	return ok && sum <= d.NetGeneration()
}
