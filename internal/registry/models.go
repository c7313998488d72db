package registry

import (
	"time"

	"gorm.io/gorm"
)

// Stats is the singleton registry counter block.
type Stats struct {
	gorm.Model  `json:"-"`
	StatsID     string `gorm:"uniqueIndex" json:"-"`
	DeviceCount uint64 `json:"device_count"`
	ActiveCount uint64 `json:"active_count"`
	OwnerCount  uint64 `json:"owner_count"`
	Version     uint64 `json:"-"`
}

const statsSingletonID = "REGISTRY"

// RegisterDeviceRequest is the registration subsystem's payload.
type RegisterDeviceRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	Owner      string `json:"owner" binding:"required"`
	DeviceType string `json:"device_type" binding:"required"`
}

// StatusRequest toggles a device between active and inactive.
type StatusRequest struct {
	Active bool `json:"active"`
}

// DeviceResponse is the public view of a device record.
type DeviceResponse struct {
	DeviceID                     string    `json:"device_id"`
	Owner                        string    `json:"owner"`
	DeviceType                   string    `json:"device_type"`
	Status                       string    `json:"status"`
	TotalProduction              uint64    `json:"total_production"`
	TotalConsumption             uint64    `json:"total_consumption"`
	SettledNetGeneration         uint64    `json:"settled_net_generation"`
	ClaimedCertificateGeneration uint64    `json:"claimed_certificate_generation"`
	UnsettledGeneration          uint64    `json:"unsettled_generation"`
	LastReadingAt                int64     `json:"last_reading_at"`
	RegisteredAt                 time.Time `json:"registered_at"`
}
