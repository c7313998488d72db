package telemetry

import (
	"gorm.io/gorm"
)

// Submitter roles
const (
	RolePrimary = "primary"
	RoleBackup  = "backup"
)

// Submitter is a pre-authorized reading source. The set is bounded at 3f+1
// members; acceptance requires the primary, falling back to backups only when
// the primary is marked failed.
type Submitter struct {
	gorm.Model    `json:"-"`
	SubmitterID   string  `gorm:"uniqueIndex" json:"submitter_id"`
	PublicKey     string  `json:"public_key"` // hex-encoded ed25519
	Role          string  `json:"role"`
	Failed        bool    `json:"failed"`
	ValidCount    uint64  `json:"valid_count"`
	RejectedCount uint64  `json:"rejected_count"`
	AvgInterval   float64 `json:"avg_interval"` // seconds between accepted readings
	LastAcceptAt  int64   `json:"last_accept_at"`
	Version       uint64  `json:"-"`
}

// QualityScore is the fraction of this submitter's readings that validated.
// A submitter with no history scores 1.0 so fresh backups are not starved.
func (s *Submitter) QualityScore() float64 {
	total := s.ValidCount + s.RejectedCount
	if total == 0 {
		return 1.0
	}
	return float64(s.ValidCount) / float64(total)
}

// SubmitReadingRequest is the gateway's submission payload. Deltas are in base
// units; the signature covers the canonical reading message.
type SubmitReadingRequest struct {
	DeviceID         string `json:"device_id" binding:"required"`
	ProductionDelta  uint64 `json:"production_delta"`
	ConsumptionDelta uint64 `json:"consumption_delta"`
	Timestamp        int64  `json:"timestamp" binding:"required"`
	SubmitterID      string `json:"submitter_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"` // hex
}

// RegisterSubmitterRequest enrolls a submitter into the authorized set.
type RegisterSubmitterRequest struct {
	SubmitterID string `json:"submitter_id" binding:"required"`
	PublicKey   string `json:"public_key" binding:"required"`
	Role        string `json:"role" binding:"required"`
}

// ReadingResponse reports the device counters after a successful fold.
type ReadingResponse struct {
	DeviceID            string `json:"device_id"`
	TotalProduction     uint64 `json:"total_production"`
	TotalConsumption    uint64 `json:"total_consumption"`
	UnsettledGeneration uint64 `json:"unsettled_generation"`
	LastReadingAt       int64  `json:"last_reading_at"`
}
