package certificates

import (
	"gorm.io/gorm"
)

// Certificate statuses
const (
	StatusPending = "PENDING"
	StatusActive  = "ACTIVE"
	StatusRetired = "RETIRED"
	StatusRevoked = "REVOKED"
)

// Certificate attests that a fixed amount of verified renewable generation
// backs it. The backing generation is reserved at issuance through the
// settlement ledger and never returns to the mintable pool, revocation
// included.
type Certificate struct {
	gorm.Model       `json:"-"`
	CertificateID    string `gorm:"uniqueIndex" json:"certificate_id"`
	DeviceID         string `gorm:"index" json:"device_id"`
	Owner            string `gorm:"index" json:"owner"`
	Amount           uint64 `json:"amount"`
	SourceTag        string `json:"source_tag"`
	Status           string `json:"status"`
	IssuedAt         int64  `json:"issued_at"`
	ActivatedAt      int64  `json:"activated_at,omitempty"`
	RetiredAt        int64  `json:"retired_at,omitempty"`
	RevokedAt        int64  `json:"revoked_at,omitempty"`
	ExpiresAt        int64  `json:"expires_at"`
	RevocationReason string `json:"revocation_reason,omitempty"`
	TransferCount    uint64 `json:"transfer_count"`
	Version          uint64 `json:"-"`
}

// Terminal reports whether the certificate can never change status again.
func (c *Certificate) Terminal() bool {
	return c.Status == StatusRetired || c.Status == StatusRevoked
}

// Expired reports whether the certificate's validity window has passed.
func (c *Certificate) Expired(now int64) bool {
	return now >= c.ExpiresAt
}

// Stats is the singleton registry counter block.
type Stats struct {
	gorm.Model     `json:"-"`
	StatsID        string `gorm:"uniqueIndex" json:"-"`
	IssuedCount    uint64 `json:"issued_count"`
	ActiveCount    uint64 `json:"active_count"`
	RetiredCount   uint64 `json:"retired_count"`
	RevokedCount   uint64 `json:"revoked_count"`
	EnergyCertified uint64 `json:"energy_certified"`
	Version        uint64 `json:"-"`
}

const statsSingletonID = "CERTIFICATES"

// IssueRequest creates a pending certificate against a device's free pool.
type IssueRequest struct {
	DeviceID  string `json:"device_id" binding:"required"`
	Amount    uint64 `json:"amount" binding:"required"`
	SourceTag string `json:"source_tag"`
}

// RevokeRequest carries the mandatory revocation reason.
type RevokeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// TransferRequest reassigns an active certificate to a new owner.
type TransferRequest struct {
	NewOwner string `json:"new_owner" binding:"required"`
}
