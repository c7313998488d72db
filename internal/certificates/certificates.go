package certificates

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/voltgrid/voltgrid-api/internal/config"
	"github.com/voltgrid/voltgrid-api/internal/events"
	"github.com/voltgrid/voltgrid-api/internal/ledger"
	"github.com/voltgrid/voltgrid-api/internal/metrics"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/gorm"
)

// Service runs the certificate lifecycle. Issuance reserves backing
// generation through the settlement ledger in the same transaction that
// creates the record; once reserved, that generation never mints and never
// returns, so a certificate is always fully backed for its entire life.
type Service struct {
	db     *Database
	ledger *ledger.Service
	cfg    config.CertificateConfig
	hub    *events.Hub
	now    func() time.Time
}

func NewService(gormDB *gorm.DB, ledgerService *ledger.Service, cfg config.CertificateConfig, hub *events.Hub) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		ledger: ledgerService,
		cfg:    cfg,
		hub:    hub,
		now:    time.Now,
	}
}

// Issue creates a pending certificate backed by the device's free pool.
func (s *Service) Issue(req IssueRequest) (*Certificate, error) {
	if req.Amount < s.cfg.MinAmount {
		return nil, types.ErrBelowMinimumAmount.WithMessage(
			"amount %d below certificate minimum %d", req.Amount, s.cfg.MinAmount)
	}
	if req.Amount > s.cfg.MaxAmount {
		return nil, types.ErrExceedsMaximumAmount.WithMessage(
			"amount %d above certificate maximum %d", req.Amount, s.cfg.MaxAmount)
	}

	now := s.now().Unix()
	cert := &Certificate{
		CertificateID: fmt.Sprintf("CRT_%s", uuid.New().String()),
		DeviceID:      req.DeviceID,
		Amount:        req.Amount,
		SourceTag:     req.SourceTag,
		Status:        StatusPending,
		IssuedAt:      now,
		ExpiresAt:     now + s.cfg.ValidityPeriod,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var device types.Device
		if err := tx.Where("device_id = ?", req.DeviceID).First(&device).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.ErrNotFound.WithMessage("device %s not found", req.DeviceID)
			}
			return err
		}
		cert.Owner = device.Owner

		if err := s.ledger.ClaimForCertificate(tx, req.DeviceID, req.Amount); err != nil {
			return err
		}
		if err := s.db.CreateCertificate(tx, cert); err != nil {
			return err
		}

		stats, err := s.db.GetStats(tx)
		if err != nil {
			return err
		}
		stats.IssuedCount++
		certified, ok := types.CheckedAdd(stats.EnergyCertified, req.Amount)
		if !ok {
			return types.ErrAmountOverflow
		}
		stats.EnergyCertified = certified
		return s.db.SaveStats(tx, stats)
	})
	if err != nil {
		return nil, err
	}

	metrics.CertificatesIssued.Inc()
	s.hub.Publish(events.TypeCertificateIssued, cert)
	log.Info().
		Str("certificate_id", cert.CertificateID).
		Str("device_id", cert.DeviceID).
		Uint64("amount", cert.Amount).
		Str("service", "certificates").
		Msg("certificate issued")
	return cert, nil
}

// Activate moves a pending certificate into circulation. An expired
// certificate can never activate.
func (s *Service) Activate(certificateID string) (*Certificate, error) {
	var cert *Certificate
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		cert, err = s.mustGetCertificate(tx, certificateID)
		if err != nil {
			return err
		}
		if cert.Terminal() {
			return types.ErrAlreadyTerminal.WithMessage("certificate %s is %s", certificateID, cert.Status)
		}
		if cert.Status != StatusPending {
			return types.ErrInvalidStatus.WithMessage("certificate %s is already %s", certificateID, cert.Status)
		}
		if cert.Expired(s.now().Unix()) {
			return types.ErrCertificateExpired.WithMessage("certificate %s expired at %d", certificateID, cert.ExpiresAt)
		}

		cert.Status = StatusActive
		cert.ActivatedAt = s.now().Unix()
		if err := s.db.SaveCertificate(tx, cert); err != nil {
			return err
		}
		return s.adjustStats(tx, func(stats *Stats) {
			stats.ActiveCount++
		})
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(events.TypeCertificateActivated, cert)
	return cert, nil
}

// Retire permanently consumes an active certificate, owner only. Retirement
// is the certificate doing its job: the holder takes the environmental claim
// and the certificate leaves circulation for good.
func (s *Service) Retire(certificateID, caller string) (*Certificate, error) {
	var cert *Certificate
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		cert, err = s.mustGetCertificate(tx, certificateID)
		if err != nil {
			return err
		}
		if cert.Owner != caller {
			return types.ErrUnauthorizedCaller.WithMessage("only the owner may retire %s", certificateID)
		}
		if cert.Terminal() {
			return types.ErrAlreadyTerminal.WithMessage("certificate %s is %s", certificateID, cert.Status)
		}
		if cert.Status != StatusActive {
			return types.ErrCertificateNotActive.WithMessage("certificate %s is %s", certificateID, cert.Status)
		}

		cert.Status = StatusRetired
		cert.RetiredAt = s.now().Unix()
		if err := s.db.SaveCertificate(tx, cert); err != nil {
			return err
		}
		return s.adjustStats(tx, func(stats *Stats) {
			stats.ActiveCount = types.SaturatingSub(stats.ActiveCount, 1)
			stats.RetiredCount++
		})
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(events.TypeCertificateRetired, cert)
	log.Info().
		Str("certificate_id", certificateID).
		Str("service", "certificates").
		Msg("certificate retired")
	return cert, nil
}

// Revoke invalidates a pending or active certificate. The backing generation
// stays claimed; revocation punishes a bad certificate, it does not refund
// the device.
func (s *Service) Revoke(certificateID, reason string) (*Certificate, error) {
	if reason == "" {
		return nil, types.ErrInvalidStatus.WithMessage("revocation requires a reason")
	}

	var cert *Certificate
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		cert, err = s.mustGetCertificate(tx, certificateID)
		if err != nil {
			return err
		}
		if cert.Terminal() {
			return types.ErrAlreadyTerminal.WithMessage("certificate %s is %s", certificateID, cert.Status)
		}

		wasActive := cert.Status == StatusActive
		cert.Status = StatusRevoked
		cert.RevokedAt = s.now().Unix()
		cert.RevocationReason = reason
		if err := s.db.SaveCertificate(tx, cert); err != nil {
			return err
		}
		return s.adjustStats(tx, func(stats *Stats) {
			if wasActive {
				stats.ActiveCount = types.SaturatingSub(stats.ActiveCount, 1)
			}
			stats.RevokedCount++
		})
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(events.TypeCertificateRevoked, cert)
	log.Warn().
		Str("certificate_id", certificateID).
		Str("reason", reason).
		Str("service", "certificates").
		Msg("certificate revoked")
	return cert, nil
}

// Transfer reassigns an active, unexpired certificate to a new owner.
func (s *Service) Transfer(certificateID, caller, newOwner string) (*Certificate, error) {
	var cert *Certificate
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		cert, err = s.mustGetCertificate(tx, certificateID)
		if err != nil {
			return err
		}
		if cert.Owner != caller {
			return types.ErrUnauthorizedCaller.WithMessage("only the owner may transfer %s", certificateID)
		}
		if newOwner == cert.Owner {
			return types.ErrSelfTrade.WithMessage("certificate is already owned by %s", newOwner)
		}
		if cert.Status != StatusActive {
			return types.ErrCertificateNotActive.WithMessage("certificate %s is %s", certificateID, cert.Status)
		}
		if cert.Expired(s.now().Unix()) {
			return types.ErrCertificateExpired.WithMessage("certificate %s expired at %d", certificateID, cert.ExpiresAt)
		}

		cert.Owner = newOwner
		cert.TransferCount++
		return s.db.SaveCertificate(tx, cert)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("certificate_id", certificateID).
		Str("new_owner", newOwner).
		Str("service", "certificates").
		Msg("certificate transferred")
	return cert, nil
}

// GetCertificate returns one certificate record.
func (s *Service) GetCertificate(certificateID string) (*Certificate, error) {
	var cert *Certificate
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		cert, err = s.mustGetCertificate(tx, certificateID)
		return err
	})
	return cert, err
}

// GetOwnerCertificates lists an owner's certificates, newest first.
func (s *Service) GetOwnerCertificates(owner string) ([]Certificate, error) {
	return s.db.GetOwnerCertificates(owner)
}

// GetDeviceCertificates lists the certificates minted against one device,
// newest first.
func (s *Service) GetDeviceCertificates(deviceID string) ([]Certificate, error) {
	return s.db.GetDeviceCertificates(deviceID)
}

// GetStats returns the registry counters.
func (s *Service) GetStats() (*Stats, error) {
	var stats *Stats
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		stats, err = s.db.GetStats(tx)
		return err
	})
	return stats, err
}

func (s *Service) mustGetCertificate(tx *gorm.DB, certificateID string) (*Certificate, error) {
	cert, err := s.db.GetCertificate(tx, certificateID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, types.ErrNotFound.WithMessage("certificate %s not found", certificateID)
	}
	return cert, nil
}

func (s *Service) adjustStats(tx *gorm.DB, mutate func(*Stats)) error {
	stats, err := s.db.GetStats(tx)
	if err != nil {
		return err
	}
	mutate(stats)
	return s.db.SaveStats(tx, stats)
}
