package telemetry

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/voltgrid/voltgrid-api/internal/config"
	"github.com/voltgrid/voltgrid-api/internal/events"
	"github.com/voltgrid/voltgrid-api/internal/metrics"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/gorm"
)

// Service validates meter readings arriving from the gateway and folds
// accepted deltas into the device counters. The submitter set is bounded at
// 3f+1 members; the primary's signature is required unless every primary is
// marked failed, in which case the best-scoring healthy backup takes over.
type Service struct {
	db  *Database
	cfg config.TelemetryConfig
	hub *events.Hub
	now func() time.Time
}

func NewService(gormDB *gorm.DB, cfg config.TelemetryConfig, hub *events.Hub) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		cfg: cfg,
		hub: hub,
		now: time.Now,
	}
}

// ReadingMessage is the canonical byte string a submitter signs.
func ReadingMessage(deviceID string, productionDelta, consumptionDelta uint64, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%d|%d|%d", deviceID, productionDelta, consumptionDelta, timestamp))
}

// RegisterSubmitter enrolls a reading source. The set is capped at 3f+1.
func (s *Service) RegisterSubmitter(req RegisterSubmitterRequest) (*Submitter, error) {
	if req.Role != RolePrimary && req.Role != RoleBackup {
		return nil, types.ErrInvalidStatus.WithMessage("role must be primary or backup, got %q", req.Role)
	}
	key, err := hex.DecodeString(req.PublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, types.ErrInvalidSignature.WithMessage("public key must be %d hex-encoded bytes", ed25519.PublicKeySize)
	}

	existing, err := s.db.GetSubmitter(req.SubmitterID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	count, err := s.db.CountSubmitters()
	if err != nil {
		return nil, err
	}
	if count >= int64(s.cfg.MaxSubmitters()) {
		return nil, types.ErrUnauthorizedSubmitter.WithMessage(
			"submitter set is full (%d of %d)", count, s.cfg.MaxSubmitters())
	}

	submitter := &Submitter{
		SubmitterID: req.SubmitterID,
		PublicKey:   req.PublicKey,
		Role:        req.Role,
	}
	if err := s.db.CreateSubmitter(submitter); err != nil {
		return nil, err
	}

	log.Info().
		Str("submitter_id", submitter.SubmitterID).
		Str("role", submitter.Role).
		Str("service", "telemetry").
		Msg("submitter registered")
	return submitter, nil
}

// MarkSubmitterFailed flips the failed flag; when every primary is failed the
// validator starts accepting backup submissions.
func (s *Service) MarkSubmitterFailed(submitterID string, failed bool) (*Submitter, error) {
	submitter, err := s.db.GetSubmitter(submitterID)
	if err != nil {
		return nil, err
	}
	if submitter == nil {
		return nil, types.ErrNotFound.WithMessage("submitter %s not found", submitterID)
	}
	submitter.Failed = failed
	if err := s.db.SaveSubmitterStats(s.db.Handle(), submitter); err != nil {
		return nil, err
	}
	log.Warn().
		Str("submitter_id", submitterID).
		Bool("failed", failed).
		Str("service", "telemetry").
		Msg("submitter failure flag updated")
	return submitter, nil
}

// ListSubmitters returns the authorized set with quality scores.
func (s *Service) ListSubmitters() ([]Submitter, error) {
	return s.db.GetSubmitters()
}

// SubmitReading runs the full validation pipeline. Check order matters:
// authorization and signature first, then device state, then the content
// checks. Rejections after the signature check count against the submitter's
// quality score; a forged or unauthorized submission does not.
func (s *Service) SubmitReading(req SubmitReadingRequest) (*ReadingResponse, error) {
	logger := log.With().
		Str("device_id", req.DeviceID).
		Str("submitter_id", req.SubmitterID).
		Str("service", "telemetry").
		Logger()

	submitter, err := s.authorizeSubmitter(req)
	if err != nil {
		metrics.ReadingsRejected.WithLabelValues(rejectReason(err)).Inc()
		logger.Warn().Err(err).Msg("reading rejected before validation")
		return nil, err
	}

	resp, err := s.validateAndFold(req, submitter)
	if err != nil {
		metrics.ReadingsRejected.WithLabelValues(rejectReason(err)).Inc()
		submitter.RejectedCount++
		if statErr := s.db.SaveSubmitterStats(s.db.Handle(), submitter); statErr != nil {
			logger.Warn().Err(statErr).Msg("failed to record submitter rejection")
		}
		logger.Warn().Err(err).Msg("reading rejected")
		return nil, err
	}

	metrics.ReadingsAccepted.Inc()
	s.hub.Publish(events.TypeReadingAccepted, resp)
	logger.Info().
		Uint64("production_delta", req.ProductionDelta).
		Uint64("consumption_delta", req.ConsumptionDelta).
		Msg("reading accepted")
	return resp, nil
}

// authorizeSubmitter checks set membership, role eligibility and signature.
func (s *Service) authorizeSubmitter(req SubmitReadingRequest) (*Submitter, error) {
	submitter, err := s.db.GetSubmitter(req.SubmitterID)
	if err != nil {
		return nil, err
	}
	if submitter == nil {
		return nil, types.ErrUnauthorizedSubmitter.WithMessage("submitter %s is not in the authorized set", req.SubmitterID)
	}
	if submitter.Failed {
		return nil, types.ErrUnauthorizedSubmitter.WithMessage("submitter %s is marked failed", req.SubmitterID)
	}

	if submitter.Role == RoleBackup {
		ok, err := s.backupEligible(submitter)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, types.ErrUnauthorizedSubmitter.WithMessage(
				"backup %s may not submit while a primary is healthy", req.SubmitterID)
		}
	}

	key, err := hex.DecodeString(submitter.PublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, types.ErrInvalidSignature.WithMessage("submitter %s has a malformed key", req.SubmitterID)
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, types.ErrInvalidSignature
	}
	message := ReadingMessage(req.DeviceID, req.ProductionDelta, req.ConsumptionDelta, req.Timestamp)
	if !ed25519.Verify(ed25519.PublicKey(key), message, sig) {
		return nil, types.ErrInvalidSignature
	}
	return submitter, nil
}

// backupEligible reports whether this backup may submit: every primary must be
// failed, and among healthy backups only the best quality score is trusted.
func (s *Service) backupEligible(backup *Submitter) (bool, error) {
	primaryFailed, err := s.db.PrimaryFailed()
	if err != nil {
		return false, err
	}
	if !primaryFailed {
		return false, nil
	}

	submitters, err := s.db.GetSubmitters()
	if err != nil {
		return false, err
	}
	best := backup.QualityScore()
	for i := range submitters {
		other := &submitters[i]
		if other.Role != RoleBackup || other.Failed || other.SubmitterID == backup.SubmitterID {
			continue
		}
		if other.QualityScore() > best {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) validateAndFold(req SubmitReadingRequest, submitter *Submitter) (*ReadingResponse, error) {
	var resp *ReadingResponse
	err := s.db.Transaction(func(tx *gorm.DB) error {
		device, err := s.db.GetDevice(tx, req.DeviceID)
		if err != nil {
			return err
		}
		if device == nil {
			return types.ErrNotFound.WithMessage("device %s not found", req.DeviceID)
		}
		if device.Status != types.DeviceActive {
			return types.ErrDeviceInactive.WithMessage("device %s is %s", device.DeviceID, device.Status)
		}

		now := s.now().Unix()
		if req.Timestamp <= device.LastReadingAt {
			return types.ErrStaleSubmission.WithMessage(
				"timestamp %d does not advance past %d", req.Timestamp, device.LastReadingAt)
		}
		if req.Timestamp > now+s.cfg.MaxClockSkew {
			return types.ErrFutureReading.WithMessage(
				"timestamp %d is more than %ds ahead of server time", req.Timestamp, s.cfg.MaxClockSkew)
		}
		if device.LastReadingAt > 0 && req.Timestamp-device.LastReadingAt < s.cfg.MinReadingInterval {
			return types.ErrRateLimited.WithMessage(
				"minimum interval is %ds, got %ds", s.cfg.MinReadingInterval, req.Timestamp-device.LastReadingAt)
		}
		if req.ProductionDelta > s.cfg.MaxReadingDelta || req.ConsumptionDelta > s.cfg.MaxReadingDelta {
			return types.ErrOutOfRange.WithMessage("delta exceeds per-reading ceiling %d", s.cfg.MaxReadingDelta)
		}
		if anomalousRatio(req.ProductionDelta, req.ConsumptionDelta, s.cfg.MaxProductionRatio) {
			return types.ErrAnomalousRatio.WithMessage(
				"production %d exceeds %d:1 against consumption %d",
				req.ProductionDelta, s.cfg.MaxProductionRatio, req.ConsumptionDelta)
		}

		production, ok := types.CheckedAdd(device.TotalProduction, req.ProductionDelta)
		if !ok {
			return types.ErrAmountOverflow.WithMessage("production counter would overflow")
		}
		consumption, ok := types.CheckedAdd(device.TotalConsumption, req.ConsumptionDelta)
		if !ok {
			return types.ErrAmountOverflow.WithMessage("consumption counter would overflow")
		}

		if err := s.db.FoldReading(tx, device, production, consumption, req.Timestamp, submitter.SubmitterID); err != nil {
			return err
		}

		s.recordAcceptance(submitter, req.Timestamp)
		if err := s.db.SaveSubmitterStats(tx, submitter); err != nil {
			return err
		}

		resp = &ReadingResponse{
			DeviceID:            device.DeviceID,
			TotalProduction:     device.TotalProduction,
			TotalConsumption:    device.TotalConsumption,
			UnsettledGeneration: device.UnsettledGeneration(),
			LastReadingAt:       device.LastReadingAt,
		}
		return nil
	})
	return resp, err
}

// recordAcceptance updates the valid count and the exponential moving average
// of the submitter's reading interval.
func (s *Service) recordAcceptance(submitter *Submitter, timestamp int64) {
	if submitter.LastAcceptAt > 0 && timestamp > submitter.LastAcceptAt {
		interval := float64(timestamp - submitter.LastAcceptAt)
		if submitter.AvgInterval == 0 {
			submitter.AvgInterval = interval
		} else {
			submitter.AvgInterval = 0.8*submitter.AvgInterval + 0.2*interval
		}
	}
	submitter.ValidCount++
	submitter.LastAcceptAt = timestamp
}

// anomalousRatio reports production:consumption > maxRatio. Consumption of
// zero never trips the check; pure generators report no consumption at all.
func anomalousRatio(production, consumption, maxRatio uint64) bool {
	if consumption == 0 {
		return false
	}
	hi, lo := bits.Mul64(consumption, maxRatio)
	if hi != 0 {
		return false
	}
	return production > lo
}

func rejectReason(err error) string {
	var domainErr *types.Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "INTERNAL"
}
