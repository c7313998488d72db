package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/gorm"
)

// Processor settles every device on a fixed cadence so accrued generation
// turns into units without anyone calling the settle endpoint. Settling a
// device with nothing unsettled is a no-op, which makes the full scan safe.
type Processor struct {
	service      *Service
	processDelay time.Duration
}

func NewProcessor(service *Service) *Processor {
	return &Processor{
		service:      service,
		processDelay: 5 * time.Minute,
	}
}

// Start begins the settlement processing loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Msg("starting settlement processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.settleAllDevices(); err != nil {
				logger.Error().Err(err).Msg("failed to settle devices")
			}
		}
	}
}

func (p *Processor) settleAllDevices() error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	var deviceIDs []string
	err := p.service.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(&types.Device{}).Pluck("device_id", &deviceIDs).Error
	})
	if err != nil {
		return err
	}

	settled := 0
	for _, deviceID := range deviceIDs {
		result, err := p.service.Settle(deviceID)
		if err != nil {
			logger.Warn().Err(err).Str("device_id", deviceID).Msg("device settlement failed")
			continue
		}
		if result.MintedAmount > 0 {
			settled++
		}
	}

	if settled > 0 {
		logger.Info().
			Int("devices_settled", settled).
			Int("devices_scanned", len(deviceIDs)).
			Msg("settlement sweep complete")
	}
	return nil
}
