package market

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper retires expired orders in the background. Matching already expires
// orders lazily; the sweeper exists so escrow held by orders nobody tries to
// match again still comes back to its owner.
type Sweeper struct {
	service    *Service
	sweepDelay time.Duration
}

func NewSweeper(service *Service) *Sweeper {
	return &Sweeper{
		service:    service,
		sweepDelay: time.Minute,
	}
}

// Start begins the expiry sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_sweeper").Logger()
	logger.Info().Msg("starting order sweeper")

	ticker := time.NewTicker(s.sweepDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order sweeper")
			return
		case <-ticker.C:
			if _, err := s.service.SweepExpired(); err != nil {
				logger.Error().Err(err).Msg("failed to sweep expired orders")
			}
		}
	}
}
