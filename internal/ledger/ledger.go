package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/voltgrid/voltgrid-api/internal/events"
	"github.com/voltgrid/voltgrid-api/internal/metrics"
	"github.com/voltgrid/voltgrid-api/internal/token"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"github.com/voltgrid/voltgrid-api/pkg/response"
	"gorm.io/gorm"
)

// UnitIssuer is the mint and burn surface the ledger drives. Satisfied by the
// token service; tests substitute failures to exercise rollback.
type UnitIssuer interface {
	Mint(tx *gorm.DB, caller, owner string, amount uint64) error
	Burn(tx *gorm.DB, caller, owner string, amount uint64) error
}

// Service converts verified net generation into fungible units. It is the
// only component that knows the mint-authority seed, so every mint in the
// system flows through Settle. Settlement advances the settled high-water
// mark and mints in one transaction; the mark moves before the mint so a
// mint failure rolls both back.
type Service struct {
	db        *Database
	issuer    UnitIssuer
	authority string
	hub       *events.Hub
}

func NewService(gormDB *gorm.DB, issuer UnitIssuer, authoritySeed string, hub *events.Hub) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		issuer:    issuer,
		authority: token.DeriveAuthorityID(authoritySeed),
		hub:       hub,
	}
}

// SettleResult reports the outcome of a settlement pass.
type SettleResult struct {
	DeviceID             string `json:"device_id"`
	Owner                string `json:"owner"`
	MintedAmount         uint64 `json:"minted_amount"`
	SettledNetGeneration uint64 `json:"settled_net_generation"`
}

// Settle mints the device's unsettled net generation to its owner. A device
// with nothing unsettled settles successfully with zero effect, so periodic
// sweeps are safe to run against every device.
func (s *Service) Settle(deviceID string) (*SettleResult, error) {
	var result *SettleResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		device, err := s.db.GetDevice(tx, deviceID)
		if err != nil {
			return err
		}
		if device == nil {
			return types.ErrNotFound.WithMessage("device %s not found", deviceID)
		}

		// Settlement and certificate claims draw from the same free pool:
		// net generation minus both high-water marks. Generation already
		// claimed for a certificate never mints.
		mintable := device.UnclaimedGeneration()
		result = &SettleResult{
			DeviceID:             device.DeviceID,
			Owner:                device.Owner,
			SettledNetGeneration: device.SettledNetGeneration,
		}
		if mintable == 0 {
			return nil
		}

		newSettled, ok := types.CheckedAdd(device.SettledNetGeneration, mintable)
		if !ok {
			return types.ErrAmountOverflow.WithMessage("settled mark would overflow")
		}
		if err := s.db.AdvanceSettledMark(tx, device, newSettled); err != nil {
			return err
		}
		if err := s.issuer.Mint(tx, s.authority, device.Owner, mintable); err != nil {
			return err
		}

		result.MintedAmount = mintable
		result.SettledNetGeneration = newSettled
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.MintedAmount > 0 {
		metrics.UnitsMinted.Add(float64(result.MintedAmount))
		s.hub.Publish(events.TypeUnitsMinted, result)
		s.hub.Publish(events.TypeDeviceSettled, result)
		log.Info().
			Str("device_id", result.DeviceID).
			Str("owner", result.Owner).
			Uint64("minted", result.MintedAmount).
			Str("service", "ledger").
			Msg("device settled")
	}
	return result, nil
}

// ClaimForCertificate reserves part of the device's unclaimed generation to
// back a certificate. Runs inside the caller's transaction so the claim and
// the certificate record commit together. Generation claimed here is excluded
// from settlement permanently.
func (s *Service) ClaimForCertificate(tx *gorm.DB, deviceID string, amount uint64) error {
	if amount == 0 {
		return types.ErrInvalidQuantity
	}
	device, err := s.db.GetDevice(tx, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return types.ErrNotFound.WithMessage("device %s not found", deviceID)
	}

	unclaimed := device.UnclaimedGeneration()
	if amount > unclaimed {
		return types.ErrInsufficientUnclaimedGeneration.WithMessage(
			"device %s has %d unclaimed, requested %d", deviceID, unclaimed, amount)
	}

	newClaimed, ok := types.CheckedAdd(device.ClaimedCertificateGeneration, amount)
	if !ok {
		return types.ErrAmountOverflow.WithMessage("claimed mark would overflow")
	}
	return s.db.AdvanceClaimedMark(tx, device, newClaimed)
}

// RedeemResult reports a completed redemption.
type RedeemResult struct {
	Owner          string `json:"owner"`
	RedeemedAmount uint64 `json:"redeemed_amount"`
}

// Redeem burns units from the owner's balance, taking them out of circulation
// permanently. This is how delivered energy leaves the accounting system: a
// consumer redeems units against actual grid consumption and the supply ledger
// records the burn.
func (s *Service) Redeem(owner string, amount uint64) (*RedeemResult, error) {
	if amount == 0 {
		return nil, types.ErrInvalidQuantity
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.issuer.Burn(tx, s.authority, owner, amount)
	})
	if err != nil {
		return nil, err
	}

	result := &RedeemResult{Owner: owner, RedeemedAmount: amount}
	metrics.UnitsBurned.Add(float64(amount))
	s.hub.Publish(events.TypeUnitsBurned, result)
	log.Info().
		Str("owner", owner).
		Uint64("amount", amount).
		Str("service", "ledger").
		Msg("units redeemed")
	return result, nil
}

// UnsettledBalance is the read-only settlement preview for a device.
type UnsettledBalance struct {
	DeviceID             string `json:"device_id"`
	NetGeneration        uint64 `json:"net_generation"`
	SettledNetGeneration uint64 `json:"settled_net_generation"`
	UnsettledGeneration  uint64 `json:"unsettled_generation"`
	UnclaimedGeneration  uint64 `json:"unclaimed_generation"`
}

func (s *Service) GetUnsettledBalance(deviceID string) (*UnsettledBalance, error) {
	var balance *UnsettledBalance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		device, err := s.db.GetDevice(tx, deviceID)
		if err != nil {
			return err
		}
		if device == nil {
			return types.ErrNotFound.WithMessage("device %s not found", deviceID)
		}
		balance = &UnsettledBalance{
			DeviceID:             device.DeviceID,
			NetGeneration:        device.NetGeneration(),
			SettledNetGeneration: device.SettledNetGeneration,
			UnsettledGeneration:  device.UnsettledGeneration(),
			UnclaimedGeneration:  device.UnclaimedGeneration(),
		}
		return nil
	})
	return balance, err
}

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SettleHandler handles POST requests settling one device
// URL parameter: device_id
func (h *GinHandlers) SettleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.Settle(c.Param("device_id"))
		response.Handle(c, result, err)
	}
}

// UnsettledBalanceHandler handles GET requests for the settlement preview
// URL parameter: device_id
func (h *GinHandlers) UnsettledBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balance, err := h.service.GetUnsettledBalance(c.Param("device_id"))
		response.Handle(c, balance, err)
	}
}

// RedeemHandler handles POST requests burning units from the caller's balance
// Request body should contain the amount to redeem
func (h *GinHandlers) RedeemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Amount uint64 `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.service.Redeem(c.GetString("clientID"), req.Amount)
		response.Handle(c, result, err)
	}
}
