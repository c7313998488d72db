package token

import (
	"github.com/rs/zerolog/log"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/gorm"
)

// Service is the unit issuer: it owns every fungible holding and the supply
// ledger. Mint and burn are callable only with the derived mint authority as
// the caller; end users never reach them directly. All arithmetic is checked,
// so overflow is an explicit error rather than silent wraparound.
type Service struct {
	db        *Database
	gormDB    *gorm.DB
	authority string
}

// NewService creates the issuer. The authority seed must match the seed the
// settlement ledger derives its caller identity from.
func NewService(gormDB *gorm.DB, authoritySeed string) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		gormDB:    gormDB,
		authority: DeriveAuthorityID(authoritySeed),
	}
}

// Mint credits freshly issued units to the owner's holding. The caller must
// present the derived mint authority; every other identity is rejected.
// Runs inside the supplied transaction so the caller's state changes and the
// mint commit or roll back together.
func (s *Service) Mint(tx *gorm.DB, caller, owner string, amount uint64) error {
	if caller != s.authority {
		return types.ErrUnauthorizedCaller.WithMessage("caller %s may not mint", caller)
	}
	if amount == 0 {
		return types.ErrInvalidQuantity
	}

	supply, err := s.db.GetSupply(tx)
	if err != nil {
		return err
	}
	minted, ok := types.CheckedAdd(supply.TotalMinted, amount)
	if !ok || minted > types.MaxAmount {
		return types.ErrAmountOverflow.WithMessage("supply would overflow minting %d", amount)
	}
	if err := s.db.UpdateSupplyGuarded(tx, supply, minted, supply.TotalBurned); err != nil {
		return err
	}

	return s.credit(tx, AccountID(owner), owner, amount)
}

// Burn debits units from the owner's holding. Authority-gated like Mint.
func (s *Service) Burn(tx *gorm.DB, caller, owner string, amount uint64) error {
	if caller != s.authority {
		return types.ErrUnauthorizedCaller.WithMessage("caller %s may not burn", caller)
	}
	if amount == 0 {
		return types.ErrInvalidQuantity
	}

	if err := s.debit(tx, AccountID(owner), amount); err != nil {
		return err
	}

	supply, err := s.db.GetSupply(tx)
	if err != nil {
		return err
	}
	burned, ok := types.CheckedAdd(supply.TotalBurned, amount)
	if !ok {
		return types.ErrAmountOverflow.WithMessage("burn total would overflow by %d", amount)
	}
	return s.db.UpdateSupplyGuarded(tx, supply, supply.TotalMinted, burned)
}

// Transfer moves units between two accounts addressed by raw account IDs.
// This is the primitive the market engine builds escrow and settlement legs
// from; authorization of the originating owner happens at the API boundary.
func (s *Service) Transfer(tx *gorm.DB, fromAccount, toAccount, toOwner string, amount uint64) error {
	if amount == 0 {
		return types.ErrInvalidQuantity
	}
	if err := s.debit(tx, fromAccount, amount); err != nil {
		return err
	}
	return s.credit(tx, toAccount, toOwner, amount)
}

func (s *Service) credit(tx *gorm.DB, accountID, owner string, amount uint64) error {
	balance, err := s.db.GetBalance(tx, accountID)
	if err != nil {
		return err
	}
	if balance == nil {
		return s.db.CreateBalance(tx, &Balance{
			AccountID: accountID,
			Owner:     owner,
			Amount:    amount,
		})
	}
	next, ok := types.CheckedAdd(balance.Amount, amount)
	if !ok || next > types.MaxAmount {
		return types.ErrAmountOverflow.WithMessage("balance %s would overflow", accountID)
	}
	return s.db.UpdateBalanceGuarded(tx, balance, next)
}

func (s *Service) debit(tx *gorm.DB, accountID string, amount uint64) error {
	balance, err := s.db.GetBalance(tx, accountID)
	if err != nil {
		return err
	}
	if balance == nil || balance.Amount < amount {
		held := uint64(0)
		if balance != nil {
			held = balance.Amount
		}
		return types.ErrInsufficientBalance.WithMessage("account %s holds %d, needs %d", accountID, held, amount)
	}
	return s.db.UpdateBalanceGuarded(tx, balance, balance.Amount-amount)
}

// BalanceOf returns the owner's primary holding amount; zero when absent.
func (s *Service) BalanceOf(owner string) (uint64, error) {
	balance, err := s.db.GetBalance(s.gormDB, AccountID(owner))
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Amount, nil
}

// OwnerBalances lists every holding the owner controls, order escrow
// included, together with the summed total.
func (s *Service) OwnerBalances(owner string) (*OwnerBalancesResponse, error) {
	balances, err := s.db.GetOwnerBalances(owner)
	if err != nil {
		return nil, err
	}
	total := uint64(0)
	for _, b := range balances {
		total = types.SaturatingAdd(total, b.Amount)
	}
	return &OwnerBalancesResponse{
		Owner:    owner,
		Total:    total,
		Accounts: balances,
	}, nil
}

// AccountBalance returns the amount held by a raw account ID (escrow included).
func (s *Service) AccountBalance(accountID string) (uint64, error) {
	return s.AccountBalanceTx(s.gormDB, accountID)
}

// AccountBalanceTx reads an account balance inside the caller's transaction.
func (s *Service) AccountBalanceTx(tx *gorm.DB, accountID string) (uint64, error) {
	balance, err := s.db.GetBalance(tx, accountID)
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Amount, nil
}

// CirculatingSupply returns minted minus burned.
func (s *Service) CirculatingSupply() (uint64, error) {
	supply, err := s.db.GetSupply(s.gormDB)
	if err != nil {
		return 0, err
	}
	return types.SaturatingSub(supply.TotalMinted, supply.TotalBurned), nil
}

// VerifyConservation recomputes the closed-system invariant. It is exposed
// for operational auditing, not enforcement; the arithmetic guards above keep
// it true by construction.
func (s *Service) VerifyConservation() (bool, error) {
	supply, err := s.db.GetSupply(s.gormDB)
	if err != nil {
		return false, err
	}
	total, err := s.db.SumBalances(s.gormDB)
	if err != nil {
		return false, err
	}
	ok := total == types.SaturatingSub(supply.TotalMinted, supply.TotalBurned)
	if !ok {
		log.Error().
			Uint64("sum_balances", total).
			Uint64("total_minted", supply.TotalMinted).
			Uint64("total_burned", supply.TotalBurned).
			Msg("conservation invariant violated")
	}
	return ok, nil
}

// Authority exposes the derived mint authority identity for wiring checks.
func (s *Service) Authority() string {
	return s.authority
}
