package token

import (
	"errors"
	"fmt"
	"testing"

	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSeed = "test-authority-seed"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&Balance{}, &Supply{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func mint(t *testing.T, s *Service, owner string, amount uint64) {
	t.Helper()
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Mint(tx, s.Authority(), owner, amount)
	})
	if err != nil {
		t.Fatalf("mint %d to %s: %v", amount, owner, err)
	}
}

func TestMintRequiresDerivedAuthority(t *testing.T) {
	s := NewService(openTestDB(t), testSeed)

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Mint(tx, "ACC_alice", "alice", 100)
	})
	if !errors.Is(err, types.ErrUnauthorizedCaller) {
		t.Fatalf("expected UNAUTHORIZED_CALLER, got %v", err)
	}

	balance, err := s.BalanceOf("alice")
	if err != nil {
		t.Fatalf("balance lookup: %v", err)
	}
	if balance != 0 {
		t.Errorf("rejected mint must not credit, got balance %d", balance)
	}
}

func TestAuthorityDerivationIsDeterministic(t *testing.T) {
	if DeriveAuthorityID("seed-a") != DeriveAuthorityID("seed-a") {
		t.Error("same seed must derive the same authority")
	}
	if DeriveAuthorityID("seed-a") == DeriveAuthorityID("seed-b") {
		t.Error("different seeds must derive different authorities")
	}
}

func TestConservationAcrossMintBurnTransfer(t *testing.T) {
	s := NewService(openTestDB(t), testSeed)

	mint(t, s, "alice", 800)
	mint(t, s, "bob", 500)

	if err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Transfer(tx, AccountID("alice"), AccountID("bob"), "bob", 300)
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Burn(tx, s.Authority(), "bob", 200)
	}); err != nil {
		t.Fatalf("burn: %v", err)
	}

	ok, err := s.VerifyConservation()
	if err != nil {
		t.Fatalf("conservation check: %v", err)
	}
	if !ok {
		t.Error("sum of balances must equal minted minus burned")
	}

	supply, err := s.CirculatingSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply != 1100 {
		t.Errorf("expected circulating supply 1100, got %d", supply)
	}

	alice, _ := s.BalanceOf("alice")
	bob, _ := s.BalanceOf("bob")
	if alice != 500 || bob != 600 {
		t.Errorf("expected alice=500 bob=600, got alice=%d bob=%d", alice, bob)
	}
}

func TestBurnInsufficientBalance(t *testing.T) {
	s := NewService(openTestDB(t), testSeed)
	mint(t, s, "alice", 100)

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Burn(tx, s.Authority(), "alice", 150)
	})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}

	balance, _ := s.BalanceOf("alice")
	if balance != 100 {
		t.Errorf("failed burn must leave balance untouched, got %d", balance)
	}
}

func TestTransferInsufficientBalanceRollsBack(t *testing.T) {
	s := NewService(openTestDB(t), testSeed)
	mint(t, s, "alice", 100)

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Transfer(tx, AccountID("alice"), AccountID("bob"), "bob", 250)
	})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}

	alice, _ := s.BalanceOf("alice")
	bob, _ := s.BalanceOf("bob")
	if alice != 100 || bob != 0 {
		t.Errorf("failed transfer must change neither side, alice=%d bob=%d", alice, bob)
	}
}

func TestMintOverflowIsExplicitError(t *testing.T) {
	s := NewService(openTestDB(t), testSeed)
	mint(t, s, "alice", types.MaxAmount-10)

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Mint(tx, s.Authority(), "alice", 100)
	})
	if !errors.Is(err, types.ErrAmountOverflow) {
		t.Fatalf("expected AMOUNT_OVERFLOW, got %v", err)
	}

	// Blowing straight past the uint64 ceiling is the same domain error.
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Mint(tx, s.Authority(), "bob", types.MaxAmount)
	})
	if !errors.Is(err, types.ErrAmountOverflow) {
		t.Fatalf("expected AMOUNT_OVERFLOW, got %v", err)
	}

	balance, _ := s.BalanceOf("alice")
	if balance != types.MaxAmount-10 {
		t.Errorf("overflowing mint must be a no-op, got %d", balance)
	}
}

func TestOwnerBalancesSpanAccounts(t *testing.T) {
	s := NewService(openTestDB(t), testSeed)
	mint(t, s, "alice", 500)

	if err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Transfer(tx, AccountID("alice"), EscrowAccountID("ORD_1"), "alice", 200)
	}); err != nil {
		t.Fatalf("escrow transfer: %v", err)
	}

	resp, err := s.OwnerBalances("alice")
	if err != nil {
		t.Fatalf("owner balances: %v", err)
	}
	if resp.Total != 500 {
		t.Errorf("expected total 500 across accounts, got %d", resp.Total)
	}
	if len(resp.Accounts) != 2 {
		t.Errorf("expected primary and escrow holdings, got %d", len(resp.Accounts))
	}

	empty, err := s.OwnerBalances("nobody")
	if err != nil {
		t.Fatalf("owner balances: %v", err)
	}
	if empty.Total != 0 || len(empty.Accounts) != 0 {
		t.Errorf("unknown owner must report nothing, got %+v", empty)
	}
}

func TestZeroAmountRejected(t *testing.T) {
	s := NewService(openTestDB(t), testSeed)

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return s.Mint(tx, s.Authority(), "alice", 0)
	})
	if !errors.Is(err, types.ErrInvalidQuantity) {
		t.Fatalf("expected INVALID_QUANTITY, got %v", err)
	}
}
