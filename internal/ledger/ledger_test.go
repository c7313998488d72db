package ledger

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voltgrid/voltgrid-api/internal/token"
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
	if err := db.AutoMigrate(&types.Device{}, &token.Balance{}, &token.Supply{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedDevice(t *testing.T, db *gorm.DB, deviceID string, production, consumption uint64) {
	t.Helper()
	device := &types.Device{
		DeviceID:         deviceID,
		Owner:            "alice",
		DeviceType:       types.DeviceSolar,
		Status:           types.DeviceActive,
		TotalProduction:  production,
		TotalConsumption: consumption,
		RegisteredAt:     time.Now(),
	}
	if err := db.Create(device).Error; err != nil {
		t.Fatalf("seed device: %v", err)
	}
}

func newTestServices(t *testing.T) (*Service, *token.Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	issuer := token.NewService(db, testSeed)
	return NewService(db, issuer, testSeed, nil), issuer, db
}

func TestSettleMintsUnsettledGeneration(t *testing.T) {
	s, issuer, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	result, err := s.Settle("DEV_1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.MintedAmount != 800 {
		t.Errorf("expected 800 minted, got %d", result.MintedAmount)
	}
	if result.SettledNetGeneration != 800 {
		t.Errorf("expected settled mark 800, got %d", result.SettledNetGeneration)
	}

	balance, err := issuer.BalanceOf("alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 800 {
		t.Errorf("owner must hold the minted units, got %d", balance)
	}
}

func TestSettleTwiceIsNoOp(t *testing.T) {
	s, issuer, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	if _, err := s.Settle("DEV_1"); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	result, err := s.Settle("DEV_1")
	if err != nil {
		t.Fatalf("second settle must succeed as a no-op, got %v", err)
	}
	if result.MintedAmount != 0 {
		t.Errorf("second settle must mint nothing, got %d", result.MintedAmount)
	}

	balance, _ := issuer.BalanceOf("alice")
	if balance != 800 {
		t.Errorf("repeated settlement must not double-mint, got %d", balance)
	}
}

func TestSettleAfterNewReadings(t *testing.T) {
	s, issuer, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	if _, err := s.Settle("DEV_1"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// More generation arrives; only the new portion settles.
	if err := db.Model(&types.Device{}).Where("device_id = ?", "DEV_1").
		Updates(map[string]interface{}{"total_production": uint64(1500)}).Error; err != nil {
		t.Fatalf("advance counters: %v", err)
	}

	result, err := s.Settle("DEV_1")
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if result.MintedAmount != 500 {
		t.Errorf("expected incremental mint of 500, got %d", result.MintedAmount)
	}
	balance, _ := issuer.BalanceOf("alice")
	if balance != 1300 {
		t.Errorf("expected total 1300, got %d", balance)
	}
}

func TestSettleConsumptionExceedsProduction(t *testing.T) {
	s, issuer, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 200, 1000)

	result, err := s.Settle("DEV_1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.MintedAmount != 0 {
		t.Errorf("net consumer must mint nothing, got %d", result.MintedAmount)
	}
	balance, _ := issuer.BalanceOf("alice")
	if balance != 0 {
		t.Errorf("expected zero balance, got %d", balance)
	}
}

func TestSettleUnknownDevice(t *testing.T) {
	s, _, _ := newTestServices(t)
	_, err := s.Settle("DEV_missing")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

type failingIssuer struct{}

func (failingIssuer) Mint(tx *gorm.DB, caller, owner string, amount uint64) error {
	return types.ErrAmountOverflow
}

func (failingIssuer) Burn(tx *gorm.DB, caller, owner string, amount uint64) error {
	return types.ErrAmountOverflow
}

func TestRedeemBurnsBalance(t *testing.T) {
	s, issuer, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	if _, err := s.Settle("DEV_1"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	result, err := s.Redeem("alice", 300)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.RedeemedAmount != 300 {
		t.Errorf("expected 300 redeemed, got %d", result.RedeemedAmount)
	}

	balance, err := issuer.BalanceOf("alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Errorf("expected balance 500 after redeeming 300 of 800, got %d", balance)
	}

	supply, err := issuer.CirculatingSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply != 500 {
		t.Errorf("expected circulating supply 500, got %d", supply)
	}
}

func TestRedeemBeyondBalanceRejected(t *testing.T) {
	s, issuer, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	if _, err := s.Settle("DEV_1"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if _, err := s.Redeem("alice", 801); !errors.Is(err, types.ErrInsufficientBalance) {
		t.Errorf("expected insufficient balance, got %v", err)
	}
	if _, err := s.Redeem("alice", 0); !errors.Is(err, types.ErrInvalidQuantity) {
		t.Errorf("expected invalid quantity for zero redeem, got %v", err)
	}

	balance, _ := issuer.BalanceOf("alice")
	if balance != 800 {
		t.Errorf("failed redeem must not move the balance, got %d", balance)
	}
}

func TestMintFailureRollsBackSettledMark(t *testing.T) {
	db := openTestDB(t)
	seedDevice(t, db, "DEV_1", 1000, 200)
	s := NewService(db, failingIssuer{}, testSeed, nil)

	if _, err := s.Settle("DEV_1"); err == nil {
		t.Fatal("expected settle to fail with a failing issuer")
	}

	var device types.Device
	db.Where("device_id = ?", "DEV_1").First(&device)
	if device.SettledNetGeneration != 0 {
		t.Errorf("failed mint must roll the settled mark back, got %d", device.SettledNetGeneration)
	}
}

func TestClaimForCertificate(t *testing.T) {
	s, _, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return s.ClaimForCertificate(tx, "DEV_1", 300)
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	var device types.Device
	db.Where("device_id = ?", "DEV_1").First(&device)
	if device.ClaimedCertificateGeneration != 300 {
		t.Errorf("expected claimed mark 300, got %d", device.ClaimedCertificateGeneration)
	}

	// Claimed generation is excluded from settlement.
	result, err := s.Settle("DEV_1")
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.MintedAmount != 500 {
		t.Errorf("settle must skip claimed generation, expected 500, got %d", result.MintedAmount)
	}
}

func TestClaimBeyondUnclaimedRejected(t *testing.T) {
	s, _, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	err := db.Transaction(func(tx *gorm.DB) error {
		return s.ClaimForCertificate(tx, "DEV_1", 900)
	})
	if !errors.Is(err, types.ErrInsufficientUnclaimedGeneration) {
		t.Fatalf("expected INSUFFICIENT_UNCLAIMED_GENERATION, got %v", err)
	}

	// Settled generation cannot be claimed again either.
	if _, err := s.Settle("DEV_1"); err != nil {
		t.Fatalf("settle: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return s.ClaimForCertificate(tx, "DEV_1", 1)
	})
	if !errors.Is(err, types.ErrInsufficientUnclaimedGeneration) {
		t.Fatalf("fully settled device must have nothing to claim, got %v", err)
	}
}

func TestDualMarkInvariantHolds(t *testing.T) {
	s, _, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return s.ClaimForCertificate(tx, "DEV_1", 400)
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Settle("DEV_1"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	var device types.Device
	db.Where("device_id = ?", "DEV_1").First(&device)
	if !device.CheckMarks() {
		t.Errorf("settled %d + claimed %d must not exceed net %d",
			device.SettledNetGeneration, device.ClaimedCertificateGeneration, device.NetGeneration())
	}
	if device.SettledNetGeneration != 400 || device.ClaimedCertificateGeneration != 400 {
		t.Errorf("expected 400/400, got %d/%d",
			device.SettledNetGeneration, device.ClaimedCertificateGeneration)
	}
}

func TestGetUnsettledBalance(t *testing.T) {
	s, _, db := newTestServices(t)
	seedDevice(t, db, "DEV_1", 1000, 200)

	if err := db.Transaction(func(tx *gorm.DB) error {
		return s.ClaimForCertificate(tx, "DEV_1", 100)
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	balance, err := s.GetUnsettledBalance("DEV_1")
	if err != nil {
		t.Fatalf("unsettled balance: %v", err)
	}
	if balance.NetGeneration != 800 || balance.UnsettledGeneration != 800 || balance.UnclaimedGeneration != 700 {
		t.Errorf("unexpected view %+v", balance)
	}
}
