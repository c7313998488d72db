package token

import (
	"crypto/sha256"
	"encoding/hex"

	"gorm.io/gorm"
)

// Balance is the singleton fungible holding for one account. AccountID is
// deterministic, so any external reader can locate a holding from the owner
// key without an index.
type Balance struct {
	gorm.Model `json:"-"`
	AccountID  string `gorm:"uniqueIndex" json:"account_id"`
	Owner      string `gorm:"index" json:"owner"`
	Amount     uint64 `json:"amount"`
	Version    uint64 `json:"-"`
}

// Supply is the singleton mint/burn ledger backing the conservation
// invariant: sum of balances == TotalMinted - TotalBurned.
type Supply struct {
	gorm.Model  `json:"-"`
	SupplyID    string `gorm:"uniqueIndex" json:"supply_id"`
	TotalMinted uint64 `json:"total_minted"`
	TotalBurned uint64 `json:"total_burned"`
	Version     uint64 `json:"-"`
}

// SupplySingletonID addresses the one Supply row.
const SupplySingletonID = "SUPPLY"

// AccountID derives the balance account identifier for an owner.
func AccountID(owner string) string {
	return "ACC_" + owner
}

// EscrowAccountID derives the order-owned escrow holding for an order.
func EscrowAccountID(orderID string) string {
	return "ESC_" + orderID
}

// FeeAccountID is the derived collector for market fees.
const FeeAccountID = "ACC_FEE_COLLECTOR"

// DeriveAuthorityID derives the non-custodial mint authority account from a
// seed. No external key can sign for this identity; only code holding the
// seed can present it as a caller.
func DeriveAuthorityID(seed string) string {
	sum := sha256.Sum256([]byte("mint-authority|" + seed))
	return "ATH_" + hex.EncodeToString(sum[:16])
}
