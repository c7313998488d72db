package token

import (
	"errors"

	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetBalance fetches a balance row inside tx, returning nil when absent.
func (d *Database) GetBalance(tx *gorm.DB, accountID string) (*Balance, error) {
	var balance Balance
	if err := tx.Where("account_id = ?", accountID).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

// CreateBalance inserts a new holding.
func (d *Database) CreateBalance(tx *gorm.DB, balance *Balance) error {
	return tx.Create(balance).Error
}

// UpdateBalanceGuarded applies a new amount only if the version has not moved
// since the balance was read. A lost race surfaces as a write conflict for
// the caller to retry.
func (d *Database) UpdateBalanceGuarded(tx *gorm.DB, balance *Balance, newAmount uint64) error {
	result := tx.Model(&Balance{}).
		Where("account_id = ? AND version = ?", balance.AccountID, balance.Version).
		Updates(map[string]interface{}{
			"amount":  newAmount,
			"version": balance.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	balance.Amount = newAmount
	balance.Version++
	return nil
}

// GetSupply fetches the supply singleton, creating it on first use.
func (d *Database) GetSupply(tx *gorm.DB) (*Supply, error) {
	var supply Supply
	err := tx.Where("supply_id = ?", SupplySingletonID).First(&supply).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		supply = Supply{SupplyID: SupplySingletonID}
		if err := tx.Create(&supply).Error; err != nil {
			return nil, err
		}
		return &supply, nil
	}
	if err != nil {
		return nil, err
	}
	return &supply, nil
}

// UpdateSupplyGuarded advances the mint/burn totals under the version guard.
func (d *Database) UpdateSupplyGuarded(tx *gorm.DB, supply *Supply, minted, burned uint64) error {
	result := tx.Model(&Supply{}).
		Where("supply_id = ? AND version = ?", supply.SupplyID, supply.Version).
		Updates(map[string]interface{}{
			"total_minted": minted,
			"total_burned": burned,
			"version":      supply.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	supply.TotalMinted = minted
	supply.TotalBurned = burned
	supply.Version++
	return nil
}

// SumBalances totals every holding; used by the conservation check.
func (d *Database) SumBalances(tx *gorm.DB) (uint64, error) {
	type row struct{ Total uint64 }
	var r row
	if err := tx.Model(&Balance{}).Select("COALESCE(SUM(amount), 0) AS total").Scan(&r).Error; err != nil {
		return 0, err
	}
	return r.Total, nil
}

// GetOwnerBalances lists all holdings for an owner, newest first.
func (d *Database) GetOwnerBalances(owner string) ([]Balance, error) {
	var balances []Balance
	if err := d.db.Where("owner = ?", owner).Order("created_at DESC").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}
