package market

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

func (d *Database) CreateOrder(tx *gorm.DB, order *Order) error {
	return tx.Create(order).Error
}

func (d *Database) GetOrder(tx *gorm.DB, orderID string) (*Order, error) {
	var order Order
	if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOwnerOrders(owner string) ([]Order, error) {
	var orders []Order
	if err := d.db.Where("owner = ?", owner).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) GetOpenOrders(tx *gorm.DB) ([]Order, error) {
	var orders []Order
	err := tx.Where("status IN ?", []string{OrderActive, OrderPartiallyFilled}).
		Order("sequence ASC").Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// SaveOrder writes the mutable order fields under the version guard.
func (d *Database) SaveOrder(tx *gorm.DB, order *Order) error {
	result := tx.Model(&Order{}).
		Where("order_id = ? AND version = ?", order.OrderID, order.Version).
		Updates(map[string]interface{}{
			"remaining": order.Remaining,
			"status":    order.Status,
			"version":   order.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	order.Version++
	return nil
}

func (d *Database) GetState(tx *gorm.DB) (*MarketState, error) {
	var state MarketState
	err := tx.Where("state_id = ?", stateSingletonID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (d *Database) CreateState(tx *gorm.DB, state *MarketState) error {
	return tx.Create(state).Error
}

func (d *Database) SaveState(tx *gorm.DB, state *MarketState) error {
	result := tx.Model(&MarketState{}).
		Where("state_id = ? AND version = ?", state.StateID, state.Version).
		Updates(map[string]interface{}{
			"total_volume":        state.TotalVolume,
			"vwap":                state.VWAP,
			"vwap_updated_at":     state.VWAPUpdatedAt,
			"last_clearing_price": state.LastClearingPrice,
			"trade_count":         state.TradeCount,
			"order_sequence":      state.OrderSequence,
			"active_orders":       state.ActiveOrders,
			"version":             state.Version + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.ErrWriteConflict
	}
	state.Version++
	return nil
}

func (d *Database) CreateTrade(tx *gorm.DB, trade *Trade) error {
	return tx.Create(trade).Error
}

func (d *Database) GetRecentTrades(limit int) ([]Trade, error) {
	var trades []Trade
	if err := d.db.Order("created_at DESC").Limit(limit).Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// RecordPricePoint appends to the VWAP history and trims it to the window.
func (d *Database) RecordPricePoint(tx *gorm.DB, point *PricePoint) error {
	if err := tx.Create(point).Error; err != nil {
		return err
	}
	return tx.Where("id <= (SELECT MAX(id) FROM price_points) - ?", vwapWindow).
		Delete(&PricePoint{}).Error
}

func (d *Database) GetPricePoints(tx *gorm.DB) ([]PricePoint, error) {
	var points []PricePoint
	if err := tx.Order("id DESC").Limit(vwapWindow).Find(&points).Error; err != nil {
		return nil, err
	}
	return points, nil
}

func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.db.Transaction(fn)
}
