package market

import (
	"gorm.io/gorm"
)

// Order sides
const (
	SideBid = "BID"
	SideAsk = "ASK"
)

// Order statuses
const (
	OrderActive          = "ACTIVE"
	OrderPartiallyFilled = "PARTIALLY_FILLED"
	OrderFilled          = "FILLED"
	OrderCancelled       = "CANCELLED"
	OrderExpired         = "EXPIRED"
)

// Order is a resting limit order. Asks escrow their full quantity at
// creation, so a matched ask can always deliver; bids are checked but not
// escrowed, and a broke buyer surfaces at match time.
type Order struct {
	gorm.Model    `json:"-"`
	OrderID       string `gorm:"uniqueIndex" json:"order_id"`
	Side          string `json:"side"`
	Owner         string `gorm:"index" json:"owner"`
	Quantity      uint64 `json:"quantity"`
	Remaining     uint64 `json:"remaining"`
	LimitPrice    uint64 `json:"limit_price"`
	CertificateID string `json:"certificate_id,omitempty"`
	Status        string `gorm:"index" json:"status"`
	Sequence      uint64 `json:"sequence"`
	ExpiresAt     int64  `json:"expires_at"`
	Version       uint64 `json:"-"`
}

// Terminal reports whether the order can never fill again.
func (o *Order) Terminal() bool {
	return o.Status == OrderFilled || o.Status == OrderCancelled || o.Status == OrderExpired
}

// Expired reports whether the order's lifetime has passed.
func (o *Order) Expired(now int64) bool {
	return now >= o.ExpiresAt
}

// MarketState is the singleton aggregate block: volume, VWAP, clearing price
// and the order sequence counter.
type MarketState struct {
	gorm.Model        `json:"-"`
	StateID           string `gorm:"uniqueIndex" json:"-"`
	TotalVolume       uint64 `json:"total_volume"`
	VWAP              uint64 `json:"vwap"`
	VWAPUpdatedAt     int64  `json:"vwap_updated_at"`
	LastClearingPrice uint64 `json:"last_clearing_price"`
	TradeCount        uint64 `json:"trade_count"`
	OrderSequence     uint64 `json:"order_sequence"`
	ActiveOrders      uint64 `json:"active_orders"`
	FeeBps            uint16 `json:"fee_bps"`
	Version           uint64 `json:"-"`
}

const stateSingletonID = "MARKET"

// vwapWindow bounds the price history the lazy VWAP recompute reads.
const vwapWindow = 100

// Trade records one executed match.
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string `gorm:"uniqueIndex" json:"trade_id"`
	BidID      string `gorm:"index" json:"bid_id"`
	AskID      string `gorm:"index" json:"ask_id"`
	Buyer      string `json:"buyer"`
	Seller     string `json:"seller"`
	Amount     uint64 `json:"amount"`
	Price      uint64 `json:"price"`
	TotalValue uint64 `json:"total_value"`
	FeeAmount  uint64 `json:"fee_amount"`
	ExecutedAt int64  `json:"executed_at"`
}

// PricePoint is one entry in the bounded VWAP history.
type PricePoint struct {
	gorm.Model `json:"-"`
	Price      uint64 `json:"price"`
	Amount     uint64 `json:"amount"`
	TradedAt   int64  `json:"traded_at"`
}

// CreateOrderRequest opens a new limit order.
type CreateOrderRequest struct {
	Side          string `json:"side" binding:"required"`
	Quantity      uint64 `json:"quantity" binding:"required"`
	LimitPrice    uint64 `json:"limit_price" binding:"required"`
	CertificateID string `json:"certificate_id"`
}

// MatchRequest executes a fill between a bid and an ask.
type MatchRequest struct {
	BidID      string `json:"bid_id" binding:"required"`
	AskID      string `json:"ask_id" binding:"required"`
	FillAmount uint64 `json:"fill_amount"`
}
