package market

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/voltgrid/voltgrid-api/internal/certificates"
	"github.com/voltgrid/voltgrid-api/internal/config"
	"github.com/voltgrid/voltgrid-api/internal/events"
	"github.com/voltgrid/voltgrid-api/internal/metrics"
	"github.com/voltgrid/voltgrid-api/internal/token"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/gorm"
)

// Service is the bilateral matching engine. Orders rest until an external
// matcher pairs them through Match; the engine's job is making every fill
// atomic: both legs of the swap, the fee, the order updates and the trade
// record commit together or not at all.
type Service struct {
	db     *Database
	tokens *token.Service
	cfg    config.MarketConfig
	hub    *events.Hub
	now    func() time.Time
}

func NewService(gormDB *gorm.DB, tokens *token.Service, cfg config.MarketConfig, hub *events.Hub) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		tokens: tokens,
		cfg:    cfg,
		hub:    hub,
		now:    time.Now,
	}
}

// CreateOrder opens a limit order for the caller. Asks move their full
// quantity into a per-order escrow account before the order becomes visible;
// bids only prove they could pay at their limit right now.
func (s *Service) CreateOrder(owner string, req CreateOrderRequest) (*Order, error) {
	if req.Side != SideBid && req.Side != SideAsk {
		return nil, types.ErrInvalidStatus.WithMessage("side must be BID or ASK, got %q", req.Side)
	}
	if req.Quantity == 0 {
		return nil, types.ErrInvalidQuantity
	}
	if req.LimitPrice == 0 {
		return nil, types.ErrInvalidPrice
	}
	if req.Quantity > types.MaxAmount || req.LimitPrice > types.MaxAmount {
		return nil, types.ErrAmountOverflow.WithMessage("order exceeds the storable amount range")
	}

	now := s.now().Unix()
	order := &Order{
		OrderID:       fmt.Sprintf("ORD_%s", uuid.New().String()),
		Side:          req.Side,
		Owner:         owner,
		Quantity:      req.Quantity,
		Remaining:     req.Quantity,
		LimitPrice:    req.LimitPrice,
		CertificateID: req.CertificateID,
		Status:        OrderActive,
		ExpiresAt:     now + s.cfg.OrderTTL,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if req.CertificateID != "" {
			if err := s.checkCertificate(tx, req.CertificateID, owner, now); err != nil {
				return err
			}
		}

		state, err := s.getOrInitState(tx)
		if err != nil {
			return err
		}
		state.OrderSequence++
		state.ActiveOrders++
		order.Sequence = state.OrderSequence

		switch req.Side {
		case SideAsk:
			// Full escrow up front so a matched ask can always deliver.
			err = s.tokens.Transfer(tx,
				token.AccountID(owner), token.EscrowAccountID(order.OrderID), owner, req.Quantity)
			if err != nil {
				return err
			}
		case SideBid:
			cost, ok := types.CheckedMulDiv(req.Quantity, req.LimitPrice)
			if !ok {
				return types.ErrAmountOverflow.WithMessage("order value overflows")
			}
			balance, err := s.tokens.AccountBalanceTx(tx, token.AccountID(owner))
			if err != nil {
				return err
			}
			if balance < cost {
				return types.ErrInsufficientBalance.WithMessage(
					"bid needs %d at the limit, holder has %d", cost, balance)
			}
		}

		if err := s.db.CreateOrder(tx, order); err != nil {
			return err
		}
		return s.db.SaveState(tx, state)
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(events.TypeOrderCreated, order)
	log.Info().
		Str("order_id", order.OrderID).
		Str("side", order.Side).
		Uint64("quantity", order.Quantity).
		Uint64("limit_price", order.LimitPrice).
		Str("service", "market").
		Msg("order created")
	return order, nil
}

// Match executes a fill between a bid and an ask. FillAmount of zero fills
// as much as both orders allow.
func (s *Service) Match(req MatchRequest) (*Trade, error) {
	// Lazy expiry commits on its own before the fill transaction opens, so a
	// rejected match still retires the order and frees its escrow.
	if err := s.expireIfPast(req.BidID, req.AskID); err != nil {
		return nil, err
	}

	var trade *Trade
	err := s.db.Transaction(func(tx *gorm.DB) error {
		bid, err := s.mustGetOrder(tx, req.BidID)
		if err != nil {
			return err
		}
		ask, err := s.mustGetOrder(tx, req.AskID)
		if err != nil {
			return err
		}
		if bid.Side != SideBid || ask.Side != SideAsk {
			return types.ErrInvalidStatus.WithMessage("match requires a bid and an ask")
		}
		if bid.Owner == ask.Owner {
			return types.ErrSelfTrade.WithMessage("both orders belong to %s", bid.Owner)
		}
		if bid.Terminal() {
			return types.ErrAlreadyTerminal.WithMessage("order %s is %s", bid.OrderID, bid.Status)
		}
		if ask.Terminal() {
			return types.ErrAlreadyTerminal.WithMessage("order %s is %s", ask.OrderID, ask.Status)
		}

		now := s.now().Unix()
		if bid.Expired(now) {
			return types.ErrOrderExpired.WithMessage("order %s expired at %d", bid.OrderID, bid.ExpiresAt)
		}
		if ask.Expired(now) {
			return types.ErrOrderExpired.WithMessage("order %s expired at %d", ask.OrderID, ask.ExpiresAt)
		}

		if bid.LimitPrice < ask.LimitPrice {
			return types.ErrPriceIncompatible.WithMessage(
				"bid limit %d below ask limit %d", bid.LimitPrice, ask.LimitPrice)
		}

		fill := minUint64(bid.Remaining, ask.Remaining)
		if req.FillAmount > 0 && req.FillAmount < fill {
			fill = req.FillAmount
		}
		if fill == 0 {
			return types.ErrInvalidQuantity.WithMessage("nothing to fill")
		}

		state, err := s.getOrInitState(tx)
		if err != nil {
			return err
		}

		// The later order is the incoming side; the price concedes toward
		// its limit.
		incomingLimit := ask.LimitPrice
		if bid.Sequence > ask.Sequence {
			incomingLimit = bid.LimitPrice
		}
		price := clearingPrice(bid.LimitPrice, ask.LimitPrice, incomingLimit, fill, state.TotalVolume)

		payment, ok := types.CheckedMulDiv(fill, price)
		if !ok {
			return types.ErrAmountOverflow.WithMessage("trade value overflows")
		}
		fee := feeOf(payment, s.cfg.FeeBps)

		escrowed, err := s.tokens.AccountBalanceTx(tx, token.EscrowAccountID(ask.OrderID))
		if err != nil {
			return err
		}
		if escrowed < fill {
			return types.ErrInsufficientEscrow.WithMessage(
				"escrow holds %d, fill needs %d", escrowed, fill)
		}

		// Leg one: escrowed units to the buyer.
		err = s.tokens.Transfer(tx,
			token.EscrowAccountID(ask.OrderID), token.AccountID(bid.Owner), bid.Owner, fill)
		if err != nil {
			return err
		}
		// Leg two: buyer funds to the seller, fee to the collector.
		if payment > fee {
			err = s.tokens.Transfer(tx,
				token.AccountID(bid.Owner), token.AccountID(ask.Owner), ask.Owner, payment-fee)
			if err != nil {
				return err
			}
		}
		if fee > 0 {
			err = s.tokens.Transfer(tx,
				token.AccountID(bid.Owner), token.FeeAccountID, "fee-collector", fee)
			if err != nil {
				return err
			}
		}

		if err := s.applyFill(tx, bid, fill, state); err != nil {
			return err
		}
		if err := s.applyFill(tx, ask, fill, state); err != nil {
			return err
		}

		trade = &Trade{
			TradeID:    fmt.Sprintf("TRD_%s", uuid.New().String()),
			BidID:      bid.OrderID,
			AskID:      ask.OrderID,
			Buyer:      bid.Owner,
			Seller:     ask.Owner,
			Amount:     fill,
			Price:      price,
			TotalValue: payment,
			FeeAmount:  fee,
			ExecutedAt: now,
		}
		if err := s.db.CreateTrade(tx, trade); err != nil {
			return err
		}
		if err := s.db.RecordPricePoint(tx, &PricePoint{Price: price, Amount: fill, TradedAt: now}); err != nil {
			return err
		}

		volume, ok := types.CheckedAdd(state.TotalVolume, fill)
		if !ok {
			return types.ErrAmountOverflow.WithMessage("market volume overflows")
		}
		state.TotalVolume = volume
		state.TradeCount++
		state.LastClearingPrice = price

		// VWAP refreshes lazily: every tenth trade or after a minute.
		if state.TradeCount%10 == 0 || now-state.VWAPUpdatedAt >= 60 {
			points, err := s.db.GetPricePoints(tx)
			if err != nil {
				return err
			}
			state.VWAP = computeVWAP(points)
			state.VWAPUpdatedAt = now
		}

		return s.db.SaveState(tx, state)
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesExecuted.Inc()
	metrics.TradeVolume.Add(float64(trade.Amount))
	metrics.ClearingPrice.Set(float64(trade.Price))
	s.hub.Publish(events.TypeTradeExecuted, trade)
	log.Info().
		Str("trade_id", trade.TradeID).
		Uint64("amount", trade.Amount).
		Uint64("price", trade.Price).
		Uint64("fee", trade.FeeAmount).
		Str("service", "market").
		Msg("trade executed")
	return trade, nil
}

// CancelOrder takes an open order off the book and releases any escrow.
func (s *Service) CancelOrder(orderID, caller string) (*Order, error) {
	var order *Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.mustGetOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Owner != caller {
			return types.ErrUnauthorizedCaller.WithMessage("only the owner may cancel %s", orderID)
		}
		if order.Terminal() {
			return types.ErrAlreadyTerminal.WithMessage("order %s is %s", orderID, order.Status)
		}

		if err := s.releaseEscrow(tx, order); err != nil {
			return err
		}
		order.Status = OrderCancelled
		if err := s.db.SaveOrder(tx, order); err != nil {
			return err
		}
		return s.adjustActiveOrders(tx, -1)
	})
	if err != nil {
		return nil, err
	}

	s.hub.Publish(events.TypeOrderCancelled, order)
	log.Info().
		Str("order_id", orderID).
		Str("service", "market").
		Msg("order cancelled")
	return order, nil
}

// SweepExpired retires every open order past its expiry, releasing escrow.
// Returns the number of orders swept.
func (s *Service) SweepExpired() (int, error) {
	swept := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		orders, err := s.db.GetOpenOrders(tx)
		if err != nil {
			return err
		}
		now := s.now().Unix()
		for i := range orders {
			order := &orders[i]
			if !order.Expired(now) {
				continue
			}
			if err := s.expireOrder(tx, order); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		log.Info().Int("swept", swept).Str("service", "market").Msg("expired orders swept")
	}
	return swept, nil
}

// GetOrder returns one order record.
func (s *Service) GetOrder(orderID string) (*Order, error) {
	var order *Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.mustGetOrder(tx, orderID)
		return err
	})
	return order, err
}

// GetOwnerOrders lists the caller's orders, newest first.
func (s *Service) GetOwnerOrders(owner string) ([]Order, error) {
	return s.db.GetOwnerOrders(owner)
}

// GetRecentTrades lists the latest executed trades.
func (s *Service) GetRecentTrades(limit int) ([]Trade, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.db.GetRecentTrades(limit)
}

// GetMarketState returns the aggregate block, refreshing the VWAP gauge.
func (s *Service) GetMarketState() (*MarketState, error) {
	var state *MarketState
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		state, err = s.getOrInitState(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.VWAP.Set(float64(state.VWAP))
	return state, nil
}

func (s *Service) mustGetOrder(tx *gorm.DB, orderID string) (*Order, error) {
	order, err := s.db.GetOrder(tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, types.ErrNotFound.WithMessage("order %s not found", orderID)
	}
	return order, nil
}

func (s *Service) getOrInitState(tx *gorm.DB) (*MarketState, error) {
	state, err := s.db.GetState(tx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &MarketState{StateID: stateSingletonID, FeeBps: s.cfg.FeeBps}
		if err := s.db.CreateState(tx, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (s *Service) checkCertificate(tx *gorm.DB, certificateID, owner string, now int64) error {
	var cert certificates.Certificate
	if err := tx.Where("certificate_id = ?", certificateID).First(&cert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrNotFound.WithMessage("certificate %s not found", certificateID)
		}
		return err
	}
	if cert.Owner != owner {
		return types.ErrUnauthorizedCaller.WithMessage("certificate %s belongs to %s", certificateID, cert.Owner)
	}
	if cert.Status != certificates.StatusActive {
		return types.ErrCertificateNotActive.WithMessage("certificate %s is %s", certificateID, cert.Status)
	}
	if cert.Expired(now) {
		return types.ErrCertificateExpired.WithMessage("certificate %s expired at %d", certificateID, cert.ExpiresAt)
	}
	return nil
}

// applyFill advances one order's remaining quantity and status.
func (s *Service) applyFill(tx *gorm.DB, order *Order, fill uint64, state *MarketState) error {
	order.Remaining -= fill
	if order.Remaining == 0 {
		order.Status = OrderFilled
		state.ActiveOrders = types.SaturatingSub(state.ActiveOrders, 1)
	} else {
		order.Status = OrderPartiallyFilled
	}
	return s.db.SaveOrder(tx, order)
}

// expireIfPast retires any referenced order already past its expiry. Each
// expiry runs in its own transaction; a failure in the surrounding match must
// not undo the status flip or the escrow release.
func (s *Service) expireIfPast(orderIDs ...string) error {
	now := s.now().Unix()
	var expiredID string
	var expiresAt int64
	for _, orderID := range orderIDs {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			order, err := s.db.GetOrder(tx, orderID)
			if err != nil || order == nil {
				// Missing orders fail with NOT_FOUND in the match itself.
				return err
			}
			if order.Terminal() || !order.Expired(now) {
				return nil
			}
			if err := s.expireOrder(tx, order); err != nil {
				return err
			}
			if expiredID == "" {
				expiredID = order.OrderID
				expiresAt = order.ExpiresAt
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if expiredID != "" {
		return types.ErrOrderExpired.WithMessage("order %s expired at %d", expiredID, expiresAt)
	}
	return nil
}

// expireOrder marks an open order expired and returns escrow to its owner.
func (s *Service) expireOrder(tx *gorm.DB, order *Order) error {
	if err := s.releaseEscrow(tx, order); err != nil {
		return err
	}
	order.Status = OrderExpired
	if err := s.db.SaveOrder(tx, order); err != nil {
		return err
	}
	return s.adjustActiveOrders(tx, -1)
}

// releaseEscrow returns whatever the order's escrow account still holds.
func (s *Service) releaseEscrow(tx *gorm.DB, order *Order) error {
	if order.Side != SideAsk {
		return nil
	}
	escrowed, err := s.tokens.AccountBalanceTx(tx, token.EscrowAccountID(order.OrderID))
	if err != nil {
		return err
	}
	if escrowed == 0 {
		return nil
	}
	return s.tokens.Transfer(tx,
		token.EscrowAccountID(order.OrderID), token.AccountID(order.Owner), order.Owner, escrowed)
}

func (s *Service) adjustActiveOrders(tx *gorm.DB, delta int64) error {
	state, err := s.getOrInitState(tx)
	if err != nil {
		return err
	}
	if delta < 0 {
		state.ActiveOrders = types.SaturatingSub(state.ActiveOrders, uint64(-delta))
	} else {
		state.ActiveOrders += uint64(delta)
	}
	return s.db.SaveState(tx, state)
}

// feeOf takes the market fee in basis points without overflow on the
// intermediate product.
func feeOf(payment uint64, bps uint16) uint64 {
	hi, lo := bits.Mul64(payment, uint64(bps))
	fee, _ := bits.Div64(hi, lo, 10_000)
	return fee
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
