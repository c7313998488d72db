package market

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/voltgrid/voltgrid-api/internal/certificates"
	"github.com/voltgrid/voltgrid-api/internal/config"
	"github.com/voltgrid/voltgrid-api/internal/token"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testSeed = "test-authority-seed"
	testNow  = int64(1_700_000_000)

	gridUnit = uint64(1_000_000_000)
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(&token.Balance{}, &token.Supply{},
		&Order{}, &MarketState{}, &Trade{}, &PricePoint{}, &certificates.Certificate{})
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestMarket(t *testing.T) (*Service, *token.Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	tokens := token.NewService(db, testSeed)
	cfg := config.MarketConfig{FeeBps: 25, OrderTTL: 24 * 3600}
	s := NewService(db, tokens, cfg, nil)
	s.now = func() time.Time { return time.Unix(testNow, 0) }
	return s, tokens, db
}

func fund(t *testing.T, tokens *token.Service, db *gorm.DB, owner string, amount uint64) {
	t.Helper()
	err := db.Transaction(func(tx *gorm.DB) error {
		return tokens.Mint(tx, tokens.Authority(), owner, amount)
	})
	if err != nil {
		t.Fatalf("fund %s with %d: %v", owner, amount, err)
	}
}

func TestCreateAskEscrowsUnits(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "seller", 100)

	order, err := s.CreateOrder("seller", CreateOrderRequest{
		Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit,
	})
	if err != nil {
		t.Fatalf("create ask: %v", err)
	}
	if order.Status != OrderActive || order.Remaining != 60 {
		t.Errorf("unexpected order %+v", order)
	}

	balance, _ := tokens.BalanceOf("seller")
	if balance != 40 {
		t.Errorf("escrow must debit the seller, expected 40, got %d", balance)
	}
	escrowed, _ := tokens.AccountBalance(token.EscrowAccountID(order.OrderID))
	if escrowed != 60 {
		t.Errorf("expected 60 in escrow, got %d", escrowed)
	}
}

func TestCreateAskInsufficientBalance(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "seller", 10)

	_, err := s.CreateOrder("seller", CreateOrderRequest{
		Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit,
	})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}

	balance, _ := tokens.BalanceOf("seller")
	if balance != 10 {
		t.Errorf("failed order must not move funds, got %d", balance)
	}
}

func TestCreateBidChecksWithoutEscrow(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500)

	// Bid for 100 at 5 GRID/unit needs 500 at the limit.
	order, err := s.CreateOrder("buyer", CreateOrderRequest{
		Side: SideBid, Quantity: 100, LimitPrice: 5 * gridUnit,
	})
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}

	balance, _ := tokens.BalanceOf("buyer")
	if balance != 500 {
		t.Errorf("bids must not escrow, expected 500, got %d", balance)
	}

	_, err = s.CreateOrder("buyer", CreateOrderRequest{
		Side: SideBid, Quantity: 101, LimitPrice: 5 * gridUnit,
	})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("underfunded bid must fail, got %v", err)
	}
	_ = order
}

func TestCreateOrderValidation(t *testing.T) {
	s, _, _ := newTestMarket(t)

	if _, err := s.CreateOrder("x", CreateOrderRequest{Side: SideBid, Quantity: 0, LimitPrice: 1}); !errors.Is(err, types.ErrInvalidQuantity) {
		t.Errorf("zero quantity: got %v", err)
	}
	if _, err := s.CreateOrder("x", CreateOrderRequest{Side: SideBid, Quantity: 1, LimitPrice: 0}); !errors.Is(err, types.ErrInvalidPrice) {
		t.Errorf("zero price: got %v", err)
	}
	if _, err := s.CreateOrder("x", CreateOrderRequest{Side: "SHORT", Quantity: 1, LimitPrice: 1}); err == nil {
		t.Error("unknown side must fail")
	}
}

func TestMatchPartialFill(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500)
	fund(t, tokens, db, "seller", 60)

	bid, err := s.CreateOrder("buyer", CreateOrderRequest{
		Side: SideBid, Quantity: 100, LimitPrice: 5 * gridUnit,
	})
	if err != nil {
		t.Fatalf("create bid: %v", err)
	}
	ask, err := s.CreateOrder("seller", CreateOrderRequest{
		Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit,
	})
	if err != nil {
		t.Fatalf("create ask: %v", err)
	}

	trade, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if trade.Amount != 60 {
		t.Errorf("expected fill 60, got %d", trade.Amount)
	}
	// Midpoint 4.5 nudged 10% toward the incoming ask's limit: 4.05 GRID.
	if trade.Price != 4_050_000_000 {
		t.Errorf("expected clearing price 4050000000, got %d", trade.Price)
	}
	if trade.TotalValue != 243 {
		t.Errorf("expected value 243, got %d", trade.TotalValue)
	}

	bid, _ = s.GetOrder(bid.OrderID)
	ask, _ = s.GetOrder(ask.OrderID)
	if bid.Status != OrderPartiallyFilled || bid.Remaining != 40 {
		t.Errorf("bid must be partially filled with 40 left, got %s/%d", bid.Status, bid.Remaining)
	}
	if ask.Status != OrderFilled || ask.Remaining != 0 {
		t.Errorf("ask must be filled, got %s/%d", ask.Status, ask.Remaining)
	}

	// Single fungible balance carries both legs: the buyer pays 243 and
	// receives the 60 units, the seller collects the proceeds.
	buyer, _ := tokens.BalanceOf("buyer")
	seller, _ := tokens.BalanceOf("seller")
	if buyer != 500-243+60 {
		t.Errorf("expected buyer 317, got %d", buyer)
	}
	if seller != 243-trade.FeeAmount {
		t.Errorf("expected seller %d, got %d", 243-trade.FeeAmount, seller)
	}

	ok, err := tokens.VerifyConservation()
	if err != nil || !ok {
		t.Errorf("conservation must hold after a trade (ok=%v err=%v)", ok, err)
	}
}

func TestMatchTakesFee(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500*gridUnit)
	fund(t, tokens, db, "seller", 100*gridUnit)

	bid, _ := s.CreateOrder("buyer", CreateOrderRequest{
		Side: SideBid, Quantity: 100 * gridUnit, LimitPrice: 5 * gridUnit,
	})
	ask, _ := s.CreateOrder("seller", CreateOrderRequest{
		Side: SideAsk, Quantity: 100 * gridUnit, LimitPrice: 4 * gridUnit,
	})

	trade, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID})
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	// 25 bps of the trade value goes to the fee collector.
	wantFee := trade.TotalValue * 25 / 10_000
	if trade.FeeAmount != wantFee {
		t.Errorf("expected fee %d, got %d", wantFee, trade.FeeAmount)
	}
	collected, _ := tokens.AccountBalance(token.FeeAccountID)
	if collected != wantFee {
		t.Errorf("fee collector must hold %d, got %d", wantFee, collected)
	}
	seller, _ := tokens.BalanceOf("seller")
	if seller != trade.TotalValue-wantFee {
		t.Errorf("seller proceeds must be net of fee, got %d", seller)
	}
}

func TestMatchSelfTrade(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "alice", 1_000)

	bid, _ := s.CreateOrder("alice", CreateOrderRequest{Side: SideBid, Quantity: 10, LimitPrice: 5 * gridUnit})
	ask, _ := s.CreateOrder("alice", CreateOrderRequest{Side: SideAsk, Quantity: 10, LimitPrice: 4 * gridUnit})

	_, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID})
	if !errors.Is(err, types.ErrSelfTrade) {
		t.Fatalf("expected SELF_TRADE, got %v", err)
	}
}

func TestMatchPriceIncompatible(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 1_000)
	fund(t, tokens, db, "seller", 100)

	bid, _ := s.CreateOrder("buyer", CreateOrderRequest{Side: SideBid, Quantity: 10, LimitPrice: 3 * gridUnit})
	ask, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 10, LimitPrice: 4 * gridUnit})

	_, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID})
	if !errors.Is(err, types.ErrPriceIncompatible) {
		t.Fatalf("expected PRICE_INCOMPATIBLE, got %v", err)
	}
}

func TestMatchBrokeBuyerRollsBackEverything(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500)
	fund(t, tokens, db, "seller", 60)

	bid, _ := s.CreateOrder("buyer", CreateOrderRequest{Side: SideBid, Quantity: 100, LimitPrice: 5 * gridUnit})
	ask, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit})

	// The buyer spends the balance after the bid passed its creation check.
	if err := db.Transaction(func(tx *gorm.DB) error {
		return tokens.Transfer(tx, token.AccountID("buyer"), token.AccountID("elsewhere"), "elsewhere", 450)
	}); err != nil {
		t.Fatalf("drain buyer: %v", err)
	}

	_, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}

	// Nothing moved: orders untouched, escrow intact, no trade recorded.
	bid, _ = s.GetOrder(bid.OrderID)
	ask, _ = s.GetOrder(ask.OrderID)
	if bid.Remaining != 100 || ask.Remaining != 60 {
		t.Errorf("failed match must not fill, got %d/%d", bid.Remaining, ask.Remaining)
	}
	escrowed, _ := tokens.AccountBalance(token.EscrowAccountID(ask.OrderID))
	if escrowed != 60 {
		t.Errorf("escrow must be intact, got %d", escrowed)
	}
	var trades int64
	db.Model(&Trade{}).Count(&trades)
	if trades != 0 {
		t.Error("failed match must not record a trade")
	}
}

func TestCancelReleasesEscrow(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "seller", 100)

	ask, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit})

	if _, err := s.CancelOrder(ask.OrderID, "mallory"); !errors.Is(err, types.ErrUnauthorizedCaller) {
		t.Fatalf("non-owner cancel must fail, got %v", err)
	}

	order, err := s.CancelOrder(ask.OrderID, "seller")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != OrderCancelled {
		t.Errorf("expected CANCELLED, got %s", order.Status)
	}
	balance, _ := tokens.BalanceOf("seller")
	if balance != 100 {
		t.Errorf("cancel must return escrow, expected 100, got %d", balance)
	}

	if _, err := s.CancelOrder(ask.OrderID, "seller"); !errors.Is(err, types.ErrAlreadyTerminal) {
		t.Fatalf("double cancel must fail terminal, got %v", err)
	}
}

func TestCancelPartiallyFilledReturnsRemainder(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500)
	fund(t, tokens, db, "seller", 100)

	bid, _ := s.CreateOrder("buyer", CreateOrderRequest{Side: SideBid, Quantity: 40, LimitPrice: 5 * gridUnit})
	ask, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 100, LimitPrice: 4 * gridUnit})

	if _, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID}); err != nil {
		t.Fatalf("match: %v", err)
	}

	order, err := s.CancelOrder(ask.OrderID, "seller")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Remaining != 60 {
		t.Errorf("expected 60 remaining, got %d", order.Remaining)
	}
	escrowed, _ := tokens.AccountBalance(token.EscrowAccountID(ask.OrderID))
	if escrowed != 0 {
		t.Errorf("escrow must be empty after cancel, got %d", escrowed)
	}
}

func TestExpiredOrderRejectedLazily(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500)
	fund(t, tokens, db, "seller", 60)

	bid, _ := s.CreateOrder("buyer", CreateOrderRequest{Side: SideBid, Quantity: 100, LimitPrice: 5 * gridUnit})
	ask, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit})

	db.Model(&Order{}).Where("order_id = ?", ask.OrderID).Update("expires_at", testNow-1)

	_, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID})
	if !errors.Is(err, types.ErrOrderExpired) {
		t.Fatalf("expected ORDER_EXPIRED, got %v", err)
	}

	// Lazy expiry commits even though the match itself was rejected: the
	// order is retired and the escrow is back with the seller.
	ask, _ = s.GetOrder(ask.OrderID)
	if ask.Status != OrderExpired {
		t.Errorf("expected EXPIRED, got %s", ask.Status)
	}
	balance, _ := tokens.BalanceOf("seller")
	if balance != 60 {
		t.Errorf("expiry must return escrow, got %d", balance)
	}

	// A repeat match sees the persisted terminal state.
	if _, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID}); !errors.Is(err, types.ErrAlreadyTerminal) {
		t.Fatalf("expired order must stay terminal, got %v", err)
	}
}

func TestCreateOrderBeyondStorableRange(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500)

	_, err := s.CreateOrder("buyer", CreateOrderRequest{
		Side: SideBid, Quantity: types.MaxAmount + 1, LimitPrice: 1,
	})
	if !errors.Is(err, types.ErrAmountOverflow) {
		t.Fatalf("oversized quantity must be rejected, got %v", err)
	}
	_, err = s.CreateOrder("buyer", CreateOrderRequest{
		Side: SideBid, Quantity: 1, LimitPrice: types.MaxAmount + 1,
	})
	if !errors.Is(err, types.ErrAmountOverflow) {
		t.Fatalf("oversized price must be rejected, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "seller", 200)

	a, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 50, LimitPrice: 4 * gridUnit})
	b, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 50, LimitPrice: 4 * gridUnit})

	db.Model(&Order{}).Where("order_id = ?", a.OrderID).Update("expires_at", testNow-1)

	swept, err := s.SweepExpired()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("expected 1 swept, got %d", swept)
	}

	a, _ = s.GetOrder(a.OrderID)
	b, _ = s.GetOrder(b.OrderID)
	if a.Status != OrderExpired || b.Status != OrderActive {
		t.Errorf("unexpected statuses %s/%s", a.Status, b.Status)
	}
	balance, _ := tokens.BalanceOf("seller")
	if balance != 150 {
		t.Errorf("sweep must return only the swept escrow, got %d", balance)
	}
}

func TestMarketStateTracksTrades(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "buyer", 500)
	fund(t, tokens, db, "seller", 60)

	bid, _ := s.CreateOrder("buyer", CreateOrderRequest{Side: SideBid, Quantity: 60, LimitPrice: 5 * gridUnit})
	ask, _ := s.CreateOrder("seller", CreateOrderRequest{Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit})

	trade, err := s.Match(MatchRequest{BidID: bid.OrderID, AskID: ask.OrderID})
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	state, err := s.GetMarketState()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.TotalVolume != 60 || state.TradeCount != 1 {
		t.Errorf("unexpected state %+v", state)
	}
	if state.LastClearingPrice != trade.Price {
		t.Errorf("expected clearing price %d, got %d", trade.Price, state.LastClearingPrice)
	}
	// The first trade always refreshes the stale VWAP.
	if state.VWAP != trade.Price {
		t.Errorf("expected VWAP %d, got %d", trade.Price, state.VWAP)
	}
	if state.ActiveOrders != 0 {
		t.Errorf("both orders filled, expected 0 active, got %d", state.ActiveOrders)
	}
}

func TestOrderWithCertificate(t *testing.T) {
	s, tokens, db := newTestMarket(t)
	fund(t, tokens, db, "seller", 100)

	cert := &certificates.Certificate{
		CertificateID: "CRT_test",
		DeviceID:      "DEV_1",
		Owner:         "seller",
		Amount:        60,
		Status:        certificates.StatusPending,
		IssuedAt:      testNow,
		ExpiresAt:     testNow + 3600,
	}
	if err := db.Create(cert).Error; err != nil {
		t.Fatalf("seed certificate: %v", err)
	}

	_, err := s.CreateOrder("seller", CreateOrderRequest{
		Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit, CertificateID: "CRT_test",
	})
	if !errors.Is(err, types.ErrCertificateNotActive) {
		t.Fatalf("pending certificate must be refused, got %v", err)
	}

	db.Model(&certificates.Certificate{}).Where("certificate_id = ?", "CRT_test").
		Update("status", certificates.StatusActive)

	order, err := s.CreateOrder("seller", CreateOrderRequest{
		Side: SideAsk, Quantity: 60, LimitPrice: 4 * gridUnit, CertificateID: "CRT_test",
	})
	if err != nil {
		t.Fatalf("active certificate must be accepted: %v", err)
	}
	if order.CertificateID != "CRT_test" {
		t.Errorf("order must carry the certificate, got %q", order.CertificateID)
	}
}
