// Package engine implements order matching and settlement. A submission is
// one atomic unit of work: order creation, fund locking, the matching loop,
// wallet transfers and status changes all commit or roll back together.
//
// Lock acquisition is canonical across call sites to avoid deadlock: the
// caller's wallet rows are locked before any order row, candidate order rows
// are locked in price-then-time priority, and the wallet rows of a settling
// trade are locked in ascending user ID order.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerdax/exchange/internal/config"
	"github.com/peerdax/exchange/internal/dbutil"
	"github.com/peerdax/exchange/internal/events"
	"github.com/peerdax/exchange/internal/ledger"
	"github.com/peerdax/exchange/internal/order"
	"github.com/peerdax/exchange/internal/trades"
	"github.com/peerdax/exchange/pkg/metrics"
	"github.com/peerdax/exchange/pkg/models"
)

// Service is the matching engine facade consumed by the API layer.
type Service struct {
	logger   *zap.Logger
	db       *gorm.DB
	ledger   *ledger.Service
	orders   *order.Repository
	recorder *trades.Recorder
	emitter  *events.Emitter
	validate *validator.Validate

	pair        string
	base        string
	quote       string
	lockTimeout time.Duration
}

// NewService creates the engine for a single trading pair.
func NewService(
	logger *zap.Logger,
	db *gorm.DB,
	ledgerSvc *ledger.Service,
	orders *order.Repository,
	recorder *trades.Recorder,
	emitter *events.Emitter,
	pair string,
	lockTimeout time.Duration,
) (*Service, error) {
	base, quote, err := config.SplitPair(pair)
	if err != nil {
		return nil, err
	}
	return &Service{
		logger:      logger,
		db:          db,
		ledger:      ledgerSvc,
		orders:      orders,
		recorder:    recorder,
		emitter:     emitter,
		validate:    validator.New(),
		pair:        pair,
		base:        base,
		quote:       quote,
		lockTimeout: lockTimeout,
	}, nil
}

// SubmitRequest is a new order submission. The caller's identity is assumed
// authenticated upstream.
type SubmitRequest struct {
	UserID uuid.UUID       `json:"user_id" validate:"required"`
	Side   string          `json:"side" validate:"required,oneof=buy sell"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

// SubmitResult reports the submitted order's final state and the trades it
// executed on the way in.
type SubmitResult struct {
	Order  *models.Order   `json:"order"`
	Trades []*models.Trade `json:"trades"`
}

// TradeExecutedPayload is the event emitted after a trade commits.
type TradeExecutedPayload struct {
	TradeID     uuid.UUID `json:"trade_id"`
	Pair        string    `json:"pair"`
	BuyOrderID  uuid.UUID `json:"buy_order_id"`
	SellOrderID uuid.UUID `json:"sell_order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	SellerID    uuid.UUID `json:"seller_id"`
	Amount      string    `json:"amount"`
	Price       string    `json:"price"`
	TakerSide   string    `json:"taker_side"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// OrderCancelledPayload is the event emitted after a cancellation commits.
type OrderCancelledPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	UserID      uuid.UUID `json:"user_id"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Refund      string    `json:"refund"`
	Currency    string    `json:"currency"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// obligation returns the currency and amount an order must keep locked to
// back its remaining quantity: amount*price of quote currency for buys, the
// amount itself in base currency for sells.
func (s *Service) obligation(side string, amount, price decimal.Decimal) (string, decimal.Decimal) {
	if side == models.OrderSideBuy {
		return s.quote, amount.Mul(price)
	}
	return s.base, amount
}

func (s *Service) validateSubmit(req SubmitRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	return nil
}

// SubmitOrder validates the request, locks the backing funds, matches the
// order against the opposite side of the book and settles any resulting
// trades, all inside one transaction. The remaining amount, if any, stays on
// the book as an open order.
func (s *Service) SubmitOrder(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	start := time.Now()
	if err := s.validateSubmit(req); err != nil {
		return nil, err
	}

	now := time.Now()
	o := &models.Order{
		ID:           uuid.New(),
		UserID:       req.UserID,
		Pair:         s.pair,
		Side:         req.Side,
		Price:        req.Price,
		Amount:       req.Amount,
		FilledAmount: decimal.Zero,
		Status:       models.OrderStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := dbutil.SetLockTimeout(tx, s.lockTimeout); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	// Wallet row before any order row.
	lockCurrency, lockAmount := s.obligation(o.Side, o.Amount, o.Price)
	if err := s.ledger.Lock(tx, o.UserID, lockCurrency, lockAmount, o.ID.String()); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := s.orders.Create(tx, o); err != nil {
		tx.Rollback()
		return nil, err
	}

	candidates, err := s.orders.OpenCounterOrders(tx, s.pair, o.Side, o.Price)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	executed := make([]*models.Trade, 0, len(candidates))
	for _, f := range planMatches(o, candidates) {
		t, err := s.settle(tx, o, f)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		executed = append(executed, t)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.OrdersSubmitted.WithLabelValues(o.Side).Inc()
	metrics.TradesExecuted.Add(float64(len(executed)))
	metrics.SubmitLatency.Observe(time.Since(start).Seconds())

	for _, t := range executed {
		s.emitter.Emit(ctx, events.TypeTradeExecuted, TradeExecutedPayload{
			TradeID:     t.ID,
			Pair:        t.Pair,
			BuyOrderID:  t.BuyOrderID,
			SellOrderID: t.SellOrderID,
			BuyerID:     t.BuyerID,
			SellerID:    t.SellerID,
			Amount:      t.Amount.String(),
			Price:       t.Price.String(),
			TakerSide:   t.TakerSide,
			ExecutedAt:  t.ExecutedAt,
		})
	}

	s.logger.Info("order submitted",
		zap.String("order_id", o.ID.String()),
		zap.String("side", o.Side),
		zap.String("status", o.Status),
		zap.Int("trades", len(executed)))

	return &SubmitResult{Order: o, Trades: executed}, nil
}

// settle applies one fill: both wallet legs, the price-improvement refund,
// order amount reductions and the trade record. Any failure aborts the whole
// submission; partial trades are never applied.
func (s *Service) settle(tx *gorm.DB, taker *models.Order, f fill) (*models.Trade, error) {
	var buyOrder, sellOrder *models.Order
	if taker.Side == models.OrderSideBuy {
		buyOrder, sellOrder = taker, f.Maker
	} else {
		buyOrder, sellOrder = f.Maker, taker
	}

	tradeID := uuid.New()
	cost := f.Amount.Mul(f.Price)

	// Quote leg: buyer's locked funds pay the seller. The ledger reports
	// ErrInconsistentState if the locked balance does not cover the leg,
	// which would mean the lock taken at submit time was corrupted.
	if err := s.ledger.TransferLocked(tx, buyOrder.UserID, sellOrder.UserID, s.quote, cost, tradeID.String()); err != nil {
		return nil, err
	}

	// The buyer locked amount*limit but pays amount*maker price; release the
	// improvement so locked funds always equal the sum of open obligations.
	if buyOrder.Price.GreaterThan(f.Price) {
		improvement := f.Amount.Mul(buyOrder.Price.Sub(f.Price))
		if err := s.ledger.Release(tx, buyOrder.UserID, s.quote, improvement, tradeID.String()); err != nil {
			return nil, err
		}
	}

	// Base leg: seller's locked inventory goes to the buyer.
	if err := s.ledger.TransferLocked(tx, sellOrder.UserID, buyOrder.UserID, s.base, f.Amount, tradeID.String()); err != nil {
		return nil, err
	}

	if err := s.orders.ApplyFill(tx, taker, f.Amount); err != nil {
		return nil, err
	}
	if err := s.orders.ApplyFill(tx, f.Maker, f.Amount); err != nil {
		return nil, err
	}

	t := &models.Trade{
		ID:          tradeID,
		Pair:        s.pair,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyerID:     buyOrder.UserID,
		SellerID:    sellOrder.UserID,
		Amount:      f.Amount,
		Price:       f.Price,
		TakerSide:   taker.Side,
		ExecutedAt:  time.Now(),
	}
	if err := s.recorder.Record(tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CancelOrder cancels an open order owned by the caller, releasing the exact
// remaining locked obligation. The order row is re-checked under lock: a
// concurrent transaction may have matched it first, in which case the cancel
// fails with ErrNotCancellable and no stale refund is applied.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	// Cheap pre-checks without locks; authoritative state is re-read below.
	peek, err := s.orders.Get(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if peek.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", ErrNotOwner, orderID)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := dbutil.SetLockTimeout(tx, s.lockTimeout); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	// Wallet row before the order row, same order as submission. The currency
	// comes from the unlocked peek; side and price are immutable after create.
	peekCurrency, _ := s.obligation(peek.Side, peek.Amount, peek.Price)
	if err := s.ledger.Acquire(tx, userID, peekCurrency); err != nil {
		tx.Rollback()
		return nil, err
	}

	o, err := s.orders.GetForUpdate(tx, orderID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if !o.Open() {
		tx.Rollback()
		return nil, fmt.Errorf("%w: order %s is %s", ErrNotCancellable, orderID, o.Status)
	}

	refundCurrency, refundAmount := s.obligation(o.Side, o.Amount, o.Price)
	if err := s.ledger.Release(tx, o.UserID, refundCurrency, refundAmount, o.ID.String()); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := s.orders.SetStatus(tx, o, models.OrderStatusCancelled); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.OrdersCancelled.Inc()
	s.emitter.Emit(ctx, events.TypeOrderCancelled, OrderCancelledPayload{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Pair:        o.Pair,
		Side:        o.Side,
		Refund:      refundAmount.String(),
		Currency:    refundCurrency,
		CancelledAt: time.Now(),
	})

	s.logger.Info("order cancelled",
		zap.String("order_id", o.ID.String()),
		zap.String("refund", refundAmount.String()))

	return o, nil
}

// GetOrder returns an order by ID.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.orders.Get(ctx, s.db, orderID)
}

// GetOpenOrders returns the caller's open orders, oldest first.
func (s *Service) GetOpenOrders(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	return s.orders.OpenOrdersByUser(ctx, s.db, userID)
}

// GetWalletBalance returns a read-only balance snapshot.
func (s *Service) GetWalletBalance(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	return s.ledger.Balance(ctx, userID, currency)
}

// BookDepth returns the number of open orders per side on the engine's pair.
func (s *Service) BookDepth(ctx context.Context) (map[string]int64, error) {
	return s.orders.CountOpenBySide(ctx, s.db, s.pair)
}

// ListTrades returns trades the user participated in, newest first.
func (s *Service) ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Trade, int64, error) {
	return s.recorder.ListByUser(ctx, s.db, userID, limit, offset)
}
