// Package order persists orders and exposes the queries the matching engine
// needs: resting counter-orders in strict price-then-time priority, under
// row-level locks.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerdax/exchange/internal/dbutil"
	"github.com/peerdax/exchange/pkg/models"
)

// ErrOrderNotFound means no order row exists for the given ID.
var ErrOrderNotFound = errors.New("order not found")

// Repository implements order persistence on gorm.
type Repository struct {
	logger *zap.Logger
}

// NewRepository creates an order repository.
func NewRepository(logger *zap.Logger) *Repository {
	return &Repository{logger: logger}
}

// Create inserts a new order inside the caller's transaction.
func (r *Repository) Create(tx *gorm.DB, o *models.Order) error {
	if err := tx.Create(o).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	r.logger.Debug("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("side", o.Side),
		zap.String("price", o.Price.String()),
		zap.String("amount", o.Amount.String()))
	return nil
}

// GetForUpdate loads an order under a row-level lock inside the caller's
// transaction.
func (r *Repository) GetForUpdate(tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := dbutil.ForUpdate(tx).Where("id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &o, nil
}

// Get loads an order without locking.
func (r *Repository) Get(ctx context.Context, db *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := db.WithContext(ctx).Where("id = ?", orderID).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	return &o, nil
}

// OpenCounterOrders selects the resting orders a taker can match against,
// locked FOR UPDATE, in strict price-then-time priority: best price first
// (lowest sell / highest buy), FIFO by creation time among equal prices.
// Orders belonging to the taker's side are never returned.
//
// takerSide is the incoming order's side; limit is its price. For a buy
// taker the result is open sells priced at or below limit; for a sell taker,
// open buys priced at or above limit.
func (r *Repository) OpenCounterOrders(tx *gorm.DB, pair, takerSide string, limit decimal.Decimal) ([]*models.Order, error) {
	query := dbutil.ForUpdate(tx).
		Where("pair = ? AND status = ?", pair, models.OrderStatusOpen)

	switch takerSide {
	case models.OrderSideBuy:
		query = query.
			Where("side = ? AND price <= ?", models.OrderSideSell, limit).
			Order("price ASC")
	case models.OrderSideSell:
		query = query.
			Where("side = ? AND price >= ?", models.OrderSideBuy, limit).
			Order("price DESC")
	default:
		return nil, fmt.Errorf("invalid order side: %q", takerSide)
	}

	var orders []*models.Order
	if err := query.Order("created_at ASC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find counter orders: %w", err)
	}
	return orders, nil
}

// ApplyFill reduces an order's remaining amount by fill inside the caller's
// transaction, transitioning the order to completed when the remainder
// reaches zero. The remaining amount is monotonically non-increasing while
// the order stays open.
func (r *Repository) ApplyFill(tx *gorm.DB, o *models.Order, fill decimal.Decimal) error {
	if !o.Open() {
		return fmt.Errorf("cannot fill %s order %s", o.Status, o.ID)
	}
	if fill.LessThanOrEqual(decimal.Zero) || fill.GreaterThan(o.Amount) {
		return fmt.Errorf("invalid fill %s for order %s with remaining %s", fill, o.ID, o.Amount)
	}
	o.Amount = o.Amount.Sub(fill)
	o.FilledAmount = o.FilledAmount.Add(fill)
	if o.Amount.IsZero() {
		o.Status = models.OrderStatusCompleted
	}
	o.UpdatedAt = time.Now()
	if err := tx.Save(o).Error; err != nil {
		return fmt.Errorf("failed to update order fill: %w", err)
	}
	return nil
}

// SetStatus transitions an order to a new status inside the caller's
// transaction.
func (r *Repository) SetStatus(tx *gorm.DB, o *models.Order, status string) error {
	o.Status = status
	o.UpdatedAt = time.Now()
	if err := tx.Save(o).Error; err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// CountOpenBySide returns the number of open orders per side for a pair.
func (r *Repository) CountOpenBySide(ctx context.Context, db *gorm.DB, pair string) (map[string]int64, error) {
	type row struct {
		Side  string
		Count int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&models.Order{}).
		Select("side, count(*) as count").
		Where("pair = ? AND status = ?", pair, models.OrderStatusOpen).
		Group("side").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count open orders: %w", err)
	}
	counts := map[string]int64{models.OrderSideBuy: 0, models.OrderSideSell: 0}
	for _, r := range rows {
		counts[r.Side] = r.Count
	}
	return counts, nil
}

// OpenOrdersByUser returns a user's open orders, oldest first.
func (r *Repository) OpenOrdersByUser(ctx context.Context, db *gorm.DB, userID uuid.UUID) ([]*models.Order, error) {
	var orders []*models.Order
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.OrderStatusOpen).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find open orders: %w", err)
	}
	return orders, nil
}
