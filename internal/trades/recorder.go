// Package trades keeps the append-only log of executed trades, used for
// audit, reconciliation and event emission.
package trades

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerdax/exchange/pkg/models"
)

// Recorder appends trade records. Rows are immutable once created; nothing in
// the engine updates or deletes them.
type Recorder struct {
	logger *zap.Logger
}

// NewRecorder creates a trade recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Record appends a trade inside the caller's transaction.
func (r *Recorder) Record(tx *gorm.DB, t *models.Trade) error {
	if err := tx.Create(t).Error; err != nil {
		return fmt.Errorf("failed to record trade: %w", err)
	}
	r.logger.Debug("trade recorded",
		zap.String("trade_id", t.ID.String()),
		zap.String("price", t.Price.String()),
		zap.String("amount", t.Amount.String()))
	return nil
}

// ListByUser returns trades where the user was buyer or seller, newest first.
func (r *Recorder) ListByUser(ctx context.Context, db *gorm.DB, userID uuid.UUID, limit, offset int) ([]*models.Trade, int64, error) {
	query := db.WithContext(ctx).Model(&models.Trade{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	var result []*models.Trade
	if err := query.Order("executed_at DESC").Limit(limit).Offset(offset).Find(&result).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find trades: %w", err)
	}
	return result, count, nil
}

// ListByOrder returns the trades an order participated in, oldest first.
func (r *Recorder) ListByOrder(ctx context.Context, db *gorm.DB, orderID uuid.UUID) ([]*models.Trade, error) {
	var result []*models.Trade
	err := db.WithContext(ctx).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("executed_at ASC").
		Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find trades: %w", err)
	}
	return result, nil
}
