package order

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/peerdax/exchange/pkg/models"
)

func setupRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Order{}))
	return NewRepository(zap.NewNop()), db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func insertOrder(t *testing.T, db *gorm.DB, side, price, amount, status string, age time.Duration) *models.Order {
	t.Helper()
	now := time.Now()
	o := &models.Order{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Pair:      "BTC/USDT",
		Side:      side,
		Price:     dec(price),
		Amount:    dec(amount),
		Status:    status,
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

func TestOpenCounterOrdersBuyTaker(t *testing.T) {
	repo, db := setupRepo(t)

	cheapOld := insertOrder(t, db, models.OrderSideSell, "99", "1", models.OrderStatusOpen, 3*time.Minute)
	cheapNew := insertOrder(t, db, models.OrderSideSell, "99", "1", models.OrderStatusOpen, time.Minute)
	atLimit := insertOrder(t, db, models.OrderSideSell, "100", "1", models.OrderStatusOpen, 2*time.Minute)
	insertOrder(t, db, models.OrderSideSell, "101", "1", models.OrderStatusOpen, 4*time.Minute) // above limit
	insertOrder(t, db, models.OrderSideSell, "98", "1", models.OrderStatusCancelled, 5*time.Minute)
	insertOrder(t, db, models.OrderSideBuy, "99", "1", models.OrderStatusOpen, 6*time.Minute) // same side

	got, err := repo.OpenCounterOrders(db, "BTC/USDT", models.OrderSideBuy, dec("100"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, cheapOld.ID, got[0].ID, "best price, oldest first")
	assert.Equal(t, cheapNew.ID, got[1].ID)
	assert.Equal(t, atLimit.ID, got[2].ID)
}

func TestOpenCounterOrdersSellTaker(t *testing.T) {
	repo, db := setupRepo(t)

	best := insertOrder(t, db, models.OrderSideBuy, "102", "1", models.OrderStatusOpen, time.Minute)
	atLimit := insertOrder(t, db, models.OrderSideBuy, "100", "1", models.OrderStatusOpen, 2*time.Minute)
	insertOrder(t, db, models.OrderSideBuy, "99", "1", models.OrderStatusOpen, 3*time.Minute) // below limit

	got, err := repo.OpenCounterOrders(db, "BTC/USDT", models.OrderSideSell, dec("100"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, best.ID, got[0].ID, "highest bid first")
	assert.Equal(t, atLimit.ID, got[1].ID)
}

func TestOpenCounterOrdersRejectsBadSide(t *testing.T) {
	repo, db := setupRepo(t)
	_, err := repo.OpenCounterOrders(db, "BTC/USDT", "hold", dec("100"))
	assert.Error(t, err)
}

func TestApplyFill(t *testing.T) {
	repo, db := setupRepo(t)
	o := insertOrder(t, db, models.OrderSideBuy, "100", "2", models.OrderStatusOpen, 0)

	require.NoError(t, repo.ApplyFill(db, o, dec("0.5")))
	assert.True(t, o.Amount.Equal(dec("1.5")))
	assert.True(t, o.FilledAmount.Equal(dec("0.5")))
	assert.Equal(t, models.OrderStatusOpen, o.Status)

	require.NoError(t, repo.ApplyFill(db, o, dec("1.5")))
	assert.True(t, o.Amount.IsZero())
	assert.Equal(t, models.OrderStatusCompleted, o.Status)

	err := repo.ApplyFill(db, o, dec("0.1"))
	assert.Error(t, err, "completed orders take no fills")
}

func TestApplyFillRejectsOversizedFill(t *testing.T) {
	repo, db := setupRepo(t)
	o := insertOrder(t, db, models.OrderSideSell, "100", "1", models.OrderStatusOpen, 0)
	assert.Error(t, repo.ApplyFill(db, o, dec("1.1")))
	assert.Error(t, repo.ApplyFill(db, o, decimal.Zero))
}

func TestGetNotFound(t *testing.T) {
	repo, db := setupRepo(t)
	_, err := repo.Get(context.Background(), db, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = repo.GetForUpdate(db, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCountOpenBySide(t *testing.T) {
	repo, db := setupRepo(t)
	insertOrder(t, db, models.OrderSideBuy, "100", "1", models.OrderStatusOpen, 0)
	insertOrder(t, db, models.OrderSideBuy, "99", "1", models.OrderStatusOpen, 0)
	insertOrder(t, db, models.OrderSideSell, "101", "1", models.OrderStatusOpen, 0)
	insertOrder(t, db, models.OrderSideSell, "102", "1", models.OrderStatusCancelled, 0)

	counts, err := repo.CountOpenBySide(context.Background(), db, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.OrderSideBuy])
	assert.Equal(t, int64(1), counts[models.OrderSideSell])
}
