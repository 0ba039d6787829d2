package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerdax/exchange/pkg/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func mkOrder(side, price, amount string, age time.Duration) *models.Order {
	now := time.Now()
	return &models.Order{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Pair:      "BTC/USDT",
		Side:      side,
		Price:     dec(price),
		Amount:    dec(amount),
		Status:    models.OrderStatusOpen,
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	}
}

func TestPlanMatchesWalksPriceTimePriority(t *testing.T) {
	taker := mkOrder(models.OrderSideBuy, "100", "10", 0)
	// Candidates arrive pre-sorted: best price first, oldest first within a level.
	candidates := []*models.Order{
		mkOrder(models.OrderSideSell, "99", "3", 3*time.Minute),
		mkOrder(models.OrderSideSell, "99", "5", 2*time.Minute),
		mkOrder(models.OrderSideSell, "100", "4", time.Minute),
	}

	fills := planMatches(taker, candidates)
	require.Len(t, fills, 3)

	assert.Equal(t, candidates[0].ID, fills[0].Maker.ID)
	assert.True(t, fills[0].Amount.Equal(dec("3")))
	assert.True(t, fills[0].Price.Equal(dec("99")))

	assert.Equal(t, candidates[1].ID, fills[1].Maker.ID)
	assert.True(t, fills[1].Amount.Equal(dec("5")))

	// Only the unfilled remainder executes against the last level.
	assert.Equal(t, candidates[2].ID, fills[2].Maker.ID)
	assert.True(t, fills[2].Amount.Equal(dec("2")))
	assert.True(t, fills[2].Price.Equal(dec("100")))
}

func TestPlanMatchesUsesMakerPrice(t *testing.T) {
	taker := mkOrder(models.OrderSideBuy, "50000", "1", 0)
	maker := mkOrder(models.OrderSideSell, "49000", "1", time.Minute)

	fills := planMatches(taker, []*models.Order{maker})
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Price.Equal(dec("49000")), "trade must settle at the resting order's price")
	assert.True(t, fills[0].Amount.Equal(dec("1")))
}

func TestPlanMatchesSkipsNonOpenCandidates(t *testing.T) {
	taker := mkOrder(models.OrderSideBuy, "100", "2", 0)
	cancelled := mkOrder(models.OrderSideSell, "98", "2", 2*time.Minute)
	cancelled.Status = models.OrderStatusCancelled
	completed := mkOrder(models.OrderSideSell, "99", "2", 2*time.Minute)
	completed.Status = models.OrderStatusCompleted
	open := mkOrder(models.OrderSideSell, "100", "2", time.Minute)

	fills := planMatches(taker, []*models.Order{cancelled, completed, open})
	require.Len(t, fills, 1)
	assert.Equal(t, open.ID, fills[0].Maker.ID)
}

func TestPlanMatchesStopsWhenTakerFilled(t *testing.T) {
	taker := mkOrder(models.OrderSideSell, "100", "1", 0)
	candidates := []*models.Order{
		mkOrder(models.OrderSideBuy, "102", "1", 2*time.Minute),
		mkOrder(models.OrderSideBuy, "101", "5", time.Minute),
	}

	fills := planMatches(taker, candidates)
	require.Len(t, fills, 1)
	assert.Equal(t, candidates[0].ID, fills[0].Maker.ID)
}

func TestPlanMatchesNoCandidates(t *testing.T) {
	taker := mkOrder(models.OrderSideBuy, "100", "1", 0)
	assert.Empty(t, planMatches(taker, nil))
}

func TestPlanMatchesDoesNotMutateInputs(t *testing.T) {
	taker := mkOrder(models.OrderSideBuy, "100", "10", 0)
	maker := mkOrder(models.OrderSideSell, "99", "4", time.Minute)

	planMatches(taker, []*models.Order{maker})
	assert.True(t, taker.Amount.Equal(dec("10")))
	assert.True(t, maker.Amount.Equal(dec("4")))
}
