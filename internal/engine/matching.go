package engine

import (
	"github.com/shopspring/decimal"

	"github.com/peerdax/exchange/pkg/models"
)

// fill is one planned execution between the taker and a resting maker order.
// Price is always the maker's price: makers set price, takers accept it.
type fill struct {
	Maker  *models.Order
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// planMatches walks the candidate counter-orders, already sorted in strict
// price-then-time priority, and computes the fills that would execute for the
// taker. Candidates that are no longer open (filled or cancelled by a
// concurrent transaction before our locks landed) are skipped, not treated as
// errors.
//
// The function is pure: it mutates nothing and touches no storage, so the
// algorithm is unit-testable without a database. The caller applies the
// resulting fills to orders and wallets in one transaction.
func planMatches(taker *models.Order, candidates []*models.Order) []fill {
	remaining := taker.Amount
	var fills []fill
	for _, maker := range candidates {
		if remaining.IsZero() {
			break
		}
		if !maker.Open() || maker.Amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		amount := decimal.Min(remaining, maker.Amount)
		fills = append(fills, fill{Maker: maker, Amount: amount, Price: maker.Price})
		remaining = remaining.Sub(amount)
	}
	return fills
}
