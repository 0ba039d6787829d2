package engine

import (
	"errors"
	"strings"

	"github.com/peerdax/exchange/internal/ledger"
	"github.com/peerdax/exchange/internal/order"
)

var (
	// ErrInvalidOrder means the submission failed validation (non-positive
	// amount or price, bad side). No state was changed.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrNotOwner means the caller tried to cancel an order it does not own.
	ErrNotOwner = errors.New("order not owned by caller")

	// ErrNotCancellable means the order is no longer open; it may have been
	// filled or cancelled by a concurrent transaction.
	ErrNotCancellable = errors.New("order not cancellable")
)

// Re-exported collaborator sentinels so callers match errors against a single
// package.
var (
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrInconsistentState = ledger.ErrInconsistentState
	ErrOrderNotFound     = order.ErrOrderNotFound
)

// IsRetryable reports whether the submission failed on lock contention
// (deadlock victim or lock-wait timeout) and is safe to retry. Consistency
// violations are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInconsistentState) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock timeout") ||
		strings.Contains(msg, "lock_timeout") ||
		strings.Contains(msg, "could not obtain lock")
}
