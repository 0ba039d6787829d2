package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Order statuses. An order is created open and becomes terminal at
// completed (fully filled) or cancelled; terminal states are immutable.
const (
	OrderStatusOpen      = "open"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Ledger entry types
const (
	EntryTypeLock        = "lock"
	EntryTypeRelease     = "release"
	EntryTypeTransferIn  = "transfer_in"
	EntryTypeTransferOut = "transfer_out"
	EntryTypeDeposit     = "deposit"
	EntryTypeWithdrawal  = "withdrawal"
)

// Wallet holds a user's balance for a single currency. Available and Locked
// change only through ledger operations; their sum is the wallet's total
// holdings.
type Wallet struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_wallets_user_currency" validate:"required,uuid"`
	Currency  string          `json:"currency" gorm:"uniqueIndex:idx_wallets_user_currency" validate:"required"`
	Available decimal.Decimal `json:"available" gorm:"type:decimal(32,16)"`
	Locked    decimal.Decimal `json:"locked" gorm:"type:decimal(32,16)"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Order represents a limit order. Amount is the remaining unfilled quantity;
// it only decreases while the order is open and reaches zero exactly when the
// order completes.
type Order struct {
	ID           uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID       uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Pair         string          `json:"pair" gorm:"index" validate:"required"`
	Side         string          `json:"side" validate:"required,oneof=buy sell"`
	Price        decimal.Decimal `json:"price" gorm:"type:decimal(32,16);index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(32,16)"`
	FilledAmount decimal.Decimal `json:"filled_amount" gorm:"type:decimal(32,16)"`
	Status       string          `json:"status" gorm:"index" validate:"required,oneof=open completed cancelled"`
	CreatedAt    time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Open reports whether the order can still be matched or cancelled.
func (o *Order) Open() bool { return o.Status == OrderStatusOpen }

// Trade is the immutable record of value transferred between a buy and a
// sell order. Price is always the resting (maker) order's price.
type Trade struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	Pair        string          `json:"pair" gorm:"index" validate:"required"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id" gorm:"type:uuid;index" validate:"required,uuid"`
	SellOrderID uuid.UUID       `json:"sell_order_id" gorm:"type:uuid;index" validate:"required,uuid"`
	BuyerID     uuid.UUID       `json:"buyer_id" gorm:"type:uuid;index" validate:"required,uuid"`
	SellerID    uuid.UUID       `json:"seller_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(32,16)"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(32,16)"`
	TakerSide   string          `json:"taker_side" validate:"required,oneof=buy sell"`
	ExecutedAt  time.Time       `json:"executed_at" gorm:"index"`
}

// LedgerEntry is an append-only record of a single balance movement. Every
// lock, release, transfer leg, deposit and withdrawal appends one entry so
// the ledger can be reconciled against wallet state.
type LedgerEntry struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Currency  string          `json:"currency" validate:"required"`
	Type      string          `json:"type" validate:"required,oneof=lock release transfer_in transfer_out deposit withdrawal"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(32,16)"`
	Reference string          `json:"reference"`
	CreatedAt time.Time       `json:"created_at"`
}
