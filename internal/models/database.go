package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a DepositOrder
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusExpired   OrderStatus = "expired"
	OrderStatusSwept     OrderStatus = "swept"
)

// UserWallet is the immutable user ↔ HD index ↔ deposit address mapping
type UserWallet struct {
	UserId      string    `db:"user_id"`
	WalletIndex uint32    `db:"wallet_index"`
	Address     string    `db:"address"`
	CreatedAt   time.Time `db:"created_at"`
}

// DepositOrder represents one user's intent to deposit (recharge_orders)
type DepositOrder struct {
	Id             int64           `db:"id"`
	OrderId        string          `db:"order_id"`
	UserId         string          `db:"user_id"`
	DepositAddress string          `db:"deposit_address"`
	Amount         decimal.Decimal `db:"amount"`
	Status         OrderStatus     `db:"status"`
	TxHash         string          `db:"tx_hash"`
	SweepTxHash    string          `db:"sweep_tx_hash"`
	FromAddress    string          `db:"from_address"`
	Reference      string          `db:"reference"` // set on manual credits
	CreatedAt      time.Time       `db:"created_at"`
	ConfirmedAt    *time.Time      `db:"confirmed_at"`
	ExpiredAt      *time.Time      `db:"expired_at"`
}

// Balance is the current spendable state of a user (user_balances)
type Balance struct {
	UserId         string          `db:"user_id"`
	Balance        decimal.Decimal `db:"balance"`
	TotalRecharged decimal.Decimal `db:"total_recharged"`
	TotalSpent     decimal.Decimal `db:"total_spent"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// SpendRecord is an append-only debit audit entry
type SpendRecord struct {
	Id        int64           `db:"id"`
	UserId    string          `db:"user_id"`
	Feature   string          `db:"feature"`
	Amount    decimal.Decimal `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

// DailyUsage counts free-tier uses of a feature on one calendar date
type DailyUsage struct {
	UserId    string `db:"user_id"`
	UsageDate string `db:"usage_date"` // YYYY-MM-DD
	Feature   string `db:"feature"`
	Count     int    `db:"count"`
}

// OrphanedDeposit is a transfer to a hot address that resolved to no user
type OrphanedDeposit struct {
	Id          int64           `db:"id"`
	TxHash      string          `db:"tx_hash"`
	LogIndex    uint            `db:"log_index"`
	ToAddress   string          `db:"to_address"`
	FromAddress string          `db:"from_address"`
	Amount      decimal.Decimal `db:"amount"`
	Reason      string          `db:"reason"`
	DetectedAt  time.Time       `db:"detected_at"`
	Resolved    bool            `db:"resolved"`
}

// Orphan reasons
const (
	// OrphanNoOwner is a transfer into an address no user owns.
	OrphanNoOwner = "no_owner"
	// OrphanSharedTx is a further Transfer log in a transaction that
	// already credited another log. Only one order is credited per tx.
	OrphanSharedTx = "shared_tx"
)
