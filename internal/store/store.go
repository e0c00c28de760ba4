package store

import (
	"context"
	"errors"
	"time"

	"usdt-recharge-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across the ledger backend and its callers.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUserNotFound           = errors.New("no user found for address")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInvalidAmount          = errors.New("amount must be positive")
)

// DeriveAddressFunc derives the deposit address for an HD index.
type DeriveAddressFunc func(index uint32) (string, error)

// ConfirmDepositParams carries one observed on-chain transfer into a deposit address.
type ConfirmDepositParams struct {
	DepositAddress string
	Amount         decimal.Decimal
	TxHash         string
	LogIndex       uint
	FromAddress    string
	// UserId is the caller's best-effort resolution of the address owner, used
	// only when no pending order exists. Empty means resolve from user_wallets.
	UserId string
}

// DeductParams describes a paid feature debit.
type DeductParams struct {
	UserId  string
	Amount  decimal.Decimal
	Feature string
}

// UsageParams identifies one (user, date, feature) usage counter.
type UsageParams struct {
	UserId  string
	Date    string
	Feature string
}

// LedgerStore defines the contract of the durable ledger. Every mutation is
// atomic with respect to concurrent callers in this and other processes.
type LedgerStore interface {
	// --- Wallets ---
	AllocateWallet(ctx context.Context, userId string, derive DeriveAddressFunc) (*models.UserWallet, bool, error)
	GetWalletByUser(ctx context.Context, userId string) (*models.UserWallet, error)
	GetWalletByAddress(ctx context.Context, address string) (*models.UserWallet, error)
	ListWallets(ctx context.Context) ([]models.UserWallet, error)
	// ListWalletsFrom returns wallets with wallet_index >= fromIndex.
	ListWalletsFrom(ctx context.Context, fromIndex uint32) ([]models.UserWallet, error)

	// --- Orders ---
	CreateRechargeOrder(ctx context.Context, userId, orderId, depositAddress string) (*models.DepositOrder, error)
	GetOrder(ctx context.Context, orderId string) (*models.DepositOrder, error)
	GetPendingOrderByAddress(ctx context.Context, depositAddress string) (*models.DepositOrder, error)
	ExpireOrdersCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ConfirmDeposit(ctx context.Context, orderId string, params ConfirmDepositParams) (*models.DepositOrder, error)
	CreditManual(ctx context.Context, userId, orderId string, amount decimal.Decimal, reference string) (*models.DepositOrder, error)
	MarkOrderSwept(ctx context.Context, orderId, sweepTxHash string) error
	ListUnsweptOrders(ctx context.Context, confirmedBefore time.Time) ([]models.DepositOrder, error)
	GetRechargeHistory(ctx context.Context, userId string, limit int) ([]models.DepositOrder, error)
	ListOrphanedDeposits(ctx context.Context) ([]models.OrphanedDeposit, error)

	// --- Balances ---
	GetBalance(ctx context.Context, userId string) (*models.Balance, error)
	ListBalances(ctx context.Context) ([]models.Balance, error)
	AddBalance(ctx context.Context, userId string, amount decimal.Decimal) (*models.Balance, error)
	DeductBalance(ctx context.Context, params DeductParams) (*models.Balance, error)
	GetSpendHistory(ctx context.Context, userId string, limit int) ([]models.SpendRecord, error)

	// --- Usage ---
	GetDailyUsage(ctx context.Context, params UsageParams) (int, error)
	ConsumeFreeUsage(ctx context.Context, params UsageParams, limit int) (int, bool, error)
	IncrementUsage(ctx context.Context, params UsageParams) (int, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}
