package payment

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"usdt-recharge-go/internal/database"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	addrX = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	addrY = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func setup(t *testing.T) (*Manager, *database.Service, *fakeClock) {
	t.Helper()
	ledger, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "payment.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
		BusyTimeout:  10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	ledger.SetClock(clock.Now)

	m := NewManager(ledger, models.OrderConfig{ExpireAfter: time.Hour})
	m.SetClock(clock.Now)

	for userId, addr := range map[string]string{"X": addrX, "Y": addrY} {
		_, _, err := ledger.AllocateWallet(context.Background(), userId, func(uint32) (string, error) { return addr, nil })
		require.NoError(t, err)
	}
	return m, ledger, clock
}

func TestNewOrderId_Format(t *testing.T) {
	id := NewOrderId(PrefixRecharge, time.Date(2025, 3, 1, 8, 4, 5, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^R20250301080405[0-9A-F]{6}$`), id)
}

func TestConfirmOrderByAddress_CreditsOnce(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	order, err := m.CreateRechargeOrder(ctx, "X", addrX)
	require.NoError(t, err)

	params := store.ConfirmDepositParams{
		DepositAddress: addrX,
		Amount:         decimal.RequireFromString("12.5"),
		TxHash:         "0xabc",
		FromAddress:    "0x1111111111111111111111111111111111111111",
	}
	confirmed, err := m.ConfirmOrderByAddress(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, order.OrderId, confirmed.OrderId)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)

	info, err := m.GetBalanceInfo(ctx, "X")
	require.NoError(t, err)
	assert.True(t, info.Balance.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, info.TotalRecharged.Equal(decimal.RequireFromString("12.5")))

	_, err = m.ConfirmOrderByAddress(ctx, params)
	assert.True(t, errors.Is(err, store.ErrDuplicateTransaction))

	balance, err := m.GetBalance(ctx, "X")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("12.5")))
}

func TestConfirmOrderByAddress_SynthesizesAutomaticOrder(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	order, err := m.ConfirmOrderByAddress(ctx, store.ConfirmDepositParams{
		DepositAddress: addrY,
		Amount:         decimal.NewFromInt(3),
		TxHash:         "0xdef",
	})
	require.NoError(t, err)
	assert.Equal(t, "Y", order.UserId)
	assert.Regexp(t, `^A\d{14}[0-9A-F]{6}$`, order.OrderId)
}

func TestConfirmOrderByAddress_UnknownAddress(t *testing.T) {
	m, ledger, _ := setup(t)
	ctx := context.Background()

	_, err := m.ConfirmOrderByAddress(ctx, store.ConfirmDepositParams{
		DepositAddress: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
		Amount:         decimal.NewFromInt(1),
		TxHash:         "0x999",
	})
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	orphans, err := ledger.ListOrphanedDeposits(ctx)
	require.NoError(t, err)
	assert.Len(t, orphans, 1)
}

func TestDeductBalance_DeniesOverdraft(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	_, err := m.ConfirmOrderByAddress(ctx, store.ConfirmDepositParams{
		DepositAddress: addrX,
		Amount:         decimal.RequireFromString("12.5"),
		TxHash:         "0xabc",
	})
	require.NoError(t, err)

	ok, err := m.DeductBalance(ctx, "X", decimal.NewFromInt(5), "tarot_detail")
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := m.GetBalance(ctx, "X")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("7.5")))

	ok, err = m.DeductBalance(ctx, "X", decimal.NewFromInt(10), "tarot_detail")
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err = m.GetBalance(ctx, "X")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("7.5")))

	spends, err := m.GetSpendHistory(ctx, "X", 10)
	require.NoError(t, err)
	assert.Len(t, spends, 1)
}

func TestExpireOldOrders_AfterTTL(t *testing.T) {
	m, _, clock := setup(t)
	ctx := context.Background()

	_, err := m.CreateRechargeOrder(ctx, "X", addrX)
	require.NoError(t, err)

	n, err := m.ExpireOldOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.t = clock.t.Add(time.Hour + time.Second)

	n, err = m.ExpireOldOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.ExpireOldOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	history, err := m.GetRechargeHistory(ctx, "X", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestManualTopUp(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	order, err := m.ManualTopUp(ctx, "X", decimal.NewFromInt(2), "")
	require.NoError(t, err)
	assert.Equal(t, "manual_topup", order.Reference)
	assert.Regexp(t, `^M\d{14}[0-9A-F]{6}$`, order.OrderId)

	balance, err := m.GetBalance(ctx, "X")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(2)))

	history, err := m.GetRechargeHistory(ctx, "X", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].TxHash)
}

func TestMarkOrderSwept(t *testing.T) {
	m, ledger, _ := setup(t)
	ctx := context.Background()

	order, err := m.ConfirmOrderByAddress(ctx, store.ConfirmDepositParams{
		DepositAddress: addrX,
		Amount:         decimal.NewFromInt(1),
		TxHash:         "0x1",
	})
	require.NoError(t, err)

	require.NoError(t, m.MarkOrderSwept(ctx, order.OrderId, "0xsweep"))

	stored, err := ledger.GetOrder(ctx, order.OrderId)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusSwept, stored.Status)
}
