package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"usdt-recharge-go/internal/database"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	quota   *Manager
	payment *payment.Manager
	clock   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ledger, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "quota.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
		BusyTimeout:  10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	h := &harness{clock: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	h.payment = payment.NewManager(ledger, models.OrderConfig{ExpireAfter: time.Hour})
	h.quota = NewManager(ledger, h.payment, DefaultFeatures(), time.UTC)
	h.quota.SetClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) fund(t *testing.T, userId, amount string) {
	t.Helper()
	_, err := h.payment.AddBalance(context.Background(), userId, decimal.RequireFromString(amount))
	require.NoError(t, err)
}

func TestCheckAndDeduct_FreeThenPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "alice", "1")

	first, err := h.quota.CheckAndDeduct(ctx, "tarot_reading", "alice")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.True(t, first.IsFree)
	assert.Equal(t, 0, first.RemainingFree)
	assert.True(t, first.Balance.Equal(decimal.NewFromInt(1)))

	second, err := h.quota.CheckAndDeduct(ctx, "tarot_reading", "alice")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.False(t, second.IsFree)
	assert.True(t, second.Cost.Equal(decimal.RequireFromString("0.3")))
	assert.True(t, second.Balance.Equal(decimal.RequireFromString("0.7")))

	summary, err := h.quota.GetDailySummary(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Features["tarot_reading"].Used)
	assert.Equal(t, 0, summary.Features["tarot_reading"].FreeRemaining)
}

func TestCheckAndDeduct_NoFreeTierDeniesWithoutBalance(t *testing.T) {
	h := newHarness(t)

	result, err := h.quota.CheckAndDeduct(context.Background(), "tarot_detail", "bob")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.True(t, result.Cost.Equal(decimal.RequireFromString("0.5")))
	assert.Contains(t, result.Message, "not recharged")
	assert.Contains(t, result.Message, "/recharge")
}

func TestCheckAndDeduct_ShortBalanceUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "carol", "0.2")

	result, err := h.quota.CheckAndDeduct(ctx, "tarot_detail", "carol")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Message, "0.2000")

	balance, err := h.payment.GetBalance(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("0.2")))
}

func TestCheckAndDeduct_AllowanceResetsNextDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		result, err := h.quota.CheckAndDeduct(ctx, "ai_chat", "dave")
		require.NoError(t, err)
		require.True(t, result.IsFree)
	}

	exhausted, err := h.quota.CheckAndDeduct(ctx, "ai_chat", "dave")
	require.NoError(t, err)
	assert.False(t, exhausted.Allowed)
	assert.Contains(t, exhausted.Message, "free")

	h.clock = h.clock.Add(24 * time.Hour)

	result, err := h.quota.CheckAndDeduct(ctx, "ai_chat", "dave")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.IsFree)
	assert.Equal(t, 9, result.RemainingFree)
}

func TestCheckAndDeduct_UnknownFeatureAllowed(t *testing.T) {
	h := newHarness(t)

	result, err := h.quota.CheckAndDeduct(context.Background(), "horoscope", "erin")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.IsFree)
	assert.Equal(t, -1, result.RemainingFree)
}

func TestCheckOnly_DoesNotCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "frank", "1")

	pre, err := h.quota.CheckOnly(ctx, "tarot_reading", "frank")
	require.NoError(t, err)
	assert.True(t, pre.IsFree)
	assert.Equal(t, 1, pre.RemainingFree)

	paid, err := h.quota.CheckOnly(ctx, "tarot_detail", "frank")
	require.NoError(t, err)
	assert.True(t, paid.Allowed)
	assert.False(t, paid.IsFree)

	balance, err := h.payment.GetBalance(ctx, "frank")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(1)))

	summary, err := h.quota.GetDailySummary(ctx, "frank")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Features["tarot_reading"].Used)
	assert.Equal(t, "2025-03-01", summary.Date)
}

func TestZeroPriceFeatureAlwaysAllowed(t *testing.T) {
	h := newHarness(t)
	h.quota = NewManager(h.quota.usage, h.payment, []Feature{{Name: "daily_card", Price: decimal.Zero}}, time.UTC)

	result, err := h.quota.CheckAndDeduct(context.Background(), "daily_card", "gina")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.IsFree)
}
