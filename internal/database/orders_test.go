package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"github.com/shopspring/decimal"
)

func allocate(t *testing.T, service *Service, userId string) *models.UserWallet {
	t.Helper()
	wallet, _, err := service.AllocateWallet(context.Background(), userId, testDerive)
	if err != nil {
		t.Fatalf("AllocateWallet failed: %v", err)
	}
	return wallet
}

func TestCreateRechargeOrder_SupersedesPending(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	if _, err := service.CreateRechargeOrder(ctx, "alice", "R1", wallet.Address); err != nil {
		t.Fatalf("CreateRechargeOrder failed: %v", err)
	}
	if _, err := service.CreateRechargeOrder(ctx, "alice", "R2", wallet.Address); err != nil {
		t.Fatalf("CreateRechargeOrder failed: %v", err)
	}

	first, err := service.GetOrder(ctx, "R1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if first.Status != models.OrderStatusExpired || first.ExpiredAt == nil {
		t.Errorf("Expected R1 expired, got %s", first.Status)
	}

	pending, err := service.GetPendingOrderByAddress(ctx, wallet.Address)
	if err != nil {
		t.Fatalf("GetPendingOrderByAddress failed: %v", err)
	}
	if pending == nil || pending.OrderId != "R2" {
		t.Errorf("Expected R2 pending, got %+v", pending)
	}
	if pending.DepositAddress != strings.ToLower(wallet.Address) {
		t.Errorf("Expected lower-cased deposit address, got %s", pending.DepositAddress)
	}
}

func TestConfirmDeposit_ConfirmsPendingOrder(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	if _, err := service.CreateRechargeOrder(ctx, "alice", "R1", wallet.Address); err != nil {
		t.Fatalf("CreateRechargeOrder failed: %v", err)
	}

	order, err := service.ConfirmDeposit(ctx, "unused", store.ConfirmDepositParams{
		DepositAddress: wallet.Address,
		Amount:         decimal.RequireFromString("10.5"),
		TxHash:         "0xabc",
		FromAddress:    "0xSENDER",
	})
	if err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if order.OrderId != "R1" || order.Status != models.OrderStatusConfirmed {
		t.Errorf("Expected R1 confirmed, got %+v", order)
	}

	stored, err := service.GetOrder(ctx, "R1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if stored.TxHash != "0xabc" || !stored.Amount.Equal(decimal.RequireFromString("10.5")) || stored.ConfirmedAt == nil {
		t.Errorf("Unexpected stored order %+v", stored)
	}
	if stored.FromAddress != "0xsender" {
		t.Errorf("Expected lower-cased sender, got %s", stored.FromAddress)
	}

	balance, err := service.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("Expected balance 10.5, got %s", balance.Balance)
	}
}

func TestConfirmDeposit_WithoutPendingOrderSynthesizes(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	order, err := service.ConfirmDeposit(ctx, "A2", store.ConfirmDepositParams{
		DepositAddress: strings.ToLower(wallet.Address),
		Amount:         decimal.NewFromInt(3),
		TxHash:         "0x123",
	})
	if err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if order.OrderId != "A2" || order.UserId != "alice" {
		t.Errorf("Expected synthesized order A2 for alice, got %+v", order)
	}

	history, err := service.GetRechargeHistory(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetRechargeHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].OrderId != "A2" {
		t.Errorf("Expected history [A2], got %+v", history)
	}
}

func TestConfirmDeposit_DuplicateTxHashCreditsOnce(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	params := store.ConfirmDepositParams{
		DepositAddress: wallet.Address,
		Amount:         decimal.NewFromInt(5),
		TxHash:         "0xdup",
	}
	if _, err := service.ConfirmDeposit(ctx, "A1", params); err != nil {
		t.Fatalf("First ConfirmDeposit failed: %v", err)
	}

	_, err := service.ConfirmDeposit(ctx, "A2", params)
	if !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
	}

	balance, err := service.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("Expected balance 5, got %s", balance.Balance)
	}
}

func TestConfirmDeposit_ConcurrentSameTxHash(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	if _, err := service.CreateRechargeOrder(ctx, "alice", "R1", wallet.Address); err != nil {
		t.Fatalf("CreateRechargeOrder failed: %v", err)
	}

	const workers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := service.ConfirmDeposit(ctx, fmt.Sprintf("A%d", i), store.ConfirmDepositParams{
				DepositAddress: wallet.Address,
				Amount:         decimal.NewFromInt(7),
				TxHash:         "0xrace",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrDuplicateTransaction) {
				t.Errorf("Unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("Expected exactly one confirmation, got %d", succeeded)
	}
	balance, err := service.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(7)) {
		t.Errorf("Expected balance 7, got %s", balance.Balance)
	}
}

func TestConfirmDeposit_UnknownAddressRecordedAsOrphan(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()

	_, err := service.ConfirmDeposit(ctx, "A1", store.ConfirmDepositParams{
		DepositAddress: "0x00000000000000000000000000000000000000ff",
		Amount:         decimal.NewFromInt(2),
		TxHash:         "0xorphan",
	})
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("Expected ErrUserNotFound, got %v", err)
	}

	orphans, err := service.ListOrphanedDeposits(ctx)
	if err != nil {
		t.Fatalf("ListOrphanedDeposits failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].TxHash != "0xorphan" || orphans[0].Resolved || orphans[0].Reason != models.OrphanNoOwner {
		t.Errorf("Expected one unresolved orphan, got %+v", orphans)
	}

	balances, err := service.ListBalances(ctx)
	if err != nil {
		t.Fatalf("ListBalances failed: %v", err)
	}
	if len(balances) != 0 {
		t.Errorf("Expected no balances, got %+v", balances)
	}
}

func TestConfirmDeposit_RejectsNonPositiveAmount(t *testing.T) {
	service := setupTestDb(t)

	_, err := service.ConfirmDeposit(context.Background(), "A1", store.ConfirmDepositParams{
		DepositAddress: "0x01",
		Amount:         decimal.Zero,
		TxHash:         "0x1",
	})
	if !errors.Is(err, store.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestExpireOrdersCreatedBefore(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.SetClock(func() time.Time { return created })
	if _, err := service.CreateRechargeOrder(ctx, "alice", "R1", wallet.Address); err != nil {
		t.Fatalf("CreateRechargeOrder failed: %v", err)
	}

	n, err := service.ExpireOrdersCreatedBefore(ctx, created)
	if err != nil {
		t.Fatalf("ExpireOrdersCreatedBefore failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing expired at the creation instant, got %d", n)
	}

	n, err = service.ExpireOrdersCreatedBefore(ctx, created.Add(time.Second))
	if err != nil {
		t.Fatalf("ExpireOrdersCreatedBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired order, got %d", n)
	}

	pending, err := service.GetPendingOrderByAddress(ctx, wallet.Address)
	if err != nil {
		t.Fatalf("GetPendingOrderByAddress failed: %v", err)
	}
	if pending != nil {
		t.Errorf("Expected no pending order, got %+v", pending)
	}
}

func TestMarkOrderSwept_OnlyFromConfirmed(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	if _, err := service.CreateRechargeOrder(ctx, "alice", "R1", wallet.Address); err != nil {
		t.Fatalf("CreateRechargeOrder failed: %v", err)
	}
	if err := service.MarkOrderSwept(ctx, "R1", "0xsweep"); !errors.Is(err, store.ErrOrderNotFound) {
		t.Fatalf("Expected pending order to refuse sweep, got %v", err)
	}

	if _, err := service.ConfirmDeposit(ctx, "", store.ConfirmDepositParams{
		DepositAddress: wallet.Address,
		Amount:         decimal.NewFromInt(1),
		TxHash:         "0xin",
	}); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if err := service.MarkOrderSwept(ctx, "R1", "0xsweep"); err != nil {
		t.Fatalf("MarkOrderSwept failed: %v", err)
	}

	order, err := service.GetOrder(ctx, "R1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.Status != models.OrderStatusSwept || order.SweepTxHash != "0xsweep" {
		t.Errorf("Expected swept order, got %+v", order)
	}

	if err := service.MarkOrderSwept(ctx, "R1", "0xagain"); !errors.Is(err, store.ErrOrderNotFound) {
		t.Errorf("Expected second sweep to be refused, got %v", err)
	}
}

func TestListUnsweptOrders_ExcludesManualCredits(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	confirmedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.SetClock(func() time.Time { return confirmedAt })

	if _, err := service.ConfirmDeposit(ctx, "A1", store.ConfirmDepositParams{
		DepositAddress: wallet.Address,
		Amount:         decimal.NewFromInt(4),
		TxHash:         "0xchain",
	}); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if _, err := service.CreditManual(ctx, "alice", "M1", decimal.NewFromInt(2), "admin"); err != nil {
		t.Fatalf("CreditManual failed: %v", err)
	}

	orders, err := service.ListUnsweptOrders(ctx, confirmedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListUnsweptOrders failed: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderId != "A1" {
		t.Errorf("Expected only A1 unswept, got %+v", orders)
	}

	orders, err = service.ListUnsweptOrders(ctx, confirmedAt)
	if err != nil {
		t.Fatalf("ListUnsweptOrders failed: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("Expected grace period to hide A1, got %+v", orders)
	}

	balance, err := service.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Expected balance 6, got %s", balance.Balance)
	}
}

func TestConfirmDeposit_OrderIdCollisionIsNotDuplicate(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	wallet := allocate(t, service, "alice")

	if _, err := service.CreditManual(ctx, "alice", "A1", decimal.NewFromInt(1), "seed"); err != nil {
		t.Fatalf("CreditManual failed: %v", err)
	}

	// No pending order, so the deposit is inserted under the colliding id.
	_, err := service.ConfirmDeposit(ctx, "A1", store.ConfirmDepositParams{
		DepositAddress: wallet.Address,
		Amount:         decimal.NewFromInt(5),
		TxHash:         "0xcollide",
	})
	if err == nil {
		t.Fatal("Expected an error for an order id collision")
	}
	if errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("Order id collision must not be reported as a duplicate tx: %v", err)
	}

	// The deposit was not credited, so a retry under a fresh id succeeds.
	order, err := service.ConfirmDeposit(ctx, "A2", store.ConfirmDepositParams{
		DepositAddress: wallet.Address,
		Amount:         decimal.NewFromInt(5),
		TxHash:         "0xcollide",
	})
	if err != nil {
		t.Fatalf("ConfirmDeposit retry failed: %v", err)
	}
	if order.OrderId != "A2" {
		t.Errorf("Expected order A2, got %s", order.OrderId)
	}

	balance, err := service.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Balance.Equal(decimal.NewFromInt(6)) {
		t.Errorf("Expected balance 6, got %s", balance.Balance)
	}
}

func TestConfirmDeposit_SharedTxLogRecordedAsOrphan(t *testing.T) {
	service := setupTestDb(t)
	ctx := context.Background()
	alice := allocate(t, service, "alice")
	bob := allocate(t, service, "bob")

	if _, err := service.ConfirmDeposit(ctx, "A1", store.ConfirmDepositParams{
		DepositAddress: alice.Address,
		Amount:         decimal.NewFromInt(3),
		TxHash:         "0xbatch",
		LogIndex:       4,
	}); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}

	tests := []struct {
		name     string
		address  string
		logIndex uint
		orphans  int
	}{
		{"same log again", alice.Address, 4, 0},
		{"second log in tx", bob.Address, 5, 1},
		{"second log rescanned", bob.Address, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ConfirmDeposit(ctx, "A2", store.ConfirmDepositParams{
				DepositAddress: tt.address,
				Amount:         decimal.NewFromInt(7),
				TxHash:         "0xbatch",
				LogIndex:       tt.logIndex,
			})
			if !errors.Is(err, store.ErrDuplicateTransaction) {
				t.Fatalf("Expected ErrDuplicateTransaction, got %v", err)
			}

			orphans, err := service.ListOrphanedDeposits(ctx)
			if err != nil {
				t.Fatalf("ListOrphanedDeposits failed: %v", err)
			}
			if len(orphans) != tt.orphans {
				t.Fatalf("Expected %d orphans, got %+v", tt.orphans, orphans)
			}
			if tt.orphans == 1 {
				o := orphans[0]
				if o.Reason != models.OrphanSharedTx || o.LogIndex != 5 || o.ToAddress != strings.ToLower(bob.Address) {
					t.Errorf("Unexpected orphan %+v", o)
				}
			}
		})
	}

	balance, err := service.GetBalance(ctx, "bob")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !balance.Balance.IsZero() {
		t.Errorf("Expected bob uncredited, got %s", balance.Balance)
	}
}
