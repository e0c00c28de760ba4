/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"usdt-recharge-go/internal/metrics"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Order id prefixes
const (
	PrefixRecharge  = "R" // user-requested order
	PrefixAutomatic = "A" // synthesized for a deposit with no pending order
	PrefixManual    = "M" // operator credit
)

// Manager tracks deposit orders and owns every balance mutation.
type Manager struct {
	store    store.LedgerStore
	orderTTL time.Duration
	now      func() time.Time
}

func NewManager(ledger store.LedgerStore, cfg models.OrderConfig) *Manager {
	return &Manager{
		store:    ledger,
		orderTTL: cfg.ExpireAfter,
		now:      time.Now,
	}
}

func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// NewOrderId returns prefix + yyyymmddHHMMSS + six upper-case hex characters.
func NewOrderId(prefix string, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:6]
	return prefix + at.Format("20060102150405") + suffix
}

// CreateRechargeOrder supersedes the user's pending orders with a new one.
func (m *Manager) CreateRechargeOrder(ctx context.Context, userId, depositAddress string) (*models.DepositOrder, error) {
	orderId := NewOrderId(PrefixRecharge, m.now())
	order, err := m.store.CreateRechargeOrder(ctx, userId, orderId, depositAddress)
	if err != nil {
		return nil, fmt.Errorf("unable to create recharge order: %w", err)
	}

	zap.L().Info("Recharge order created",
		zap.String("user_id", userId),
		zap.String("order_id", orderId),
		zap.String("deposit_address", order.DepositAddress))
	return order, nil
}

// ExpireOldOrders moves pending orders older than the order TTL to expired.
func (m *Manager) ExpireOldOrders(ctx context.Context) (int64, error) {
	if m.orderTTL <= 0 {
		return 0, nil
	}

	cutoff := m.now().Add(-m.orderTTL)
	n, err := m.store.ExpireOrdersCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.OrdersExpired.Add(float64(n))
		zap.L().Info("Expired stale recharge orders", zap.Int64("count", n))
	}
	return n, nil
}

// ConfirmOrderByAddress reconciles one observed transfer. See
// store.LedgerStore.ConfirmDeposit for the matching rules.
func (m *Manager) ConfirmOrderByAddress(ctx context.Context, params store.ConfirmDepositParams) (*models.DepositOrder, error) {
	order, err := m.store.ConfirmDeposit(ctx, NewOrderId(PrefixAutomatic, m.now()), params)
	switch {
	case err == nil:
		metrics.DepositsConfirmed.Inc()
		return order, nil
	case errors.Is(err, store.ErrDuplicateTransaction):
		metrics.DepositsDuplicate.Inc()
		zap.L().Debug("Transfer already credited", zap.String("tx_hash", params.TxHash))
	case errors.Is(err, store.ErrUserNotFound):
		metrics.DepositsOrphaned.Inc()
	}
	return nil, err
}

// AddBalance credits amount without an order and returns the new balance.
func (m *Manager) AddBalance(ctx context.Context, userId string, amount decimal.Decimal) (decimal.Decimal, error) {
	b, err := m.store.AddBalance(ctx, userId, amount)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Balance, nil
}

// ManualTopUp records an operator credit as a confirmed manual order.
func (m *Manager) ManualTopUp(ctx context.Context, userId string, amount decimal.Decimal, reference string) (*models.DepositOrder, error) {
	if reference == "" {
		reference = "manual_topup"
	}
	order, err := m.store.CreditManual(ctx, userId, NewOrderId(PrefixManual, m.now()), amount, reference)
	if err != nil {
		return nil, fmt.Errorf("unable to apply manual top-up: %w", err)
	}
	return order, nil
}

// DeductBalance debits a paid feature use. It returns false without error
// when the balance is short.
func (m *Manager) DeductBalance(ctx context.Context, userId string, amount decimal.Decimal, feature string) (bool, error) {
	_, err := m.store.DeductBalance(ctx, store.DeductParams{UserId: userId, Amount: amount, Feature: feature})
	if errors.Is(err, store.ErrInsufficientBalance) {
		zap.L().Info("Insufficient balance for deduction",
			zap.String("user_id", userId),
			zap.String("feature", feature),
			zap.String("amount", amount.String()))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) MarkOrderSwept(ctx context.Context, orderId, sweepTxHash string) error {
	return m.store.MarkOrderSwept(ctx, orderId, sweepTxHash)
}

func (m *Manager) GetBalance(ctx context.Context, userId string) (decimal.Decimal, error) {
	b, err := m.store.GetBalance(ctx, userId)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Balance, nil
}

func (m *Manager) GetBalanceInfo(ctx context.Context, userId string) (*models.Balance, error) {
	return m.store.GetBalance(ctx, userId)
}

func (m *Manager) GetRechargeHistory(ctx context.Context, userId string, limit int) ([]models.DepositOrder, error) {
	return m.store.GetRechargeHistory(ctx, userId, limit)
}

func (m *Manager) GetSpendHistory(ctx context.Context, userId string, limit int) ([]models.SpendRecord, error) {
	return m.store.GetSpendHistory(ctx, userId, limit)
}
