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

package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"usdt-recharge-go/internal/hdwallet"
	"usdt-recharge-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const unavailableMessage = "USDT recharge is not available right now. Please try again later."

// RequestDeposit returns the user's deposit address and opens a fresh
// pending order on it. A missing HD seed is an unavailable result, not an error.
func (s *LedgerService) RequestDeposit(ctx context.Context, userId string) (*models.DepositIntent, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	if !s.wallets.Configured() {
		zap.L().Warn("Deposit requested but HD wallet is not configured", zap.String("user_id", userId))
		return &models.DepositIntent{Available: false, UserId: userId, Message: unavailableMessage}, nil
	}

	w, err := s.wallets.GetOrCreateWallet(ctx, userId)
	if err != nil {
		if errors.Is(err, hdwallet.ErrNotConfigured) {
			return &models.DepositIntent{Available: false, UserId: userId, Message: unavailableMessage}, nil
		}
		zap.L().Error("Failed to allocate deposit address", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to allocate deposit address: %w", err)
	}

	order, err := s.payments.CreateRechargeOrder(ctx, userId, w.Address)
	if err != nil {
		zap.L().Error("Failed to create recharge order", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to create recharge order: %w", err)
	}

	balance, err := s.payments.GetBalance(ctx, userId)
	if err != nil {
		return nil, err
	}

	return &models.DepositIntent{
		Available:      true,
		UserId:         userId,
		OrderId:        order.OrderId,
		DepositAddress: w.Address,
		Balance:        balance,
		Message:        depositInstructions(w.Address, balance),
	}, nil
}

func depositInstructions(address string, balance decimal.Decimal) string {
	var b strings.Builder
	b.WriteString("USDT recharge\n")
	b.WriteString("━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(&b, "Current balance: %s USDT\n\n", balance.StringFixed(4))
	b.WriteString("Send USDT on BNB Smart Chain (BEP-20) to:\n\n")
	fmt.Fprintf(&b, "%s\n\n", address)
	b.WriteString("This address is yours and can be reused.\n")
	b.WriteString("Only send BEP-20 USDT. Other tokens or networks cannot be recovered.\n")
	b.WriteString("Your balance is credited automatically once the transfer is seen on chain.")
	return b.String()
}

// ManualTopUp credits a user on an operator's authority.
func (s *LedgerService) ManualTopUp(ctx context.Context, userId string, amount decimal.Decimal, reference string) (*models.DepositOrder, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	order, err := s.payments.ManualTopUp(ctx, userId, amount, reference)
	if err != nil {
		zap.L().Error("Manual top-up failed",
			zap.String("user_id", userId),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return nil, err
	}
	return order, nil
}

// GetRechargeHistory returns the user's most recent orders
func (s *LedgerService) GetRechargeHistory(ctx context.Context, userId string, limit int) ([]models.DepositOrder, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.payments.GetRechargeHistory(ctx, userId, limit)
}
