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
	"fmt"

	"usdt-recharge-go/internal/models"

	"go.uber.org/zap"
)

// BalanceSummary returns the ledger balance with today's feature usage
func (s *LedgerService) BalanceSummary(ctx context.Context, userId string) (*models.BalanceSummary, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	balance, err := s.payments.GetBalanceInfo(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balance", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balance: %w", err)
	}

	today, err := s.quota.GetDailySummary(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get daily usage", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve usage: %w", err)
	}

	return &models.BalanceSummary{Balance: *balance, Today: *today}, nil
}

// UseFeature charges one use of feature. Denials come back in the result.
func (s *LedgerService) UseFeature(ctx context.Context, userId, feature string) (*models.QuotaResult, error) {
	if userId == "" || feature == "" {
		return nil, fmt.Errorf("user_id and feature are required")
	}

	result, err := s.quota.CheckAndDeduct(ctx, feature, userId)
	if err != nil {
		zap.L().Error("Quota check failed",
			zap.String("user_id", userId),
			zap.String("feature", feature),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// CheckFeature reports whether a use would be allowed without charging
func (s *LedgerService) CheckFeature(ctx context.Context, userId, feature string) (*models.QuotaResult, error) {
	if userId == "" || feature == "" {
		return nil, fmt.Errorf("user_id and feature are required")
	}
	return s.quota.CheckOnly(ctx, feature, userId)
}

// GetSpendHistory returns the user's most recent debits
func (s *LedgerService) GetSpendHistory(ctx context.Context, userId string, limit int) ([]models.SpendRecord, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.payments.GetSpendHistory(ctx, userId, limit)
}
