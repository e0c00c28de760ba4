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

	"usdt-recharge-go/internal/payment"
	"usdt-recharge-go/internal/quota"
	"usdt-recharge-go/internal/store"
	"usdt-recharge-go/internal/wallet"
)

// LedgerService is the facade the chat bot calls
type LedgerService struct {
	db       store.LedgerStore
	wallets  *wallet.Manager
	payments *payment.Manager
	quota    *quota.Manager
}

func NewLedgerService(db store.LedgerStore, wallets *wallet.Manager, payments *payment.Manager, quota *quota.Manager) *LedgerService {
	return &LedgerService{
		db:       db,
		wallets:  wallets,
		payments: payments,
		quota:    quota,
	}
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
