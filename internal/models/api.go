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

package models

import (
	"github.com/shopspring/decimal"
)

// QuotaResult is the outcome of a quota check
type QuotaResult struct {
	Allowed       bool            `json:"allowed"`
	IsFree        bool            `json:"is_free"`
	Cost          decimal.Decimal `json:"cost"`           // zero when free
	RemainingFree int             `json:"remaining_free"` // -1 means unlimited
	Balance       decimal.Decimal `json:"balance"`
	Message       string          `json:"message,omitempty"`
}

// DailySummary reports today's usage of every configured feature
type DailySummary struct {
	Date     string                  `json:"date"`
	Features map[string]FeatureUsage `json:"features"`
	Balance  decimal.Decimal         `json:"balance"`
}

// FeatureUsage is the per-feature part of a DailySummary
type FeatureUsage struct {
	Used          int             `json:"used"`
	FreeLimit     int             `json:"free_limit"`
	FreeRemaining int             `json:"free_remaining"`
	Price         decimal.Decimal `json:"price"`
}

// DepositIntent is returned to the bot when a user asks to recharge
type DepositIntent struct {
	Available      bool            `json:"available"`
	UserId         string          `json:"user_id,omitempty"`
	OrderId        string          `json:"order_id,omitempty"`
	DepositAddress string          `json:"deposit_address,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	Message        string          `json:"message,omitempty"`
}

// BalanceSummary combines the ledger balance with today's quota usage
type BalanceSummary struct {
	Balance Balance      `json:"balance"`
	Today   DailySummary `json:"today"`
}
