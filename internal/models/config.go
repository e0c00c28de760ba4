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
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Chain    ChainConfig
	Wallet   WalletConfig
	Sweep    SweepConfig
	Orders   OrderConfig
	Quota    QuotaConfig
	Notify   NotifyConfig
	Metrics  MetricsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// ChainConfig holds BSC RPC and polling settings
type ChainConfig struct {
	RpcEndpoints   []string
	ChainId        int64
	TokenContract  string
	TokenDecimals  int32
	PollInterval   time.Duration
	LookbackBlocks uint64
	QueryWindow    uint64
	RpcTimeout     time.Duration
	RpcRateLimit   float64 // requests per second, 0 disables
	MaxSeenHashes  int
}

// WalletConfig holds the HD derivation secret. The mnemonic is never persisted.
type WalletConfig struct {
	Mnemonic   string
	Passphrase string
}

// Enabled reports whether deposit addresses can be derived.
func (c WalletConfig) Enabled() bool {
	return c.Mnemonic != ""
}

// SweepConfig holds hot → cold sweep settings
type SweepConfig struct {
	ColdWalletAddress string
	GasLimit          uint64
	GasReserve        decimal.Decimal // native token (BNB), added on top of gasLimit*gasPrice
	QueueSize         int
	Workers           int
	RetrySchedule     string // cron spec, empty disables the stranded sweep job
	RetryGracePeriod  time.Duration
}

// OrderConfig holds deposit order lifecycle settings
type OrderConfig struct {
	ExpireAfter    time.Duration
	ExpirySchedule string // only used when the chain listener is disabled
}

// QuotaConfig holds free-tier and pricing settings
type QuotaConfig struct {
	FeaturesFile string
	Timezone     string
	// Per-feature overrides of the built-in table, keyed by feature name.
	// Ignored when FeaturesFile is set.
	PriceOverrides     map[string]decimal.Decimal
	FreeDailyOverrides map[string]int
}

// NotifyConfig holds the deposit notification sink settings
type NotifyConfig struct {
	TelegramBotToken    string
	TelegramApiEndpoint string // e.g. a Zapry compatible endpoint, empty uses Telegram
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	ListenAddress string
}
