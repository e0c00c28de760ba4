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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"usdt-recharge-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DefaultTokenContract = "0x55d398326f99059fF775485246999027B3197955" // BSC-USD (BEP-20 USDT)
	DefaultChainId       = 56
)

var DefaultRpcEndpoints = []string{
	"https://bsc-dataseed.binance.org",
	"https://bsc-dataseed1.defibit.io",
	"https://bsc-dataseed1.ninicoin.io",
	"https://bsc.publicnode.com",
}

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	busyTimeout, err := getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getEnvDuration("CHAIN_POLL_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	rpcTimeout, err := getEnvDuration("CHAIN_RPC_TIMEOUT", 8*time.Second)
	if err != nil {
		return nil, err
	}

	orderExpiry, err := getEnvDuration("RECHARGE_ORDER_EXPIRE", time.Hour)
	if err != nil {
		return nil, err
	}

	retryGrace, err := getEnvDuration("SWEEP_RETRY_GRACE", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	gasReserve, err := getEnvDecimal("SWEEP_GAS_RESERVE_BNB", decimal.RequireFromString("0.001"))
	if err != nil {
		return nil, err
	}

	rateLimit, err := getEnvFloat("CHAIN_RPC_RATE_LIMIT", 10)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal)
	for env, feature := range map[string]string{
		"PRICE_TAROT_READING": "tarot_reading",
		"PRICE_TAROT_DETAIL":  "tarot_detail",
		"PRICE_AI_CHAT":       "ai_chat",
	} {
		if os.Getenv(env) == "" {
			continue
		}
		price, err := getEnvDecimal(env, decimal.Zero)
		if err != nil {
			return nil, err
		}
		prices[feature] = price
	}

	freeDaily := make(map[string]int)
	for env, feature := range map[string]string{
		"FREE_TAROT_DAILY": "tarot_reading",
		"FREE_CHAT_DAILY":  "ai_chat",
	} {
		if os.Getenv(env) != "" {
			freeDaily[feature] = getEnvInt(env, 0)
		}
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "recharge.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			BusyTimeout:     busyTimeout,
		},
		Chain: models.ChainConfig{
			RpcEndpoints:   getEnvList("BSC_RPC_ENDPOINTS", DefaultRpcEndpoints),
			ChainId:        int64(getEnvInt("BSC_CHAIN_ID", DefaultChainId)),
			TokenContract:  getEnvString("USDT_CONTRACT", DefaultTokenContract),
			TokenDecimals:  int32(getEnvInt("USDT_DECIMALS", 18)),
			PollInterval:   pollInterval,
			LookbackBlocks: uint64(getEnvInt("CHAIN_LOOKBACK_BLOCKS", 200)),
			QueryWindow:    uint64(getEnvInt("CHAIN_QUERY_WINDOW", 5000)),
			RpcTimeout:     rpcTimeout,
			RpcRateLimit:   rateLimit,
			MaxSeenHashes:  getEnvInt("CHAIN_MAX_SEEN_HASHES", 10000),
		},
		Wallet: models.WalletConfig{
			Mnemonic:   strings.TrimSpace(os.Getenv("HD_MNEMONIC")),
			Passphrase: os.Getenv("HD_PASSPHRASE"),
		},
		Sweep: models.SweepConfig{
			ColdWalletAddress: getEnvString("BSC_WALLET_ADDRESS", ""),
			GasLimit:          uint64(getEnvInt("SWEEP_GAS_LIMIT", 60000)),
			GasReserve:        gasReserve,
			QueueSize:         getEnvInt("SWEEP_QUEUE_SIZE", 100),
			Workers:           getEnvInt("SWEEP_WORKERS", 2),
			RetrySchedule:     getEnvString("SWEEP_RETRY_SCHEDULE", "@every 15m"),
			RetryGracePeriod:  retryGrace,
		},
		Orders: models.OrderConfig{
			ExpireAfter:    orderExpiry,
			ExpirySchedule: getEnvString("ORDER_EXPIRY_SCHEDULE", "@every 5m"),
		},
		Quota: models.QuotaConfig{
			FeaturesFile:       getEnvString("FEATURES_FILE", ""),
			Timezone:           getEnvString("QUOTA_TIMEZONE", "Local"),
			PriceOverrides:     prices,
			FreeDailyOverrides: freeDaily,
		},
		Notify: models.NotifyConfig{
			TelegramBotToken:    getEnvString("TELEGRAM_BOT_TOKEN", ""),
			TelegramApiEndpoint: getEnvString("TELEGRAM_API_ENDPOINT", ""),
		},
		Metrics: models.MetricsConfig{
			ListenAddress: getEnvString("METRICS_ADDR", ""),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts a Go duration ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second, nil
		}
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %q (%w)", key, value, err)
		}
		return f, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("%s cannot be negative: %q", key, value)
		}
		return d, nil
	}
	return defaultValue, nil
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
