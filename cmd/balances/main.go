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
package main

import (
	"context"
	"flag"
	"fmt"

	"usdt-recharge-go/internal/common"
	"usdt-recharge-go/internal/config"
	"usdt-recharge-go/internal/database"
	"usdt-recharge-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers     int
	totalBalance   decimal.Decimal
	totalRecharged decimal.Decimal
	totalSpent     decimal.Decimal
}

func printBalance(balance models.Balance, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-24s: %19s (recharged: %s, spent: %s, updated: %s)\n",
		symbol,
		balance.UserId,
		common.FormatUSDT(balance.Balance),
		balance.TotalRecharged.StringFixed(4),
		balance.TotalSpent.StringFixed(4),
		common.FormatTime(balance.UpdatedAt))
}

func printSpends(spends []models.SpendRecord) {
	for i, spend := range spends {
		detail := common.BoxDetailPrefix(i == len(spends)-1)
		fmt.Printf("%s   %s  %-16s -%s\n",
			detail,
			common.FormatTime(spend.CreatedAt),
			spend.Feature,
			spend.Amount.String())
	}
}

func printOrphans(orphans []models.OrphanedDeposit) {
	common.PrintHeader("ORPHANED DEPOSITS", common.DefaultWidth)
	if len(orphans) == 0 {
		fmt.Println("none")
		return
	}
	for i, o := range orphans {
		symbol := common.BoxPrefix(i == len(orphans)-1)
		fmt.Printf("%s %s → %s (from %s, %s)\n",
			symbol,
			common.FormatUSDT(o.Amount),
			o.ToAddress,
			common.ShortHash(o.FromAddress),
			common.FormatTime(o.DetectedAt))
		fmt.Printf("%s   tx: %s (log %d, %s)\n", common.BoxDetailPrefix(i == len(orphans)-1), o.TxHash, o.LogIndex, o.Reason)
	}
}

func loadBalances(ctx context.Context, dbService *database.Service, userFilter string) ([]models.Balance, error) {
	if userFilter == "" {
		return dbService.ListBalances(ctx)
	}
	b, err := dbService.GetBalance(ctx, userFilter)
	if err != nil {
		return nil, err
	}
	return []models.Balance{*b}, nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	spendsFlag := flag.Int("spends", 0, "Recent debits to show per user")
	orphansFlag := flag.Bool("orphans", false, "Also list deposits that matched no user")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only, so no chain access is needed
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	balances, err := loadBalances(ctx, dbService, *userFlag)
	if err != nil {
		logger.Fatal("Failed to load balances", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.WideWidth)

	stats := balanceStats{}
	for i, balance := range balances {
		stats.totalUsers++
		stats.totalBalance = stats.totalBalance.Add(balance.Balance)
		stats.totalRecharged = stats.totalRecharged.Add(balance.TotalRecharged)
		stats.totalSpent = stats.totalSpent.Add(balance.TotalSpent)

		printBalance(balance, i == len(balances)-1)

		if *spendsFlag > 0 {
			spends, err := dbService.GetSpendHistory(ctx, balance.UserId, *spendsFlag)
			if err != nil {
				logger.Error("Failed to get spend history", zap.String("user_id", balance.UserId), zap.Error(err))
				continue
			}
			printSpends(spends)
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d users, %s USDT held (%s recharged, %s spent)",
		stats.totalUsers,
		stats.totalBalance.StringFixed(4),
		stats.totalRecharged.StringFixed(4),
		stats.totalSpent.StringFixed(4))
	common.PrintFooter(summary, common.WideWidth)

	if *orphansFlag {
		orphans, err := dbService.ListOrphanedDeposits(ctx)
		if err != nil {
			logger.Fatal("Failed to list orphaned deposits", zap.Error(err))
		}
		printOrphans(orphans)
		fmt.Println()
	}

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.String("total_balance", stats.totalBalance.String()))
}
