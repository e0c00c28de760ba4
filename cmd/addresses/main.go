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
	"usdt-recharge-go/internal/hdwallet"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"go.uber.org/zap"
)

type reportStats struct {
	totalUsers     int
	pendingOrders  int
	unsweptOrders  int
	confirmedTotal int
}

func printUserHeader(user common.UserInfo) {
	fmt.Printf("\n┌─ User: %s\n", user.Id)
	fmt.Printf("│  Address: %s\n", user.Address)
	fmt.Printf("│  Path: %s\n", hdwallet.Path(user.WalletIndex))
	common.PrintBoxSeparator(98)
}

func printOrder(order models.DepositOrder, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-22s %-10s %19s  %s\n",
		symbol,
		order.OrderId,
		order.Status,
		common.FormatUSDT(order.Amount),
		common.FormatTime(order.CreatedAt))

	detail := common.BoxDetailPrefix(isLast)
	if order.TxHash != "" {
		fmt.Printf("%s   Deposit tx: %s\n", detail, order.TxHash)
	}
	if order.SweepTxHash != "" {
		fmt.Printf("%s   Sweep tx:   %s\n", detail, order.SweepTxHash)
	}
	if order.Reference != "" {
		fmt.Printf("%s   Reference:  %s\n", detail, order.Reference)
	}
}

func processUser(ctx context.Context, user common.UserInfo, dbService store.LedgerStore, limit int, stats *reportStats) error {
	orders, err := dbService.GetRechargeHistory(ctx, user.Id, limit)
	if err != nil {
		return fmt.Errorf("failed to get orders: %w", err)
	}

	printUserHeader(user)
	if len(orders) == 0 {
		fmt.Println("└  no orders")
		return nil
	}

	for i, order := range orders {
		printOrder(order, i == len(orders)-1)
		switch order.Status {
		case models.OrderStatusPending:
			stats.pendingOrders++
		case models.OrderStatusConfirmed:
			stats.confirmedTotal++
			if order.TxHash != "" {
				stats.unsweptOrders++
			}
		case models.OrderStatusSwept:
			stats.confirmedTotal++
		}
	}
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	limitFlag := flag.Int("orders", 5, "Most recent orders to show per user")
	flag.Parse()

	logger.Info("Starting address query")

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

	users, err := common.InitializeUsers(ctx, dbService, *userFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("DEPOSIT ADDRESSES REPORT", common.WideWidth)

	stats := reportStats{}
	for _, user := range users {
		stats.totalUsers++
		if err := processUser(ctx, user, dbService, *limitFlag, &stats); err != nil {
			logger.Error("Failed to process user", zap.String("user_id", user.Id), zap.Error(err))
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d addresses, %d pending orders, %d credited orders shown (%d not yet swept)",
		stats.totalUsers, stats.pendingOrders, stats.confirmedTotal, stats.unsweptOrders)
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Address query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("pending_orders", stats.pendingOrders),
		zap.Int("unswept_orders", stats.unsweptOrders))
}
