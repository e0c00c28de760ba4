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
	"usdt-recharge-go/internal/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Chat user id (required)")
	amountFlag := flag.String("amount", "", "USDT amount to credit (required)")
	referenceFlag := flag.String("reference", "", "Reference recorded on the order (default: manual_topup)")
	flag.Parse()

	if *userFlag == "" || *amountFlag == "" {
		logger.Fatal("Both flags are required: --user and --amount")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		logger.Fatal("Invalid amount", zap.String("amount", *amountFlag), zap.Error(err))
	}
	if !amount.IsPositive() {
		logger.Fatal("Amount must be positive", zap.String("amount", *amountFlag))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	payments := payment.NewManager(dbService, cfg.Orders)

	order, err := payments.ManualTopUp(ctx, *userFlag, amount, *referenceFlag)
	if err != nil {
		logger.Fatal("Manual top-up failed", zap.Error(err))
	}

	balance, err := payments.GetBalanceInfo(ctx, *userFlag)
	if err != nil {
		logger.Fatal("Failed to read balance", zap.Error(err))
	}

	common.PrintHeader("MANUAL TOP-UP", common.DefaultWidth)
	fmt.Printf("User:        %s\n", order.UserId)
	fmt.Printf("Order:       %s\n", order.OrderId)
	fmt.Printf("Reference:   %s\n", order.Reference)
	fmt.Printf("Amount:      %s USDT\n", order.Amount.String())
	fmt.Printf("Balance:     %s\n", common.FormatUSDT(balance.Balance))
	fmt.Printf("Recharged:   %s\n", common.FormatUSDT(balance.TotalRecharged))
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}
