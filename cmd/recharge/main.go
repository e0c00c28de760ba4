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

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "Chat user id (required)")
	flag.Parse()

	if *userFlag == "" {
		zap.L().Fatal("Flag is required: --user")
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	intent, err := services.ApiService.RequestDeposit(ctx, *userFlag)
	if err != nil {
		zap.L().Fatal("Failed to create recharge order", zap.Error(err))
	}

	fmt.Println()
	if !intent.Available {
		common.PrintHeader("RECHARGE UNAVAILABLE", common.DefaultWidth)
		fmt.Println(intent.Message)
		common.PrintSeparator("=", common.DefaultWidth)
		fmt.Println()
		return
	}

	w, err := services.Wallets.GetWalletByUser(ctx, *userFlag)
	if err != nil || w == nil {
		zap.L().Fatal("Wallet lookup failed after allocation", zap.Error(err))
	}

	common.PrintHeader("RECHARGE ORDER CREATED", common.DefaultWidth)
	fmt.Printf("User:     %s\n", intent.UserId)
	fmt.Printf("Order:    %s\n", intent.OrderId)
	fmt.Printf("Address:  %s\n", intent.DepositAddress)
	fmt.Printf("Path:     %s\n", hdwallet.Path(w.WalletIndex))
	fmt.Printf("Balance:  %s\n", common.FormatUSDT(intent.Balance))
	fmt.Printf("Expires:  in %s unless a deposit arrives\n", cfg.Orders.ExpireAfter)
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
	fmt.Println(intent.Message)
	fmt.Println()

	zap.L().Info("Recharge order created",
		zap.String("user_id", intent.UserId),
		zap.String("order_id", intent.OrderId),
		zap.String("deposit_address", intent.DepositAddress))
}
