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
	"time"

	"usdt-recharge-go/internal/common"
	"usdt-recharge-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	dryRun := flag.Bool("dry-run", false, "Only list what would be swept")
	graceFlag := flag.Duration("grace", -1, "Only sweep orders confirmed longer ago than this (default: SWEEP_RETRY_GRACE)")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *graceFlag >= 0 {
		cfg.Sweep.RetryGracePeriod = *graceFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	planned, err := services.Sweeper.DryRun(ctx)
	if err != nil {
		logger.Fatal("Failed to plan sweeps", zap.Error(err))
	}

	common.PrintHeader("STRANDED DEPOSITS", common.WideWidth)
	if len(planned) == 0 {
		fmt.Println("No confirmed orders waiting to be swept")
	}
	for i, req := range planned {
		isLast := i == len(planned)-1
		fmt.Printf("%s %s  %s on chain\n", common.BoxPrefix(isLast), req.Address, common.FormatUSDT(req.Amount))
		for _, orderId := range req.OrderIds {
			fmt.Printf("%s   order %s\n", common.BoxDetailPrefix(isLast), orderId)
		}
	}
	common.PrintSeparator("=", common.WideWidth)

	if *dryRun || len(planned) == 0 {
		fmt.Println()
		return
	}

	logger.Info("Sweeping stranded deposits",
		zap.Int("addresses", len(planned)),
		zap.String("cold_wallet", cfg.Sweep.ColdWalletAddress))

	swept, err := services.Sweeper.RetryStranded(ctx)
	if err != nil {
		logger.Fatal("Sweep run failed", zap.Error(err))
	}

	summary := fmt.Sprintf("SUMMARY: %d of %d addresses swept to %s", swept, len(planned), cfg.Sweep.ColdWalletAddress)
	common.PrintFooter(summary, common.WideWidth)
}
