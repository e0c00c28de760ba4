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
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"usdt-recharge-go/internal/common"
	"usdt-recharge-go/internal/config"
	"usdt-recharge-go/internal/hdwallet"
	"usdt-recharge-go/internal/metrics"
	"usdt-recharge-go/internal/sweep"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	featuresFile := flag.String("features", "", "Optional path to a features YAML file (overrides FEATURES_FILE)")
	noSweep := flag.Bool("no-sweep", false, "Credit deposits without sweeping them to the cold wallet")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *featuresFile != "" {
		cfg.Quota.FeaturesFile = *featuresFile
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting USDT recharge listener",
		zap.Int64("chain_id", cfg.Chain.ChainId),
		zap.String("token", cfg.Chain.TokenContract),
		zap.Int("rpc_endpoints", len(cfg.Chain.RpcEndpoints)))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := services.ApiService.HealthCheck(ctx); err != nil {
		zap.L().Fatal("Health check failed", zap.Error(err))
	}

	if cfg.Metrics.ListenAddress != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddress); err != nil {
				zap.L().Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	if !*noSweep {
		services.Sweeper.Start(ctx)
	}

	scheduler := cron.New()

	listenerRunning := true
	if err := services.Listener.Start(ctx); err != nil {
		if !errors.Is(err, hdwallet.ErrNotConfigured) {
			zap.L().Fatal("Failed to start chain listener", zap.Error(err))
		}
		listenerRunning = false
		zap.L().Warn("Chain listener disabled, HD wallet not configured")

		// The poll loop normally expires orders; without it a schedule does.
		if cfg.Orders.ExpirySchedule != "" {
			if _, err := scheduler.AddFunc(cfg.Orders.ExpirySchedule, func() {
				if _, err := services.Payments.ExpireOldOrders(ctx); err != nil {
					zap.L().Warn("Failed to expire old orders", zap.Error(err))
				}
			}); err != nil {
				zap.L().Fatal("Invalid order expiry schedule", zap.String("schedule", cfg.Orders.ExpirySchedule), zap.Error(err))
			}
		}
	}

	if listenerRunning && !*noSweep && cfg.Sweep.RetrySchedule != "" {
		if _, err := scheduler.AddFunc(cfg.Sweep.RetrySchedule, func() {
			swept, err := services.Sweeper.RetryStranded(ctx)
			if err != nil {
				if errors.Is(err, sweep.ErrColdWalletNotConfigured) {
					return
				}
				zap.L().Warn("Stranded sweep run failed", zap.Error(err))
				return
			}
			if swept > 0 {
				zap.L().Info("Stranded sweep run completed", zap.Int("addresses_swept", swept))
			}
		}); err != nil {
			zap.L().Fatal("Invalid sweep retry schedule", zap.String("schedule", cfg.Sweep.RetrySchedule), zap.Error(err))
		}
		zap.L().Info("Stranded sweep job scheduled", zap.String("schedule", cfg.Sweep.RetrySchedule))
	}

	scheduler.Start()

	zap.L().Info("Recharge service running", zap.Bool("listener", listenerRunning), zap.Bool("sweep", !*noSweep))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			<-scheduler.Stop().Done()
		}()
		go func() {
			defer wg.Done()
			services.Listener.Stop()
		}()
		go func() {
			defer wg.Done()
			if !*noSweep {
				services.Sweeper.Stop()
			}
		}()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
