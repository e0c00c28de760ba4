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

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "usdt_recharge"

var (
	DepositsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposits_confirmed_total",
		Help:      "Deposits credited to a user balance.",
	})

	DepositsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposits_duplicate_total",
		Help:      "Transfers skipped because the tx hash was already credited.",
	})

	DepositsOrphaned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposits_orphaned_total",
		Help:      "Transfers to a hot address with no owning user.",
	})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_expired_total",
		Help:      "Pending recharge orders moved to expired.",
	})

	Sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweeps_total",
		Help:      "Sweep attempts by outcome.",
	}, []string{"result"})

	RpcFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_failures_total",
		Help:      "Failed RPC calls by endpoint.",
	}, []string{"endpoint"})

	ListenerCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "listener_cursor_block",
		Help:      "Last block scanned by the chain listener.",
	})

	QuotaDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_decisions_total",
		Help:      "Feature access decisions by feature and outcome.",
	}, []string{"feature", "outcome"})
)

// Sweep outcomes
const (
	SweepSucceeded       = "succeeded"
	SweepInsufficientGas = "insufficient_gas"
	SweepFailed          = "failed"
)

// Quota outcomes
const (
	QuotaFree   = "free"
	QuotaPaid   = "paid"
	QuotaDenied = "denied"
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}()

	zap.L().Info("Serving metrics", zap.String("address", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
