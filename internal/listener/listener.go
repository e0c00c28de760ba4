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

package listener

import (
	"context"
	"fmt"
	"time"

	"usdt-recharge-go/internal/hdwallet"

	"go.uber.org/zap"
)

// Start begins polling. Without an HD seed there is nothing to watch and
// it returns hdwallet.ErrNotConfigured. Calls after the first are no-ops.
func (l *ChainListener) Start(ctx context.Context) error {
	if !l.available {
		return hdwallet.ErrNotConfigured
	}

	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started {
		return nil
	}

	zap.L().Info("Starting chain listener",
		zap.String("token", l.token.Hex()),
		zap.Duration("poll_interval", l.pollInterval),
		zap.Uint64("lookback_blocks", l.lookback),
		zap.Uint64("query_window", l.window))

	l.started = true
	go l.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the chain listener
func (l *ChainListener) Stop() {
	l.lifecycleMu.Lock()
	started := l.started
	l.lifecycleMu.Unlock()
	if !started {
		return
	}
	l.stopOnce.Do(func() {
		zap.L().Info("Stopping chain listener")
		close(l.stopChan)
		<-l.doneChan
		zap.L().Info("Chain listener stopped")
	})
}

func (l *ChainListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	l.cycle(ctx)

	for {
		select {
		case <-ticker.C:
			l.cycle(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// cycle runs one poll and the order expiry that follows it. Errors end
// here; the loop keeps going.
func (l *ChainListener) cycle(ctx context.Context) {
	if err := l.pollOnce(ctx); err != nil {
		cursor, _ := l.Cursor()
		zap.L().Warn("Chain poll failed, cursor not advanced",
			zap.Uint64("cursor", cursor),
			zap.Error(err))
	}
	if _, err := l.payments.ExpireOldOrders(ctx); err != nil {
		zap.L().Warn("Failed to expire old orders", zap.Error(err))
	}
}

// pollOnce scans the next window of blocks. The cursor moves to the end of
// the window only if every log query and every credit attempt succeeded.
func (l *ChainListener) pollOnce(ctx context.Context) error {
	head, err := l.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("unable to get block number: %w", err)
	}

	cursor, ok := l.Cursor()
	if !ok {
		if head > l.lookback {
			cursor = head - l.lookback
		}
		l.setCursor(cursor)
		zap.L().Info("Chain cursor initialized",
			zap.Uint64("head", head),
			zap.Uint64("cursor", cursor))
	}

	if head <= cursor {
		return nil
	}

	from := cursor + 1
	to := head
	if to > cursor+l.window {
		to = cursor + l.window
	}

	addresses, err := l.wallets.GetAllAddresses(ctx)
	if err != nil {
		return fmt.Errorf("unable to load hot addresses: %w", err)
	}
	if len(addresses) == 0 {
		l.advance(to)
		return nil
	}

	processed := 0
	for _, recipients := range chunkAddresses(addresses, maxTopicAddresses) {
		logs, err := l.client.TransferLogs(ctx, l.token, from, to, recipients)
		if err != nil {
			return fmt.Errorf("unable to get transfer logs [%d, %d]: %w", from, to, err)
		}
		for _, lg := range logs {
			credited, err := l.processLog(ctx, lg, addresses)
			if err != nil {
				return err
			}
			if credited {
				processed++
			}
		}
	}

	if processed > 0 {
		zap.L().Info("Deposits credited",
			zap.Uint64("from_block", from),
			zap.Uint64("to_block", to),
			zap.Int("count", processed))
	} else {
		zap.L().Debug("No new deposits",
			zap.Uint64("from_block", from),
			zap.Uint64("to_block", to))
	}

	l.advance(to)
	return nil
}

func (l *ChainListener) advance(to uint64) {
	l.setCursor(to)
}
