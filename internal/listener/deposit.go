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
	"errors"
	"fmt"

	"usdt-recharge-go/internal/chain"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/notify"
	"usdt-recharge-go/internal/store"
	"usdt-recharge-go/internal/sweep"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// processLog reconciles one Transfer log. It reports whether a balance was
// credited. Only a store failure is returned; the caller then keeps the
// cursor so the window is scanned again.
func (l *ChainListener) processLog(ctx context.Context, lg types.Log, addresses map[string]struct{}) (bool, error) {
	if lg.Removed {
		return false, nil
	}

	ev, err := chain.DecodeTransfer(lg, l.decimals)
	if err != nil {
		zap.L().Debug("Skipping undecodable log",
			zap.String("tx_hash", lg.TxHash.Hex()),
			zap.Error(err))
		return false, nil
	}

	if _, ok := addresses[ev.To]; !ok {
		return false, nil
	}
	if ev.RawAmount.Sign() <= 0 {
		zap.L().Debug("Skipping zero amount transfer", zap.String("tx_hash", ev.TxHash))
		return false, nil
	}
	if l.isSeen(seenKey(ev)) {
		return false, nil
	}

	return l.processDeposit(ctx, ev)
}

func (l *ChainListener) processDeposit(ctx context.Context, ev *models.TransferEvent) (bool, error) {
	userId, err := l.wallets.GetUserByAddress(ctx, ev.To)
	if err != nil {
		zap.L().Warn("Unable to resolve deposit address owner",
			zap.String("address", ev.To),
			zap.Error(err))
	}

	zap.L().Info("Processing deposit",
		zap.String("tx_hash", ev.TxHash),
		zap.Uint64("block_number", ev.BlockNumber),
		zap.String("from_address", ev.From),
		zap.String("deposit_address", ev.To),
		zap.String("amount", ev.Amount.String()))

	order, err := l.payments.ConfirmOrderByAddress(ctx, store.ConfirmDepositParams{
		DepositAddress: ev.To,
		Amount:         ev.Amount,
		TxHash:         ev.TxHash,
		LogIndex:       ev.LogIndex,
		FromAddress:    ev.From,
		UserId:         userId,
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateTransaction):
		zap.L().Info("Duplicate transaction detected - already processed, marking as handled",
			zap.String("tx_hash", ev.TxHash))
		l.markSeen(seenKey(ev))
		return false, nil
	case errors.Is(err, store.ErrUserNotFound):
		zap.L().Warn("Deposit to unrecognized address - recorded as orphaned",
			zap.String("tx_hash", ev.TxHash),
			zap.String("address", ev.To),
			zap.String("amount", ev.Amount.String()))
		l.markSeen(seenKey(ev))
		return false, nil
	default:
		return false, fmt.Errorf("failed to process deposit %s: %w", ev.TxHash, err)
	}

	l.markSeen(seenKey(ev))

	zap.L().Info("Deposit processed successfully - balance updated",
		zap.String("tx_hash", ev.TxHash),
		zap.String("order_id", order.OrderId),
		zap.String("user_id", order.UserId),
		zap.String("amount", order.Amount.String()))

	l.notifyUser(ctx, order, ev.TxHash)

	if l.sweeper != nil {
		l.sweeper.Enqueue(sweep.Request{
			Address:  ev.To,
			OrderIds: []string{order.OrderId},
			Amount:   order.Amount,
		})
	}
	return true, nil
}

// seenKey identifies one Transfer log; a tx can carry several.
func seenKey(ev *models.TransferEvent) string {
	return fmt.Sprintf("%s:%d", ev.TxHash, ev.LogIndex)
}

// notifyUser tells the user about the credit. A failed send is logged only.
func (l *ChainListener) notifyUser(ctx context.Context, order *models.DepositOrder, txHash string) {
	balance, err := l.payments.GetBalance(ctx, order.UserId)
	if err != nil {
		zap.L().Warn("Unable to read balance for notification",
			zap.String("user_id", order.UserId),
			zap.Error(err))
		return
	}

	if err := l.notifier.SendMessage(ctx, order.UserId, notify.DepositCredited(order.Amount, balance, txHash)); err != nil {
		zap.L().Warn("Failed to send deposit notification",
			zap.String("user_id", order.UserId),
			zap.String("tx_hash", txHash),
			zap.Error(err))
	}
}
