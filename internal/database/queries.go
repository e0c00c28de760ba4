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

package database

const (
	// Wallet queries
	walletColumns = `user_id, wallet_index, address, created_at`

	queryGetWalletByUser = `
		SELECT ` + walletColumns + `
		FROM user_wallets
		WHERE user_id = ?`

	queryGetWalletByAddress = `
		SELECT ` + walletColumns + `
		FROM user_wallets
		WHERE LOWER(address) = LOWER(?)`

	queryListWallets = `
		SELECT ` + walletColumns + `
		FROM user_wallets
		ORDER BY wallet_index`

	queryListWalletsFrom = `
		SELECT ` + walletColumns + `
		FROM user_wallets
		WHERE wallet_index >= ?
		ORDER BY wallet_index`

	queryNextWalletIndex = `
		SELECT COALESCE(MAX(wallet_index), -1) + 1 FROM user_wallets`

	queryInsertWallet = `
		INSERT INTO user_wallets (user_id, wallet_index, address, created_at)
		VALUES (?, ?, ?, ?)`

	queryGetUserIdByAddress = `
		SELECT user_id FROM user_wallets WHERE LOWER(address) = LOWER(?)`

	// Order queries
	orderColumns = `id, order_id, user_id, deposit_address, amount, status, tx_hash, sweep_tx_hash,
		from_address, reference, created_at, confirmed_at, expired_at`

	queryExpireUserPendingOrders = `
		UPDATE recharge_orders
		SET status = 'expired', expired_at = ?
		WHERE user_id = ? AND status = 'pending'`

	queryInsertPendingOrder = `
		INSERT INTO recharge_orders (order_id, user_id, deposit_address, amount, status, created_at)
		VALUES (?, ?, ?, '0', 'pending', ?)`

	queryInsertConfirmedOrder = `
		INSERT INTO recharge_orders
			(order_id, user_id, deposit_address, amount, status, tx_hash, log_index, from_address, reference, created_at, confirmed_at)
		VALUES (?, ?, ?, ?, 'confirmed', ?, ?, ?, ?, ?, ?)`

	queryGetOrder = `
		SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE order_id = ?`

	queryGetPendingOrderByAddress = `
		SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE deposit_address = LOWER(?) AND status = 'pending'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	queryExpireOrdersCreatedBefore = `
		UPDATE recharge_orders
		SET status = 'expired', expired_at = ?
		WHERE status = 'pending' AND created_at < ?`

	queryCheckDuplicateTxHash = `
		SELECT order_id, log_index FROM recharge_orders
		WHERE tx_hash = ? AND status IN ('confirmed', 'swept')
		LIMIT 1`

	queryConfirmPendingOrder = `
		UPDATE recharge_orders
		SET status = 'confirmed', amount = ?, tx_hash = ?, log_index = ?, from_address = ?, confirmed_at = ?
		WHERE order_id = ? AND status = 'pending'`

	queryMarkOrderSwept = `
		UPDATE recharge_orders
		SET status = 'swept', sweep_tx_hash = ?
		WHERE order_id = ? AND status = 'confirmed'`

	queryListUnsweptOrders = `
		SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE status = 'confirmed' AND tx_hash IS NOT NULL AND confirmed_at < ?
		ORDER BY confirmed_at, id`

	queryGetRechargeHistory = `
		SELECT ` + orderColumns + `
		FROM recharge_orders
		WHERE user_id = ? AND status IN ('confirmed', 'swept')
		ORDER BY confirmed_at DESC, id DESC
		LIMIT ?`

	// Orphaned deposit queries
	queryInsertOrphanedDeposit = `
		INSERT OR IGNORE INTO orphaned_deposits (tx_hash, log_index, to_address, from_address, amount, reason, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryListOrphanedDeposits = `
		SELECT id, tx_hash, log_index, to_address, from_address, amount, reason, detected_at, resolved
		FROM orphaned_deposits
		ORDER BY detected_at DESC`

	// Balance queries
	balanceColumns = `user_id, balance, total_recharged, total_spent, updated_at`

	queryGetBalance = `
		SELECT ` + balanceColumns + `
		FROM user_balances
		WHERE user_id = ?`

	queryListBalances = `
		SELECT ` + balanceColumns + `
		FROM user_balances
		ORDER BY user_id`

	queryUpsertBalance = `
		INSERT INTO user_balances (user_id, balance, total_recharged, total_spent, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = excluded.balance,
			total_recharged = excluded.total_recharged,
			total_spent = excluded.total_spent,
			updated_at = excluded.updated_at`

	queryInsertSpendRecord = `
		INSERT INTO spend_records (user_id, feature, amount, created_at)
		VALUES (?, ?, ?, ?)`

	queryGetSpendHistory = `
		SELECT id, user_id, feature, amount, created_at
		FROM spend_records
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	// Usage queries
	queryGetDailyUsage = `
		SELECT count FROM daily_usage
		WHERE user_id = ? AND usage_date = ? AND feature = ?`

	queryConsumeFreeUsage = `
		INSERT INTO daily_usage (user_id, usage_date, feature, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(user_id, usage_date, feature) DO UPDATE
		SET count = daily_usage.count + 1
		WHERE daily_usage.count < ?`

	queryIncrementUsage = `
		INSERT INTO daily_usage (user_id, usage_date, feature, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(user_id, usage_date, feature) DO UPDATE
		SET count = daily_usage.count + 1`
)
