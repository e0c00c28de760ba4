package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanOrder(row rowScanner) (*models.DepositOrder, error) {
	var o models.DepositOrder
	var status string
	var txHash, sweepTxHash, from, reference sql.NullString
	var confirmedAt, expiredAt sql.NullTime
	err := row.Scan(&o.Id, &o.OrderId, &o.UserId, &o.DepositAddress, &o.Amount, &status,
		&txHash, &sweepTxHash, &from, &reference, &o.CreatedAt, &confirmedAt, &expiredAt)
	if err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.TxHash = txHash.String
	o.SweepTxHash = sweepTxHash.String
	o.FromAddress = from.String
	o.Reference = reference.String
	o.ConfirmedAt = nullTimePtr(confirmedAt)
	o.ExpiredAt = nullTimePtr(expiredAt)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]models.DepositOrder, error) {
	defer closeRows(rows)

	var orders []models.DepositOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// CreateRechargeOrder expires the user's pending orders and inserts a new
// pending one, atomically.
func (s *Service) CreateRechargeOrder(ctx context.Context, userId, orderId, depositAddress string) (*models.DepositOrder, error) {
	if userId == "" || orderId == "" || depositAddress == "" {
		return nil, fmt.Errorf("user id, order id and deposit address are required")
	}

	now := s.now()
	address := strings.ToLower(depositAddress)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, queryExpireUserPendingOrders, now, userId)
		if err != nil {
			return fmt.Errorf("unable to expire previous orders: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			zap.L().Info("Superseded pending orders",
				zap.String("user_id", userId),
				zap.Int64("count", n))
		}

		if _, err := tx.ExecContext(ctx, queryInsertPendingOrder, orderId, userId, address, now); err != nil {
			return fmt.Errorf("unable to insert order: %w", err)
		}
		return nil
	})
	if err != nil {
		zap.L().Error("Failed to create recharge order",
			zap.String("user_id", userId),
			zap.String("order_id", orderId),
			zap.Error(err))
		return nil, err
	}

	return &models.DepositOrder{
		OrderId:        orderId,
		UserId:         userId,
		DepositAddress: address,
		Amount:         decimal.Zero,
		Status:         models.OrderStatusPending,
		CreatedAt:      now,
	}, nil
}

// GetOrder returns nil without error when the order does not exist.
func (s *Service) GetOrder(ctx context.Context, orderId string) (*models.DepositOrder, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, queryGetOrder, orderId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query order %s: %w", orderId, err)
	}
	return o, nil
}

// GetPendingOrderByAddress returns the newest pending order for the address, or nil.
func (s *Service) GetPendingOrderByAddress(ctx context.Context, depositAddress string) (*models.DepositOrder, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, queryGetPendingOrderByAddress, depositAddress))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query pending order for %s: %w", depositAddress, err)
	}
	return o, nil
}

func (s *Service) ExpireOrdersCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, queryExpireOrdersCreatedBefore, s.now(), cutoff.UTC().Truncate(time.Second))
	if err != nil {
		return 0, fmt.Errorf("unable to expire orders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("unable to read expired order count: %w", err)
	}
	return n, nil
}

// ConfirmDeposit reconciles one observed transfer in a single transaction:
// rejects an already-credited tx hash, confirms the newest pending order for
// the address (or records a new confirmed order under orderId), and credits
// the owner's balance. A transfer with no resolvable owner is stored as an
// orphaned deposit and reported as store.ErrUserNotFound. A different log of
// an already-credited tx is also stored as an orphan and reported as
// store.ErrDuplicateTransaction.
func (s *Service) ConfirmDeposit(ctx context.Context, orderId string, params store.ConfirmDepositParams) (*models.DepositOrder, error) {
	if !params.Amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}
	if params.TxHash == "" {
		return nil, fmt.Errorf("tx hash cannot be empty")
	}

	now := s.now()
	address := strings.ToLower(params.DepositAddress)
	from := strings.ToLower(params.FromAddress)
	orphaned := false
	sharedTxOrder := ""
	var confirmed *models.DepositOrder

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingOrderId string
		var existingLogIndex sql.NullInt64
		err := tx.QueryRowContext(ctx, queryCheckDuplicateTxHash, params.TxHash).Scan(&existingOrderId, &existingLogIndex)
		if err == nil {
			if !existingLogIndex.Valid || uint(existingLogIndex.Int64) == params.LogIndex {
				return fmt.Errorf("%w: %s already credited to order %s", store.ErrDuplicateTransaction, params.TxHash, existingOrderId)
			}
			if _, err := tx.ExecContext(ctx, queryInsertOrphanedDeposit,
				params.TxHash, params.LogIndex, address, nullString(from), params.Amount.String(), models.OrphanSharedTx, now); err != nil {
				return fmt.Errorf("unable to record shared tx deposit: %w", err)
			}
			sharedTxOrder = existingOrderId
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("unable to check duplicate tx hash: %w", err)
		}

		pending, err := scanOrder(tx.QueryRowContext(ctx, queryGetPendingOrderByAddress, address))
		switch {
		case err == nil:
			res, err := tx.ExecContext(ctx, queryConfirmPendingOrder,
				params.Amount.String(), params.TxHash, params.LogIndex, from, now, pending.OrderId)
			if err != nil {
				return fmt.Errorf("unable to confirm order %s: %w", pending.OrderId, err)
			}
			if n, _ := res.RowsAffected(); n != 1 {
				return fmt.Errorf("%w: order %s no longer pending", store.ErrConcurrentModification, pending.OrderId)
			}
			confirmed = pending
		case errors.Is(err, sql.ErrNoRows):
			userId := params.UserId
			if userId == "" {
				err := tx.QueryRowContext(ctx, queryGetUserIdByAddress, address).Scan(&userId)
				if err != nil && !errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("unable to resolve address owner: %w", err)
				}
			}
			if userId == "" {
				if _, err := tx.ExecContext(ctx, queryInsertOrphanedDeposit,
					params.TxHash, params.LogIndex, address, nullString(from), params.Amount.String(), models.OrphanNoOwner, now); err != nil {
					return fmt.Errorf("unable to record orphaned deposit: %w", err)
				}
				orphaned = true
				return nil
			}
			if orderId == "" {
				return fmt.Errorf("order id required for deposit without pending order")
			}
			if _, err := tx.ExecContext(ctx, queryInsertConfirmedOrder,
				orderId, userId, address, params.Amount.String(), params.TxHash, params.LogIndex, from, nil, now, now); err != nil {
				return fmt.Errorf("unable to insert confirmed order: %w", err)
			}
			confirmed = &models.DepositOrder{OrderId: orderId, UserId: userId, DepositAddress: address, CreatedAt: now}
		default:
			return fmt.Errorf("unable to query pending order: %w", err)
		}

		confirmed.Status = models.OrderStatusConfirmed
		confirmed.Amount = params.Amount
		confirmed.TxHash = params.TxHash
		confirmed.FromAddress = from
		confirmed.ConfirmedAt = &now

		if _, err := s.creditTx(ctx, tx, confirmed.UserId, params.Amount, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) && s.txHashCredited(ctx, params.TxHash) {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateTransaction, params.TxHash)
		}
		return nil, err
	}

	if sharedTxOrder != "" {
		zap.L().Warn("Further transfer in an already credited tx recorded as orphaned",
			zap.String("tx_hash", params.TxHash),
			zap.Uint("log_index", params.LogIndex),
			zap.String("address", address),
			zap.String("credited_order_id", sharedTxOrder),
			zap.String("amount", params.Amount.String()))
		return nil, fmt.Errorf("%w: %s already credited to order %s", store.ErrDuplicateTransaction, params.TxHash, sharedTxOrder)
	}

	if orphaned {
		zap.L().Warn("Deposit to address with no owner recorded as orphaned",
			zap.String("address", address),
			zap.String("tx_hash", params.TxHash),
			zap.String("amount", params.Amount.String()))
		return nil, fmt.Errorf("%w: %s", store.ErrUserNotFound, address)
	}

	zap.L().Info("Deposit confirmed",
		zap.String("order_id", confirmed.OrderId),
		zap.String("user_id", confirmed.UserId),
		zap.String("tx_hash", params.TxHash),
		zap.String("amount", params.Amount.String()))
	return confirmed, nil
}

// txHashCredited reports whether a concurrent writer credited txHash. A
// unique violation on any other column is not a duplicate.
func (s *Service) txHashCredited(ctx context.Context, txHash string) bool {
	var orderId string
	var logIndex sql.NullInt64
	err := s.db.QueryRowContext(ctx, queryCheckDuplicateTxHash, txHash).Scan(&orderId, &logIndex)
	return err == nil
}

// CreditManual records an operator credit as a confirmed order without a tx
// hash and adds the amount to the user's balance.
func (s *Service) CreditManual(ctx context.Context, userId, orderId string, amount decimal.Decimal, reference string) (*models.DepositOrder, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}
	if userId == "" || orderId == "" {
		return nil, fmt.Errorf("user id and order id are required")
	}

	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryInsertConfirmedOrder,
			orderId, userId, "", amount.String(), nil, nil, nil, nullString(reference), now, now); err != nil {
			return fmt.Errorf("unable to insert manual order: %w", err)
		}
		_, err := s.creditTx(ctx, tx, userId, amount, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Manual credit applied",
		zap.String("user_id", userId),
		zap.String("order_id", orderId),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	return &models.DepositOrder{
		OrderId:     orderId,
		UserId:      userId,
		Amount:      amount,
		Status:      models.OrderStatusConfirmed,
		Reference:   reference,
		CreatedAt:   now,
		ConfirmedAt: &now,
	}, nil
}

// MarkOrderSwept moves a confirmed order to swept. Any other current state is
// left unchanged and reported as store.ErrOrderNotFound.
func (s *Service) MarkOrderSwept(ctx context.Context, orderId, sweepTxHash string) error {
	res, err := s.db.ExecContext(ctx, queryMarkOrderSwept, sweepTxHash, orderId)
	if err != nil {
		return fmt.Errorf("unable to mark order %s swept: %w", orderId, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to read swept row count: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no confirmed order %s", store.ErrOrderNotFound, orderId)
	}
	return nil
}

func (s *Service) ListUnsweptOrders(ctx context.Context, confirmedBefore time.Time) ([]models.DepositOrder, error) {
	rows, err := s.db.QueryContext(ctx, queryListUnsweptOrders, confirmedBefore.UTC().Truncate(time.Second))
	if err != nil {
		return nil, fmt.Errorf("unable to query unswept orders: %w", err)
	}
	return scanOrders(rows)
}

func (s *Service) GetRechargeHistory(ctx context.Context, userId string, limit int) ([]models.DepositOrder, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, queryGetRechargeHistory, userId, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to query recharge history: %w", err)
	}
	return scanOrders(rows)
}

func (s *Service) ListOrphanedDeposits(ctx context.Context) ([]models.OrphanedDeposit, error) {
	rows, err := s.db.QueryContext(ctx, queryListOrphanedDeposits)
	if err != nil {
		return nil, fmt.Errorf("unable to query orphaned deposits: %w", err)
	}
	defer closeRows(rows)

	var deposits []models.OrphanedDeposit
	for rows.Next() {
		var d models.OrphanedDeposit
		var from sql.NullString
		if err := rows.Scan(&d.Id, &d.TxHash, &d.LogIndex, &d.ToAddress, &from, &d.Amount, &d.Reason, &d.DetectedAt, &d.Resolved); err != nil {
			return nil, fmt.Errorf("unable to scan orphaned deposit row: %w", err)
		}
		d.FromAddress = from.String
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orphaned deposit rows: %w", err)
	}
	return deposits, nil
}
