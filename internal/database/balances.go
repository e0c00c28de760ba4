package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadBalance returns a zero balance when the user has no row yet.
func loadBalance(ctx context.Context, q balanceQuerier, userId string) (*models.Balance, error) {
	b := &models.Balance{}
	err := q.QueryRowContext(ctx, queryGetBalance, userId).
		Scan(&b.UserId, &b.Balance, &b.TotalRecharged, &b.TotalSpent, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Balance{
			UserId:         userId,
			Balance:        decimal.Zero,
			TotalRecharged: decimal.Zero,
			TotalSpent:     decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query balance for %s: %w", userId, err)
	}
	return b, nil
}

func writeBalance(ctx context.Context, tx *sql.Tx, b *models.Balance) error {
	_, err := tx.ExecContext(ctx, queryUpsertBalance,
		b.UserId, b.Balance.String(), b.TotalRecharged.String(), b.TotalSpent.String(), b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("unable to write balance for %s: %w", b.UserId, err)
	}
	return nil
}

// creditTx adds amount to balance and total_recharged inside tx.
func (s *Service) creditTx(ctx context.Context, tx *sql.Tx, userId string, amount decimal.Decimal, now time.Time) (*models.Balance, error) {
	b, err := loadBalance(ctx, tx, userId)
	if err != nil {
		return nil, err
	}
	b.Balance = b.Balance.Add(amount)
	b.TotalRecharged = b.TotalRecharged.Add(amount)
	b.UpdatedAt = now
	if err := writeBalance(ctx, tx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBalance(ctx context.Context, userId string) (*models.Balance, error) {
	return loadBalance(ctx, s.db, userId)
}

func (s *Service) ListBalances(ctx context.Context) ([]models.Balance, error) {
	rows, err := s.db.QueryContext(ctx, queryListBalances)
	if err != nil {
		return nil, fmt.Errorf("unable to query balances: %w", err)
	}
	defer closeRows(rows)

	var balances []models.Balance
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.UserId, &b.Balance, &b.TotalRecharged, &b.TotalSpent, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan balance row: %w", err)
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}

// AddBalance credits amount outside of any deposit order.
func (s *Service) AddBalance(ctx context.Context, userId string, amount decimal.Decimal) (*models.Balance, error) {
	if !amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}

	var result *models.Balance
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := s.creditTx(ctx, tx, userId, amount, s.now())
		result = b
		return err
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Balance credited",
		zap.String("user_id", userId),
		zap.String("amount", amount.String()),
		zap.String("balance", result.Balance.String()))
	return result, nil
}

// DeductBalance debits a paid feature use and appends a spend record. The
// balance never goes negative; a short balance yields store.ErrInsufficientBalance
// and leaves everything unchanged.
func (s *Service) DeductBalance(ctx context.Context, params store.DeductParams) (*models.Balance, error) {
	if !params.Amount.IsPositive() {
		return nil, store.ErrInvalidAmount
	}

	var result *models.Balance
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		b, err := loadBalance(ctx, tx, params.UserId)
		if err != nil {
			return err
		}
		if b.Balance.LessThan(params.Amount) {
			return fmt.Errorf("%w: have %s, need %s", store.ErrInsufficientBalance, b.Balance.String(), params.Amount.String())
		}

		now := s.now()
		b.Balance = b.Balance.Sub(params.Amount)
		b.TotalSpent = b.TotalSpent.Add(params.Amount)
		b.UpdatedAt = now
		if err := writeBalance(ctx, tx, b); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, queryInsertSpendRecord,
			params.UserId, params.Feature, params.Amount.String(), now); err != nil {
			return fmt.Errorf("unable to insert spend record: %w", err)
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Balance debited",
		zap.String("user_id", params.UserId),
		zap.String("feature", params.Feature),
		zap.String("amount", params.Amount.String()),
		zap.String("balance", result.Balance.String()))
	return result, nil
}

func (s *Service) GetSpendHistory(ctx context.Context, userId string, limit int) ([]models.SpendRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, queryGetSpendHistory, userId, limit)
	if err != nil {
		return nil, fmt.Errorf("unable to query spend history: %w", err)
	}
	defer closeRows(rows)

	var records []models.SpendRecord
	for rows.Next() {
		var r models.SpendRecord
		if err := rows.Scan(&r.Id, &r.UserId, &r.Feature, &r.Amount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("unable to scan spend row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spend rows: %w", err)
	}
	return records, nil
}
