package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"usdt-recharge-go/internal/store"
)

func getUsage(ctx context.Context, q balanceQuerier, params store.UsageParams) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, queryGetDailyUsage, params.UserId, params.Date, params.Feature).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("unable to query daily usage: %w", err)
	}
	return count, nil
}

func (s *Service) GetDailyUsage(ctx context.Context, params store.UsageParams) (int, error) {
	return getUsage(ctx, s.db, params)
}

// ConsumeFreeUsage increments the counter only while it is below limit. It
// returns the resulting count and whether a free use was granted.
func (s *Service) ConsumeFreeUsage(ctx context.Context, params store.UsageParams, limit int) (int, bool, error) {
	if limit <= 0 {
		count, err := s.GetDailyUsage(ctx, params)
		return count, false, err
	}

	var count int
	granted := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, queryConsumeFreeUsage, params.UserId, params.Date, params.Feature, limit)
		if err != nil {
			return fmt.Errorf("unable to consume free usage: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("unable to read usage row count: %w", err)
		}
		granted = n > 0
		count, err = getUsage(ctx, tx, params)
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return count, granted, nil
}

// IncrementUsage records a use regardless of limits and returns the new count.
func (s *Service) IncrementUsage(ctx context.Context, params store.UsageParams) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryIncrementUsage, params.UserId, params.Date, params.Feature); err != nil {
			return fmt.Errorf("unable to increment usage: %w", err)
		}
		var err error
		count, err = getUsage(ctx, tx, params)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
