package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*models.UserWallet, error) {
	w := &models.UserWallet{}
	if err := row.Scan(&w.UserId, &w.WalletIndex, &w.Address, &w.CreatedAt); err != nil {
		return nil, err
	}
	return w, nil
}

// AllocateWallet returns the user's wallet, assigning the next HD index and
// deriving its address when the user has none. The bool reports creation.
func (s *Service) AllocateWallet(ctx context.Context, userId string, derive store.DeriveAddressFunc) (*models.UserWallet, bool, error) {
	if userId == "" {
		return nil, false, fmt.Errorf("user id cannot be empty")
	}

	var wallet *models.UserWallet
	created := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanWallet(tx.QueryRowContext(ctx, queryGetWalletByUser, userId))
		if err == nil {
			wallet = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("unable to query wallet: %w", err)
		}

		var nextIndex int64
		if err := tx.QueryRowContext(ctx, queryNextWalletIndex).Scan(&nextIndex); err != nil {
			return fmt.Errorf("unable to compute next wallet index: %w", err)
		}
		if nextIndex > math.MaxUint32 {
			return fmt.Errorf("wallet index space exhausted at %d", nextIndex)
		}

		address, err := derive(uint32(nextIndex))
		if err != nil {
			return fmt.Errorf("unable to derive address for index %d: %w", nextIndex, err)
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, queryInsertWallet, userId, nextIndex, address, now); err != nil {
			return fmt.Errorf("unable to insert wallet: %w", err)
		}

		wallet = &models.UserWallet{
			UserId:      userId,
			WalletIndex: uint32(nextIndex),
			Address:     address,
			CreatedAt:   now,
		}
		created = true
		return nil
	})
	if err != nil {
		// Another writer allocated for this user first; theirs is authoritative.
		if isUniqueViolation(err) {
			if existing, getErr := s.GetWalletByUser(ctx, userId); getErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		zap.L().Error("Failed to allocate wallet", zap.String("user_id", userId), zap.Error(err))
		return nil, false, err
	}

	if created {
		zap.L().Info("Wallet allocated",
			zap.String("user_id", userId),
			zap.Uint32("wallet_index", wallet.WalletIndex),
			zap.String("address", wallet.Address))
	}
	return wallet, created, nil
}

// GetWalletByUser returns nil without error when the user has no wallet.
func (s *Service) GetWalletByUser(ctx context.Context, userId string) (*models.UserWallet, error) {
	w, err := scanWallet(s.db.QueryRowContext(ctx, queryGetWalletByUser, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query wallet for user %s: %w", userId, err)
	}
	return w, nil
}

// GetWalletByAddress matches case-insensitively and returns nil when unknown.
func (s *Service) GetWalletByAddress(ctx context.Context, address string) (*models.UserWallet, error) {
	w, err := scanWallet(s.db.QueryRowContext(ctx, queryGetWalletByAddress, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query wallet for address %s: %w", address, err)
	}
	return w, nil
}

func (s *Service) ListWallets(ctx context.Context) ([]models.UserWallet, error) {
	return s.listWallets(ctx, queryListWallets)
}

// ListWalletsFrom reads only wallets allocated at or after fromIndex. Indexes
// are assigned under the write lock, so they appear in commit order.
func (s *Service) ListWalletsFrom(ctx context.Context, fromIndex uint32) ([]models.UserWallet, error) {
	return s.listWallets(ctx, queryListWalletsFrom, fromIndex)
}

func (s *Service) listWallets(ctx context.Context, query string, args ...any) ([]models.UserWallet, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query wallets: %w", err)
	}
	defer closeRows(rows)

	var wallets []models.UserWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan wallet row: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallet rows: %w", err)
	}

	zap.L().Debug("Retrieved wallets", zap.Int("count", len(wallets)))
	return wallets, nil
}
