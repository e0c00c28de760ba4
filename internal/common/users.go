package common

import (
	"context"
	"fmt"

	"usdt-recharge-go/internal/store"

	"go.uber.org/zap"
)

// UserInfo represents simplified user information for command-line utilities
type UserInfo struct {
	Id          string
	WalletIndex uint32
	Address     string
}

// InitializeUsers returns the users holding a deposit address. A non-empty
// userFilter selects that one user.
func InitializeUsers(ctx context.Context, dbService store.LedgerStore, userFilter string, logger *zap.Logger) ([]UserInfo, error) {
	var users []UserInfo

	if userFilter != "" {
		logger.Info("Looking up user", zap.String("user_id", userFilter))
		w, err := dbService.GetWalletByUser(ctx, userFilter)
		if err != nil {
			return nil, fmt.Errorf("failed to get wallet: %w", err)
		}
		if w == nil {
			return nil, fmt.Errorf("user %s: %w", userFilter, store.ErrWalletNotFound)
		}
		users = append(users, UserInfo{Id: w.UserId, WalletIndex: w.WalletIndex, Address: w.Address})
	} else {
		wallets, err := dbService.ListWallets(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get wallets: %w", err)
		}
		for _, w := range wallets {
			users = append(users, UserInfo{Id: w.UserId, WalletIndex: w.WalletIndex, Address: w.Address})
		}
	}

	logger.Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}
