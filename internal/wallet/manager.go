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

package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"usdt-recharge-go/internal/hdwallet"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Deriver derives deposit addresses. *hdwallet.Wallet satisfies it.
type Deriver interface {
	DeriveAddress(index uint32) (string, error)
}

// Manager allocates one deposit address per user and answers address
// ownership lookups from an in-memory cache backed by the store.
type Manager struct {
	store   store.LedgerStore
	deriver Deriver

	group singleflight.Group

	mu     sync.RWMutex
	byAddr map[string]string // lower-cased address -> user id
	// scanned is one past the highest wallet index read by a store scan.
	// Wallets below it are all in byAddr.
	scanned uint32
}

// NewManager accepts a nil deriver; allocation then fails with
// hdwallet.ErrNotConfigured while lookups keep working.
func NewManager(ledger store.LedgerStore, deriver Deriver) *Manager {
	return &Manager{
		store:   ledger,
		deriver: deriver,
		byAddr:  make(map[string]string),
	}
}

func (m *Manager) Configured() bool {
	return m.deriver != nil
}

// GetOrCreateWallet returns the user's wallet, allocating the next HD index
// on first use. Concurrent calls for one user share a single allocation.
func (m *Manager) GetOrCreateWallet(ctx context.Context, userId string) (*models.UserWallet, error) {
	if userId == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}

	v, err, _ := m.group.Do(userId, func() (interface{}, error) {
		existing, err := m.store.GetWalletByUser(ctx, userId)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			m.remember(existing)
			return existing, nil
		}

		if m.deriver == nil {
			return nil, hdwallet.ErrNotConfigured
		}

		w, created, err := m.store.AllocateWallet(ctx, userId, m.deriver.DeriveAddress)
		if err != nil {
			return nil, fmt.Errorf("unable to allocate wallet for %s: %w", userId, err)
		}
		if created {
			zap.L().Info("Deposit address assigned",
				zap.String("user_id", userId),
				zap.String("path", hdwallet.Path(w.WalletIndex)),
				zap.String("address", w.Address))
		}
		m.remember(w)
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.UserWallet), nil
}

func (m *Manager) remember(w *models.UserWallet) {
	m.mu.Lock()
	m.byAddr[strings.ToLower(w.Address)] = w.UserId
	m.mu.Unlock()
}

// GetUserByAddress resolves the owner of a deposit address. It returns an
// empty string when the address is not ours.
func (m *Manager) GetUserByAddress(ctx context.Context, address string) (string, error) {
	key := strings.ToLower(address)

	m.mu.RLock()
	userId, ok := m.byAddr[key]
	m.mu.RUnlock()
	if ok {
		return userId, nil
	}

	w, err := m.store.GetWalletByAddress(ctx, key)
	if err != nil {
		return "", err
	}
	if w == nil {
		return "", nil
	}
	m.remember(w)
	return w.UserId, nil
}

func (m *Manager) GetWalletByUser(ctx context.Context, userId string) (*models.UserWallet, error) {
	return m.store.GetWalletByUser(ctx, userId)
}

func (m *Manager) GetWalletByAddress(ctx context.Context, address string) (*models.UserWallet, error) {
	return m.store.GetWalletByAddress(ctx, address)
}

// GetAllAddresses returns every allocated address, lower-cased. It is served
// from the cache; the store is only asked for wallets past the last scan,
// which picks up allocations made by other processes.
func (m *Manager) GetAllAddresses(ctx context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	from := m.scanned
	m.mu.RUnlock()

	fresh, err := m.store.ListWalletsFrom(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range fresh {
		m.byAddr[strings.ToLower(w.Address)] = w.UserId
		if w.WalletIndex >= m.scanned {
			m.scanned = w.WalletIndex + 1
		}
	}

	addresses := make(map[string]struct{}, len(m.byAddr))
	for addr := range m.byAddr {
		addresses[addr] = struct{}{}
	}
	return addresses, nil
}

// LoadCache warms the address cache from the store.
func (m *Manager) LoadCache(ctx context.Context) error {
	addresses, err := m.GetAllAddresses(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("Wallet cache loaded", zap.Int("addresses", len(addresses)))
	return nil
}
