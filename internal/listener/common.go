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
	"sync"
	"time"

	"usdt-recharge-go/internal/chain"
	"usdt-recharge-go/internal/metrics"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/notify"
	"usdt-recharge-go/internal/store"
	"usdt-recharge-go/internal/sweep"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// maxTopicAddresses bounds the recipient list of one eth_getLogs filter.
const maxTopicAddresses = 500

// AddressBook resolves hot deposit addresses. *wallet.Manager satisfies it.
type AddressBook interface {
	GetAllAddresses(ctx context.Context) (map[string]struct{}, error)
	GetUserByAddress(ctx context.Context, address string) (string, error)
}

// Reconciler credits observed transfers. *payment.Manager satisfies it.
type Reconciler interface {
	ConfirmOrderByAddress(ctx context.Context, params store.ConfirmDepositParams) (*models.DepositOrder, error)
	ExpireOldOrders(ctx context.Context) (int64, error)
	GetBalance(ctx context.Context, userId string) (decimal.Decimal, error)
}

// SweepQueue accepts sweep work without blocking. *sweep.Sweeper satisfies it.
type SweepQueue interface {
	Enqueue(req sweep.Request) bool
}

// ChainListenerConfig contains configuration for ChainListener
type ChainListenerConfig struct {
	Client    chain.Client
	Wallets   AddressBook
	Payments  Reconciler
	Notifier  notify.Notifier
	Sweeper   SweepQueue
	Chain     models.ChainConfig
	Available bool // false when no HD seed is configured
}

// ChainListener polls the token contract for Transfer logs into hot
// addresses and reconciles them into user balances.
type ChainListener struct {
	client   chain.Client
	wallets  AddressBook
	payments Reconciler
	notifier notify.Notifier
	sweeper  SweepQueue

	available    bool
	token        common.Address
	decimals     int32
	pollInterval time.Duration
	lookback     uint64
	window       uint64

	// cursor is the last block fully processed. The poll goroutine writes
	// it; Cursor may read it from anywhere.
	cursorMu  sync.RWMutex
	cursor    uint64
	cursorSet bool

	// seen holds tx hashes handled in this process with their insertion order
	mutex   sync.Mutex
	seen    map[string]uint64
	seenSeq uint64
	maxSeen int

	lifecycleMu sync.Mutex
	stopChan    chan struct{}
	doneChan    chan struct{}
	started     bool
	stopOnce    sync.Once
}

// NewChainListener creates a new chain listener
func NewChainListener(cfg ChainListenerConfig) *ChainListener {
	maxSeen := cfg.Chain.MaxSeenHashes
	if maxSeen <= 0 {
		maxSeen = 10000
	}
	window := cfg.Chain.QueryWindow
	if window == 0 {
		window = 5000
	}
	pollInterval := cfg.Chain.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	return &ChainListener{
		client:       cfg.Client,
		wallets:      cfg.Wallets,
		payments:     cfg.Payments,
		notifier:     notifier,
		sweeper:      cfg.Sweeper,
		available:    cfg.Available,
		token:        common.HexToAddress(cfg.Chain.TokenContract),
		decimals:     cfg.Chain.TokenDecimals,
		pollInterval: pollInterval,
		lookback:     cfg.Chain.LookbackBlocks,
		window:       window,
		seen:         make(map[string]uint64),
		maxSeen:      maxSeen,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

func (l *ChainListener) isSeen(txHash string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	_, ok := l.seen[txHash]
	return ok
}

// markSeen records txHash. Past the cap it keeps the most recent half.
func (l *ChainListener) markSeen(txHash string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.seenSeq++
	l.seen[txHash] = l.seenSeq

	if len(l.seen) <= l.maxSeen {
		return
	}
	keepFrom := l.seenSeq - uint64(l.maxSeen/2)
	for hash, seq := range l.seen {
		if seq <= keepFrom {
			delete(l.seen, hash)
		}
	}
}

func (l *ChainListener) seenCount() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.seen)
}

// Cursor returns the last processed block and whether polling has begun.
func (l *ChainListener) Cursor() (uint64, bool) {
	l.cursorMu.RLock()
	defer l.cursorMu.RUnlock()
	return l.cursor, l.cursorSet
}

func (l *ChainListener) setCursor(block uint64) {
	l.cursorMu.Lock()
	l.cursor = block
	l.cursorSet = true
	l.cursorMu.Unlock()
	metrics.ListenerCursor.Set(float64(block))
}

func chunkAddresses(addresses map[string]struct{}, size int) [][]common.Address {
	var chunks [][]common.Address
	current := make([]common.Address, 0, size)
	for addr := range addresses {
		current = append(current, common.HexToAddress(addr))
		if len(current) == size {
			chunks = append(chunks, current)
			current = make([]common.Address, 0, size)
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
