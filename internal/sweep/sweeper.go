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

package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"usdt-recharge-go/internal/chain"
	"usdt-recharge-go/internal/hdwallet"
	"usdt-recharge-go/internal/metrics"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrColdWalletNotConfigured = errors.New("cold wallet address not configured")
	ErrInsufficientGas         = errors.New("insufficient native balance for gas")
	ErrBroadcastFailed         = errors.New("sweep broadcast failed")
)

type State string

const (
	StateTriggered  State = "triggered"
	StateGasChecked State = "gas_checked"
	StateSigned     State = "signed"
	StateBroadcast  State = "broadcast"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

const nativeDecimals = 18

// Request asks for Amount tokens at Address to be moved to the cold wallet.
// OrderIds are marked swept once the transfer is broadcast.
type Request struct {
	Address  string
	OrderIds []string
	Amount   decimal.Decimal
}

type Result struct {
	Address string
	TxHash  string
	Amount  decimal.Decimal
	State   State
}

// Signer signs with the key of an HD index. *hdwallet.Wallet satisfies it.
type Signer interface {
	SignTx(index uint32, tx *types.Transaction, chainId *big.Int) (*types.Transaction, error)
}

type WalletLookup interface {
	GetWalletByAddress(ctx context.Context, address string) (*models.UserWallet, error)
}

type OrderStore interface {
	MarkOrderSwept(ctx context.Context, orderId, sweepTxHash string) error
	ListUnsweptOrders(ctx context.Context, confirmedBefore time.Time) ([]models.DepositOrder, error)
}

// Sweeper drains hot deposit addresses into the cold wallet. Work arrives
// through Enqueue and is served by a fixed pool of workers.
type Sweeper struct {
	cfg      models.SweepConfig
	chainId  *big.Int
	token    common.Address
	decimals int32

	client  chain.Client
	signer  Signer
	wallets WalletLookup
	orders  OrderStore

	// locks holds one mutex per hot address; sweeps from an address share its nonce.
	locks sync.Map

	queue    chan Request
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewSweeper accepts a nil signer; sweeps then fail with hdwallet.ErrNotConfigured.
func NewSweeper(cfg models.SweepConfig, chainCfg models.ChainConfig, client chain.Client, signer Signer, wallets WalletLookup, orders OrderStore) *Sweeper {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Sweeper{
		cfg:      cfg,
		chainId:  big.NewInt(chainCfg.ChainId),
		token:    common.HexToAddress(chainCfg.TokenContract),
		decimals: chainCfg.TokenDecimals,
		client:   client,
		signer:   signer,
		wallets:  wallets,
		orders:   orders,
		queue:    make(chan Request, queueSize),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Sweeper) lockAddress(address string) func() {
	v, _ := s.locks.LoadOrStore(strings.ToLower(address), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Sweeper) coldAddress() (common.Address, error) {
	if !common.IsHexAddress(s.cfg.ColdWalletAddress) {
		return common.Address{}, ErrColdWalletNotConfigured
	}
	return common.HexToAddress(s.cfg.ColdWalletAddress), nil
}

// Sweep runs one sweep to completion: gas check, sign, broadcast, then mark
// the request's orders swept. Orders stay confirmed on any failure.
func (s *Sweeper) Sweep(ctx context.Context, req Request) (*Result, error) {
	result := &Result{Address: req.Address, Amount: req.Amount, State: StateTriggered}

	cold, err := s.coldAddress()
	if err != nil {
		zap.L().Warn("Sweep skipped, cold wallet not configured", zap.String("address", req.Address))
		return result, err
	}
	if s.signer == nil {
		return result, hdwallet.ErrNotConfigured
	}

	unlock := s.lockAddress(req.Address)
	defer unlock()

	wallet, err := s.wallets.GetWalletByAddress(ctx, req.Address)
	if err != nil {
		return result, fmt.Errorf("unable to look up wallet: %w", err)
	}
	if wallet == nil {
		zap.L().Error("Sweep skipped, no wallet for hot address", zap.String("address", req.Address))
		return result, fmt.Errorf("%w: %s", store.ErrWalletNotFound, req.Address)
	}
	hot := common.HexToAddress(wallet.Address)

	raw := chain.FromDecimal(req.Amount, s.decimals)
	if raw.Sign() <= 0 {
		return result, fmt.Errorf("%w: sweep amount %s", store.ErrInvalidAmount, req.Amount.String())
	}

	zap.L().Info("Sweep triggered",
		zap.String("address", wallet.Address),
		zap.Strings("order_ids", req.OrderIds),
		zap.String("amount", req.Amount.String()))

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return s.fail(result, fmt.Errorf("unable to get gas price: %w", err))
	}
	native, err := s.client.BalanceAt(ctx, hot)
	if err != nil {
		return s.fail(result, fmt.Errorf("unable to get native balance: %w", err))
	}

	required := new(big.Int).Mul(new(big.Int).SetUint64(s.cfg.GasLimit), gasPrice)
	required.Add(required, chain.FromDecimal(s.cfg.GasReserve, nativeDecimals))
	if native.Cmp(required) < 0 {
		metrics.Sweeps.WithLabelValues(metrics.SweepInsufficientGas).Inc()
		zap.L().Warn("Sweep skipped, hot wallet lacks gas",
			zap.String("address", wallet.Address),
			zap.String("native_balance", chain.ToDecimal(native, nativeDecimals).String()),
			zap.String("required", chain.ToDecimal(required, nativeDecimals).String()))
		return result, fmt.Errorf("%w: have %s, need %s wei", ErrInsufficientGas, native.String(), required.String())
	}
	result.State = StateGasChecked

	nonce, err := s.client.PendingNonceAt(ctx, hot)
	if err != nil {
		return s.fail(result, fmt.Errorf("unable to get nonce: %w", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      s.cfg.GasLimit,
		To:       &s.token,
		Value:    big.NewInt(0),
		Data:     chain.PackTransfer(cold, raw),
	})

	signed, err := s.signer.SignTx(wallet.WalletIndex, tx, s.chainId)
	if err != nil {
		return s.fail(result, fmt.Errorf("unable to sign sweep: %w", err))
	}
	sender, err := types.Sender(types.NewEIP155Signer(s.chainId), signed)
	if err != nil || sender != hot {
		return s.fail(result, fmt.Errorf("signed sweep sender %s does not match hot address %s", sender.Hex(), hot.Hex()))
	}
	result.State = StateSigned
	result.TxHash = signed.Hash().Hex()

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		zap.L().Error("Sweep broadcast failed",
			zap.String("address", wallet.Address),
			zap.String("tx_hash", result.TxHash),
			zap.Error(err))
		return s.fail(result, fmt.Errorf("%w: %v", ErrBroadcastFailed, err))
	}
	result.State = StateBroadcast

	for _, orderId := range req.OrderIds {
		if err := s.orders.MarkOrderSwept(ctx, orderId, result.TxHash); err != nil {
			zap.L().Warn("Failed to mark order swept",
				zap.String("order_id", orderId),
				zap.String("sweep_tx_hash", result.TxHash),
				zap.Error(err))
		}
	}
	result.State = StateSucceeded
	metrics.Sweeps.WithLabelValues(metrics.SweepSucceeded).Inc()

	zap.L().Info("Sweep broadcast to cold wallet",
		zap.String("address", wallet.Address),
		zap.String("amount", req.Amount.String()),
		zap.String("sweep_tx_hash", result.TxHash))
	return result, nil
}

func (s *Sweeper) fail(result *Result, err error) (*Result, error) {
	result.State = StateFailed
	metrics.Sweeps.WithLabelValues(metrics.SweepFailed).Inc()
	return result, err
}

// Enqueue hands a request to the workers without blocking. It reports false
// when the queue is full; the stranded-sweep job picks such orders up later.
func (s *Sweeper) Enqueue(req Request) bool {
	select {
	case s.queue <- req:
		return true
	default:
		zap.L().Warn("Sweep queue full, request dropped",
			zap.String("address", req.Address),
			zap.Strings("order_ids", req.OrderIds))
		return false
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	zap.L().Info("Sweep workers started", zap.Int("workers", workers))
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	zap.L().Info("Sweep workers stopped")
}

func (s *Sweeper) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case req := <-s.queue:
			sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			if _, err := s.Sweep(sweepCtx, req); err != nil && !errors.Is(err, ErrInsufficientGas) {
				zap.L().Error("Sweep failed",
					zap.Int("worker", id),
					zap.String("address", req.Address),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// RetryStranded sweeps the on-chain token balance of every address holding
// confirmed orders older than the grace period. It returns the number of
// addresses swept.
func (s *Sweeper) RetryStranded(ctx context.Context) (int, error) {
	if _, err := s.coldAddress(); err != nil {
		return 0, err
	}

	orders, err := s.orders.ListUnsweptOrders(ctx, s.now().Add(-s.cfg.RetryGracePeriod))
	if err != nil {
		return 0, fmt.Errorf("unable to list unswept orders: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	byAddress := make(map[string][]string)
	var addresses []string
	for _, o := range orders {
		key := strings.ToLower(o.DepositAddress)
		if _, ok := byAddress[key]; !ok {
			addresses = append(addresses, key)
		}
		byAddress[key] = append(byAddress[key], o.OrderId)
	}

	zap.L().Info("Retrying stranded sweeps",
		zap.Int("orders", len(orders)),
		zap.Int("addresses", len(addresses)))

	swept := 0
	for _, addr := range addresses {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}

		balance, err := s.client.TokenBalance(ctx, s.token, common.HexToAddress(addr))
		if err != nil {
			zap.L().Warn("Unable to read token balance", zap.String("address", addr), zap.Error(err))
			continue
		}
		if balance.Sign() == 0 {
			zap.L().Warn("Confirmed orders on an empty hot address",
				zap.String("address", addr),
				zap.Strings("order_ids", byAddress[addr]))
			continue
		}

		_, err = s.Sweep(ctx, Request{
			Address:  addr,
			OrderIds: byAddress[addr],
			Amount:   chain.ToDecimal(balance, s.decimals),
		})
		if err != nil {
			zap.L().Warn("Stranded sweep not completed", zap.String("address", addr), zap.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

// DryRun lists what RetryStranded would sweep without touching the chain
// beyond balance reads.
func (s *Sweeper) DryRun(ctx context.Context) ([]Request, error) {
	orders, err := s.orders.ListUnsweptOrders(ctx, s.now().Add(-s.cfg.RetryGracePeriod))
	if err != nil {
		return nil, fmt.Errorf("unable to list unswept orders: %w", err)
	}

	index := make(map[string]int)
	var requests []Request
	for _, o := range orders {
		key := strings.ToLower(o.DepositAddress)
		i, ok := index[key]
		if !ok {
			i = len(requests)
			index[key] = i
			requests = append(requests, Request{Address: key})
		}
		requests[i].OrderIds = append(requests[i].OrderIds, o.OrderId)
	}

	for i := range requests {
		balance, err := s.client.TokenBalance(ctx, s.token, common.HexToAddress(requests[i].Address))
		if err != nil {
			return nil, fmt.Errorf("unable to read token balance of %s: %w", requests[i].Address, err)
		}
		requests[i].Amount = chain.ToDecimal(balance, s.decimals)
	}
	return requests, nil
}
