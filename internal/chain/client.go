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

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"usdt-recharge-go/internal/metrics"
	"usdt-recharge-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

var ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")

// Client is the chain surface used by the listener and the sweeper.
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransferLogs(ctx context.Context, token common.Address, fromBlock, toBlock uint64, recipients []common.Address) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type endpoint struct {
	url     string
	client  *ethclient.Client
	breaker *gobreaker.CircuitBreaker
}

// RotatingClient spreads calls over several public RPC endpoints. A failing
// endpoint is skipped for the rest of the call and the next one becomes
// current.
type RotatingClient struct {
	endpoints []*endpoint
	limiter   *rate.Limiter
	timeout   time.Duration

	mu      sync.Mutex
	current int
}

var _ Client = (*RotatingClient)(nil)

func NewRotatingClient(ctx context.Context, cfg models.ChainConfig) (*RotatingClient, error) {
	if len(cfg.RpcEndpoints) == 0 {
		return nil, fmt.Errorf("at least one rpc endpoint is required")
	}
	if cfg.RpcTimeout <= 0 {
		return nil, fmt.Errorf("rpc timeout must be positive, got %v", cfg.RpcTimeout)
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	limit := rate.Inf
	if cfg.RpcRateLimit > 0 {
		limit = rate.Limit(cfg.RpcRateLimit)
	}

	c := &RotatingClient{
		limiter: rate.NewLimiter(limit, 1),
		timeout: cfg.RpcTimeout,
	}

	for _, url := range cfg.RpcEndpoints {
		rpcClient, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(httpClient))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("unable to dial %s: %w", url, err)
		}
		c.endpoints = append(c.endpoints, &endpoint{
			url:     url,
			client:  ethclient.NewClient(rpcClient),
			breaker: newBreaker(url),
		})
	}

	zap.L().Info("Chain client initialized",
		zap.Strings("endpoints", cfg.RpcEndpoints),
		zap.Duration("timeout", cfg.RpcTimeout))
	return c, nil
}

func newBreaker(url string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			zap.L().Info("RPC circuit breaker state changed",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func createCustomHttpClient() (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 15 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   10 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   4,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   30 * time.Second,
	}, nil
}

func (c *RotatingClient) Close() {
	for _, ep := range c.endpoints {
		ep.client.Close()
	}
}

// call runs fn against each endpoint at most once, starting from the current
// one, and returns the first success.
func call[T any](ctx context.Context, c *RotatingClient, op string, fn func(ctx context.Context, ec *ethclient.Client) (T, error)) (T, error) {
	var zero T
	var lastErr error

	c.mu.Lock()
	start := c.current
	c.mu.Unlock()

	n := len(c.endpoints)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		ep := c.endpoints[idx]

		if err := c.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("rate limiter: %w", err)
		}

		result, err := ep.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return fn(callCtx, ep.client)
		})
		if err == nil {
			c.mu.Lock()
			c.current = idx
			c.mu.Unlock()
			value, _ := result.(T)
			return value, nil
		}

		lastErr = err
		metrics.RpcFailures.WithLabelValues(ep.url).Inc()
		zap.L().Warn("RPC call failed, rotating endpoint",
			zap.String("op", op),
			zap.String("endpoint", ep.url),
			zap.Error(err))

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	c.mu.Lock()
	c.current = (start + 1) % n
	c.mu.Unlock()

	return zero, fmt.Errorf("%w: %s: %v", ErrAllEndpointsFailed, op, lastErr)
}

func (c *RotatingClient) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, "eth_blockNumber", func(ctx context.Context, ec *ethclient.Client) (uint64, error) {
		return ec.BlockNumber(ctx)
	})
}

// TransferLogs returns Transfer logs of token in [fromBlock, toBlock]. When
// recipients is non-empty only transfers to those addresses are returned.
func (c *RotatingClient) TransferLogs(ctx context.Context, token common.Address, fromBlock, toBlock uint64, recipients []common.Address) ([]types.Log, error) {
	topics := [][]common.Hash{{TransferTopic}}
	if len(recipients) > 0 {
		to := make([]common.Hash, 0, len(recipients))
		for _, r := range recipients {
			to = append(to, AddressTopic(r))
		}
		topics = append(topics, nil, to)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{token},
		Topics:    topics,
	}
	return call(ctx, c, "eth_getLogs", func(ctx context.Context, ec *ethclient.Client) ([]types.Log, error) {
		return ec.FilterLogs(ctx, query)
	})
}

func (c *RotatingClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, c, "eth_getTransactionCount", func(ctx context.Context, ec *ethclient.Client) (uint64, error) {
		return ec.PendingNonceAt(ctx, account)
	})
}

func (c *RotatingClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "eth_gasPrice", func(ctx context.Context, ec *ethclient.Client) (*big.Int, error) {
		return ec.SuggestGasPrice(ctx)
	})
}

func (c *RotatingClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return call(ctx, c, "eth_getBalance", func(ctx context.Context, ec *ethclient.Client) (*big.Int, error) {
		return ec.BalanceAt(ctx, account, nil)
	})
}

// TokenBalance reads balanceOf(owner) on the token contract.
func (c *RotatingClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	msg := ethereum.CallMsg{To: &token, Data: PackBalanceOf(owner)}
	return call(ctx, c, "eth_call", func(ctx context.Context, ec *ethclient.Client) (*big.Int, error) {
		out, err := ec.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, err
		}
		if len(out) < 32 {
			return nil, fmt.Errorf("short balanceOf result: %d bytes", len(out))
		}
		return new(big.Int).SetBytes(out[:32]), nil
	})
}

// SendTransaction broadcasts tx. An endpoint that already holds the
// transaction counts as success.
func (c *RotatingClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(ctx, c, "eth_sendRawTransaction", func(ctx context.Context, ec *ethclient.Client) (struct{}, error) {
		err := ec.SendTransaction(ctx, tx)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "already known") {
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}
