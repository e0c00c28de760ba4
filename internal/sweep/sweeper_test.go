package sweep

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"usdt-recharge-go/internal/chain"
	"usdt-recharge-go/internal/database"
	"usdt-recharge-go/internal/hdwallet"
	"usdt-recharge-go/internal/models"
	"usdt-recharge-go/internal/payment"
	"usdt-recharge-go/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMnemonic = "test test test test test test test test test test test junk"
	coldAddress  = "0x000000000000000000000000000000000000c01d"
	tokenAddress = "0x55d398326f99059fF775485246999027B3197955"
)

type fakeChain struct {
	mu       sync.Mutex
	gasPrice *big.Int
	native   *big.Int
	token    *big.Int
	nonce    uint64
	sendErr  error
	sent     []*types.Transaction

	// nonceDelay widens the window between reading and using a nonce.
	nonceDelay time.Duration
}

var _ chain.Client = (*fakeChain)(nil)

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) TransferLogs(ctx context.Context, token common.Address, fromBlock, toBlock uint64, recipients []common.Address) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	nonce := f.nonce
	f.mu.Unlock()
	time.Sleep(f.nonceDelay)
	return nonce, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.native), nil
}

func (f *fakeChain) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.token), nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if tx.Nonce() != f.nonce {
		return errors.New("nonce too low")
	}
	f.nonce++
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	ledger  *database.Service
	payment *payment.Manager
	chain   *fakeChain
	sweeper *Sweeper
	wallet  *models.UserWallet
}

func newHarness(t *testing.T, cold string) *harness {
	t.Helper()
	ctx := context.Background()

	ledger, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "sweep.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
		BusyTimeout:  10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(ledger.Close)

	hd, err := hdwallet.New(testMnemonic, "")
	require.NoError(t, err)

	w, _, err := ledger.AllocateWallet(ctx, "alice", hd.DeriveAddress)
	require.NoError(t, err)

	fc := &fakeChain{
		gasPrice: big.NewInt(3_000_000_000),
		native:   new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
		token:    big.NewInt(0),
		nonce:    4,
	}

	sweeper := NewSweeper(
		models.SweepConfig{
			ColdWalletAddress: cold,
			GasLimit:          60000,
			GasReserve:        decimal.RequireFromString("0.0001"),
			QueueSize:         4,
			Workers:           1,
			RetryGracePeriod:  10 * time.Minute,
		},
		models.ChainConfig{ChainId: 56, TokenContract: tokenAddress, TokenDecimals: 18},
		fc, hd, ledger, ledger,
	)

	return &harness{
		ledger:  ledger,
		payment: payment.NewManager(ledger, models.OrderConfig{ExpireAfter: time.Hour}),
		chain:   fc,
		sweeper: sweeper,
		wallet:  w,
	}
}

func (h *harness) deposit(t *testing.T, amount, txHash string) *models.DepositOrder {
	t.Helper()
	order, err := h.payment.ConfirmOrderByAddress(context.Background(), store.ConfirmDepositParams{
		DepositAddress: h.wallet.Address,
		Amount:         decimal.RequireFromString(amount),
		TxHash:         txHash,
		FromAddress:    "0x00000000000000000000000000000000000000aa",
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusConfirmed, order.Status)
	return order
}

func (h *harness) requireStatus(t *testing.T, orderId string, status models.OrderStatus) *models.DepositOrder {
	t.Helper()
	order, err := h.ledger.GetOrder(context.Background(), orderId)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, status, order.Status)
	return order
}

func TestSweep_BroadcastsTransferAndMarksSwept(t *testing.T) {
	h := newHarness(t, coldAddress)
	order := h.deposit(t, "25", common.HexToHash("0x01").Hex())

	result, err := h.sweeper.Sweep(context.Background(), Request{
		Address:  h.wallet.Address,
		OrderIds: []string{order.OrderId},
		Amount:   order.Amount,
	})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
	require.Len(t, h.chain.sent, 1)

	tx := h.chain.sent[0]
	assert.Equal(t, result.TxHash, tx.Hash().Hex())
	assert.Equal(t, common.HexToAddress(tokenAddress), *tx.To())
	assert.Equal(t, uint64(4), tx.Nonce())
	assert.Equal(t, uint64(60000), tx.Gas())
	assert.Equal(t, 0, tx.Value().Sign())

	data := tx.Data()
	require.Len(t, data, 68)
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, data[:4])
	assert.Equal(t, common.HexToAddress(coldAddress).Bytes(), data[16:36])
	want := new(big.Int).Mul(big.NewInt(25), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	assert.Equal(t, 0, want.Cmp(new(big.Int).SetBytes(data[36:68])))

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(56)), tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(h.wallet.Address), sender)

	swept := h.requireStatus(t, order.OrderId, models.OrderStatusSwept)
	assert.Equal(t, result.TxHash, swept.SweepTxHash)
}

func TestSweep_InsufficientGasLeavesOrderConfirmed(t *testing.T) {
	h := newHarness(t, coldAddress)
	order := h.deposit(t, "10", common.HexToHash("0x02").Hex())

	// 60000 * 3 gwei + 0.0001 BNB needs 280_000_000_000_000 wei.
	h.chain.native = big.NewInt(279_999_999_999_999)

	_, err := h.sweeper.Sweep(context.Background(), Request{
		Address:  h.wallet.Address,
		OrderIds: []string{order.OrderId},
		Amount:   order.Amount,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientGas))
	assert.Equal(t, 0, h.chain.sentCount())

	h.requireStatus(t, order.OrderId, models.OrderStatusConfirmed)

	balance, err := h.payment.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)))
}

func TestSweep_BroadcastFailureLeavesOrderConfirmed(t *testing.T) {
	h := newHarness(t, coldAddress)
	order := h.deposit(t, "3", common.HexToHash("0x03").Hex())
	h.chain.sendErr = errors.New("nonce too low")

	result, err := h.sweeper.Sweep(context.Background(), Request{
		Address:  h.wallet.Address,
		OrderIds: []string{order.OrderId},
		Amount:   order.Amount,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBroadcastFailed))
	assert.Equal(t, StateFailed, result.State)

	h.requireStatus(t, order.OrderId, models.OrderStatusConfirmed)
}

func TestSweep_RequiresColdWallet(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.sweeper.Sweep(context.Background(), Request{
		Address: h.wallet.Address,
		Amount:  decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ErrColdWalletNotConfigured)

	_, err = h.sweeper.RetryStranded(context.Background())
	assert.ErrorIs(t, err, ErrColdWalletNotConfigured)
}

func TestSweep_UnknownAddress(t *testing.T) {
	h := newHarness(t, coldAddress)

	_, err := h.sweeper.Sweep(context.Background(), Request{
		Address: "0x00000000000000000000000000000000000000bb",
		Amount:  decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, store.ErrWalletNotFound)
	assert.Equal(t, 0, h.chain.sentCount())
}

func TestRetryStranded_SweepsOnChainBalance(t *testing.T) {
	h := newHarness(t, coldAddress)
	first := h.deposit(t, "2", common.HexToHash("0x04").Hex())
	second := h.deposit(t, "5", common.HexToHash("0x05").Hex())

	h.chain.token = new(big.Int).Mul(big.NewInt(7), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	h.sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	planned, err := h.sweeper.DryRun(context.Background())
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.ElementsMatch(t, []string{first.OrderId, second.OrderId}, planned[0].OrderIds)
	assert.True(t, planned[0].Amount.Equal(decimal.NewFromInt(7)))
	assert.Equal(t, 0, h.chain.sentCount())

	swept, err := h.sweeper.RetryStranded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.Equal(t, 1, h.chain.sentCount())

	h.requireStatus(t, first.OrderId, models.OrderStatusSwept)
	h.requireStatus(t, second.OrderId, models.OrderStatusSwept)
}

func TestRetryStranded_RespectsGracePeriod(t *testing.T) {
	h := newHarness(t, coldAddress)
	order := h.deposit(t, "2", common.HexToHash("0x06").Hex())
	h.chain.token = big.NewInt(1)

	swept, err := h.sweeper.RetryStranded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	h.requireStatus(t, order.OrderId, models.OrderStatusConfirmed)
}

func TestEnqueue_WorkerSweeps(t *testing.T) {
	h := newHarness(t, coldAddress)
	order := h.deposit(t, "1", common.HexToHash("0x07").Hex())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sweeper.Start(ctx)

	require.True(t, h.sweeper.Enqueue(Request{
		Address:  h.wallet.Address,
		OrderIds: []string{order.OrderId},
		Amount:   order.Amount,
	}))

	assert.Eventually(t, func() bool { return h.chain.sentCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	h.sweeper.Stop()

	h.requireStatus(t, order.OrderId, models.OrderStatusSwept)
}

func TestEnqueue_FullQueueDrops(t *testing.T) {
	h := newHarness(t, coldAddress)

	for i := 0; i < 4; i++ {
		require.True(t, h.sweeper.Enqueue(Request{Address: h.wallet.Address}))
	}
	assert.False(t, h.sweeper.Enqueue(Request{Address: h.wallet.Address}))
}

func TestSweep_SameAddressSerialized(t *testing.T) {
	h := newHarness(t, coldAddress)
	h.chain.nonceDelay = 20 * time.Millisecond
	first := h.deposit(t, "3", common.HexToHash("0x21").Hex())
	second := h.deposit(t, "4", common.HexToHash("0x22").Hex())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, order := range []*models.DepositOrder{first, second} {
		wg.Add(1)
		go func(i int, order *models.DepositOrder) {
			defer wg.Done()
			_, errs[i] = h.sweeper.Sweep(context.Background(), Request{
				Address:  h.wallet.Address,
				OrderIds: []string{order.OrderId},
				Amount:   order.Amount,
			})
		}(i, order)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 2, h.chain.sentCount())
	assert.ElementsMatch(t, []uint64{4, 5}, []uint64{h.chain.sent[0].Nonce(), h.chain.sent[1].Nonce()})
	h.requireStatus(t, first.OrderId, models.OrderStatusSwept)
	h.requireStatus(t, second.OrderId, models.OrderStatusSwept)
}
