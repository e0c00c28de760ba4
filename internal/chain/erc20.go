package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"usdt-recharge-go/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

var (
	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic = common.BytesToHash(keccak256([]byte("Transfer(address,address,uint256)")))

	transferSelector  = keccak256([]byte("transfer(address,uint256)"))[:4]
	balanceOfSelector = keccak256([]byte("balanceOf(address)"))[:4]

	ErrNotTransferLog = errors.New("log is not an ERC-20 Transfer")
)

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// PackTransfer builds calldata for transfer(to, amount).
func PackTransfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+64)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// PackBalanceOf builds calldata for balanceOf(owner).
func PackBalanceOf(owner common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

// AddressTopic left-pads an address into an indexed-topic hash.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

// DecodeTransfer turns a Transfer log into a TransferEvent with the amount
// scaled by decimals.
func DecodeTransfer(log types.Log, decimals int32) (*models.TransferEvent, error) {
	if len(log.Topics) != 3 || log.Topics[0] != TransferTopic {
		return nil, ErrNotTransferLog
	}
	if len(log.Data) < 32 {
		return nil, fmt.Errorf("%w: data length %d", ErrNotTransferLog, len(log.Data))
	}

	raw := new(big.Int).SetBytes(log.Data[:32])
	return &models.TransferEvent{
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
		From:        strings.ToLower(common.BytesToAddress(log.Topics[1].Bytes()).Hex()),
		To:          strings.ToLower(common.BytesToAddress(log.Topics[2].Bytes()).Hex()),
		RawAmount:   raw,
		Amount:      ToDecimal(raw, decimals),
	}, nil
}

func ToDecimal(raw *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -decimals)
}

// FromDecimal converts a token amount to base units, truncating dust below
// one base unit.
func FromDecimal(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
