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

// Package hdwallet derives BIP-44 Ethereum-style accounts from a mnemonic
// and signs transactions with keys that live only for the duration of a call.
package hdwallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrNotConfigured   = errors.New("hd wallet seed not configured")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// PathTemplate is the derivation path of deposit account i.
const PathTemplate = "m/44'/60'/0'/0/%d"

// Wallet holds the extended key for m/44'/60'/0'/0. Child keys are derived
// on demand.
type Wallet struct {
	external *hdkeychain.ExtendedKey
}

func New(mnemonic, passphrase string) (*Wallet, error) {
	if mnemonic == "" {
		return nil, ErrNotConfigured
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	defer zeroBytes(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("unable to create master key: %w", err)
	}

	key := master
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
	}
	for _, index := range path {
		child, err := key.Derive(index)
		key.Zero()
		if err != nil {
			return nil, fmt.Errorf("unable to derive child %d: %w", index, err)
		}
		key = child
	}

	return &Wallet{external: key}, nil
}

func Path(index uint32) string {
	return fmt.Sprintf(PathTemplate, index)
}

// DeriveAddress returns the checksummed address of account index.
func (w *Wallet) DeriveAddress(index uint32) (string, error) {
	key, err := w.PrivateKey(index)
	if err != nil {
		return "", err
	}
	defer Zero(key)
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// PrivateKey derives the signing key of account index. Callers must Zero it.
func (w *Wallet) PrivateKey(index uint32) (*ecdsa.PrivateKey, error) {
	if w == nil || w.external == nil {
		return nil, ErrNotConfigured
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("index %d out of range", index)
	}

	child, err := w.external.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("unable to derive %s: %w", Path(index), err)
	}
	defer child.Zero()

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("unable to extract private key for %s: %w", Path(index), err)
	}
	raw := priv.Serialize()
	defer zeroBytes(raw)
	priv.Zero()

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("unable to convert key for %s: %w", Path(index), err)
	}
	return key, nil
}

// SignTx signs tx for chainId with the key of account index and discards
// the key before returning.
func (w *Wallet) SignTx(index uint32, tx *types.Transaction, chainId *big.Int) (*types.Transaction, error) {
	key, err := w.PrivateKey(index)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainId), key)
	if err != nil {
		return nil, fmt.Errorf("unable to sign transaction: %w", err)
	}
	return signed, nil
}

// Zero overwrites the private scalar in place.
func Zero(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	words := key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	key.D.SetInt64(0)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
