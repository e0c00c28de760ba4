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

package models

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TransferEvent is a decoded ERC-20 Transfer log
type TransferEvent struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	From        string // lower-cased 0x address
	To          string // lower-cased 0x address
	RawAmount   *big.Int
	Amount      decimal.Decimal
}
