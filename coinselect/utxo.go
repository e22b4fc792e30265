// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"bytes"
	"cmp"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
)

// Utxo is an unspent output the wallet may spend. Its identity is the
// outpoint.
type Utxo struct {
	// OutPoint identifies the output on chain.
	OutPoint wire.OutPoint

	// Address is the encoded address the output pays to.
	Address string

	// Type is the address type of the output, which decides how the
	// input is signed and what it costs to spend.
	Type address.Type

	// PkScript is the output script.
	PkScript []byte

	// Value is the output amount.
	Value btcutil.Amount

	// Confirmations is the number of blocks that confirm the output. An
	// unconfirmed output has zero.
	Confirmations int64

	// Spendable is true when the wallet holds the keys for the output.
	Spendable bool

	// Solvable is true when the wallet knows how to build the witness or
	// signature script for the output.
	Solvable bool

	// RedeemScript is the P2SH redeem script for nested segwit outputs.
	RedeemScript []byte

	// WitnessScript is the witness script for script path spends.
	WitnessScript []byte

	// IsChange marks outputs created as change by the wallet.
	IsChange bool
}

// Equal reports whether both UTXOs carry identical data.
func (u *Utxo) Equal(o *Utxo) bool {
	if u == nil || o == nil {
		return u == o
	}

	return u.OutPoint == o.OutPoint &&
		u.Address == o.Address &&
		u.Type == o.Type &&
		bytes.Equal(u.PkScript, o.PkScript) &&
		u.Value == o.Value &&
		u.Confirmations == o.Confirmations &&
		u.Spendable == o.Spendable &&
		u.Solvable == o.Solvable &&
		bytes.Equal(u.RedeemScript, o.RedeemScript) &&
		bytes.Equal(u.WitnessScript, o.WitnessScript) &&
		u.IsChange == o.IsChange
}

// Eligible reports whether the output can be used as a transaction input.
func (u *Utxo) Eligible() bool {
	return u.Spendable && u.Solvable && u.Value > 0
}

// TxOut returns the output as it appears on chain.
func (u *Utxo) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(u.Value), u.PkScript)
}

// CompareOutPoints orders outpoints by txid bytes and then by index.
func CompareOutPoints(a, b wire.OutPoint) int {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c
	}

	return cmp.Compare(a.Index, b.Index)
}

// Sum returns the total value of the given UTXOs.
func Sum(utxos []Utxo) btcutil.Amount {
	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Value
	}

	return total
}
