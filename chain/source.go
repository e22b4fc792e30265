// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chain talks to the node that tracks the outputs of the wallet and
// relays its transactions.
package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/coinselect"
)

// Source is the chain data the spend engine needs.
type Source interface {
	// ListUnspent returns the unspent outputs paying to addr.
	ListUnspent(ctx context.Context,
		addr btcutil.Address) ([]coinselect.Utxo, error)

	// GetUTXO returns the unspent output at op, or ErrOutputSpent.
	GetUTXO(ctx context.Context, op wire.OutPoint) (*coinselect.Utxo, error)

	// LockUnspent locks or unlocks outputs in the node's wallet so its
	// own coin selection leaves them alone.
	LockUnspent(ctx context.Context, ops []wire.OutPoint, lock bool) error

	// ListLockedUnspent returns the outputs the node holds locked.
	ListLockedUnspent(ctx context.Context) ([]wire.OutPoint, error)

	// Broadcast relays tx and returns its txid.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}
