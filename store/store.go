// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store persists wallet records and the transactions they create.
// Records can live in a walletdb key value database or in a SQL database
// (sqlite or postgres).
package store

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Store is the metadata store of the wallet.
type Store interface {
	// PutWallet inserts or replaces a wallet record.
	PutWallet(ctx context.Context, w *WalletRecord) error

	// GetWallet returns the wallet with the given ID, or
	// ErrWalletNotFound.
	GetWallet(ctx context.Context, id string) (*WalletRecord, error)

	// ListWallets returns all wallets ordered by ID.
	ListWallets(ctx context.Context) ([]*WalletRecord, error)

	// PutTx inserts or replaces a transaction record. The wallet must
	// exist.
	PutTx(ctx context.Context, tx *TxRecord) error

	// UpdateTxStatus moves a transaction to status.
	UpdateTxStatus(ctx context.Context, txid chainhash.Hash,
		status Status) error

	// ListTxs returns the transactions of a wallet ordered by timestamp
	// and then txid.
	ListTxs(ctx context.Context, walletID string) ([]*TxRecord, error)

	// Close releases the database.
	Close() error
}
