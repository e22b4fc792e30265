// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Status is the lifecycle state of a recorded transaction.
type Status uint8

const (
	// StatusPending is a transaction that was built but not yet relayed.
	StatusPending Status = iota

	// StatusBroadcast is a transaction the node accepted for relay.
	StatusBroadcast

	// StatusConfirmed is a transaction included in a block.
	StatusConfirmed

	// StatusAbandoned is a transaction that will never be relayed again.
	StatusAbandoned
)

// String returns the lower case name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBroadcast:
		return "broadcast"
	case StatusConfirmed:
		return "confirmed"
	case StatusAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// valid reports whether s is one of the defined statuses.
func (s Status) valid() bool {
	return s <= StatusAbandoned
}

// CanTransition reports whether a transaction may move from s to next.
// Confirmed and abandoned are final.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusBroadcast || next == StatusAbandoned
	case StatusBroadcast:
		return next == StatusConfirmed || next == StatusAbandoned
	default:
		return false
	}
}

// WalletRecord is the stored description of one wallet.
type WalletRecord struct {
	// ID uniquely names the wallet.
	ID string

	// Name is a human readable label.
	Name string

	// Address is the primary receive address.
	Address string

	// EncryptedPrivateData is the sealed secret material, see Sealer.
	EncryptedPrivateData []byte

	// Metadata holds free form key value pairs.
	Metadata map[string]string
}

// Validate checks the required fields.
func (w *WalletRecord) Validate() error {
	switch {
	case strings.TrimSpace(w.ID) == "":
		return fmt.Errorf("%w: missing wallet id", ErrInvalidRecord)

	case strings.TrimSpace(w.Name) == "":
		return fmt.Errorf("%w: missing wallet name", ErrInvalidRecord)

	case w.Address == "":
		return fmt.Errorf("%w: missing wallet address",
			ErrInvalidRecord)

	case len(w.EncryptedPrivateData) == 0:
		return fmt.Errorf("%w: missing encrypted private data",
			ErrInvalidRecord)
	}

	for k := range w.Metadata {
		if k == "" {
			return fmt.Errorf("%w: empty metadata key",
				ErrInvalidRecord)
		}
	}

	return nil
}

// TxRecord is a transaction created by a wallet.
type TxRecord struct {
	// Txid is the transaction hash.
	Txid chainhash.Hash

	// WalletID names the wallet that created the transaction.
	WalletID string

	// Timestamp is when the transaction was recorded.
	Timestamp time.Time

	// Hex is the serialized transaction.
	Hex string

	// Status is the lifecycle state.
	Status Status
}

// NewTxRecord builds a record for tx.
func NewTxRecord(walletID string, tx *wire.MsgTx, status Status,
	ts time.Time) (*TxRecord, error) {

	var buf strings.Builder
	if err := tx.Serialize(hex.NewEncoder(&buf)); err != nil {
		return nil, err
	}

	return &TxRecord{
		Txid:      tx.TxHash(),
		WalletID:  walletID,
		Timestamp: ts,
		Hex:       buf.String(),
		Status:    status,
	}, nil
}

// Validate checks the required fields and that Hex decodes to a transaction
// with the recorded txid.
func (r *TxRecord) Validate() error {
	switch {
	case r.WalletID == "":
		return fmt.Errorf("%w: missing wallet id", ErrInvalidRecord)

	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)

	case !r.Status.valid():
		return fmt.Errorf("%w: status %v", ErrInvalidRecord, r.Status)
	}

	raw, err := hex.DecodeString(r.Hex)
	if err != nil {
		return fmt.Errorf("%w: tx hex: %v", ErrInvalidRecord, err)
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w: tx: %v", ErrInvalidRecord, err)
	}

	if tx.TxHash() != r.Txid {
		return fmt.Errorf("%w: txid %v does not match tx %v",
			ErrInvalidRecord, r.Txid, tx.TxHash())
	}

	return nil
}
