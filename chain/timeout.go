// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/coinselect"
)

// timeoutSource bounds every call of a Source by a deadline.
type timeoutSource struct {
	src     Source
	timeout time.Duration
}

// WithTimeout returns a Source that applies timeout to each call of src. A
// call that runs out of time fails with an *Error wrapping
// ErrStatusUnknown. Any other failure is returned as an *Error as well.
func WithTimeout(src Source, timeout time.Duration) Source {
	return &timeoutSource{src: src, timeout: timeout}
}

// ListUnspent implements Source.
func (t *timeoutSource) ListUnspent(ctx context.Context,
	addr btcutil.Address) ([]coinselect.Utxo, error) {

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	utxos, err := t.src.ListUnspent(ctx, addr)

	return utxos, classify("listunspent", err)
}

// GetUTXO implements Source.
func (t *timeoutSource) GetUTXO(ctx context.Context,
	op wire.OutPoint) (*coinselect.Utxo, error) {

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	utxo, err := t.src.GetUTXO(ctx, op)

	return utxo, classify("gettxout", err)
}

// LockUnspent implements Source.
func (t *timeoutSource) LockUnspent(ctx context.Context, ops []wire.OutPoint,
	lock bool) error {

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	return classify("lockunspent", t.src.LockUnspent(ctx, ops, lock))
}

// ListLockedUnspent implements Source.
func (t *timeoutSource) ListLockedUnspent(
	ctx context.Context) ([]wire.OutPoint, error) {

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ops, err := t.src.ListLockedUnspent(ctx)

	return ops, classify("listlockunspent", err)
}

// Broadcast implements Source.
func (t *timeoutSource) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	hash, err := t.src.Broadcast(ctx, tx)

	return hash, classify("sendrawtransaction", err)
}

// classify maps a deadline to ErrStatusUnknown and makes sure every other
// failure is an *Error.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil

	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Op: op, Err: ErrStatusUnknown}
	}

	var chainErr *Error
	if errors.As(err, &chainErr) {
		return err
	}

	return &Error{Op: op, Err: err}
}
