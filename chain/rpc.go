// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/coinselect"
)

const (
	// maxConfirmations is the upper bound passed to listunspent.
	maxConfirmations = 9999999
)

// nodeClient is the subset of the RPC client used by RPCSource.
type nodeClient interface {
	ListUnspentMinMaxAddresses(minConf, maxConf int,
		addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)

	GetTxOut(txHash *chainhash.Hash, index uint32,
		mempool bool) (*btcjson.GetTxOutResult, error)

	LockUnspent(unlock bool, ops []*wire.OutPoint) error

	ListLockUnspent() ([]*wire.OutPoint, error)

	SendRawTransaction(tx *wire.MsgTx,
		allowHighFees bool) (*chainhash.Hash, error)
}

// Compile time assert the implementation.
var _ nodeClient = (*rpcclient.Client)(nil)

// RPCConfig holds the connection options of a node.
type RPCConfig struct {
	// Host is the host:port of the node's RPC server.
	Host string

	// User and Pass authenticate the RPC connection.
	User string
	Pass string

	// Certificates are the PEM encoded TLS certificates of the node. They
	// are ignored when DisableTLS is set.
	Certificates []byte

	// DisableTLS connects over plain HTTP.
	DisableTLS bool
}

// RPCSource is a Source backed by a node's JSON-RPC interface.
type RPCSource struct {
	client nodeClient
	params *chaincfg.Params

	// MinConf is the confirmation count an output needs to be listed.
	MinConf int
}

// A compile-time assertion to ensure RPCSource implements Source.
var _ Source = (*RPCSource)(nil)

// NewRPCSource dials the node described by cfg in HTTP POST mode.
func NewRPCSource(cfg *RPCConfig, params *chaincfg.Params) (*RPCSource,
	*rpcclient.Client, error) {

	connCfg := &rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		Certificates:         cfg.Certificates,
		DisableTLS:           cfg.DisableTLS,
		DisableAutoReconnect: false,
		DisableConnectOnNew:  true,
		HTTPPostMode:         true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, nil, &Error{Op: "connect", Err: err}
	}

	return newRPCSource(client, params), client, nil
}

// newRPCSource wraps an already connected client.
func newRPCSource(client nodeClient, params *chaincfg.Params) *RPCSource {
	return &RPCSource{
		client:  client,
		params:  params,
		MinConf: 1,
	}
}

// ListUnspent returns the unspent outputs paying to addr.
func (r *RPCSource) ListUnspent(ctx context.Context,
	addr btcutil.Address) ([]coinselect.Utxo, error) {

	results, err := call(ctx, "listunspent", func() (
		[]btcjson.ListUnspentResult, error) {

		return r.client.ListUnspentMinMaxAddresses(
			r.MinConf, maxConfirmations, []btcutil.Address{addr},
		)
	})
	if err != nil {
		return nil, err
	}

	utxos := make([]coinselect.Utxo, 0, len(results))
	for _, res := range results {
		utxo, err := utxoFromListUnspent(&res)
		if err != nil {
			return nil, &Error{Op: "listunspent", Err: err}
		}

		utxos = append(utxos, *utxo)
	}

	log.Debugf("Node listed %d unspent outputs for %v", len(utxos), addr)

	return utxos, nil
}

// GetUTXO returns the unspent output at op.
func (r *RPCSource) GetUTXO(ctx context.Context,
	op wire.OutPoint) (*coinselect.Utxo, error) {

	res, err := call(ctx, "gettxout", func() (*btcjson.GetTxOutResult,
		error) {

		return r.client.GetTxOut(&op.Hash, op.Index, true)
	})
	if err != nil {
		return nil, err
	}

	// A spent output is reported as a null result.
	if res == nil {
		return nil, &Error{
			Op:  "gettxout",
			Err: fmt.Errorf("%w: %v", ErrOutputSpent, op),
		}
	}

	utxo, err := r.utxoFromTxOut(op, res)
	if err != nil {
		return nil, &Error{Op: "gettxout", Err: err}
	}

	return utxo, nil
}

// LockUnspent locks or unlocks outputs in the node's wallet.
func (r *RPCSource) LockUnspent(ctx context.Context, ops []wire.OutPoint,
	lock bool) error {

	ptrs := make([]*wire.OutPoint, len(ops))
	for i := range ops {
		ptrs[i] = &ops[i]
	}

	_, err := call(ctx, "lockunspent", func() (struct{}, error) {
		return struct{}{}, r.client.LockUnspent(!lock, ptrs)
	})

	return err
}

// ListLockedUnspent returns the outputs the node holds locked.
func (r *RPCSource) ListLockedUnspent(
	ctx context.Context) ([]wire.OutPoint, error) {

	ptrs, err := call(ctx, "listlockunspent", r.client.ListLockUnspent)
	if err != nil {
		return nil, err
	}

	ops := make([]wire.OutPoint, 0, len(ptrs))
	for _, op := range ptrs {
		ops = append(ops, *op)
	}

	return ops, nil
}

// Broadcast relays tx. High fees are refused by the node.
func (r *RPCSource) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	return call(ctx, "sendrawtransaction", func() (*chainhash.Hash,
		error) {

		return r.client.SendRawTransaction(tx, false)
	})
}

// call runs a blocking RPC and gives up when ctx is done. The RPC itself
// keeps running in the background and its result is dropped.
func call[T any](ctx context.Context, op string, f func() (T, error)) (T,
	error) {

	type result struct {
		val T
		err error
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, &Error{Op: op, Err: err}
	}

	done := make(chan result, 1)
	go func() {
		val, err := f()
		done <- result{val: val, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return zero, &Error{Op: op, Err: res.err}
		}

		return res.val, nil

	case <-ctx.Done():
		return zero, &Error{Op: op, Err: ctx.Err()}
	}
}

// utxoFromListUnspent converts a listunspent entry.
func utxoFromListUnspent(res *btcjson.ListUnspentResult) (*coinselect.Utxo,
	error) {

	hash, err := chainhash.NewHashFromStr(res.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: txid %q: %v", ErrInvalidResponse,
			res.TxID, err)
	}

	pkScript, err := hex.DecodeString(res.ScriptPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: script: %v", ErrInvalidResponse, err)
	}

	amount, err := btcutil.NewAmount(res.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrInvalidResponse, err)
	}

	var redeemScript []byte
	if res.RedeemScript != "" {
		redeemScript, err = hex.DecodeString(res.RedeemScript)
		if err != nil {
			return nil, fmt.Errorf("%w: redeem script: %v",
				ErrInvalidResponse, err)
		}
	}

	typ, solvable := scriptType(pkScript)

	return &coinselect.Utxo{
		OutPoint:      wire.OutPoint{Hash: *hash, Index: res.Vout},
		Address:       res.Address,
		Type:          typ,
		PkScript:      pkScript,
		Value:         amount,
		Confirmations: res.Confirmations,
		Spendable:     res.Spendable,
		Solvable:      solvable,
		RedeemScript:  redeemScript,
	}, nil
}

// utxoFromTxOut converts a gettxout result.
func (r *RPCSource) utxoFromTxOut(op wire.OutPoint,
	res *btcjson.GetTxOutResult) (*coinselect.Utxo, error) {

	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("%w: script: %v", ErrInvalidResponse, err)
	}

	amount, err := btcutil.NewAmount(res.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrInvalidResponse, err)
	}

	var addr string
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, r.params)
	if err == nil && len(addrs) == 1 {
		addr = addrs[0].EncodeAddress()
	}

	typ, solvable := scriptType(pkScript)

	// The UTXO set does not know who owns the output, ownership is
	// decided by the key ring at signing time.
	return &coinselect.Utxo{
		OutPoint:      op,
		Address:       addr,
		Type:          typ,
		PkScript:      pkScript,
		Value:         amount,
		Confirmations: res.Confirmations,
		Spendable:     true,
		Solvable:      solvable,
	}, nil
}

// scriptType classifies pkScript. Scripts of no supported type are not
// solvable.
func scriptType(pkScript []byte) (address.Type, bool) {
	typ, err := address.TypeOfScript(pkScript)
	if err != nil {
		return address.Legacy, false
	}

	return typ, true
}
