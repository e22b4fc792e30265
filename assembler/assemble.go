// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package assembler turns selected UTXOs and payment outputs into an
// unsigned transaction, signs every input with the scheme its output type
// requires and verifies the result with the script engine.
package assembler

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrMalformedTransaction is returned when a transaction cannot be
	// built or parsed from its parts.
	ErrMalformedTransaction = errors.New("malformed transaction")

	// ErrDustOutputRejected is returned when an output pays less than the
	// dust limit.
	ErrDustOutputRejected = errors.New("dust output rejected")

	// ErrSignatureVerificationFailed is returned when a signed input does
	// not pass script verification.
	ErrSignatureVerificationFailed = errors.New(
		"signature verification failed",
	)
)

// DefaultDustLimit is the fixed dust threshold applied to every output.
const DefaultDustLimit btcutil.Amount = 546

// Config holds the output policy of an Assembler.
type Config struct {
	// DustLimit is the smallest accepted output value. Zero means
	// DefaultDustLimit.
	DustLimit btcutil.Amount

	// RelayFeePerKb is the relay fee used for the relay policy dust check.
	// Zero means txrules.DefaultRelayFeePerKb.
	RelayFeePerKb btcutil.Amount

	// RandomizeChange moves the change output to a random position.
	RandomizeChange bool
}

// Template describes a transaction to assemble.
type Template struct {
	// Inputs are the UTXOs to spend, in input order.
	Inputs []coinselect.Utxo

	// Outputs are the payment outputs.
	Outputs []*wire.TxOut

	// Change is an optional change output appended after the payments.
	Change fn.Option[*wire.TxOut]

	// Version is the transaction version. Zero means wire.TxVersion.
	Version int32

	// LockTime is the transaction lock time.
	LockTime uint32
}

// Assembler builds unsigned transactions under an output policy.
type Assembler struct {
	cfg Config
}

// New returns an assembler for the given policy.
func New(cfg Config) *Assembler {
	if cfg.DustLimit == 0 {
		cfg.DustLimit = DefaultDustLimit
	}
	if cfg.RelayFeePerKb == 0 {
		cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}

	return &Assembler{cfg: cfg}
}

// Assemble builds the unsigned transaction of tmpl. It rejects templates
// without inputs or outputs, duplicate inputs, outputs worth more than the
// inputs and any output below the dust limit.
func (a *Assembler) Assemble(tmpl *Template) (*txauthor.AuthoredTx, error) {
	if tmpl == nil || len(tmpl.Inputs) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrMalformedTransaction)
	}

	outputs := append([]*wire.TxOut(nil), tmpl.Outputs...)
	changeIndex := -1
	tmpl.Change.WhenSome(func(change *wire.TxOut) {
		changeIndex = len(outputs)
		outputs = append(outputs, change)
	})

	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs", ErrMalformedTransaction)
	}

	version := tmpl.Version
	if version == 0 {
		version = wire.TxVersion
	}

	tx := wire.NewMsgTx(version)
	tx.LockTime = tmpl.LockTime

	var (
		seen        = fn.NewSet[wire.OutPoint]()
		prevScripts = make([][]byte, 0, len(tmpl.Inputs))
		prevValues  = make([]btcutil.Amount, 0, len(tmpl.Inputs))
		totalIn     btcutil.Amount
	)
	for _, in := range tmpl.Inputs {
		if seen.Contains(in.OutPoint) {
			return nil, fmt.Errorf("%w: duplicate input %v",
				ErrMalformedTransaction, in.OutPoint)
		}
		seen.Add(in.OutPoint)

		if in.Value <= 0 || len(in.PkScript) == 0 {
			return nil, fmt.Errorf("%w: input %v has no value or "+
				"script", ErrMalformedTransaction, in.OutPoint)
		}

		op := in.OutPoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevScripts = append(prevScripts, in.PkScript)
		prevValues = append(prevValues, in.Value)
		totalIn += in.Value
	}

	var totalOut btcutil.Amount
	for i, out := range outputs {
		if out == nil {
			return nil, fmt.Errorf("%w: nil output %d",
				ErrMalformedTransaction, i)
		}

		if err := a.checkOutput(out); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}

		tx.AddTxOut(out)
		totalOut += btcutil.Amount(out.Value)
	}

	if totalOut > totalIn {
		return nil, fmt.Errorf("%w: outputs %v exceed inputs %v",
			ErrMalformedTransaction, totalOut, totalIn)
	}

	authored := &txauthor.AuthoredTx{
		Tx:              tx,
		PrevScripts:     prevScripts,
		PrevInputValues: prevValues,
		TotalInput:      totalIn,
		ChangeIndex:     changeIndex,
	}

	if a.cfg.RandomizeChange && changeIndex >= 0 {
		authored.RandomizeChangePosition()
	}

	log.Debugf("Assembled tx %v: %d inputs, %d outputs, fee %v",
		tx.TxHash(), len(tx.TxIn), len(tx.TxOut), totalIn-totalOut)

	return authored, nil
}

// checkOutput applies the dust limit and the relay policy to an output.
// Zero value data carrier outputs are exempt from the dust check.
func (a *Assembler) checkOutput(out *wire.TxOut) error {
	if txscript.GetScriptClass(out.PkScript) == txscript.NullDataTy &&
		out.Value == 0 {

		return nil
	}

	if btcutil.Amount(out.Value) < a.cfg.DustLimit {
		return fmt.Errorf("%w: %v below %v", ErrDustOutputRejected,
			btcutil.Amount(out.Value), a.cfg.DustLimit)
	}

	err := txrules.CheckOutput(out, a.cfg.RelayFeePerKb)
	switch {
	case errors.Is(err, txrules.ErrOutputIsDust):
		return fmt.Errorf("%w: %v", ErrDustOutputRejected, err)

	case err != nil:
		return fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	return nil
}

// SerializeHex returns the hex encoding of the transaction including its
// witness data.
func SerializeHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeHex parses a hex encoded transaction.
func DeserializeHex(s string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	return tx, nil
}
