// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privacy

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/assembler"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcspend/fees"
	"github.com/btcsuite/btcspend/pkg/btcunit"
)

// PayJoin is an unsigned PayJoin proposal.
type PayJoin struct {
	// Tx is the unsigned proposal.
	Tx *wire.MsgTx

	// Packet is the proposal as a PSBT with every spent output attached.
	Packet *psbt.Packet

	// OriginalTxid is the hash of the sender's original transaction.
	OriginalTxid chainhash.Hash

	// ReceiverInputs are the outpoints the receiver added.
	ReceiverInputs []wire.OutPoint

	// ReceiverFee is the fee the receiver pays for its inputs.
	ReceiverFee btcutil.Amount

	// ReceiverOutputIndex is the position of the receiver's output.
	ReceiverOutputIndex int
}

// BuildPayJoin turns the sender's original transaction into a PayJoin
// proposal by adding receiverUtxos as inputs. The receiver output grows by
// the added input value minus the fee for the added inputs at rate, so the
// sender's change and fee stay as they were.
func (b *Builder) BuildPayJoin(original *wire.MsgTx, senderUtxos,
	receiverUtxos []coinselect.Utxo, amount btcutil.Amount,
	receiverScript []byte, rate btcunit.SatPerVByte) (*PayJoin, error) {

	if original == nil || len(original.TxIn) == 0 {
		return nil, fmt.Errorf("%w: no inputs", ErrPayJoinInvalidOriginal)
	}

	receiverIdx := -1
	for i, out := range original.TxOut {
		if bytes.Equal(out.PkScript, receiverScript) &&
			btcutil.Amount(out.Value) >= amount {

			receiverIdx = i
			break
		}
	}
	if receiverIdx < 0 {
		return nil, fmt.Errorf("%w: no output pays %v to the receiver",
			ErrPayJoinInvalidOriginal, amount)
	}

	senders := make(map[wire.OutPoint]coinselect.Utxo, len(senderUtxos))
	for _, u := range senderUtxos {
		senders[u.OutPoint] = u
	}

	inputs := make([]coinselect.Utxo, 0,
		len(original.TxIn)+len(receiverUtxos))
	for _, txIn := range original.TxIn {
		u, ok := senders[txIn.PreviousOutPoint]
		if !ok {
			return nil, fmt.Errorf("%w: unknown input %v",
				ErrPayJoinInvalidOriginal, txIn.PreviousOutPoint)
		}
		inputs = append(inputs, u)
	}

	if len(receiverUtxos) == 0 {
		return nil, fmt.Errorf("%w: receiver adds no inputs",
			coinselect.ErrNoUtxos)
	}

	var (
		added      btcutil.Amount
		addedW     = btcunit.NewWeightUnit(0)
		receiverOp = make([]wire.OutPoint, 0, len(receiverUtxos))
	)
	for _, u := range receiverUtxos {
		if _, ok := senders[u.OutPoint]; ok {
			return nil, fmt.Errorf("%w: %v is a sender input",
				ErrDuplicateInput, u.OutPoint)
		}
		if !u.Eligible() {
			return nil, fmt.Errorf("%w: %v is not spendable",
				coinselect.ErrInsufficientFunds, u.OutPoint)
		}

		inputs = append(inputs, u)
		receiverOp = append(receiverOp, u.OutPoint)
		added += u.Value
		addedW = addedW.Add(fees.InputWeight(u.Type))
	}

	receiverFee := rate.FeeForWeightRoundUp(addedW)
	if added-receiverFee <= 0 {
		return nil, fmt.Errorf("%w: receiver inputs %v do not cover "+
			"their fee %v", coinselect.ErrInsufficientFunds, added,
			receiverFee)
	}

	outputs := make([]*wire.TxOut, 0, len(original.TxOut))
	for i, out := range original.TxOut {
		value := out.Value
		if i == receiverIdx {
			value += int64(added - receiverFee)
		}
		outputs = append(outputs, wire.NewTxOut(value, out.PkScript))
	}

	b.shuffle(len(inputs), func(i, j int) {
		inputs[i], inputs[j] = inputs[j], inputs[i]
	})

	authored, err := b.asm.Assemble(&assembler.Template{
		Inputs:   inputs,
		Outputs:  outputs,
		Version:  original.Version,
		LockTime: original.LockTime,
	})
	if err != nil {
		return nil, err
	}

	packet, err := assembler.NewPacket(authored)
	if err != nil {
		return nil, err
	}

	log.Infof("Built payjoin %v from %v: %d receiver inputs, receiver "+
		"fee %v", authored.Tx.TxHash(), original.TxHash(),
		len(receiverUtxos), receiverFee)

	return &PayJoin{
		Tx:                  authored.Tx,
		Packet:              packet,
		OriginalTxid:        original.TxHash(),
		ReceiverInputs:      receiverOp,
		ReceiverFee:         receiverFee,
		ReceiverOutputIndex: receiverIdx,
	}, nil
}
