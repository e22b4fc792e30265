// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package assembler

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/schnorrsig"
	"github.com/btcsuite/btcspend/taproot"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrMissingUtxoInfo is returned when a PSBT input lacks the output it
// spends.
var ErrMissingUtxoInfo = errors.New("psbt input is missing utxo info")

// NewPacket returns a PSBT of the unsigned transaction with the spent
// outputs attached to every input.
func NewPacket(authored *txauthor.AuthoredTx) (*psbt.Packet, error) {
	packet, err := psbt.NewFromUnsignedTx(authored.Tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	for i := range packet.Inputs {
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
			int64(authored.PrevInputValues[i]),
			authored.PrevScripts[i],
		)
	}

	return packet, nil
}

// prevOuts returns the scripts and values of the outputs the packet's
// inputs spend.
func prevOuts(packet *psbt.Packet) ([][]byte, []btcutil.Amount, error) {
	scripts := make([][]byte, len(packet.Inputs))
	values := make([]btcutil.Amount, len(packet.Inputs))

	for i, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			return nil, nil, fmt.Errorf("%w: input %d",
				ErrMissingUtxoInfo, i)
		}

		scripts[i] = in.WitnessUtxo.PkScript
		values[i] = btcutil.Amount(in.WitnessUtxo.Value)
	}

	return scripts, values, nil
}

// SignPacket adds a signature to every input of packet for which owns
// returns true. P2WPKH and P2SH-P2WPKH inputs get partial ECDSA signatures,
// taproot inputs a key path Schnorr signature. It returns the number of
// inputs signed.
func SignPacket(packet *psbt.Packet, keys KeySource,
	aux fn.Option[[32]byte], owns func(wire.OutPoint) bool) (int, error) {

	scripts, values, err := prevOuts(packet)
	if err != nil {
		return 0, err
	}

	tx := packet.UnsignedTx
	fetcher, err := txauthor.TXPrevOutFetcher(tx, scripts, values)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return 0, err
	}

	signed := 0
	for i, txIn := range tx.TxIn {
		if !owns(txIn.PreviousOutPoint) {
			continue
		}

		priv, err := keys.PrivKeyForScript(scripts[i])
		if err != nil {
			return signed, fmt.Errorf("input %d: %w", i, err)
		}

		typ, err := address.TypeOfScript(scripts[i])
		if err != nil {
			return signed, fmt.Errorf("input %d: %w", i, err)
		}

		switch typ {
		case address.Taproot:
			tweaked, err := taproot.TweakPrivKey(priv, nil)
			if err != nil {
				return signed, err
			}

			sigHash, err := txscript.CalcTaprootSignatureHash(
				sigHashes, txscript.SigHashDefault, tx, i,
				fetcher,
			)
			if err != nil {
				return signed, err
			}

			var digest [32]byte
			copy(digest[:], sigHash)

			sig, err := schnorrsig.Sign(digest, tweaked, aux)
			if err != nil {
				return signed, err
			}
			packet.Inputs[i].TaprootKeySpendSig = sig.Serialize()

		case address.NativeSegwit, address.NestedSegwit:
			var redeemScript []byte
			subScript := scripts[i]
			if typ == address.NestedSegwit {
				redeemScript, err = address.NestedRedeemScript(
					priv.PubKey(),
				)
				if err != nil {
					return signed, err
				}
				subScript = redeemScript
			}

			sig, err := txscript.RawTxInWitnessSignature(
				tx, sigHashes, i, int64(values[i]), subScript,
				txscript.SigHashAll, priv,
			)
			if err != nil {
				return signed, err
			}

			outcome, err := updater.Sign(
				i, sig, priv.PubKey().SerializeCompressed(),
				redeemScript, nil,
			)
			if err != nil {
				return signed, fmt.Errorf("input %d: %w", i, err)
			}
			if outcome != psbt.SignSuccesful {
				return signed, fmt.Errorf("input %d: sign "+
					"outcome %d", i, outcome)
			}

		default:
			return signed, fmt.Errorf("input %d: %w: %v", i,
				address.ErrUnsupportedScript, typ)
		}

		signed++
	}

	return signed, nil
}

// FinalizePacket finalizes every input of packet, extracts the network
// transaction and verifies it with the script engine.
func FinalizePacket(packet *psbt.Packet) (*wire.MsgTx, error) {
	scripts, values, err := prevOuts(packet)
	if err != nil {
		return nil, err
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerificationFailed,
			err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	if err := verifyInputs(tx, scripts, values); err != nil {
		return nil, err
	}

	return tx, nil
}
