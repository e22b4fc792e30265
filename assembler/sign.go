// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package assembler

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/schnorrsig"
	"github.com/btcsuite/btcspend/taproot"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrMissingTapLeaf is returned when a script path spend names a leaf
// whose control block does not open the spent output.
var ErrMissingTapLeaf = errors.New("tap leaf does not commit to output")

// KeySource hands out the private keys that sign inputs.
type KeySource interface {
	// PrivKeyForScript returns the key controlling an output script.
	PrivKeyForScript(pkScript []byte) (*btcec.PrivateKey, error)

	// PrivKeyForPubKey returns the key behind a public key, used for
	// keys that appear inside tapscript leaves.
	PrivKeyForPubKey(pub *btcec.PublicKey) (*btcec.PrivateKey, error)
}

// TapLeafSpend spends a taproot input through one of its script leaves.
// The leaf script must be satisfied by a single Schnorr signature of
// SigningKey.
type TapLeafSpend struct {
	// Leaf is the revealed script.
	Leaf taproot.ScriptLeaf

	// ControlBlock proves that Leaf is committed to the output key.
	ControlBlock []byte

	// SigningKey is the key the leaf script checks.
	SigningKey *btcec.PublicKey
}

// SignOptions modify how Sign treats individual inputs.
type SignOptions struct {
	// TapLeafSpends selects script path spends for taproot inputs.
	// Taproot inputs without an entry use the key path.
	TapLeafSpends map[wire.OutPoint]TapLeafSpend

	// AuxRand is the BIP-340 auxiliary randomness for Schnorr
	// signatures.
	AuxRand fn.Option[[32]byte]
}

// Sign signs every input of authored with keys from keys, then verifies the
// whole transaction with the script engine. Taproot inputs get Schnorr
// signatures, all other inputs ECDSA. The inputs of authored.Tx only
// change when every input signs and verifies.
func Sign(authored *txauthor.AuthoredTx, keys KeySource,
	opts *SignOptions) error {

	if opts == nil {
		opts = &SignOptions{}
	}

	tx := authored.Tx.Copy()
	if len(authored.PrevScripts) != len(tx.TxIn) ||
		len(authored.PrevInputValues) != len(tx.TxIn) {

		return fmt.Errorf("%w: %d inputs, %d scripts, %d values",
			ErrMalformedTransaction, len(tx.TxIn),
			len(authored.PrevScripts), len(authored.PrevInputValues))
	}

	fetcher, err := txauthor.TXPrevOutFetcher(
		tx, authored.PrevScripts, authored.PrevInputValues,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, txIn := range tx.TxIn {
		pkScript := authored.PrevScripts[i]
		value := authored.PrevInputValues[i]

		typ, err := address.TypeOfScript(pkScript)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		if typ == address.Taproot {
			spend, ok := opts.TapLeafSpends[txIn.PreviousOutPoint]
			if ok {
				err = signTapLeaf(
					tx, sigHashes, fetcher, i, pkScript,
					spend, keys, opts.AuxRand,
				)
			} else {
				err = signTaprootKeyPath(
					tx, sigHashes, fetcher, i, pkScript,
					keys, opts.AuxRand,
				)
			}
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}

			continue
		}

		priv, err := keys.PrivKeyForScript(pkScript)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		err = signECDSA(tx, sigHashes, i, typ, pkScript, value, priv)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	err = verifyInputs(
		tx, authored.PrevScripts, authored.PrevInputValues,
	)
	if err != nil {
		return err
	}

	for i, txIn := range authored.Tx.TxIn {
		txIn.SignatureScript = tx.TxIn[i].SignatureScript
		txIn.Witness = tx.TxIn[i].Witness
	}

	return nil
}

// signECDSA fills in the signature script and witness of a P2PKH, P2WPKH or
// P2SH-P2WPKH input.
func signECDSA(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int,
	typ address.Type, pkScript []byte, value btcutil.Amount,
	priv *btcec.PrivateKey) error {

	txIn := tx.TxIn[idx]

	switch typ {
	case address.Legacy:
		sigScript, err := txscript.SignatureScript(
			tx, idx, pkScript, txscript.SigHashAll, priv, true,
		)
		if err != nil {
			return err
		}
		txIn.SignatureScript = sigScript

	case address.NativeSegwit:
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, idx, int64(value), pkScript,
			txscript.SigHashAll, priv, true,
		)
		if err != nil {
			return err
		}
		txIn.Witness = witness

	case address.NestedSegwit:
		redeemScript, err := address.NestedRedeemScript(priv.PubKey())
		if err != nil {
			return err
		}

		// The redeem script is the witness program the signature
		// commits to.
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, idx, int64(value), redeemScript,
			txscript.SigHashAll, priv, true,
		)
		if err != nil {
			return err
		}

		sigScript, err := txscript.NewScriptBuilder().
			AddData(redeemScript).
			Script()
		if err != nil {
			return err
		}

		txIn.SignatureScript = sigScript
		txIn.Witness = witness

	default:
		return fmt.Errorf("%w: %v", address.ErrUnsupportedScript, typ)
	}

	return nil
}

// signTaprootKeyPath signs a BIP-86 key path spend.
func signTaprootKeyPath(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher, idx int, pkScript []byte,
	keys KeySource, aux fn.Option[[32]byte]) error {

	priv, err := keys.PrivKeyForScript(pkScript)
	if err != nil {
		return err
	}

	tweaked, err := taproot.TweakPrivKey(priv, nil)
	if err != nil {
		return err
	}

	sigHash, err := txscript.CalcTaprootSignatureHash(
		sigHashes, txscript.SigHashDefault, tx, idx, fetcher,
	)
	if err != nil {
		return err
	}

	var digest [32]byte
	copy(digest[:], sigHash)

	sig, err := schnorrsig.Sign(digest, tweaked, aux)
	if err != nil {
		return err
	}

	tx.TxIn[idx].Witness = wire.TxWitness{sig.Serialize()}

	return nil
}

// signTapLeaf signs a script path spend of the given leaf.
func signTapLeaf(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher, idx int, pkScript []byte,
	spend TapLeafSpend, keys KeySource, aux fn.Option[[32]byte]) error {

	// A witness v1 script is OP_1 followed by a push of the x-only
	// output key.
	key, err := schnorr.ParsePubKey(pkScript[2:])
	if err != nil {
		return err
	}

	err = taproot.VerifyControlBlock(key, spend.Leaf, spend.ControlBlock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingTapLeaf, err)
	}

	priv, err := keys.PrivKeyForPubKey(spend.SigningKey)
	if err != nil {
		return err
	}

	tapLeaf := txscript.NewTapLeaf(spend.Leaf.LeafVersion, spend.Leaf.Script)
	sigHash, err := txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, tx, idx, fetcher, tapLeaf,
	)
	if err != nil {
		return err
	}

	var digest [32]byte
	copy(digest[:], sigHash)

	sig, err := schnorrsig.Sign(digest, priv, aux)
	if err != nil {
		return err
	}

	tx.TxIn[idx].Witness = wire.TxWitness{
		sig.Serialize(), spend.Leaf.Script, spend.ControlBlock,
	}

	return nil
}

// Verify runs every input of authored through the script engine.
func Verify(authored *txauthor.AuthoredTx) error {
	return verifyInputs(
		authored.Tx, authored.PrevScripts, authored.PrevInputValues,
	)
}

// verifyInputs checks every input of tx against the output it spends.
func verifyInputs(tx *wire.MsgTx, prevScripts [][]byte,
	prevValues []btcutil.Amount) error {

	fetcher, err := txauthor.TXPrevOutFetcher(tx, prevScripts, prevValues)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, prevScript := range prevScripts {
		vm, err := txscript.NewEngine(
			prevScript, tx, i, txscript.StandardVerifyFlags, nil,
			sigHashes, int64(prevValues[i]), fetcher,
		)
		if err != nil {
			return fmt.Errorf("%w: input %d: %v",
				ErrSignatureVerificationFailed, i, err)
		}

		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %v",
				ErrSignatureVerificationFailed, i, err)
		}
	}

	log.Debugf("Verified all %d inputs of tx %v", len(tx.TxIn),
		tx.TxHash())

	return nil
}
