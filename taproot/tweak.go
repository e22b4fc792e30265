// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package taproot

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrNilKey is returned when a required key is missing.
	ErrNilKey = errors.New("nil key")

	// ErrTweakOverflow is returned in the negligible case where the tweak
	// hash is not a valid scalar or the tweaked point is at infinity.
	ErrTweakOverflow = errors.New("taproot tweak out of range")
)

// TweakHash returns H_TapTweak(x(P) || merkleRoot).
func TweakHash(internalKey *btcec.PublicKey, merkleRoot []byte) chainhash.Hash {
	return *chainhash.TaggedHash(
		chainhash.TagTapTweak, schnorr.SerializePubKey(internalKey),
		merkleRoot,
	)
}

// Tweak returns the output key Q = P + H_TapTweak(x(P) || merkleRoot)·G,
// where P is the internal key with an even y coordinate. An empty
// merkleRoot yields the key-path-only output key.
func Tweak(internalKey *btcec.PublicKey,
	merkleRoot []byte) (*btcec.PublicKey, error) {

	if internalKey == nil {
		return nil, ErrNilKey
	}

	// Lift x(P) back to the point with even y.
	evenKey, err := schnorr.ParsePubKey(
		schnorr.SerializePubKey(internalKey),
	)
	if err != nil {
		return nil, err
	}

	tweak := TweakHash(internalKey, merkleRoot)

	var t secp256k1.ModNScalar
	if overflow := t.SetByteSlice(tweak[:]); overflow {
		return nil, ErrTweakOverflow
	}

	var p, tg, q secp256k1.JacobianPoint
	evenKey.AsJacobian(&p)
	secp256k1.ScalarBaseMultNonConst(&t, &tg)
	secp256k1.AddNonConst(&p, &tg, &q)

	if (q.X.IsZero() && q.Y.IsZero()) || q.Z.IsZero() {
		return nil, ErrTweakOverflow
	}
	q.ToAffine()

	return secp256k1.NewPublicKey(&q.X, &q.Y), nil
}

// TweakPrivKey returns the private key that signs for the output key of
// priv's public key committed to merkleRoot.
func TweakPrivKey(priv *btcec.PrivateKey,
	merkleRoot []byte) (*btcec.PrivateKey, error) {

	if priv == nil {
		return nil, ErrNilKey
	}

	return txscript.TweakTaprootPrivKey(*priv, merkleRoot), nil
}

// PkScript returns the witness v1 output script paying outputKey.
func PkScript(outputKey *btcec.PublicKey) ([]byte, error) {
	if outputKey == nil {
		return nil, ErrNilKey
	}

	return txscript.PayToTaprootScript(outputKey)
}
