// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package schnorrsig signs and verifies BIP-340 Schnorr signatures over
// 32-byte digests with typed errors for malformed input.
package schnorrsig

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrMalformedSignature is returned for a signature that is not 64
	// bytes or does not parse.
	ErrMalformedSignature = errors.New("malformed schnorr signature")

	// ErrMalformedPubKey is returned for an x-only public key that is not
	// 32 bytes or not on the curve.
	ErrMalformedPubKey = errors.New("malformed x-only public key")

	// ErrMalformedDigest is returned for a digest that is not 32 bytes.
	ErrMalformedDigest = errors.New("digest must be 32 bytes")

	// ErrSignatureVerificationFailed is returned by MustVerify when a well
	// formed signature does not verify.
	ErrSignatureVerificationFailed = errors.New(
		"signature verification failed",
	)

	// ErrNilKey is returned when no private key is given.
	ErrNilKey = errors.New("nil private key")
)

// Sign signs digest with priv. The nonce is derived as in BIP-340 from the
// key, the digest and the auxiliary randomness, which defaults to 32 zero
// bytes, so signing is deterministic for a given aux value.
func Sign(digest [32]byte, priv *btcec.PrivateKey,
	aux fn.Option[[32]byte]) (*schnorr.Signature, error) {

	if priv == nil {
		return nil, ErrNilKey
	}

	return schnorr.Sign(
		priv, digest[:], schnorr.CustomNonce(aux.UnwrapOr([32]byte{})),
	)
}

// Verify reports whether sig is a valid signature of digest under the
// x-only key pub. Malformed input is an error, a well formed signature that
// does not verify is false.
func Verify(digest, sig, pub []byte) (bool, error) {
	if len(digest) != chainhash.HashSize {
		return false, fmt.Errorf("%w: got %d", ErrMalformedDigest,
			len(digest))
	}

	if len(sig) != schnorr.SignatureSize {
		return false, fmt.Errorf("%w: length %d", ErrMalformedSignature,
			len(sig))
	}

	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	// r must be the x coordinate of a curve point.
	var rx, ry secp256k1.FieldVal
	rx.SetByteSlice(sig[:32])
	if !secp256k1.DecompressY(&rx, false, &ry) {
		return false, fmt.Errorf("%w: r is not on the curve",
			ErrMalformedSignature)
	}

	if len(pub) != schnorr.PubKeyBytesLen {
		return false, fmt.Errorf("%w: length %d", ErrMalformedPubKey,
			len(pub))
	}

	pubKey, err := schnorr.ParsePubKey(pub)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedPubKey, err)
	}

	return parsedSig.Verify(digest, pubKey), nil
}

// MustVerify is like Verify but turns a false result into
// ErrSignatureVerificationFailed.
func MustVerify(digest, sig, pub []byte) error {
	ok, err := Verify(digest, sig, pub)
	if err != nil {
		return err
	}

	if !ok {
		return ErrSignatureVerificationFailed
	}

	return nil
}

// HashMessage returns the BIP-340 tagged hash of msg under tag.
func HashMessage(tag string, msg []byte) [32]byte {
	return *chainhash.TaggedHash([]byte(tag), msg)
}
