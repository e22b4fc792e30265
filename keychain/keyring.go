// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcspend/address"
)

var (
	// ErrUnknownScript is returned when the ring holds no key for an output
	// script.
	ErrUnknownScript = errors.New("no key for output script")

	// ErrUnknownPubKey is returned when the ring holds no key for a public
	// key.
	ErrUnknownPubKey = errors.New("no key for public key")
)

// allTypes are registered when Add is called without explicit types.
var allTypes = []address.Type{
	address.Legacy, address.NestedSegwit, address.NativeSegwit,
	address.Taproot,
}

// KeyRing maps output scripts and public keys to the private keys that can
// spend them. Taproot scripts map to the internal (untweaked) key.
type KeyRing struct {
	params *chaincfg.Params

	mu       sync.RWMutex
	byScript map[string]*btcec.PrivateKey
	byPubKey map[string]*btcec.PrivateKey
}

// NewKeyRing returns an empty key ring for params.
func NewKeyRing(params *chaincfg.Params) *KeyRing {
	return &KeyRing{
		params:   params,
		byScript: make(map[string]*btcec.PrivateKey),
		byPubKey: make(map[string]*btcec.PrivateKey),
	}
}

// Add registers pair for the given address types, or for all of them if
// none are given. It returns the addresses that were registered.
func (k *KeyRing) Add(pair *KeyPair,
	types ...address.Type) ([]btcutil.Address, error) {

	if pair.PrivKey == nil {
		return nil, ErrKeyZeroed
	}

	if len(types) == 0 {
		types = allTypes
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	addrs := make([]btcutil.Address, 0, len(types))
	for _, typ := range types {
		addr, err := address.Encode(pair.PubKey, typ, k.params)
		if err != nil {
			return nil, err
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}

		k.byScript[hex.EncodeToString(pkScript)] = pair.PrivKey
		addrs = append(addrs, addr)
	}

	k.byPubKey[pubKeyID(pair.PubKey)] = pair.PrivKey

	return addrs, nil
}

// PrivKeyForScript returns the key able to spend pkScript.
func (k *KeyRing) PrivKeyForScript(pkScript []byte) (*btcec.PrivateKey,
	error) {

	k.mu.RLock()
	defer k.mu.RUnlock()

	priv, ok := k.byScript[hex.EncodeToString(pkScript)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownScript, pkScript)
	}

	return priv, nil
}

// PrivKeyForPubKey returns the private key of pub. Both the compressed and
// the x-only form of a key match.
func (k *KeyRing) PrivKeyForPubKey(pub *btcec.PublicKey) (*btcec.PrivateKey,
	error) {

	k.mu.RLock()
	defer k.mu.RUnlock()

	priv, ok := k.byPubKey[pubKeyID(pub)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownPubKey,
			pub.SerializeCompressed())
	}

	return priv, nil
}

// Zero wipes every key in the ring.
func (k *KeyRing) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for id, priv := range k.byPubKey {
		priv.Zero()
		delete(k.byPubKey, id)
	}
	clear(k.byScript)
}

// pubKeyID identifies a key by its x coordinate so a parsed x-only key finds
// the same entry as the compressed key it came from.
func pubKeyID(pub *btcec.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed()[1:])
}
