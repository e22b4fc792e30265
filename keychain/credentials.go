// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcspend/address"
)

// secrets holds the private material of a Credentials value. It lives in its
// own allocation so a cleanup can wipe it once the owner is unreachable.
type secrets struct {
	mu       sync.Mutex
	privKey  *btcec.PrivateKey
	mnemonic []byte
}

// zero wipes the private key and the mnemonic.
func (s *secrets) zero() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.privKey != nil {
		s.privKey.Zero()
		s.privKey = nil
	}

	zeroBytes(s.mnemonic)
	s.mnemonic = nil
}

// Credentials are the key material of a single-key wallet. A Credentials
// value has exactly one owner. The private key and mnemonic are wiped by
// Zero, and at the latest when the value is garbage collected.
type Credentials struct {
	// PublicKey is the public key of the wallet.
	PublicKey *btcec.PublicKey

	// Address is the receive address of the wallet.
	Address btcutil.Address

	// Type is the encoding of Address.
	Type address.Type

	// Path is the derivation path of the key.
	Path Path

	secrets *secrets
}

// NewCredentials derives the key at path from mnemonic and encodes its
// address with typ.
func NewCredentials(mnemonic, passphrase string, path Path,
	typ address.Type, params *chaincfg.Params) (*Credentials, error) {

	master, err := DeriveMaster(mnemonic, passphrase, params)
	if err != nil {
		return nil, err
	}
	defer master.Zero()

	pair, err := master.Derive(path)
	if err != nil {
		return nil, err
	}

	addr, err := address.Encode(pair.PubKey, typ, params)
	if err != nil {
		pair.Zero()
		return nil, err
	}

	c := &Credentials{
		PublicKey: pair.PubKey,
		Address:   addr,
		Type:      typ,
		Path:      pair.Path,
		secrets: &secrets{
			privKey:  pair.PrivKey,
			mnemonic: []byte(NormalizeMnemonic(mnemonic)),
		},
	}

	runtime.AddCleanup(c, func(s *secrets) { s.zero() }, c.secrets)

	log.Debugf("Created credentials for %v at %v", addr, pair.Path)

	return c, nil
}

// PrivateKey returns the private key, or ErrKeyZeroed after Zero.
func (c *Credentials) PrivateKey() (*btcec.PrivateKey, error) {
	c.secrets.mu.Lock()
	defer c.secrets.mu.Unlock()

	if c.secrets.privKey == nil {
		return nil, ErrKeyZeroed
	}

	return c.secrets.privKey, nil
}

// Mnemonic returns the mnemonic, or ErrKeyZeroed after Zero.
func (c *Credentials) Mnemonic() (string, error) {
	c.secrets.mu.Lock()
	defer c.secrets.mu.Unlock()

	if c.secrets.mnemonic == nil {
		return "", ErrKeyZeroed
	}

	return string(c.secrets.mnemonic), nil
}

// Zero wipes the private key and mnemonic. It is safe to call more than
// once.
func (c *Credentials) Zero() {
	c.secrets.zero()
}

// String never includes private material.
func (c *Credentials) String() string {
	return fmt.Sprintf("Credentials(%v, %v)", c.Type, c.Address)
}

// GoString keeps %#v from dumping private material.
func (c *Credentials) GoString() string {
	return c.String()
}
