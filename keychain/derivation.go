// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain turns a BIP-39 mnemonic or a raw seed into a BIP-32 key
// hierarchy and derives key pairs along BIP-44/49/84/86 paths.
package keychain

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

var (
	// ErrInvalidMnemonic is returned when a mnemonic contains unknown
	// words, has the wrong length or fails its checksum.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrInvalidDerivationPath is returned when a derivation path is
	// malformed or cannot be derived.
	ErrInvalidDerivationPath = errors.New("invalid derivation path")

	// ErrWeakEntropy is returned when a seed or freshly generated entropy
	// is predictable, for example a single repeated byte.
	ErrWeakEntropy = errors.New("weak entropy")

	// ErrInvalidEntropySize is returned when the requested entropy size is
	// not one BIP-39 allows.
	ErrInvalidEntropySize = errors.New("invalid entropy size")

	// ErrKeyZeroed is returned when key material is used after Zero.
	ErrKeyZeroed = errors.New("key material has been zeroed")
)

// NewEntropy returns bits of entropy from the system's secure random
// source. bits must be a multiple of 32 between 128 and 256.
func NewEntropy(bits int) ([]byte, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bits: %v", ErrInvalidEntropySize,
			bits, err)
	}

	// A repeated byte from a secure source means the source is broken.
	// This is fatal, never a warning.
	if isWeak(entropy) {
		return nil, fmt.Errorf("%w: random source returned a "+
			"constant stream", ErrWeakEntropy)
	}

	return entropy, nil
}

// NewMnemonic returns a fresh mnemonic encoding bits of secure entropy.
func NewMnemonic(bits int) (string, error) {
	entropy, err := NewEntropy(bits)
	if err != nil {
		return "", err
	}
	defer zeroBytes(entropy)

	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic lower-cases the words and collapses whitespace.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// ValidateMnemonic checks the word list, length and checksum.
func ValidateMnemonic(mnemonic string) error {
	_, err := bip39.MnemonicToByteArray(NormalizeMnemonic(mnemonic))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}

	return nil
}

// MasterKey is the root of a BIP-32 hierarchy.
type MasterKey struct {
	key    *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// DeriveMaster derives the master key from a mnemonic and an optional
// passphrase. The checksum is always verified.
func DeriveMaster(mnemonic, passphrase string,
	params *chaincfg.Params) (*MasterKey, error) {

	seed, err := bip39.NewSeedWithErrorChecking(
		NormalizeMnemonic(mnemonic), passphrase,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	defer zeroBytes(seed)

	return DeriveMasterFromSeed(seed, params)
}

// DeriveMasterFromSeed derives the master key from a raw BIP-32 seed.
func DeriveMasterFromSeed(seed []byte,
	params *chaincfg.Params) (*MasterKey, error) {

	if len(seed) < hdkeychain.MinSeedBytes ||
		len(seed) > hdkeychain.MaxSeedBytes {

		return nil, fmt.Errorf("%w: seed length %d", ErrWeakEntropy,
			len(seed))
	}

	if isWeak(seed) {
		return nil, fmt.Errorf("%w: seed is a repeated byte",
			ErrWeakEntropy)
	}

	key, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWeakEntropy, err)
	}

	return &MasterKey{key: key, params: params}, nil
}

// Params returns the network the key was derived for.
func (m *MasterKey) Params() *chaincfg.Params {
	return m.params
}

// Fingerprint returns the BIP-32 fingerprint of the master public key.
func (m *MasterKey) Fingerprint() (uint32, error) {
	if m.key == nil {
		return 0, ErrKeyZeroed
	}

	pub, err := m.key.ECPubKey()
	if err != nil {
		return 0, err
	}

	return fingerprint(pub), nil
}

// child walks path from the master key.
func (m *MasterKey) child(path Path) (*hdkeychain.ExtendedKey, error) {
	if m.key == nil {
		return nil, ErrKeyZeroed
	}

	key := m.key
	for depth, idx := range path {
		next, err := key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v at depth %d: %v",
				ErrInvalidDerivationPath, path, depth, err)
		}

		// Intermediate keys hold private material too.
		if key != m.key {
			key.Zero()
		}
		key = next
	}

	return key, nil
}

// Derive returns the key pair at path. The result depends only on the seed
// and the path.
func (m *MasterKey) Derive(path Path) (*KeyPair, error) {
	key, err := m.child(path)
	if err != nil {
		return nil, err
	}
	if key != m.key {
		defer key.Zero()
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDerivationPath, err)
	}

	return &KeyPair{
		Path:    append(Path(nil), path...),
		PrivKey: priv,
		PubKey:  priv.PubKey(),
	}, nil
}

// Derive is the free-function form of MasterKey.Derive.
func Derive(master *MasterKey, path Path) (*KeyPair, error) {
	return master.Derive(path)
}

// AccountXPub returns the serialized extended public key of
// m/purpose'/coin'/account'.
func (m *MasterKey) AccountXPub(purpose Purpose, account uint32) (string,
	error) {

	key, err := m.child(AccountPath(purpose, m.params, account))
	if err != nil {
		return "", err
	}
	defer key.Zero()

	pub, err := key.Neuter()
	if err != nil {
		return "", err
	}

	return pub.String(), nil
}

// Zero wipes the master private key.
func (m *MasterKey) Zero() {
	if m.key != nil {
		m.key.Zero()
		m.key = nil
	}
}

// KeyPair is a derived private/public key pair.
type KeyPair struct {
	// Path is the derivation path of the pair.
	Path Path

	// PrivKey is the private key. It is nil after Zero.
	PrivKey *btcec.PrivateKey

	// PubKey is the compressed public key.
	PubKey *btcec.PublicKey
}

// Equal reports whether both pairs hold the same path and keys. A zeroed
// pair equals nothing.
func (k *KeyPair) Equal(o *KeyPair) bool {
	if k == nil || o == nil {
		return k == o
	}
	if k.PrivKey == nil || o.PrivKey == nil {
		return false
	}

	return k.Path.String() == o.Path.String() &&
		k.PubKey.IsEqual(o.PubKey) &&
		k.PrivKey.Key.Equals(&o.PrivKey.Key)
}

// Zero wipes the private key.
func (k *KeyPair) Zero() {
	if k.PrivKey != nil {
		k.PrivKey.Zero()
		k.PrivKey = nil
	}
}

// String never prints the private key.
func (k *KeyPair) String() string {
	return fmt.Sprintf("KeyPair(%v, %x)", k.Path,
		k.PubKey.SerializeCompressed())
}

// isWeak reports whether b is a single repeated byte.
func isWeak(b []byte) bool {
	if len(b) == 0 {
		return true
	}

	return bytes.Count(b, b[:1]) == len(b)
}

// fingerprint returns the first four bytes of hash160(pub).
func fingerprint(pub *btcec.PublicKey) uint32 {
	h := btcutil.Hash160(pub.SerializeCompressed())

	return uint32(h[0])<<24 | uint32(h[1])<<16 | uint32(h[2])<<8 |
		uint32(h[3])
}

// zeroBytes overwrites b with zeros.
func zeroBytes(b []byte) {
	clear(b)
}
