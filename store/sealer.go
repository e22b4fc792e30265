// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultKDFIterations is the PBKDF2 iteration count for new sealed
	// blobs.
	DefaultKDFIterations = 390_000

	// sealVersion is the format version of a sealed blob.
	sealVersion = 1

	// saltSize is the size of the random KDF salt.
	saltSize = 16

	// sealHeaderSize is version (1) + iterations (4) + salt + nonce.
	sealHeaderSize = 1 + 4 + saltSize + chacha20poly1305.NonceSize
)

// ErrEmptyPassphrase is returned when sealing with an empty passphrase.
var ErrEmptyPassphrase = errors.New("empty passphrase")

// Sealer encrypts private wallet data under a passphrase. The key is
// derived with PBKDF2-SHA256 and the data sealed with ChaCha20-Poly1305.
type Sealer struct {
	iterations uint32
}

// NewSealer returns a sealer using iterations rounds of PBKDF2 for new
// blobs. Zero selects DefaultKDFIterations.
func NewSealer(iterations uint32) *Sealer {
	if iterations == 0 {
		iterations = DefaultKDFIterations
	}

	return &Sealer{iterations: iterations}
}

// Seal encrypts plaintext. The result carries everything except the
// passphrase needed to open it.
func (s *Sealer) Seal(passphrase, plaintext []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	header := make([]byte, sealHeaderSize)
	header[0] = sealVersion
	binary.BigEndian.PutUint32(header[1:5], s.iterations)

	// Salt and nonce are filled in one go.
	if _, err := rand.Read(header[5:]); err != nil {
		return nil, fmt.Errorf("read random salt: %w", err)
	}

	salt := header[5 : 5+saltSize]
	nonce := header[5+saltSize:]

	aead, err := newAEAD(passphrase, salt, s.iterations)
	if err != nil {
		return nil, err
	}

	// The header is authenticated so the iteration count cannot be
	// lowered by an attacker.
	out := make(
		[]byte, sealHeaderSize,
		sealHeaderSize+len(plaintext)+chacha20poly1305.Overhead,
	)
	copy(out, header)

	return aead.Seal(out, nonce, plaintext, header), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(passphrase, sealed []byte) ([]byte, error) {
	if len(sealed) < sealHeaderSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: blob too short", ErrDecrypt)
	}
	if sealed[0] != sealVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrDecrypt,
			sealed[0])
	}

	header := sealed[:sealHeaderSize]
	iterations := binary.BigEndian.Uint32(header[1:5])
	salt := header[5 : 5+saltSize]
	nonce := header[5+saltSize:]

	aead, err := newAEAD(passphrase, salt, iterations)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, sealed[sealHeaderSize:], header)
	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// newAEAD derives the sealing key.
func newAEAD(passphrase, salt []byte, iterations uint32) (cipher.AEAD,
	error) {

	key := pbkdf2.Key(
		passphrase, salt, int(iterations), chacha20poly1305.KeySize,
		sha256.New,
	)
	defer clear(key)

	return chacha20poly1305.New(key)
}
