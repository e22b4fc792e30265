// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcspend/address"
)

const (
	// HardenedKeyStart is the index of the first hardened child.
	HardenedKeyStart = hdkeychain.HardenedKeyStart

	// maxDepth is the deepest path BIP32 serialization can express.
	maxDepth = 255

	// ExternalBranch and InternalBranch are the receive and change
	// branches of an account.
	ExternalBranch uint32 = 0
	InternalBranch uint32 = 1
)

// errEmptyComponent is returned for paths such as "m//0".
var errEmptyComponent = errors.New("empty component")

// Path is a BIP32 derivation path from the master key. Hardened indexes
// include HardenedKeyStart.
type Path []uint32

// ParsePath parses a path such as "m/84'/0'/0'/0/5". Hardened components
// may be marked with ', h or H. The master key itself is "m".
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if parts[0] != "m" && parts[0] != "M" {
		return nil, fmt.Errorf("%w: %q must start with m",
			ErrInvalidDerivationPath, s)
	}

	parts = parts[1:]
	if len(parts) > maxDepth {
		return nil, fmt.Errorf("%w: %q is deeper than %d",
			ErrInvalidDerivationPath, s, maxDepth)
	}

	path := make(Path, 0, len(parts))
	for _, part := range parts {
		idx, err := parseIndex(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v",
				ErrInvalidDerivationPath, s, err)
		}

		path = append(path, idx)
	}

	return path, nil
}

// parseIndex parses a single path component.
func parseIndex(part string) (uint32, error) {
	hardened := false
	if n := len(part); n > 0 {
		switch part[n-1] {
		case '\'', 'h', 'H':
			hardened = true
			part = part[:n-1]
		}
	}

	if part == "" {
		return 0, errEmptyComponent
	}

	// Reject signs and spaces which ParseUint would otherwise refuse with a
	// less useful message.
	for _, c := range part {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character %q", c)
		}
	}

	idx, err := strconv.ParseUint(part, 10, 32)
	if err != nil {
		return 0, err
	}
	if idx >= HardenedKeyStart {
		return 0, fmt.Errorf("index %d out of range", idx)
	}

	if hardened {
		idx += HardenedKeyStart
	}

	return uint32(idx), nil
}

// String returns the path in "m/84'/0'/0'/0/5" notation.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")

	for _, idx := range p {
		b.WriteString("/")
		if idx >= HardenedKeyStart {
			b.WriteString(strconv.FormatUint(
				uint64(idx-HardenedKeyStart), 10,
			))
			b.WriteString("'")

			continue
		}

		b.WriteString(strconv.FormatUint(uint64(idx), 10))
	}

	return b.String()
}

// Purpose is the first, hardened level of a BIP43 path.
type Purpose uint32

const (
	// PurposeBIP44 derives legacy P2PKH keys.
	PurposeBIP44 Purpose = 44

	// PurposeBIP49 derives nested segwit keys.
	PurposeBIP49 Purpose = 49

	// PurposeBIP84 derives native segwit keys.
	PurposeBIP84 Purpose = 84

	// PurposeBIP86 derives taproot key-path keys.
	PurposeBIP86 Purpose = 86
)

// AddressType returns the address encoding keys of this purpose use.
func (p Purpose) AddressType() (address.Type, error) {
	switch p {
	case PurposeBIP44:
		return address.Legacy, nil
	case PurposeBIP49:
		return address.NestedSegwit, nil
	case PurposeBIP84:
		return address.NativeSegwit, nil
	case PurposeBIP86:
		return address.Taproot, nil
	default:
		return 0, fmt.Errorf("%w: unknown purpose %d",
			ErrInvalidDerivationPath, uint32(p))
	}
}

// PurposeForType returns the BIP43 purpose used for an address type.
func PurposeForType(typ address.Type) (Purpose, error) {
	switch typ {
	case address.Legacy:
		return PurposeBIP44, nil
	case address.NestedSegwit:
		return PurposeBIP49, nil
	case address.NativeSegwit:
		return PurposeBIP84, nil
	case address.Taproot:
		return PurposeBIP86, nil
	default:
		return 0, fmt.Errorf("%w: %v", address.ErrUnknownType, typ)
	}
}

// AccountPath returns m/purpose'/coin'/account'.
func AccountPath(purpose Purpose, params *chaincfg.Params,
	account uint32) Path {

	return Path{
		uint32(purpose) + HardenedKeyStart,
		params.HDCoinType + HardenedKeyStart,
		account + HardenedKeyStart,
	}
}

// StandardPath returns m/purpose'/coin'/account'/branch/index.
func StandardPath(purpose Purpose, params *chaincfg.Params, account, branch,
	index uint32) Path {

	return append(AccountPath(purpose, params, account), branch, index)
}
