// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package address encodes public keys into the four address formats a wallet
// hands out, and decodes address strings back with typed errors.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

var (
	// ErrUnknownType is returned when an address type is not one of the
	// supported encodings.
	ErrUnknownType = errors.New("unknown address type")

	// ErrUnsupportedScript is returned when an output script does not map to
	// a supported address type.
	ErrUnsupportedScript = errors.New("unsupported output script")

	// ErrNilKey is returned when no public key is given.
	ErrNilKey = errors.New("nil public key")
)

// Type identifies one of the supported address encodings.
type Type uint8

const (
	// Legacy is a base58check encoded pay-to-pubkey-hash address.
	Legacy Type = iota

	// NestedSegwit is a base58check encoded pay-to-script-hash address
	// wrapping a version 0 witness pubkey hash program.
	NestedSegwit

	// NativeSegwit is a bech32 encoded version 0 witness pubkey hash
	// address.
	NativeSegwit

	// Taproot is a bech32m encoded version 1 witness program over an
	// x-only output key.
	Taproot
)

// String returns the human readable name of the type.
func (t Type) String() string {
	switch t {
	case Legacy:
		return "legacy"
	case NestedSegwit:
		return "nested-segwit"
	case NativeSegwit:
		return "native-segwit"
	case Taproot:
		return "taproot"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseType returns the Type named by s. It accepts the String form as well
// as the common script names (p2pkh, np2wkh, p2wkh, p2tr).
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "legacy", "p2pkh":
		return Legacy, nil
	case "nested-segwit", "np2wkh", "p2sh-p2wpkh":
		return NestedSegwit, nil
	case "native-segwit", "p2wkh", "p2wpkh":
		return NativeSegwit, nil
	case "taproot", "p2tr":
		return Taproot, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// Encode returns the address of the given type for pub. Taproot addresses
// commit to the key-path-only tweak of pub.
func Encode(pub *btcec.PublicKey, typ Type,
	params *chaincfg.Params) (btcutil.Address, error) {

	if pub == nil {
		return nil, ErrNilKey
	}

	pkHash := btcutil.Hash160(pub.SerializeCompressed())

	switch typ {
	case Legacy:
		return btcutil.NewAddressPubKeyHash(pkHash, params)

	case NativeSegwit:
		return btcutil.NewAddressWitnessPubKeyHash(pkHash, params)

	case NestedSegwit:
		redeemScript, err := NestedRedeemScript(pub)
		if err != nil {
			return nil, err
		}

		return btcutil.NewAddressScriptHash(redeemScript, params)

	case Taproot:
		outputKey := txscript.ComputeTaprootKeyNoScript(pub)
		return EncodeTaprootOutputKey(outputKey, params)

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, typ)
	}
}

// EncodeTaprootOutputKey returns the taproot address of an already tweaked
// output key.
func EncodeTaprootOutputKey(outputKey *btcec.PublicKey,
	params *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	if outputKey == nil {
		return nil, ErrNilKey
	}

	return btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(outputKey), params,
	)
}

// NestedRedeemScript returns the version 0 witness program that a nested
// segwit output for pub commits to.
func NestedRedeemScript(pub *btcec.PublicKey) ([]byte, error) {
	pkHash := btcutil.Hash160(pub.SerializeCompressed())

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(pkHash).
		Script()
}

// PayToAddrScript returns the output script paying to addr.
func PayToAddrScript(addr btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}

// TypeOfScript returns the address type an output script belongs to.
func TypeOfScript(pkScript []byte) (Type, error) {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		return Legacy, nil
	case txscript.ScriptHashTy:
		return NestedSegwit, nil
	case txscript.WitnessV0PubKeyHashTy:
		return NativeSegwit, nil
	case txscript.WitnessV1TaprootTy:
		return Taproot, nil
	default:
		return 0, ErrUnsupportedScript
	}
}

// knownNets are consulted to tell a foreign-network address apart from an
// address with an unknown version.
var knownNets = []*chaincfg.Params{
	&chaincfg.MainNetParams,
	&chaincfg.TestNet3Params,
	&chaincfg.RegressionNetParams,
	&chaincfg.SigNetParams,
	&chaincfg.SimNetParams,
}

// Decode parses s as an address for params and reports its type. Every
// failure is a *FormatError.
func Decode(s string, params *chaincfg.Params) (btcutil.Address, Type,
	error) {

	if looksLikeSegwit(s) {
		return decodeSegwit(s, params)
	}

	return decodeBase58(s, params)
}

// looksLikeSegwit reports whether s carries the human readable part of any
// known network followed by the bech32 separator.
func looksLikeSegwit(s string) bool {
	lower := strings.ToLower(s)
	for _, net := range knownNets {
		if strings.HasPrefix(lower, net.Bech32HRPSegwit+"1") {
			return true
		}
	}

	return false
}

func decodeSegwit(s string, params *chaincfg.Params) (btcutil.Address,
	Type, error) {

	hrp, data, variant, err := bech32.DecodeGeneric(s)
	if err != nil {
		var csErr bech32.ErrInvalidChecksum
		if errors.As(err, &csErr) {
			return nil, 0, newFormatError(ChecksumMismatch, s, err)
		}

		return nil, 0, newFormatError(BadEncoding, s, err)
	}

	if hrp != params.Bech32HRPSegwit {
		return nil, 0, newFormatError(WrongNetwork, s, nil)
	}

	if len(data) < 1 {
		return nil, 0, newFormatError(BadLength, s, nil)
	}

	version := data[0]
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, 0, newFormatError(BadEncoding, s, err)
	}

	// BIP-350: version 0 must use bech32, later versions bech32m. Using
	// the wrong variant is a checksum failure.
	switch {
	case version == 0 && variant != bech32.Version0:
		return nil, 0, newFormatError(ChecksumMismatch, s, nil)

	case version != 0 && variant != bech32.VersionM:
		return nil, 0, newFormatError(ChecksumMismatch, s, nil)
	}

	var typ Type
	switch {
	case version == 0 && len(program) == 20:
		typ = NativeSegwit

	case version == 1 && len(program) == 32:
		typ = Taproot

	case version == 0 && len(program) == 32:
		return nil, 0, newFormatError(Unsupported, s, nil)

	case version <= 1:
		return nil, 0, newFormatError(BadLength, s, nil)

	default:
		return nil, 0, newFormatError(UnknownVersion, s, nil)
	}

	addr, err := btcutil.DecodeAddress(s, params)
	if err != nil {
		return nil, 0, newFormatError(BadEncoding, s, err)
	}

	return addr, typ, nil
}

func decodeBase58(s string, params *chaincfg.Params) (btcutil.Address,
	Type, error) {

	payload, version, err := base58.CheckDecode(s)
	switch {
	case errors.Is(err, base58.ErrChecksum):
		return nil, 0, newFormatError(ChecksumMismatch, s, err)

	case err != nil:
		return nil, 0, newFormatError(BadEncoding, s, err)
	}

	var typ Type
	switch version {
	case params.PubKeyHashAddrID:
		typ = Legacy

	case params.ScriptHashAddrID:
		typ = NestedSegwit

	default:
		for _, net := range knownNets {
			if version == net.PubKeyHashAddrID ||
				version == net.ScriptHashAddrID {

				return nil, 0, newFormatError(WrongNetwork, s, nil)
			}
		}

		return nil, 0, newFormatError(UnknownVersion, s, nil)
	}

	if len(payload) != 20 {
		return nil, 0, newFormatError(BadLength, s, nil)
	}

	addr, err := btcutil.DecodeAddress(s, params)
	if err != nil {
		return nil, 0, newFormatError(BadEncoding, s, err)
	}

	return addr, typ, nil
}
