package address

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// testPubKey returns a deterministic public key.
func testPubKey(t *testing.T) *btcec.PublicKey {
	t.Helper()

	_, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x11}, 32))

	return pub
}

// TestEncodeDecodeRoundTrip checks that every supported type encodes to an
// address that decodes back to the same type and script.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	pub := testPubKey(t)

	nets := []*chaincfg.Params{
		&chaincfg.MainNetParams,
		&chaincfg.TestNet3Params,
		&chaincfg.RegressionNetParams,
	}
	types := []Type{Legacy, NestedSegwit, NativeSegwit, Taproot}

	for _, net := range nets {
		for _, typ := range types {
			t.Run(net.Name+"/"+typ.String(), func(t *testing.T) {
				t.Parallel()

				addr, err := Encode(pub, typ, net)
				require.NoError(t, err)

				decoded, decodedType, err := Decode(
					addr.EncodeAddress(), net,
				)
				require.NoError(t, err)
				require.Equal(t, typ, decodedType)
				require.Equal(
					t, addr.EncodeAddress(),
					decoded.EncodeAddress(),
				)

				pkScript, err := PayToAddrScript(decoded)
				require.NoError(t, err)

				scriptType, err := TypeOfScript(pkScript)
				require.NoError(t, err)
				require.Equal(t, typ, scriptType)
			})
		}
	}
}

// TestEncodeTaprootIsKeyPathTweak checks that a taproot address commits to
// the key-path-only output key.
func TestEncodeTaprootIsKeyPathTweak(t *testing.T) {
	t.Parallel()

	pub := testPubKey(t)
	params := &chaincfg.MainNetParams

	addr, err := Encode(pub, Taproot, params)
	require.NoError(t, err)

	direct, err := EncodeTaprootOutputKey(
		txscript.ComputeTaprootKeyNoScript(pub), params,
	)
	require.NoError(t, err)
	require.Equal(t, direct.EncodeAddress(), addr.EncodeAddress())

	_, err = Encode(nil, Taproot, params)
	require.ErrorIs(t, err, ErrNilKey)

	_, err = Encode(pub, Type(42), params)
	require.ErrorIs(t, err, ErrUnknownType)
}

// TestDecodeErrors checks that every malformed address is rejected with the
// expected error kind.
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	program32 := bytes.Repeat([]byte{0x42}, 32)
	conv32, err := bech32.ConvertBits(program32, 8, 5, true)
	require.NoError(t, err)

	conv25, err := bech32.ConvertBits(
		bytes.Repeat([]byte{0x42}, 25), 8, 5, true,
	)
	require.NoError(t, err)

	// A version 1 program encoded with the version 0 checksum.
	v1WrongVariant, err := bech32.Encode("bc", append([]byte{1}, conv32...))
	require.NoError(t, err)

	// A version 2 program, which no wallet type uses.
	v2, err := bech32.EncodeM("bc", append([]byte{2}, conv32...))
	require.NoError(t, err)

	// A version 0 program of a length that is neither 20 nor 32.
	v0BadLen, err := bech32.Encode("bc", append([]byte{0}, conv25...))
	require.NoError(t, err)

	testCases := []struct {
		name   string
		addr   string
		params *chaincfg.Params
		kind   FormatErrorKind
	}{
		{
			name:   "bech32 checksum",
			addr:   "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyv",
			params: &chaincfg.MainNetParams,
			kind:   ChecksumMismatch,
		},
		{
			name:   "base58 checksum",
			addr:   "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabB",
			params: &chaincfg.MainNetParams,
			kind:   ChecksumMismatch,
		},
		{
			name:   "bech32 wrong network",
			addr:   "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
			params: &chaincfg.TestNet3Params,
			kind:   WrongNetwork,
		},
		{
			name:   "base58 wrong network",
			addr:   "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA",
			params: &chaincfg.TestNet3Params,
			kind:   WrongNetwork,
		},
		{
			name: "unknown base58 version",
			addr: base58.CheckEncode(
				bytes.Repeat([]byte{0x01}, 20), 0x30,
			),
			params: &chaincfg.MainNetParams,
			kind:   UnknownVersion,
		},
		{
			name:   "bech32 variant mismatch",
			addr:   v1WrongVariant,
			params: &chaincfg.MainNetParams,
			kind:   ChecksumMismatch,
		},
		{
			name:   "unknown witness version",
			addr:   v2,
			params: &chaincfg.MainNetParams,
			kind:   UnknownVersion,
		},
		{
			name:   "bad program length",
			addr:   v0BadLen,
			params: &chaincfg.MainNetParams,
			kind:   BadLength,
		},
		{
			name:   "garbage",
			addr:   "not-an-address",
			params: &chaincfg.MainNetParams,
			kind:   BadEncoding,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			addr, _, err := Decode(tc.addr, tc.params)
			require.Nil(t, addr)
			require.ErrorIs(t, err, ErrInvalidAddressFormat)

			var fmtErr *FormatError
			require.ErrorAs(t, err, &fmtErr)
			require.Equal(t, tc.kind, fmtErr.Kind, fmtErr.Error())
			require.Equal(t, tc.addr, fmtErr.Address)
		})
	}
}

// TestParseType checks the accepted aliases.
func TestParseType(t *testing.T) {
	t.Parallel()

	for alias, want := range map[string]Type{
		"p2pkh":         Legacy,
		"np2wkh":        NestedSegwit,
		"native-segwit": NativeSegwit,
		"P2TR":          Taproot,
	} {
		got, err := ParseType(alias)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseType("p2wsh")
	require.ErrorIs(t, err, ErrUnknownType)
}

// TestTypeOfScriptUnsupported checks that non-wallet scripts are rejected.
func TestTypeOfScriptUnsupported(t *testing.T) {
	t.Parallel()

	script, err := txscript.NullDataScript([]byte("hello"))
	require.NoError(t, err)

	_, err = TypeOfScript(script)
	require.ErrorIs(t, err, ErrUnsupportedScript)
}
