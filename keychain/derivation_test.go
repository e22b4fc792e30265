package keychain

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcspend/address"
	"github.com/stretchr/testify/require"
)

// testMnemonic is the mnemonic used by the BIP-44/49/84/86 test vectors.
const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

// TestDeriveStandardVectors checks derivation and address encoding against
// the published BIP test vectors.
func TestDeriveStandardVectors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		params *chaincfg.Params
		path   string
		typ    address.Type
		addr   string
	}{
		{
			name:   "bip44",
			params: &chaincfg.MainNetParams,
			path:   "m/44'/0'/0'/0/0",
			typ:    address.Legacy,
			addr:   "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA",
		},
		{
			name:   "bip49 testnet",
			params: &chaincfg.TestNet3Params,
			path:   "m/49'/1'/0'/0/0",
			typ:    address.NestedSegwit,
			addr:   "2Mww8dCYPUpKHofjgcXcBCEGmniw9CoaiD2",
		},
		{
			name:   "bip84",
			params: &chaincfg.MainNetParams,
			path:   "m/84'/0'/0'/0/0",
			typ:    address.NativeSegwit,
			addr:   "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		},
		{
			name:   "bip86",
			params: &chaincfg.MainNetParams,
			path:   "m/86'/0'/0'/0/0",
			typ:    address.Taproot,
			addr: "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20" +
				"cac6yqjjwudpxqkedrcr",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			master, err := DeriveMaster(testMnemonic, "", tc.params)
			require.NoError(t, err)

			path, err := ParsePath(tc.path)
			require.NoError(t, err)

			pair, err := master.Derive(path)
			require.NoError(t, err)

			addr, err := address.Encode(pair.PubKey, tc.typ, tc.params)
			require.NoError(t, err)
			require.Equal(t, tc.addr, addr.EncodeAddress())
		})
	}
}

// TestDeriveIsPure checks that deriving twice yields identical key material
// and addresses.
func TestDeriveIsPure(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	path := StandardPath(PurposeBIP84, params, 0, ExternalBranch, 7)

	derive := func() (*KeyPair, string) {
		master, err := DeriveMaster(testMnemonic, "pass", params)
		require.NoError(t, err)
		defer master.Zero()

		pair, err := Derive(master, path)
		require.NoError(t, err)

		addr, err := address.Encode(
			pair.PubKey, address.NativeSegwit, params,
		)
		require.NoError(t, err)

		return pair, addr.EncodeAddress()
	}

	first, firstAddr := derive()
	second, secondAddr := derive()

	require.True(t, first.Equal(second))
	require.Equal(t, firstAddr, secondAddr)
	require.Equal(t, "m/84'/0'/0'/0/7", first.Path.String())

	// A different passphrase yields a different tree.
	master, err := DeriveMaster(testMnemonic, "", params)
	require.NoError(t, err)

	other, err := master.Derive(path)
	require.NoError(t, err)
	require.False(t, first.Equal(other))

	// Nil pairs compare without panicking.
	var missing *KeyPair
	require.False(t, first.Equal(nil))
	require.False(t, missing.Equal(first))
	require.True(t, missing.Equal(nil))
}

// TestBIP84KeyVector checks the raw key material of the BIP-84 vector.
func TestBIP84KeyVector(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	master, err := DeriveMaster(testMnemonic, "", params)
	require.NoError(t, err)

	pair, err := master.Derive(
		StandardPath(PurposeBIP84, params, 0, ExternalBranch, 0),
	)
	require.NoError(t, err)

	require.Equal(
		t, "0330d54fd0dd420a6e5f8d3624f5f3482cae350f79d5f0753bf5beef9c2d91af3c",
		hex.EncodeToString(pair.PubKey.SerializeCompressed()),
	)

	wif, err := ExportWIF(pair.PrivKey, params, true)
	require.NoError(t, err)
	require.Equal(
		t, "KyZpNDKnfs94vbrwhJneDi77V6jF64PWPF8x5cdJb8ifgg2DUc9d", wif,
	)

	imported, compressed, err := ImportWIF(wif, params)
	require.NoError(t, err)
	require.True(t, compressed)
	require.Equal(t, pair.PrivKey.Serialize(), imported.Serialize())

	_, _, err = ImportWIF(wif, &chaincfg.TestNet3Params)
	require.ErrorIs(t, err, ErrWrongNetwork)
}

// TestDeriveMasterErrors checks mnemonic and seed validation.
func TestDeriveMasterErrors(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams

	// Twelve "abandon" words fail the checksum.
	badChecksum := strings.TrimSpace(strings.Repeat("abandon ", 12))
	_, err := DeriveMaster(badChecksum, "", params)
	require.ErrorIs(t, err, ErrInvalidMnemonic)
	require.ErrorIs(t, ValidateMnemonic(badChecksum), ErrInvalidMnemonic)

	_, err = DeriveMaster("not a real mnemonic at all", "", params)
	require.ErrorIs(t, err, ErrInvalidMnemonic)

	// Extra whitespace and capitals are tolerated.
	_, err = DeriveMaster(
		"  "+strings.ToUpper(testMnemonic)+"\n", "", params,
	)
	require.NoError(t, err)

	_, err = DeriveMasterFromSeed(bytes.Repeat([]byte{7}, 32), params)
	require.ErrorIs(t, err, ErrWeakEntropy)

	_, err = DeriveMasterFromSeed([]byte{1, 2, 3}, params)
	require.ErrorIs(t, err, ErrWeakEntropy)
}

// TestNewMnemonic checks that generated mnemonics are valid and distinct.
func TestNewMnemonic(t *testing.T) {
	t.Parallel()

	first, err := NewMnemonic(128)
	require.NoError(t, err)
	require.Len(t, strings.Fields(first), 12)
	require.NoError(t, ValidateMnemonic(first))

	second, err := NewMnemonic(256)
	require.NoError(t, err)
	require.Len(t, strings.Fields(second), 24)
	require.NotEqual(t, first, second)

	_, err = NewEntropy(100)
	require.ErrorIs(t, err, ErrInvalidEntropySize)
}

// TestZeroedMasterKey checks that a zeroed master key refuses to derive.
func TestZeroedMasterKey(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	master, err := DeriveMaster(testMnemonic, "", params)
	require.NoError(t, err)

	xpub, err := master.AccountXPub(PurposeBIP84, 0)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(xpub, "xpub"))

	_, err = master.Fingerprint()
	require.NoError(t, err)

	master.Zero()

	_, err = master.Derive(Path{0})
	require.ErrorIs(t, err, ErrKeyZeroed)
}
