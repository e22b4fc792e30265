package keychain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcspend/address"
	"github.com/stretchr/testify/require"
)

// TestParsePath checks path parsing for valid and malformed inputs.
func TestParsePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		path  string
		want  Path
		valid bool
	}{
		{path: "m", want: Path{}, valid: true},
		{path: "m/0", want: Path{0}, valid: true},
		{
			path:  "m/84'/0h/0H/1/5",
			want:  Path{84 + HardenedKeyStart, HardenedKeyStart, HardenedKeyStart, 1, 5},
			valid: true,
		},
		{path: "M/2147483647", want: Path{2147483647}, valid: true},
		{path: "", valid: false},
		{path: "84'/0'", valid: false},
		{path: "m/", valid: false},
		{path: "m//1", valid: false},
		{path: "m/-1", valid: false},
		{path: "m/1x", valid: false},
		{path: "m/2147483648", valid: false},
		{path: "m/4294967296'", valid: false},
		{path: "m/''", valid: false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()

			got, err := ParsePath(tc.path)
			if !tc.valid {
				require.ErrorIs(t, err, ErrInvalidDerivationPath)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestPathString checks that String and ParsePath round-trip.
func TestPathString(t *testing.T) {
	t.Parallel()

	path := StandardPath(
		PurposeBIP86, &chaincfg.TestNet3Params, 2, InternalBranch, 9,
	)
	require.Equal(t, "m/86'/1'/2'/1/9", path.String())

	parsed, err := ParsePath(path.String())
	require.NoError(t, err)
	require.Equal(t, path, parsed)
}

// TestPurposeAddressType checks the purpose to address type mapping in both
// directions.
func TestPurposeAddressType(t *testing.T) {
	t.Parallel()

	for _, typ := range []address.Type{
		address.Legacy, address.NestedSegwit, address.NativeSegwit,
		address.Taproot,
	} {
		purpose, err := PurposeForType(typ)
		require.NoError(t, err)

		back, err := purpose.AddressType()
		require.NoError(t, err)
		require.Equal(t, typ, back)
	}

	_, err := Purpose(1).AddressType()
	require.ErrorIs(t, err, ErrInvalidDerivationPath)
}
