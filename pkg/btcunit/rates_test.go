package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestFeeRateConversions checks that a rate survives a round trip through
// the different units and reports the expected per-kvb amount.
func TestFeeRateConversions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		rate   SatPerVByte
		perKvb btcutil.Amount
		str    string
	}{
		{
			name:   "1 sat/vb",
			rate:   NewSatPerVByte(1),
			perKvb: 1000,
			str:    "1.000 sat/vb",
		},
		{
			name:   "5 sat/vb",
			rate:   NewSatPerVByte(5),
			perKvb: 5000,
			str:    "5.000 sat/vb",
		},
		{
			name:   "from kvb",
			rate:   NewSatPerKVByte(2500).ToSatPerVByte(),
			perKvb: 2500,
			str:    "2.500 sat/vb",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kvb := tc.rate.ToSatPerKVByte()
			require.Equal(t, tc.perKvb, kvb.Amount())
			require.True(t, tc.rate.Equal(kvb.ToSatPerVByte()))
			require.Equal(t, tc.str, tc.rate.String())
		})
	}
}

// TestFeeForWeightRounding checks the round-down and round-up variants.
func TestFeeForWeightRounding(t *testing.T) {
	t.Parallel()

	// 1 sat/vb is 0.25 sat/wu, so 10 wu costs 2.5 sat.
	rate := NewSatPerVByte(1)
	w := NewWeightUnit(10)

	require.Equal(t, btcutil.Amount(2), rate.FeeForWeight(w))
	require.Equal(t, btcutil.Amount(3), rate.FeeForWeightRoundUp(w))

	// An exact multiple must not be bumped.
	require.Equal(
		t, btcutil.Amount(5), rate.FeeForWeightRoundUp(NewWeightUnit(20)),
	)

	// 209 vb at 5 sat/vb.
	require.Equal(
		t, btcutil.Amount(1045), NewSatPerVByte(5).FeeForVByte(NewVByte(209)),
	)
}

// TestFeeRateComparison checks the comparison helpers, including the zero
// value of the type.
func TestFeeRateComparison(t *testing.T) {
	t.Parallel()

	low, high := NewSatPerVByte(1), NewSatPerVByte(2)

	require.True(t, low.LessThan(high))
	require.True(t, high.GreaterThan(low))
	require.False(t, low.Equal(high))

	var zero SatPerVByte
	require.True(t, zero.IsZero())
	require.True(t, zero.Equal(ZeroSatPerVByte))
	require.Equal(t, btcutil.Amount(0), zero.FeeForVByte(NewVByte(100)))
}

// TestParseSatPerVByte checks decimal parsing of fee rates.
func TestParseSatPerVByte(t *testing.T) {
	t.Parallel()

	rate, err := ParseSatPerVByte("2.5")
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(2500), rate.ToSatPerKVByte().Amount())

	_, err = ParseSatPerVByte("abc")
	require.Error(t, err)

	_, err = ParseSatPerVByte("-1")
	require.Error(t, err)
}
