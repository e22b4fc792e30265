package fees

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// TestInputOutputCosts checks the fixed per-type costs in vbytes.
func TestInputOutputCosts(t *testing.T) {
	t.Parallel()

	inputs := map[address.Type]uint64{
		address.Legacy:       149,
		address.NestedSegwit: 92,
		address.NativeSegwit: 69,
		address.Taproot:      58,
	}
	for typ, vb := range inputs {
		require.Equal(t, vb, InputWeight(typ).ToVB().Uint64(), typ)
	}

	outputs := map[address.Type]uint64{
		address.Legacy:       34,
		address.NestedSegwit: 32,
		address.NativeSegwit: 31,
		address.Taproot:      43,
	}
	for typ, vb := range outputs {
		require.Equal(t, vb, OutputWeight(typ).ToVB().Uint64(), typ)
	}

	// Witness inputs are cheaper than legacy ones.
	require.Less(
		t, InputWeight(address.NativeSegwit).Uint64(),
		InputWeight(address.Legacy).Uint64(),
	)
}

// TestEstimateFee checks the fee formula on a concrete case.
func TestEstimateFee(t *testing.T) {
	t.Parallel()

	rate := btcunit.NewSatPerVByte(5)

	// 2×276 + 2×124 + 42 = 842 wu = 210.5 vb, at 5 sat/vb that is
	// 1052.5 sat which rounds up.
	fee, err := EstimateFee(2, 2, rate)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1053), fee)

	// Legacy transactions have no segwit marker.
	legacy := NewEstimator(address.Legacy, address.Legacy)
	w, err := legacy.Weight(1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64((10+149+34)*4), w.Uint64())

	_, err = legacy.EstimateFee(-1, 1, rate)
	require.ErrorIs(t, err, ErrNegativeCount)
}

// TestEstimateFeeMonotonic checks that the fee never decreases when inputs
// or outputs are added.
func TestEstimateFeeMonotonic(t *testing.T) {
	t.Parallel()

	types := []address.Type{
		address.Legacy, address.NestedSegwit, address.NativeSegwit,
		address.Taproot,
	}
	rates := []btcunit.SatPerVByte{
		btcunit.NewSatPerVByte(1), btcunit.NewSatPerVByte(7),
		btcunit.NewSatPerKVByte(1234).ToSatPerVByte(),
	}

	for _, in := range types {
		for _, out := range types {
			est := NewEstimator(in, out)

			for _, rate := range rates {
				prev := btcutil.Amount(0)
				for n := 0; n < 30; n++ {
					fee, err := est.EstimateFee(n, 2, rate)
					require.NoError(t, err)
					require.GreaterOrEqual(t, fee, prev)

					more, err := est.EstimateFee(n, 3, rate)
					require.NoError(t, err)
					require.GreaterOrEqual(t, more, fee)

					prev = fee
				}
			}
		}
	}
}

// TestEstimateMixed checks the mixed estimate against the fixed model for a
// single-type transaction.
func TestEstimateMixed(t *testing.T) {
	t.Parallel()

	rate := btcunit.NewSatPerVByte(2)
	out := &wire.TxOut{Value: 1000, PkScript: make([]byte, 22)}

	mixed, err := EstimateMixed(
		[]address.Type{address.NativeSegwit, address.Taproot},
		[]*wire.TxOut{out}, true, address.NativeSegwit, rate,
	)
	require.NoError(t, err)
	require.Positive(t, int64(mixed))

	noChange, err := EstimateMixed(
		[]address.Type{address.NativeSegwit, address.Taproot},
		[]*wire.TxOut{out}, false, address.NativeSegwit, rate,
	)
	require.NoError(t, err)
	require.Less(t, noChange, mixed)

	_, err = EstimateMixed(
		[]address.Type{address.Type(9)}, nil, false, 0, rate,
	)
	require.ErrorIs(t, err, address.ErrUnknownType)

	require.Positive(t, int64(RelayFee(btcunit.NewVByte(200).ToWU())))
}
