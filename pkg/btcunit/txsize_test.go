package btcunit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSizeConversions checks conversions between weight units and vbytes.
func TestSizeConversions(t *testing.T) {
	t.Parallel()

	vb := NewVByte(10)
	require.Equal(t, uint64(40), vb.ToWU().Uint64())
	require.Equal(t, "10 vb", vb.String())

	// Partial vbytes round up.
	w := NewWeightUnit(41)
	require.Equal(t, uint64(11), w.ToVB().Uint64())
	require.Equal(t, "41 wu", w.String())

	sum := NewWeightUnit(100).Add(NewWeightUnit(10).Mul(3))
	require.Equal(t, uint64(130), sum.Uint64())
}
