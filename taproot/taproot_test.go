package taproot

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// testKey returns a deterministic private key derived from seed.
func testKey(seed byte) *btcec.PrivateKey {
	h := sha256.Sum256([]byte{seed})
	priv, _ := btcec.PrivKeyFromBytes(h[:])

	return priv
}

// testLeaves returns n distinct leaf scripts.
func testLeaves(t *testing.T, n int) []ScriptLeaf {
	t.Helper()

	leaves := make([]ScriptLeaf, 0, n)
	for i := 0; i < n; i++ {
		script, err := txscript.NewScriptBuilder().
			AddInt64(int64(i)).
			AddOp(txscript.OP_DROP).
			AddData(schnorr.SerializePubKey(testKey(byte(i)).PubKey())).
			AddOp(txscript.OP_CHECKSIG).
			Script()
		require.NoError(t, err)

		leaves = append(leaves, NewScriptLeaf(script))
	}

	return leaves
}

// TestTweakMatchesTxscript checks the curve arithmetic against the txscript
// implementation for keys of both parities.
func TestTweakMatchesTxscript(t *testing.T) {
	t.Parallel()

	for i := byte(0); i < 16; i++ {
		pub := testKey(i).PubKey()
		root := sha256.Sum256([]byte{i, i})

		for _, merkleRoot := range [][]byte{nil, {}, root[:]} {
			got, err := Tweak(pub, merkleRoot)
			require.NoError(t, err)

			want := txscript.ComputeTaprootOutputKey(pub, merkleRoot)
			require.Equal(
				t, want.SerializeCompressed(),
				got.SerializeCompressed(),
			)
		}

		// An empty root is the key-path-only tweak.
		empty, err := Tweak(pub, nil)
		require.NoError(t, err)
		require.True(t, empty.IsEqual(txscript.ComputeTaprootKeyNoScript(pub)))
	}

	_, err := Tweak(nil, nil)
	require.ErrorIs(t, err, ErrNilKey)
}

// TestBIP86Vector checks the first BIP-86 test vector.
func TestBIP86Vector(t *testing.T) {
	t.Parallel()

	internalBytes, err := hex.DecodeString(
		"cc8a4bc64d897bddc5fbc2f670f7a8ba0b386779106cf1223c6fc5d7cd6fc115",
	)
	require.NoError(t, err)

	internal, err := schnorr.ParsePubKey(internalBytes)
	require.NoError(t, err)

	outputKey, err := BuildScriptTree(nil).OutputKey(internal)
	require.NoError(t, err)
	require.Equal(
		t, "a60869f0dbcf1dc659c9cecbaf8050135ea9e8cdc487053f1dc6880949dc684c",
		hex.EncodeToString(schnorr.SerializePubKey(outputKey)),
	)

	pkScript, err := PkScript(outputKey)
	require.NoError(t, err)
	require.Equal(
		t, "5120a60869f0dbcf1dc659c9cecbaf8050135ea9e8cdc487053f1dc6880949dc684c",
		hex.EncodeToString(pkScript),
	)
}

// TestScriptTreeRoot checks root computation for empty, single leaf and
// multi leaf trees.
func TestScriptTreeRoot(t *testing.T) {
	t.Parallel()

	empty := BuildScriptTree(nil)
	require.Empty(t, empty.MerkleRoot())
	require.NotNil(t, empty.MerkleRoot())
	require.True(t, empty.Root().IsNone())

	leaves := testLeaves(t, 1)
	single := BuildScriptTree(leaves)
	leafHash := leaves[0].TapHash()
	require.Equal(t, leafHash[:], single.MerkleRoot())

	leaves = testLeaves(t, 5)
	tree := BuildScriptTree(leaves)

	tapLeaves := make([]txscript.TapLeaf, 0, len(leaves))
	for _, leaf := range leaves {
		tapLeaves = append(tapLeaves, txscript.NewBaseTapLeaf(leaf.Script))
	}
	want := txscript.AssembleTaprootScriptTree(tapLeaves...).RootNode.TapHash()
	require.Equal(t, want[:], tree.MerkleRoot())
}

// TestControlBlocks checks that every leaf of a tree can be proven against
// the output key, and that tampered proofs are rejected.
func TestControlBlocks(t *testing.T) {
	t.Parallel()

	// Arrange.
	internal := testKey(99).PubKey()
	leaves := testLeaves(t, 3)
	tree := BuildScriptTree(leaves)

	outputKey, err := tree.OutputKey(internal)
	require.NoError(t, err)

	for i, leaf := range leaves {
		// Act.
		controlBlock, err := tree.ControlBlock(internal, i)
		require.NoError(t, err)

		// Assert.
		require.NoError(t, VerifyControlBlock(outputKey, leaf, controlBlock))

		parsed, err := txscript.ParseControlBlock(controlBlock)
		require.NoError(t, err)
		require.NoError(t, txscript.VerifyTaprootLeafCommitment(
			parsed, schnorr.SerializePubKey(outputKey), leaf.Script,
		))

		// The proof does not hold for another leaf.
		other := leaves[(i+1)%len(leaves)]
		require.ErrorIs(
			t, VerifyControlBlock(outputKey, other, controlBlock),
			ErrInvalidControlBlock,
		)

		// Nor once the proof itself is modified.
		tampered := append([]byte(nil), controlBlock...)
		tampered[len(tampered)-1] ^= 0x01
		require.ErrorIs(
			t, VerifyControlBlock(outputKey, leaf, tampered),
			ErrInvalidControlBlock,
		)
	}

	_, err = tree.ControlBlock(internal, len(leaves))
	require.ErrorIs(t, err, ErrLeafIndexOutOfRange)

	_, err = tree.ControlBlock(internal, -1)
	require.ErrorIs(t, err, ErrLeafIndexOutOfRange)

	require.ErrorIs(
		t, VerifyControlBlock(outputKey, leaves[0], []byte{0xc0}),
		ErrInvalidControlBlock,
	)
}

// TestTweakPrivKey checks that the tweaked private key signs for the output
// key.
func TestTweakPrivKey(t *testing.T) {
	t.Parallel()

	tree := BuildScriptTree(testLeaves(t, 2))

	for i := byte(0); i < 8; i++ {
		priv := testKey(i)

		outputKey, err := tree.OutputKey(priv.PubKey())
		require.NoError(t, err)

		tweaked, err := TweakPrivKey(priv, tree.MerkleRoot())
		require.NoError(t, err)
		require.True(t, tweaked.PubKey().IsEqual(outputKey))
	}

	_, err := TweakPrivKey(nil, nil)
	require.ErrorIs(t, err, ErrNilKey)
}
