// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package taproot builds script trees, tweaks internal keys into output keys
// and produces the control blocks that script-path spends reveal.
package taproot

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrLeafIndexOutOfRange is returned when a leaf index does not name a
	// leaf of the tree.
	ErrLeafIndexOutOfRange = errors.New("leaf index out of range")

	// ErrInvalidControlBlock is returned when a control block does not
	// commit the revealed leaf to the output key.
	ErrInvalidControlBlock = errors.New("invalid control block")
)

// ScriptLeaf is a script committed to by a taproot output.
type ScriptLeaf struct {
	// Script is the leaf script.
	Script []byte

	// LeafVersion is the tapscript leaf version, BaseLeafVersion unless
	// set otherwise.
	LeafVersion txscript.TapscriptLeafVersion
}

// NewScriptLeaf returns a leaf of the base leaf version.
func NewScriptLeaf(script []byte) ScriptLeaf {
	return ScriptLeaf{
		Script:      script,
		LeafVersion: txscript.BaseLeafVersion,
	}
}

// tapLeaf converts the leaf to its txscript form.
func (l ScriptLeaf) tapLeaf() txscript.TapLeaf {
	return txscript.NewTapLeaf(l.LeafVersion, l.Script)
}

// TapHash returns the leaf hash.
func (l ScriptLeaf) TapHash() chainhash.Hash {
	return l.tapLeaf().TapHash()
}

// TapBranch is an assembled script tree. Leaves keep their position, and
// each branch hashes its children in lexicographic order.
type TapBranch struct {
	leaves []ScriptLeaf
	root   fn.Option[chainhash.Hash]
	tree   *txscript.IndexedTapScriptTree
}

// BuildScriptTree assembles leaves into a tree. With no leaves the tree has
// no root and commits to nothing.
func BuildScriptTree(leaves []ScriptLeaf) *TapBranch {
	branch := &TapBranch{
		leaves: append([]ScriptLeaf(nil), leaves...),
		root:   fn.None[chainhash.Hash](),
	}
	if len(leaves) == 0 {
		return branch
	}

	tapLeaves := make([]txscript.TapLeaf, 0, len(leaves))
	for _, leaf := range leaves {
		tapLeaves = append(tapLeaves, leaf.tapLeaf())
	}

	branch.tree = txscript.AssembleTaprootScriptTree(tapLeaves...)
	branch.root = fn.Some(branch.tree.RootNode.TapHash())

	return branch
}

// Leaves returns the leaves in tree order.
func (b *TapBranch) Leaves() []ScriptLeaf {
	return b.leaves
}

// Root returns the merkle root if the tree has leaves.
func (b *TapBranch) Root() fn.Option[chainhash.Hash] {
	return b.root
}

// MerkleRoot returns the merkle root bytes, or an empty slice for a tree
// without leaves.
func (b *TapBranch) MerkleRoot() []byte {
	root := []byte{}
	b.root.WhenSome(func(h chainhash.Hash) {
		root = h[:]
	})

	return root
}

// OutputKey returns the output key of internalKey committed to the tree.
func (b *TapBranch) OutputKey(
	internalKey *btcec.PublicKey) (*btcec.PublicKey, error) {

	return Tweak(internalKey, b.MerkleRoot())
}

// PkScript returns the output script of internalKey committed to the tree.
func (b *TapBranch) PkScript(internalKey *btcec.PublicKey) ([]byte, error) {
	outputKey, err := b.OutputKey(internalKey)
	if err != nil {
		return nil, err
	}

	return PkScript(outputKey)
}

// ControlBlock returns the serialized control block that reveals the leaf
// at leafIndex in a script path spend.
func (b *TapBranch) ControlBlock(internalKey *btcec.PublicKey,
	leafIndex int) ([]byte, error) {

	if internalKey == nil {
		return nil, ErrNilKey
	}
	if leafIndex < 0 || leafIndex >= len(b.leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLeafIndexOutOfRange,
			leafIndex, len(b.leaves))
	}

	proof := b.tree.LeafMerkleProofs[leafIndex]
	controlBlock := proof.ToControlBlock(internalKey)

	return controlBlock.ToBytes()
}

// VerifyControlBlock checks that controlBlock proves that leaf is committed
// to outputKey.
func VerifyControlBlock(outputKey *btcec.PublicKey, leaf ScriptLeaf,
	controlBlock []byte) error {

	if outputKey == nil {
		return ErrNilKey
	}

	cb, err := txscript.ParseControlBlock(controlBlock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidControlBlock, err)
	}

	if cb.LeafVersion != leaf.LeafVersion {
		return fmt.Errorf("%w: leaf version %v, want %v",
			ErrInvalidControlBlock, cb.LeafVersion,
			leaf.LeafVersion)
	}

	root := cb.RootHash(leaf.Script)
	expected, err := Tweak(cb.InternalKey, root)
	if err != nil {
		return err
	}

	expectedX := schnorr.SerializePubKey(expected)
	if !bytes.Equal(expectedX, schnorr.SerializePubKey(outputKey)) {
		return fmt.Errorf("%w: output key mismatch",
			ErrInvalidControlBlock)
	}

	oddY := expected.SerializeCompressed()[0] ==
		secp256k1.PubKeyFormatCompressedOdd
	if oddY != cb.OutputKeyYIsOdd {
		return fmt.Errorf("%w: output key parity mismatch",
			ErrInvalidControlBlock)
	}

	return nil
}
