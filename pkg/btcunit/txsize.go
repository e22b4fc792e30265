// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
)

// sizeUnit stores a transaction size in weight units. Every public size type
// wraps it so sizes of different units can be mixed without rounding.
type sizeUnit struct {
	wu uint64
}

// ToWU converts the size to weight units.
func (s sizeUnit) ToWU() WeightUnit {
	return WeightUnit{s}
}

// ToVB converts the size to virtual bytes.
func (s sizeUnit) ToVB() VByte {
	return VByte{s}
}

// WeightUnit is a transaction size in weight units, computed as
// `base size * 3 + total size`.
type WeightUnit struct {
	sizeUnit
}

// NewWeightUnit creates a size of the given number of weight units.
func NewWeightUnit(wu uint64) WeightUnit {
	return WeightUnit{sizeUnit{wu: wu}}
}

// Uint64 returns the raw number of weight units.
func (w WeightUnit) Uint64() uint64 {
	return w.wu
}

// Add returns the sum of both sizes.
func (w WeightUnit) Add(o WeightUnit) WeightUnit {
	return NewWeightUnit(w.wu + o.wu)
}

// Mul returns the size multiplied by n.
func (w WeightUnit) Mul(n uint64) WeightUnit {
	return NewWeightUnit(w.wu * n)
}

// String returns the size in wu.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte is a transaction size in virtual bytes, a quarter of a weight unit.
type VByte struct {
	sizeUnit
}

// NewVByte creates a size of the given number of virtual bytes.
func NewVByte(vb uint64) VByte {
	return VByte{sizeUnit{wu: vb * blockchain.WitnessScaleFactor}}
}

// Uint64 returns the size in whole vbytes, rounded up.
func (v VByte) Uint64() uint64 {
	return (v.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

// String returns the size in vb, rounded up.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.Uint64())
}
