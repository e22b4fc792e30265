// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit provides fee rate and transaction size units used by the
// fee estimator and the coin selector.
package btcunit

import (
	"fmt"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

// kilo is the multiplier between a unit and its kilo-unit.
const kilo = 1000

var (
	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0)

	// ZeroSatPerKVByte is a fee rate of 0 sat/kvb.
	ZeroSatPerKVByte = NewSatPerKVByte(0)
)

// feeRate is the canonical representation shared by every rate type. The
// value is kept as satoshis per kilo-weight-unit so that conversions between
// units never lose precision.
type feeRate struct {
	satsPerKWU *big.Rat
}

// newFeeRate returns the rate numerator/denominator expressed in sat/kwu. A
// zero denominator yields a zero rate.
func newFeeRate(numerator btcutil.Amount, denominator uint64) feeRate {
	if denominator == 0 {
		return feeRate{satsPerKWU: new(big.Rat)}
	}

	return feeRate{satsPerKWU: big.NewRat(
		int64(numerator), clampUint64(denominator),
	)}
}

// rat returns the underlying value, treating an uninitialised rate as zero.
func (f feeRate) rat() *big.Rat {
	if f.satsPerKWU == nil {
		return new(big.Rat)
	}

	return f.satsPerKWU
}

// feeFor returns rate × weight as a rational number of satoshis.
func (f feeRate) feeFor(w WeightUnit) *big.Rat {
	return new(big.Rat).Mul(
		f.rat(), big.NewRat(clampUint64(w.wu), kilo),
	)
}

// FeeForWeight returns the fee for the given weight, rounded down.
func (f feeRate) FeeForWeight(w WeightUnit) btcutil.Amount {
	fee := f.feeFor(w)
	q := new(big.Int).Quo(fee.Num(), fee.Denom())

	return btcutil.Amount(q.Int64())
}

// FeeForWeightRoundUp returns the fee for the given weight, rounded up to the
// next whole satoshi.
func (f feeRate) FeeForWeightRoundUp(w WeightUnit) btcutil.Amount {
	fee := f.feeFor(w)

	// ceil(n/d) = (n + d - 1) / d for positive n and d.
	n := new(big.Int).Add(fee.Num(), fee.Denom())
	n.Sub(n, big.NewInt(1))
	n.Quo(n, fee.Denom())

	return btcutil.Amount(n.Int64())
}

// FeeForVByte returns the fee for the given virtual size, rounded down.
func (f feeRate) FeeForVByte(vb VByte) btcutil.Amount {
	return f.FeeForWeight(vb.ToWU())
}

// IsZero reports whether the rate is zero.
func (f feeRate) IsZero() bool {
	return f.rat().Sign() == 0
}

// IsNegative reports whether the rate is below zero.
func (f feeRate) IsNegative() bool {
	return f.rat().Sign() < 0
}

func (f feeRate) cmp(o feeRate) int {
	return f.rat().Cmp(o.rat())
}

// SatPerVByte is a fee rate expressed in sat/vb.
type SatPerVByte struct {
	feeRate
}

// NewSatPerVByte creates a fee rate of the given number of sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	// One vbyte is four weight units, so x sat/vb is x*1000/4 sat/kwu.
	return SatPerVByte{newFeeRate(
		rate*kilo, blockchain.WitnessScaleFactor,
	)}
}

// ToSatPerKVByte converts the rate to sat/kvb.
func (s SatPerVByte) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte{s.feeRate}
}

// Equal reports whether both rates are the same.
func (s SatPerVByte) Equal(o SatPerVByte) bool {
	return s.cmp(o.feeRate) == 0
}

// LessThan reports whether s is strictly lower than o.
func (s SatPerVByte) LessThan(o SatPerVByte) bool {
	return s.cmp(o.feeRate) < 0
}

// GreaterThan reports whether s is strictly higher than o.
func (s SatPerVByte) GreaterThan(o SatPerVByte) bool {
	return s.cmp(o.feeRate) > 0
}

// String returns the rate in sat/vb with three decimals.
func (s SatPerVByte) String() string {
	vb := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, kilo),
	)

	return vb.FloatString(3) + " sat/vb"
}

// SatPerKVByte is a fee rate expressed in sat/kvb, the unit used by the
// bitcoind RPC interface and the relay fee policy.
type SatPerKVByte struct {
	feeRate
}

// NewSatPerKVByte creates a fee rate of the given number of sat/kvb.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{newFeeRate(rate, blockchain.WitnessScaleFactor)}
}

// ToSatPerVByte converts the rate to sat/vb.
func (s SatPerKVByte) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{s.feeRate}
}

// Amount returns the rate as whole satoshis per kvb, rounded down.
func (s SatPerKVByte) Amount() btcutil.Amount {
	return s.FeeForVByte(NewVByte(kilo))
}

// String returns the rate in sat/kvb.
func (s SatPerKVByte) String() string {
	kvb := new(big.Rat).Mul(
		s.rat(), big.NewRat(blockchain.WitnessScaleFactor, 1),
	)

	return kvb.FloatString(3) + " sat/kvb"
}

// clampUint64 converts v to int64, saturating at math.MaxInt64.
func clampUint64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}

// ParseSatPerVByte parses a decimal sat/vb value such as "2.5".
func ParseSatPerVByte(s string) (SatPerVByte, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return ZeroSatPerVByte, fmt.Errorf("invalid fee rate %q", s)
	}
	if r.Sign() < 0 {
		return ZeroSatPerVByte, fmt.Errorf("negative fee rate %q", s)
	}

	r.Mul(r, big.NewRat(kilo, blockchain.WitnessScaleFactor))

	return SatPerVByte{feeRate{satsPerKWU: r}}, nil
}
