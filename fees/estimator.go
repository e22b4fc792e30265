// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package fees turns input and output counts into transaction fees using a
// fixed worst-case size per input and output type.
package fees

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/pkg/btcunit"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

var (
	// ErrNegativeCount is returned when an input or output count is
	// negative.
	ErrNegativeCount = errors.New("negative input or output count")

	// ErrNonPositiveFeeRate is returned when a fee rate is zero or
	// negative where a positive rate is required.
	ErrNonPositiveFeeRate = errors.New("fee rate must be positive")
)

const (
	// witnessMarkerWeight is the segwit marker and flag bytes, which only
	// count at witness scale.
	witnessMarkerWeight = 2

	// baseOverheadSize covers version (4), locktime (4) and the input and
	// output count varints (1 each).
	baseOverheadSize = 4 + 4 + 1 + 1

	// nestedP2WPKHOutputSize is the serialized size of a P2SH output.
	nestedP2WPKHOutputSize = 8 + 1 + txsizes.NestedP2WPKHPkScriptSize
)

// InputWeight returns the worst case weight an input of the given type adds
// to a transaction, including its witness.
func InputWeight(typ address.Type) btcunit.WeightUnit {
	var base, witness uint64

	switch typ {
	case address.Legacy:
		base = txsizes.RedeemP2PKHInputSize

	case address.NestedSegwit:
		base = txsizes.RedeemNestedP2WPKHInputSize
		witness = txsizes.RedeemP2WPKHInputWitnessWeight

	case address.NativeSegwit:
		base = txsizes.RedeemP2WPKHInputSize
		witness = txsizes.RedeemP2WPKHInputWitnessWeight

	case address.Taproot:
		base = txsizes.RedeemP2TRInputSize
		witness = txsizes.RedeemP2TRInputWitnessWeight

	default:
		// Unknown spends are charged as the most expensive type.
		base = txsizes.RedeemP2PKHInputSize
	}

	// Round the witness up to whole vbytes so each input has a fixed vbyte
	// cost.
	witnessVB := (witness + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return btcunit.NewVByte(base + witnessVB).ToWU()
}

// OutputWeight returns the weight of an output of the given type.
func OutputWeight(typ address.Type) btcunit.WeightUnit {
	var size uint64

	switch typ {
	case address.Legacy:
		size = txsizes.P2PKHOutputSize
	case address.NestedSegwit:
		size = nestedP2WPKHOutputSize
	case address.NativeSegwit:
		size = txsizes.P2WPKHOutputSize
	case address.Taproot:
		size = txsizes.P2TROutputSize
	default:
		size = txsizes.P2TROutputSize
	}

	return btcunit.NewVByte(size).ToWU()
}

// Overhead returns the fixed weight of a transaction with no inputs and
// outputs. Transactions spending witness inputs also pay for the marker and
// flag.
func Overhead(witness bool) btcunit.WeightUnit {
	w := btcunit.NewVByte(baseOverheadSize).ToWU()
	if witness {
		w = w.Add(btcunit.NewWeightUnit(witnessMarkerWeight))
	}

	return w
}

// Estimator computes fees for transactions whose inputs and outputs all
// share one type.
type Estimator struct {
	// InputType is the spend type of every input.
	InputType address.Type

	// OutputType is the script type of every output.
	OutputType address.Type
}

// NewEstimator returns an estimator for the given input and output types.
func NewEstimator(in, out address.Type) Estimator {
	return Estimator{InputType: in, OutputType: out}
}

// Weight returns inputCost×numInputs + outputCost×numOutputs + overhead.
func (e Estimator) Weight(numInputs, numOutputs int) (btcunit.WeightUnit,
	error) {

	if numInputs < 0 || numOutputs < 0 {
		return btcunit.WeightUnit{}, fmt.Errorf("%w: inputs=%d "+
			"outputs=%d", ErrNegativeCount, numInputs, numOutputs)
	}

	w := Overhead(e.InputType != address.Legacy)
	w = w.Add(InputWeight(e.InputType).Mul(uint64(numInputs)))
	w = w.Add(OutputWeight(e.OutputType).Mul(uint64(numOutputs)))

	return w, nil
}

// EstimateFee returns the fee for a transaction with the given number of
// inputs and outputs at rate, rounded up to the next satoshi. The result
// never decreases when either count grows.
func (e Estimator) EstimateFee(numInputs, numOutputs int,
	rate btcunit.SatPerVByte) (btcutil.Amount, error) {

	w, err := e.Weight(numInputs, numOutputs)
	if err != nil {
		return 0, err
	}

	return rate.FeeForWeightRoundUp(w), nil
}

// EstimateFee is a shorthand for an Estimator whose inputs and outputs are
// native segwit.
func EstimateFee(numInputs, numOutputs int,
	rate btcunit.SatPerVByte) (btcutil.Amount, error) {

	return NewEstimator(address.NativeSegwit, address.NativeSegwit).
		EstimateFee(numInputs, numOutputs, rate)
}

// EstimateMixed returns the fee for a transaction spending inputs of the
// given types into outputs, optionally with one change output of
// changeType, using the wallet's worst case size estimate.
func EstimateMixed(inputs []address.Type, outputs []*wire.TxOut,
	change bool, changeType address.Type,
	rate btcunit.SatPerVByte) (btcutil.Amount, error) {

	var p2pkh, p2tr, p2wpkh, nested int
	for _, typ := range inputs {
		switch typ {
		case address.Legacy:
			p2pkh++
		case address.NestedSegwit:
			nested++
		case address.NativeSegwit:
			p2wpkh++
		case address.Taproot:
			p2tr++
		default:
			return 0, fmt.Errorf("%w: %v", address.ErrUnknownType,
				typ)
		}
	}

	changeScriptSize := 0
	if change {
		changeScriptSize = changeScriptLen(changeType)
	}

	vsize := txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, outputs, changeScriptSize,
	)

	return rate.FeeForVByte(btcunit.NewVByte(uint64(vsize))), nil
}

// changeScriptLen returns the script length of a change output.
func changeScriptLen(typ address.Type) int {
	switch typ {
	case address.Legacy:
		return txsizes.P2PKHPkScriptSize
	case address.NestedSegwit:
		return txsizes.NestedP2WPKHPkScriptSize
	case address.NativeSegwit:
		return txsizes.P2WPKHPkScriptSize
	default:
		return txsizes.P2TRPkScriptSize
	}
}

// RelayFee returns the minimum relay fee for a transaction of the given
// weight under the default relay policy.
func RelayFee(w btcunit.WeightUnit) btcutil.Amount {
	return txrules.FeeForSerializeSize(
		txrules.DefaultRelayFeePerKb, int(w.ToVB().Uint64()),
	)
}
