// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coinselect chooses which unspent outputs fund a payment, following
// one of several ordering strategies and a fixed dust policy.
package coinselect

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/fees"
	"github.com/btcsuite/btcspend/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultDustLimit is the smallest change output the selector creates.
	// Smaller change is added to the fee instead.
	DefaultDustLimit btcutil.Amount = 546

	// selectionOutputs is the number of outputs every fee estimate
	// assumes: the payment and a change output.
	selectionOutputs = 2
)

// Config holds the policy of a Selector.
type Config struct {
	// DustLimit is the smallest change output that is created. Zero means
	// DefaultDustLimit.
	DustLimit btcutil.Amount

	// Estimator prices the transaction being funded. The zero value
	// prices legacy inputs and outputs, so callers normally set it.
	Estimator fees.Estimator

	// Rand drives the MaximizePrivacy shuffle. Nil means a generator
	// seeded from the operating system.
	Rand *rand.Rand
}

// DefaultConfig returns a config for native segwit spends with the default
// dust limit.
func DefaultConfig() Config {
	return Config{
		DustLimit: DefaultDustLimit,
		Estimator: fees.NewEstimator(
			address.NativeSegwit, address.NativeSegwit,
		),
	}
}

// Selection is the result of a successful selection.
type Selection struct {
	// Inputs are the selected UTXOs in selection order.
	Inputs []Utxo

	// Target is the amount being paid.
	Target btcutil.Amount

	// Fee is the fee the transaction pays. When change below the dust
	// limit was folded it includes that change.
	Fee btcutil.Amount

	// Change is the change amount, either zero or at least the dust
	// limit.
	Change btcutil.Amount

	// FeeRate is the rate the fee was estimated at.
	FeeRate btcunit.SatPerVByte
}

// HasChange reports whether the selection needs a change output.
func (s *Selection) HasChange() bool {
	return s.Change > 0
}

// Total returns the sum of the selected inputs.
func (s *Selection) Total() btcutil.Amount {
	return Sum(s.Inputs)
}

// OutPoints returns the outpoints of the selected inputs.
func (s *Selection) OutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(s.Inputs))
	for _, u := range s.Inputs {
		ops = append(ops, u.OutPoint)
	}

	return ops
}

// Selector selects UTXOs for payments. It is safe for concurrent use.
type Selector struct {
	cfg Config

	// rngMtx guards cfg.Rand, which is not safe for concurrent use.
	rngMtx sync.Mutex
}

// NewSelector returns a selector with the given policy.
func NewSelector(cfg Config) *Selector {
	if cfg.DustLimit == 0 {
		cfg.DustLimit = DefaultDustLimit
	}
	if cfg.Rand == nil {
		cfg.Rand = NewRand()
	}

	return &Selector{cfg: cfg}
}

// DustLimit returns the dust limit in use.
func (s *Selector) DustLimit() btcutil.Amount {
	return s.cfg.DustLimit
}

// Select picks UTXOs paying target at rate. UTXOs are considered in the
// order of the strategy and accumulated until they cover the target and
// the fee of a two output transaction while leaving either no change or
// change of at least the dust limit. If every eligible UTXO is used and the
// change is still below the dust limit, the change is added to the fee.
func (s *Selector) Select(target btcutil.Amount, rate btcunit.SatPerVByte,
	utxos []Utxo, strategy Strategy) (*Selection, error) {

	if err := validate(target, rate, utxos); err != nil {
		return nil, err
	}

	eligible := make([]Utxo, 0, len(utxos))
	for _, u := range utxos {
		if u.Eligible() {
			eligible = append(eligible, u)
		}
	}

	s.rngMtx.Lock()
	ordered, err := strategy.arrange(eligible, target, s.cfg.Rand)
	s.rngMtx.Unlock()
	if err != nil {
		return nil, err
	}

	var sum btcutil.Amount
	for i, u := range ordered {
		sum += u.Value

		fee, err := s.cfg.Estimator.EstimateFee(
			i+1, selectionOutputs, rate,
		)
		if err != nil {
			return nil, err
		}

		if sum < target+fee {
			continue
		}

		change := sum - target - fee
		if change != 0 && change < s.cfg.DustLimit {
			continue
		}

		selection := &Selection{
			Inputs:  ordered[:i+1],
			Target:  target,
			Fee:     fee,
			Change:  change,
			FeeRate: rate,
		}
		log.Debugf("Selected %d of %d utxos with %v: target=%v, "+
			"fee=%v, change=%v", len(selection.Inputs), len(utxos),
			strategy, target, fee, change)

		return selection, nil
	}

	feeAll, err := s.cfg.Estimator.EstimateFee(
		len(ordered), selectionOutputs, rate,
	)
	if err != nil {
		return nil, err
	}

	// Every eligible UTXO is used and the only obstacle left is change
	// below the dust limit, which goes to the miners.
	if len(ordered) > 0 && sum >= target+feeAll {
		log.Debugf("Folding %v of dust change into the fee",
			sum-target-feeAll)

		return &Selection{
			Inputs:  ordered,
			Target:  target,
			Fee:     sum - target,
			FeeRate: rate,
		}, nil
	}

	return nil, &InsufficientFundsError{
		Required:  target + feeAll,
		Available: sum,
	}
}

// validate checks the preconditions of Select.
func validate(target btcutil.Amount, rate btcunit.SatPerVByte,
	utxos []Utxo) error {

	if target <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, target)
	}

	if rate.IsZero() || rate.IsNegative() {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, rate)
	}

	if len(utxos) == 0 {
		return ErrNoUtxos
	}

	seen := fn.NewSet[wire.OutPoint]()
	for _, u := range utxos {
		if seen.Contains(u.OutPoint) {
			return fmt.Errorf("%w: %v", ErrDuplicatedUtxo, u.OutPoint)
		}
		seen.Add(u.OutPoint)
	}

	return nil
}
