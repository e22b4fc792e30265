// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coinselect

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrInsufficientFunds is matched by every *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTarget is returned when the target amount is not
	// positive.
	ErrInvalidTarget = errors.New("target amount must be positive")

	// ErrInvalidFeeRate is returned when the fee rate is not positive.
	ErrInvalidFeeRate = errors.New("fee rate must be positive")

	// ErrNoUtxos is returned when no UTXOs are offered for selection.
	ErrNoUtxos = errors.New("no utxos to select from")

	// ErrDuplicatedUtxo is returned when the same outpoint is offered more
	// than once.
	ErrDuplicatedUtxo = errors.New("duplicated utxo")

	// ErrUnknownStrategy is returned for a strategy value outside the
	// defined set.
	ErrUnknownStrategy = errors.New("unknown selection strategy")
)

// InsufficientFundsError reports that the eligible UTXOs cannot pay for the
// target and the fee.
type InsufficientFundsError struct {
	// Required is the target plus the fee of spending every eligible
	// UTXO.
	Required btcutil.Amount

	// Available is the sum of the eligible UTXOs.
	Available btcutil.Amount
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: required %v, available %v",
		ErrInsufficientFunds, e.Required, e.Available)
}

// Unwrap makes errors.Is match ErrInsufficientFunds.
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Shortfall returns how much is missing.
func (e *InsufficientFundsError) Shortfall() btcutil.Amount {
	if e.Available >= e.Required {
		return 0
	}

	return e.Required - e.Available
}
