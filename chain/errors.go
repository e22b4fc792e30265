// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrStatusUnknown is returned when a chain query did not complete in
	// time. The outcome of the query is unknown: a broadcast may or may
	// not have reached the network.
	ErrStatusUnknown = errors.New("chain status unknown")

	// ErrOutputSpent is returned when a queried output no longer exists
	// in the UTXO set.
	ErrOutputSpent = errors.New("output spent or unknown")

	// ErrInvalidResponse is returned when the node answers with data that
	// cannot be decoded.
	ErrInvalidResponse = errors.New("invalid response from node")
)

// Error marks a failed interaction with the chain backend.
type Error struct {
	// Op is the name of the failed operation.
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsStatusUnknown reports whether err means the outcome of a chain query is
// unknown.
func IsStatusUnknown(err error) bool {
	return errors.Is(err, ErrStatusUnknown)
}
