// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNilDB is returned when a store is created without a database
	// handle.
	ErrNilDB = errors.New("nil database")

	// ErrWalletNotFound is returned when a wallet ID is unknown.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTxNotFound is returned when a txid is unknown.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidStatusTransition is returned when a transaction status
	// change is not allowed.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrDecrypt is returned when sealed data cannot be opened, either
	// because the passphrase is wrong or the data was altered.
	ErrDecrypt = errors.New("unable to decrypt private data")
)

// ErrorCode identifies a kind of storage failure.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates a failure of the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrCorruptData indicates a stored value that cannot be decoded.
	ErrCorruptData

	// ErrMigration indicates a failed schema migration.
	ErrMigration
)

// String returns a short name of the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrDatabase:
		return "database"
	case ErrCorruptData:
		return "corrupt data"
	case ErrMigration:
		return "migration"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is a storage failure with a code and a descriptive message.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Desc, e.Err)
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError reports whether err is an Error with the given code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}
