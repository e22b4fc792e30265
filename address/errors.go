// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package address

import (
	"errors"
	"fmt"
)

// ErrInvalidAddressFormat is the error every decoding failure matches with
// errors.Is.
var ErrInvalidAddressFormat = errors.New("invalid address format")

// FormatErrorKind describes why an address string was rejected.
type FormatErrorKind uint8

const (
	// BadEncoding means the string is not valid base58 or bech32.
	BadEncoding FormatErrorKind = iota

	// ChecksumMismatch means the checksum did not verify, including a
	// bech32/bech32m variant mismatch.
	ChecksumMismatch

	// UnknownVersion means the version byte or witness version is not
	// recognized.
	UnknownVersion

	// WrongNetwork means the address belongs to another network.
	WrongNetwork

	// BadLength means the payload or witness program has the wrong size.
	BadLength

	// Unsupported means the address is valid but not one of the supported
	// types.
	Unsupported
)

// String returns a short description of the kind.
func (k FormatErrorKind) String() string {
	switch k {
	case BadEncoding:
		return "bad encoding"
	case ChecksumMismatch:
		return "checksum mismatch"
	case UnknownVersion:
		return "unknown version"
	case WrongNetwork:
		return "wrong network"
	case BadLength:
		return "bad length"
	case Unsupported:
		return "unsupported address type"
	default:
		return "unknown"
	}
}

// FormatError is returned by Decode.
type FormatError struct {
	// Kind is the reason the address was rejected.
	Kind FormatErrorKind

	// Address is the rejected input.
	Address string

	// Err is the underlying codec error, if any.
	Err error
}

func newFormatError(kind FormatErrorKind, addr string, err error) *FormatError {
	return &FormatError{Kind: kind, Address: addr, Err: err}
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %q: %v: %v", ErrInvalidAddressFormat,
			e.Address, e.Kind, e.Err)
	}

	return fmt.Sprintf("%v %q: %v", ErrInvalidAddressFormat, e.Address,
		e.Kind)
}

// Is makes every FormatError match ErrInvalidAddressFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidAddressFormat
}

// Unwrap returns the underlying codec error.
func (e *FormatError) Unwrap() error {
	return e.Err
}
