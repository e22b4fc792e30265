// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privacy

import (
	"errors"
	"fmt"
)

var (
	// ErrPrivacyRoundFailed is matched by every *RoundError.
	ErrPrivacyRoundFailed = errors.New("privacy round failed")

	// ErrInsufficientParticipants is returned when a CoinJoin has fewer
	// participants than the configured minimum.
	ErrInsufficientParticipants = errors.New("insufficient participants")

	// ErrDuplicateInput is returned when an outpoint is contributed twice.
	ErrDuplicateInput = errors.New("duplicate input")

	// ErrDuplicateOutput is returned when an output script is used twice.
	ErrDuplicateOutput = errors.New("duplicate output script")

	// ErrDuplicateParticipant is returned when a participant registers
	// twice.
	ErrDuplicateParticipant = errors.New("duplicate participant")

	// ErrInvalidAmount is returned for a mix amount that is not positive
	// or below the dust limit.
	ErrInvalidAmount = errors.New("invalid mix amount")

	// ErrMissingChangeAddress is returned when a participant is owed
	// change above the dust limit but gave no change address.
	ErrMissingChangeAddress = errors.New("missing change address")

	// ErrOutputMismatch is returned when the built transaction does not
	// pay every participant exactly once.
	ErrOutputMismatch = errors.New("coinjoin outputs do not match " +
		"participants")

	// ErrNotOwner is returned when a participant signs an input it did
	// not contribute.
	ErrNotOwner = errors.New("input not owned by participant")

	// ErrRoundState is returned when a round operation is not allowed in
	// the current state.
	ErrRoundState = errors.New("operation not allowed in round state")

	// ErrPayJoinInvalidOriginal is returned when the original transaction
	// of a PayJoin does not pay the receiver or spends inputs the sender
	// did not declare.
	ErrPayJoinInvalidOriginal = errors.New("invalid payjoin original " +
		"transaction")
)

// RoundError describes why a privacy round failed and, where known, which
// participant caused it.
type RoundError struct {
	// Participant is the ID of the offending participant, empty when the
	// failure is not attributable.
	Participant string

	// Reason is a short description of the failure.
	Reason string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RoundError) Error() string {
	if e.Participant == "" {
		return fmt.Sprintf("%v: %s: %v", ErrPrivacyRoundFailed,
			e.Reason, e.Err)
	}

	return fmt.Sprintf("%v: participant %s: %s: %v",
		ErrPrivacyRoundFailed, e.Participant, e.Reason, e.Err)
}

// Is makes errors.Is match ErrPrivacyRoundFailed.
func (e *RoundError) Is(target error) bool {
	return target == ErrPrivacyRoundFailed
}

// Unwrap returns the underlying cause.
func (e *RoundError) Unwrap() error {
	return e.Err
}

// roundErr builds a *RoundError.
func roundErr(participant, reason string, err error) *RoundError {
	return &RoundError{Participant: participant, Reason: reason, Err: err}
}
