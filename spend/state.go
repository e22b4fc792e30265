// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package spend

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrStateForbidden is returned when an operation is not allowed in the
// current state of a spend.
var ErrStateForbidden = errors.New("operation forbidden in current state")

// State is the lifecycle state of a spend.
type State uint32

const (
	// StateDraft is a spend without inputs.
	StateDraft State = iota

	// StateUTXOsSelected is a spend whose inputs are selected and locked
	// and whose unsigned transaction is assembled.
	StateUTXOsSelected

	// StateEnhanced is a funded spend whose change was moved into a
	// taproot script tree.
	StateEnhanced

	// StateSigned is a spend whose inputs are all signed and verified.
	StateSigned

	// StateFinal is a relayed spend. It is terminal.
	StateFinal

	// StateAborted is an abandoned spend. It is terminal.
	StateAborted
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDraft:
		return "draft"

	case StateUTXOsSelected:
		return "utxos-selected"

	case StateEnhanced:
		return "enhanced"

	case StateSigned:
		return "signed"

	case StateFinal:
		return "final"

	case StateAborted:
		return "aborted"

	default:
		return "unknown spend state"
	}
}

// terminal reports whether no transition leaves s.
func (s State) terminal() bool {
	return s == StateFinal || s == StateAborted
}

// spendState is the atomic state of one spend.
type spendState struct {
	state atomic.Uint32
}

// load returns the current state.
func (s *spendState) load() State {
	return State(s.state.Load())
}

// transition moves from one of the from states to next. It fails with
// ErrStateForbidden if the current state is none of them.
func (s *spendState) transition(next State, from ...State) error {
	for _, f := range from {
		if s.state.CompareAndSwap(uint32(f), uint32(next)) {
			log.Tracef("Spend state %v -> %v", f, next)
			return nil
		}
	}

	return fmt.Errorf("%w: cannot move to %v from %v", ErrStateForbidden,
		next, s.load())
}

// require fails with ErrStateForbidden unless the current state is one of
// want.
func (s *spendState) require(want ...State) error {
	cur := s.load()
	for _, w := range want {
		if cur == w {
			return nil
		}
	}

	return fmt.Errorf("%w: spend is %v", ErrStateForbidden, cur)
}

// abort moves any non-terminal state to StateAborted.
func (s *spendState) abort() error {
	for {
		cur := s.load()
		if cur.terminal() {
			return fmt.Errorf("%w: spend is %v", ErrStateForbidden,
				cur)
		}

		if s.state.CompareAndSwap(uint32(cur), uint32(StateAborted)) {
			log.Tracef("Spend state %v -> %v", cur, StateAborted)
			return nil
		}
	}
}
