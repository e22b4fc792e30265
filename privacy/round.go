// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privacy

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/assembler"
)

// RoundState is the phase of a CoinJoin round.
type RoundState uint8

const (
	// RoundRegistration accepts participants.
	RoundRegistration RoundState = iota

	// RoundSigning collects signatures for the sealed transaction.
	RoundSigning

	// RoundComplete holds the final transaction.
	RoundComplete

	// RoundFailed is terminal after any error past registration.
	RoundFailed
)

// String returns the name of the state.
func (s RoundState) String() string {
	switch s {
	case RoundRegistration:
		return "registration"
	case RoundSigning:
		return "signing"
	case RoundComplete:
		return "complete"
	case RoundFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Round coordinates one CoinJoin from registration to the final
// transaction. It is safe for concurrent use.
type Round struct {
	builder        *Builder
	amount         btcutil.Amount
	coordinatorFee btcutil.Amount

	mu           sync.Mutex
	state        RoundState
	participants []Participant
	coinJoin     *CoinJoin
	failure      error
}

// NewRound starts a round mixing amount.
func NewRound(builder *Builder, amount,
	coordinatorFee btcutil.Amount) *Round {

	return &Round{
		builder:        builder,
		amount:         amount,
		coordinatorFee: coordinatorFee,
		state:          RoundRegistration,
	}
}

// State returns the current state.
func (r *Round) State() RoundState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Err returns the error that failed the round, if any.
func (r *Round) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.failure
}

// requireState returns ErrRoundState unless the round is in want. The
// caller must hold mu.
func (r *Round) requireState(want RoundState) error {
	if r.state != want {
		return fmt.Errorf("%w: %v, want %v", ErrRoundState, r.state,
			want)
	}

	return nil
}

// fail moves the round to RoundFailed. The caller must hold mu.
func (r *Round) fail(err error) error {
	r.state = RoundFailed
	r.failure = err

	log.Warnf("CoinJoin round failed: %v", err)

	return err
}

// Register adds a participant.
func (r *Round) Register(p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireState(RoundRegistration); err != nil {
		return err
	}

	for _, existing := range r.participants {
		if existing.ID == p.ID {
			return roundErr(p.ID, "registration",
				ErrDuplicateParticipant)
		}
	}

	r.participants = append(r.participants, p)
	log.Debugf("Registered participant %s with %d inputs", p.ID,
		len(p.Utxos))

	return nil
}

// Seal closes registration and builds the CoinJoin. A round with too few
// participants stays open for more registrations; any other failure is
// terminal.
func (r *Round) Seal() (*CoinJoin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireState(RoundRegistration); err != nil {
		return nil, err
	}

	if len(r.participants) < r.builder.cfg.MinParticipants {
		return nil, roundErr("", fmt.Sprintf("%d of %d participants",
			len(r.participants), r.builder.cfg.MinParticipants),
			ErrInsufficientParticipants)
	}

	cj, err := r.builder.BuildCoinJoin(
		r.participants, r.amount, r.coordinatorFee,
	)
	if err != nil {
		return nil, r.fail(err)
	}

	r.coinJoin = cj
	r.state = RoundSigning

	return cj, nil
}

// AddSignedPacket merges the signatures of a participant's copy of the
// PSBT. Signatures on inputs the participant does not own fail the round.
func (r *Round) AddSignedPacket(participantID string,
	signed *psbt.Packet) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireState(RoundSigning); err != nil {
		return err
	}

	packet := r.coinJoin.Packet
	if signed == nil || signed.UnsignedTx.TxHash() !=
		packet.UnsignedTx.TxHash() ||
		len(signed.Inputs) != len(packet.Inputs) {

		return r.fail(roundErr(participantID, "signed packet",
			assembler.ErrMalformedTransaction))
	}

	for i, in := range signed.Inputs {
		if !hasSignature(&in) {
			continue
		}

		op := packet.UnsignedTx.TxIn[i].PreviousOutPoint
		if r.coinJoin.InputOwner[op] != participantID {
			return r.fail(roundErr(participantID, "signatures",
				fmt.Errorf("%w: %v", ErrNotOwner, op)))
		}

		dst := &packet.Inputs[i]
		dst.PartialSigs = in.PartialSigs
		dst.TaprootKeySpendSig = in.TaprootKeySpendSig
		dst.RedeemScript = in.RedeemScript
		dst.FinalScriptSig = in.FinalScriptSig
		dst.FinalScriptWitness = in.FinalScriptWitness
	}

	return nil
}

// Packet returns a copy of the round's PSBT for a participant to sign.
func (r *Round) Packet() (*psbt.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.coinJoin == nil {
		return nil, fmt.Errorf("%w: %v", ErrRoundState, r.state)
	}

	return CopyPacket(r.coinJoin.Packet)
}

// CopyPacket returns a deep copy of packet.
func CopyPacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, err
	}

	return psbt.NewFromRawBytes(&buf, false)
}

// hasSignature reports whether a PSBT input carries signature data.
func hasSignature(in *psbt.PInput) bool {
	return len(in.PartialSigs) > 0 || len(in.TaprootKeySpendSig) > 0 ||
		len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// Finalize finalizes every input, extracts the transaction and verifies
// it. The round is complete afterwards.
func (r *Round) Finalize() (*wire.MsgTx, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireState(RoundSigning); err != nil {
		return nil, err
	}

	tx, err := assembler.FinalizePacket(r.coinJoin.Packet)
	if err != nil {
		return nil, r.fail(roundErr("", "finalize", err))
	}

	r.state = RoundComplete

	log.Infof("CoinJoin round complete: %v", tx.TxHash())

	return tx, nil
}
