// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package privacy builds CoinJoin and PayJoin transactions. A CoinJoin pays
// the same amount to every participant so outputs cannot be linked to
// inputs; a PayJoin lets the receiver of a payment contribute inputs.
package privacy

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/assembler"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcspend/fees"
	"github.com/btcsuite/btcspend/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultMinParticipants is the smallest CoinJoin that is built.
	DefaultMinParticipants = 5

	// DefaultDustLimit is the smallest output a round creates.
	DefaultDustLimit btcutil.Amount = 546
)

// Config holds the policy of a Builder.
type Config struct {
	// MinParticipants is the smallest accepted CoinJoin. Zero means
	// DefaultMinParticipants.
	MinParticipants int

	// DustLimit is the smallest output created. Zero means
	// DefaultDustLimit.
	DustLimit btcutil.Amount

	// FeeRate is the mining fee rate participants pay.
	FeeRate btcunit.SatPerVByte

	// CoordinatorAddress receives the coordinator fees. Without it the
	// fees go to the miners.
	CoordinatorAddress fn.Option[btcutil.Address]

	// Rand orders inputs and outputs. Nil means a ChaCha8 generator
	// seeded from the operating system.
	Rand *rand.Rand
}

// Participant is one party of a CoinJoin.
type Participant struct {
	// ID names the participant within a round.
	ID string

	// Utxos are the outputs the participant contributes.
	Utxos []coinselect.Utxo

	// OutputAddress receives the mixed amount.
	OutputAddress btcutil.Address

	// ChangeAddress receives what is left after the amount and fees. It
	// may only be nil when that remainder is below the dust limit.
	ChangeAddress btcutil.Address

	// PublicKey identifies the participant to the coordinator.
	PublicKey *btcec.PublicKey
}

// CoinJoin is an unsigned CoinJoin transaction.
type CoinJoin struct {
	// Tx is the unsigned transaction.
	Tx *wire.MsgTx

	// Packet is the PSBT participants sign.
	Packet *psbt.Packet

	// InputOwner maps every input to the participant that contributed
	// it.
	InputOwner map[wire.OutPoint]string

	// Fees is the mining fee each participant pays, including folded
	// change.
	Fees map[string]btcutil.Amount

	// Amount is the mixed amount.
	Amount btcutil.Amount
}

// Builder builds privacy transactions. It is safe for concurrent use.
type Builder struct {
	cfg Config
	asm *assembler.Assembler

	// rngMtx guards cfg.Rand.
	rngMtx sync.Mutex
}

// NewBuilder returns a builder with the given policy.
func NewBuilder(cfg Config) *Builder {
	if cfg.MinParticipants == 0 {
		cfg.MinParticipants = DefaultMinParticipants
	}
	if cfg.DustLimit == 0 {
		cfg.DustLimit = DefaultDustLimit
	}
	if cfg.Rand == nil {
		cfg.Rand = coinselect.NewRand()
	}

	return &Builder{
		cfg: cfg,
		asm: assembler.New(assembler.Config{DustLimit: cfg.DustLimit}),
	}
}

// shuffle permutes n elements with the builder's generator.
func (b *Builder) shuffle(n int, swap func(i, j int)) {
	b.rngMtx.Lock()
	defer b.rngMtx.Unlock()

	b.cfg.Rand.Shuffle(n, swap)
}

// participantFee returns what a participant pays the miners for its
// inputs, numOutputs outputs of its own and its share of the transaction
// overhead.
func (b *Builder) participantFee(p *Participant, numOutputs int,
	overheadShare btcutil.Amount) (btcutil.Amount, error) {

	w := btcunit.NewWeightUnit(0)
	for _, u := range p.Utxos {
		w = w.Add(fees.InputWeight(u.Type))
	}

	outType, err := scriptType(p.OutputAddress)
	if err != nil {
		return 0, err
	}
	w = w.Add(fees.OutputWeight(outType).Mul(uint64(numOutputs)))

	return b.cfg.FeeRate.FeeForWeightRoundUp(w) + overheadShare, nil
}

// scriptType returns the address type of addr.
func scriptType(addr btcutil.Address) (address.Type, error) {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return 0, err
	}

	return address.TypeOfScript(pkScript)
}

// BuildCoinJoin builds a CoinJoin paying amount to the output address of
// every participant. Each participant pays coordinatorFee, its own mining
// fee and a share of the overhead, and receives change when it is at least
// the dust limit. Such change needs a change address. Inputs and outputs
// are shuffled.
func (b *Builder) BuildCoinJoin(participants []Participant,
	amount, coordinatorFee btcutil.Amount) (*CoinJoin, error) {

	// Refuse small rounds before looking at any UTXO.
	if len(participants) < b.cfg.MinParticipants {
		return nil, roundErr("", fmt.Sprintf("%d of %d participants",
			len(participants), b.cfg.MinParticipants),
			ErrInsufficientParticipants)
	}

	if amount < b.cfg.DustLimit {
		return nil, roundErr("", "mix amount", fmt.Errorf("%w: %v",
			ErrInvalidAmount, amount))
	}
	if coordinatorFee < 0 {
		return nil, roundErr("", "coordinator fee", fmt.Errorf(
			"%w: negative coordinator fee", ErrInvalidAmount))
	}

	if err := checkUnique(participants); err != nil {
		return nil, err
	}

	// The overhead is split evenly, rounding up.
	overheadFee := b.cfg.FeeRate.FeeForWeightRoundUp(fees.Overhead(true))
	n := btcutil.Amount(len(participants))
	overheadShare := (overheadFee + n - 1) / n

	var (
		inputs     []coinselect.Utxo
		outputs    []*wire.TxOut
		owners     = make(map[wire.OutPoint]string)
		paidFees   = make(map[string]btcutil.Amount)
		outScripts = make([][]byte, 0, len(participants))
	)
	for i := range participants {
		p := &participants[i]

		outScript, err := txscript.PayToAddrScript(p.OutputAddress)
		if err != nil {
			return nil, roundErr(p.ID, "output address", err)
		}
		outScripts = append(outScripts, outScript)
		outputs = append(outputs, wire.NewTxOut(int64(amount), outScript))

		for _, u := range p.Utxos {
			if !u.Eligible() {
				return nil, roundErr(p.ID, "funding", fmt.Errorf(
					"%w: %v is not spendable",
					coinselect.ErrInsufficientFunds, u.OutPoint))
			}
		}

		sum := coinselect.Sum(p.Utxos)
		feeNoChange, err := b.participantFee(p, 1, overheadShare)
		if err != nil {
			return nil, roundErr(p.ID, "output address", err)
		}

		required := amount + coordinatorFee + feeNoChange
		if len(p.Utxos) == 0 || sum < required {
			return nil, roundErr(p.ID, "funding",
				&coinselect.InsufficientFundsError{
					Required:  required,
					Available: sum,
				})
		}

		feeChange, err := b.participantFee(p, 2, overheadShare)
		if err != nil {
			return nil, roundErr(p.ID, "output address", err)
		}

		paid := sum - amount - coordinatorFee
		change := sum - amount - coordinatorFee - feeChange
		if change >= b.cfg.DustLimit && p.ChangeAddress == nil {
			return nil, roundErr(p.ID, "change address",
				fmt.Errorf("%w: %v of change",
					ErrMissingChangeAddress, change))
		}
		if change >= b.cfg.DustLimit {
			changeScript, err := txscript.PayToAddrScript(
				p.ChangeAddress,
			)
			if err != nil {
				return nil, roundErr(p.ID, "change address", err)
			}

			outputs = append(
				outputs, wire.NewTxOut(int64(change), changeScript),
			)
			paid = feeChange
		}
		paidFees[p.ID] = paid

		for _, u := range p.Utxos {
			inputs = append(inputs, u)
			owners[u.OutPoint] = p.ID
		}
	}

	coordOut, err := b.coordinatorOutput(coordinatorFee * n)
	if err != nil {
		return nil, roundErr("", "coordinator address", err)
	}
	coordOut.WhenSome(func(out *wire.TxOut) {
		outputs = append(outputs, out)
	})

	b.shuffle(len(inputs), func(i, j int) {
		inputs[i], inputs[j] = inputs[j], inputs[i]
	})
	b.shuffle(len(outputs), func(i, j int) {
		outputs[i], outputs[j] = outputs[j], outputs[i]
	})

	authored, err := b.asm.Assemble(&assembler.Template{
		Inputs:  inputs,
		Outputs: outputs,
		Version: 2,
	})
	if err != nil {
		return nil, roundErr("", "assemble", err)
	}

	if err := checkOutputs(authored.Tx, outScripts, amount); err != nil {
		return nil, roundErr("", "verify outputs", err)
	}

	packet, err := assembler.NewPacket(authored)
	if err != nil {
		return nil, roundErr("", "psbt", err)
	}

	log.Infof("Built coinjoin %v: %d participants, %d inputs, %d outputs",
		authored.Tx.TxHash(), len(participants), len(inputs),
		len(outputs))

	return &CoinJoin{
		Tx:         authored.Tx,
		Packet:     packet,
		InputOwner: owners,
		Fees:       paidFees,
		Amount:     amount,
	}, nil
}

// coordinatorOutput returns the output collecting the coordinator fees,
// after paying for its own weight. Nothing is returned without an address
// or when the remainder is dust.
func (b *Builder) coordinatorOutput(
	collected btcutil.Amount) (fn.Option[*wire.TxOut], error) {

	none := fn.None[*wire.TxOut]()
	if collected <= 0 || b.cfg.CoordinatorAddress.IsNone() {
		return none, nil
	}

	addr := b.cfg.CoordinatorAddress.UnwrapOr(nil)
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return none, err
	}

	typ, err := address.TypeOfScript(pkScript)
	if err != nil {
		return none, err
	}

	value := collected - b.cfg.FeeRate.FeeForWeightRoundUp(
		fees.OutputWeight(typ),
	)
	if value < b.cfg.DustLimit {
		return none, nil
	}

	return fn.Some(wire.NewTxOut(int64(value), pkScript)), nil
}

// checkUnique rejects outpoints and output addresses used more than once
// across participants.
func checkUnique(participants []Participant) error {
	var (
		ids     = fn.NewSet[string]()
		inputs  = fn.NewSet[wire.OutPoint]()
		scripts = fn.NewSet[string]()
	)

	addScript := func(id string, addr btcutil.Address) error {
		if addr == nil {
			return nil
		}

		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return roundErr(id, "address", err)
		}

		key := hex.EncodeToString(pkScript)
		if scripts.Contains(key) {
			return roundErr(id, "output script", fmt.Errorf("%w: %s",
				ErrDuplicateOutput, addr))
		}
		scripts.Add(key)

		return nil
	}

	for _, p := range participants {
		if ids.Contains(p.ID) {
			return roundErr(p.ID, "registration",
				ErrDuplicateParticipant)
		}
		ids.Add(p.ID)

		if p.OutputAddress == nil {
			return roundErr(p.ID, "output address", fmt.Errorf(
				"%w: missing output address", ErrInvalidAmount))
		}

		for _, u := range p.Utxos {
			if inputs.Contains(u.OutPoint) {
				return roundErr(p.ID, "inputs", fmt.Errorf(
					"%w: %v", ErrDuplicateInput, u.OutPoint))
			}
			inputs.Add(u.OutPoint)
		}

		if err := addScript(p.ID, p.OutputAddress); err != nil {
			return err
		}
		if err := addScript(p.ID, p.ChangeAddress); err != nil {
			return err
		}
	}

	return nil
}

// checkOutputs serializes tx, parses it back and checks that every
// participant output script receives exactly one output of amount.
func checkOutputs(tx *wire.MsgTx, outScripts [][]byte,
	amount btcutil.Amount) error {

	raw, err := assembler.SerializeHex(tx)
	if err != nil {
		return err
	}

	parsed, err := assembler.DeserializeHex(raw)
	if err != nil {
		return err
	}

	for _, script := range outScripts {
		count := 0
		for _, out := range parsed.TxOut {
			if bytes.Equal(out.PkScript, script) &&
				out.Value == int64(amount) {

				count++
			}
		}

		if count != 1 {
			return fmt.Errorf("%w: script %x paid %d times",
				ErrOutputMismatch, script, count)
		}
	}

	return nil
}
