// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package spend drives a payment from coin selection to relay. An Engine
// owns the spendable outputs of one wallet and hands out Spends, each of
// which moves through a fixed lifecycle: its inputs are selected and
// leased, its change may be moved into a taproot script tree, it is signed
// and finally relayed or aborted.
package spend

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/assembler"
	"github.com/btcsuite/btcspend/chain"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcspend/fees"
	"github.com/btcsuite/btcspend/pkg/btcunit"
	"github.com/btcsuite/btcspend/privacy"
	"github.com/btcsuite/btcspend/store"
	"github.com/btcsuite/btcspend/taproot"
	"github.com/btcsuite/btcspend/utxopool"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDustLimit is the smallest output value the engine creates.
	DefaultDustLimit btcutil.Amount = 546

	// DefaultMinParticipants is the smallest CoinJoin round.
	DefaultMinParticipants = 5

	// DefaultCoordinatorFee is the CoinJoin coordinator fee charged per
	// participant.
	DefaultCoordinatorFee btcutil.Amount = 0

	// DefaultChainTimeout is the deadline applied to every chain query.
	DefaultChainTimeout = 30 * time.Second

	// DefaultLockDuration is the lease length of selected outputs.
	DefaultLockDuration = 10 * time.Minute

	// DefaultMaxFeeRate is the highest fee rate a spend may pay.
	DefaultMaxFeeRate btcutil.Amount = 1_000

	// refreshConcurrency bounds the parallel ListUnspent calls of a
	// refresh.
	refreshConcurrency = 8
)

var (
	// ErrFeeRateTooHigh is returned when a request pays more than the
	// configured maximum fee rate.
	ErrFeeRateTooHigh = errors.New("fee rate above maximum")

	// ErrNoChangeScript is returned when a selection needs change but the
	// request carries no change script.
	ErrNoChangeScript = errors.New("change needed but no change script")

	// ErrNoChangeOutput is returned when a taproot tree is requested for
	// a spend without change.
	ErrNoChangeOutput = errors.New("spend has no change output")
)

// Config holds the policy of an Engine.
type Config struct {
	// DustLimit is the smallest output the engine creates.
	DustLimit btcutil.Amount

	// MinParticipants is the smallest CoinJoin round.
	MinParticipants int

	// CoordinatorFee is charged to every CoinJoin participant.
	CoordinatorFee btcutil.Amount

	// ChainTimeout bounds every call to the chain source.
	ChainTimeout time.Duration

	// LockDuration is how long selected outputs stay leased.
	LockDuration time.Duration

	// MaxFeeRate rejects requests paying more than this.
	MaxFeeRate btcunit.SatPerVByte

	// RandomizeChange moves the change output to a random position.
	RandomizeChange bool

	// Estimator prices inputs and outputs during selection. It is used
	// as given: its zero value prices legacy spends, so callers that want
	// another type start from DefaultConfig.
	Estimator fees.Estimator
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		DustLimit:       DefaultDustLimit,
		MinParticipants: DefaultMinParticipants,
		CoordinatorFee:  DefaultCoordinatorFee,
		ChainTimeout:    DefaultChainTimeout,
		LockDuration:    DefaultLockDuration,
		MaxFeeRate:      btcunit.NewSatPerVByte(DefaultMaxFeeRate),
		RandomizeChange: true,
		Estimator: fees.NewEstimator(
			address.NativeSegwit, address.NativeSegwit,
		),
	}
}

// Request describes a payment to fund.
type Request struct {
	// Outputs are the payments.
	Outputs []*wire.TxOut

	// FeeRate is the fee rate to pay.
	FeeRate btcunit.SatPerVByte

	// Strategy orders the candidate outputs.
	Strategy coinselect.Strategy

	// ChangeScript receives the change, if any.
	ChangeScript []byte

	// Version is the transaction version. Zero means the default.
	Version int32

	// LockTime is the transaction lock time.
	LockTime uint32
}

// Spend is one payment moving through its lifecycle. Its methods are safe
// for concurrent use.
type Spend struct {
	// ID identifies the leases held by the spend.
	ID wtxmgr.LockID

	state spendState

	mu          sync.Mutex
	template    *assembler.Template
	selection   *coinselect.Selection
	leases      []wtxmgr.LockedOutput
	authored    *txauthor.AuthoredTx
	tapTree     fn.Option[*taproot.TapBranch]
	recorded    fn.Option[store.Status]
	relayedTxid fn.Option[chainhash.Hash]
}

// State returns the current lifecycle state.
func (s *Spend) State() State {
	return s.state.load()
}

// Tx returns a copy of the current transaction, if assembled.
func (s *Spend) Tx() fn.Option[*wire.MsgTx] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authored == nil {
		return fn.None[*wire.MsgTx]()
	}

	return fn.Some(s.authored.Tx.Copy())
}

// Selection returns the coin selection of a funded spend.
func (s *Spend) Selection() fn.Option[coinselect.Selection] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selection == nil {
		return fn.None[coinselect.Selection]()
	}

	return fn.Some(*s.selection)
}

// Leases returns the leases held by the spend.
func (s *Spend) Leases() []wtxmgr.LockedOutput {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.leases)
}

// ChangeIndex returns the position of the change output, or -1.
func (s *Spend) ChangeIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authored == nil {
		return -1
	}

	return s.authored.ChangeIndex
}

// TapTree returns the script tree the change commits to, if any.
func (s *Spend) TapTree() fn.Option[*taproot.TapBranch] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tapTree
}

// Txid returns the txid of a relayed spend.
func (s *Spend) Txid() fn.Option[chainhash.Hash] {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.relayedTxid
}

// outPoints returns the leased outpoints. The caller holds mu.
func (s *Spend) outPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(s.leases))
	for _, l := range s.leases {
		ops = append(ops, l.Outpoint)
	}

	return ops
}

// Engine builds and relays the payments of one wallet.
type Engine struct {
	cfg      Config
	walletID string

	src       chain.Source
	pool      *utxopool.Pool
	store     store.Store
	clock     clock.Clock
	selector  *coinselect.Selector
	assembler *assembler.Assembler
}

// NewEngine returns an engine for walletID. Every call to src is bounded by
// cfg.ChainTimeout.
func NewEngine(cfg Config, walletID string, src chain.Source,
	pool *utxopool.Pool, st store.Store, clk clock.Clock) *Engine {

	defaults := DefaultConfig()
	if cfg.DustLimit == 0 {
		cfg.DustLimit = defaults.DustLimit
	}
	if cfg.MinParticipants == 0 {
		cfg.MinParticipants = defaults.MinParticipants
	}
	if cfg.ChainTimeout == 0 {
		cfg.ChainTimeout = defaults.ChainTimeout
	}
	if cfg.LockDuration == 0 {
		cfg.LockDuration = defaults.LockDuration
	}
	if cfg.MaxFeeRate.IsZero() {
		cfg.MaxFeeRate = defaults.MaxFeeRate
	}

	return &Engine{
		cfg:      cfg,
		walletID: walletID,
		src:      chain.WithTimeout(src, cfg.ChainTimeout),
		pool:     pool,
		store:    st,
		clock:    clk,
		selector: coinselect.NewSelector(coinselect.Config{
			DustLimit: cfg.DustLimit,
			Estimator: cfg.Estimator,
		}),
		assembler: assembler.New(assembler.Config{
			DustLimit:       cfg.DustLimit,
			RandomizeChange: cfg.RandomizeChange,
		}),
	}
}

// Config returns the policy of the engine.
func (e *Engine) Config() Config {
	return e.cfg
}

// Pool returns the output pool of the engine.
func (e *Engine) Pool() *utxopool.Pool {
	return e.pool
}

// Refresh queries the unspent outputs of addrs concurrently and installs
// them as the new pool snapshot. Outputs the node holds locked are left out
// unless one of our own spends leases them. If any query fails the previous
// snapshot stays in place.
func (e *Engine) Refresh(ctx context.Context, addrs []btcutil.Address) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)

	results := make([][]coinselect.Utxo, len(addrs))
	for i, addr := range addrs {
		g.Go(func() error {
			utxos, err := e.src.ListUnspent(gctx, addr)
			if err != nil {
				return fmt.Errorf("list unspent %v: %w",
					addr.EncodeAddress(), err)
			}
			results[i] = utxos

			return nil
		})
	}

	var nodeLocked []wire.OutPoint
	g.Go(func() error {
		var err error
		nodeLocked, err = e.src.ListLockedUnspent(gctx)
		if err != nil {
			return fmt.Errorf("list locked unspent: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	leases, err := e.pool.Locks().ListLocked(ctx)
	if err != nil {
		return fmt.Errorf("list leases: %w", err)
	}

	excluded := fn.NewSet(nodeLocked...)
	for _, l := range leases {
		excluded.Remove(l.Outpoint)
	}

	var utxos []coinselect.Utxo
	for _, batch := range results {
		for _, u := range batch {
			if excluded.Contains(u.OutPoint) {
				continue
			}
			utxos = append(utxos, u)
		}
	}

	e.pool.Replace(utxos)

	log.Infof("Refreshed %d addresses: %d outputs, %d locked by node",
		len(addrs), len(utxos), len(nodeLocked))

	return nil
}

// NewSpend returns a draft spend with a fresh lease id.
func (e *Engine) NewSpend() (*Spend, error) {
	var id wtxmgr.LockID
	if _, err := rand.Read(id[:]); err != nil {
		return nil, fmt.Errorf("lock id: %w", err)
	}

	return &Spend{ID: id}, nil
}

// validateRequest checks the parts of req that do not depend on the pool.
func (e *Engine) validateRequest(req *Request) error {
	if req == nil || len(req.Outputs) == 0 {
		return fmt.Errorf("%w: no outputs",
			assembler.ErrMalformedTransaction)
	}

	if req.FeeRate.GreaterThan(e.cfg.MaxFeeRate) {
		return fmt.Errorf("%w: %v > %v", ErrFeeRateTooHigh,
			req.FeeRate, e.cfg.MaxFeeRate)
	}

	for i, out := range req.Outputs {
		if out == nil || out.Value <= 0 {
			return fmt.Errorf("%w: output %d has no value",
				assembler.ErrMalformedTransaction, i)
		}
	}

	return nil
}

// target returns the amount selection must cover: the payments plus the
// fee of every payment output past the first, which the selector does not
// price.
func (e *Engine) target(req *Request) btcutil.Amount {
	var target btcutil.Amount
	for _, out := range req.Outputs {
		target += btcutil.Amount(out.Value)
	}

	if extra := len(req.Outputs) - 1; extra > 0 {
		w := fees.OutputWeight(e.cfg.Estimator.OutputType).
			Mul(uint64(extra))
		target += req.FeeRate.FeeForWeightRoundUp(w)
	}

	return target
}

// Fund selects outputs for req, leases them to sp, locks them in the node
// and assembles the unsigned transaction. Selection and leasing happen
// under the pool's selection lock, so concurrent spends never pick the same
// output. On failure every lease taken is released and sp stays a draft.
func (e *Engine) Fund(ctx context.Context, sp *Spend, req *Request) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := sp.state.require(StateDraft); err != nil {
		return err
	}
	if err := e.validateRequest(req); err != nil {
		return err
	}

	target := e.target(req)

	var selection *coinselect.Selection
	pick := func(available []coinselect.Utxo) ([]wire.OutPoint, error) {
		var err error
		selection, err = e.selector.Select(
			target, req.FeeRate, available, req.Strategy,
		)
		if err != nil {
			return nil, err
		}

		if selection.HasChange() && len(req.ChangeScript) == 0 {
			return nil, ErrNoChangeScript
		}

		return selection.OutPoints(), nil
	}

	leases, err := e.pool.Reserve(ctx, sp.ID, e.cfg.LockDuration, pick)
	if err != nil {
		return err
	}
	sp.leases = leases
	ops := sp.outPoints()

	if err := e.src.LockUnspent(ctx, ops, true); err != nil {
		e.releaseLocked(sp, chain.IsStatusUnknown(err))
		return fmt.Errorf("lock outputs in node: %w", err)
	}

	tmpl := &assembler.Template{
		Inputs:   selection.Inputs,
		Outputs:  req.Outputs,
		Change:   fn.None[*wire.TxOut](),
		Version:  req.Version,
		LockTime: req.LockTime,
	}
	if selection.HasChange() {
		tmpl.Change = fn.Some(wire.NewTxOut(
			int64(selection.Change), req.ChangeScript,
		))
	}

	authored, err := e.assembler.Assemble(tmpl)
	if err != nil {
		e.releaseLocked(sp, true)
		return err
	}

	sp.template = tmpl
	sp.selection = selection
	sp.authored = authored

	if err := sp.state.transition(StateUTXOsSelected, StateDraft); err != nil {
		e.releaseLocked(sp, true)
		return err
	}

	log.Infof("Funded spend %x with %d inputs: fee=%v, change=%v",
		sp.ID[:4], len(selection.Inputs), selection.Fee,
		selection.Change)

	return nil
}

// releaseLocked drops the leases of sp, and the node locks too when
// unlockNode is set. Errors are logged since the caller already fails. The
// caller holds sp.mu.
func (e *Engine) releaseLocked(sp *Spend, unlockNode bool) {
	ops := sp.outPoints()
	if len(ops) == 0 {
		return
	}

	// The caller's context may be why we are unwinding.
	ctx := context.Background()

	if unlockNode {
		if err := e.src.LockUnspent(ctx, ops, false); err != nil {
			log.Warnf("Unable to unlock %d outputs in node: %v",
				len(ops), err)
		}
	}

	if err := e.pool.Release(ctx, sp.ID, ops); err != nil {
		log.Warnf("Unable to release leases of spend %x: %v",
			sp.ID[:4], err)
	}

	sp.leases = nil
}

// BuildTaproot moves the change of a funded spend into a taproot output of
// internalKey committed to tree. A nil tree commits to no scripts. The
// change pays for any size difference of the new output.
func (e *Engine) BuildTaproot(sp *Spend, tree *taproot.TapBranch,
	internalKey *btcec.PublicKey) error {

	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := sp.state.require(StateUTXOsSelected); err != nil {
		return err
	}
	if internalKey == nil {
		return taproot.ErrNilKey
	}
	if sp.authored.ChangeIndex < 0 {
		return ErrNoChangeOutput
	}
	if tree == nil {
		tree = taproot.BuildScriptTree(nil)
	}

	pkScript, err := tree.PkScript(internalKey)
	if err != nil {
		return err
	}

	change := sp.authored.Tx.TxOut[sp.authored.ChangeIndex]
	oldType, err := address.TypeOfScript(change.PkScript)
	if err != nil {
		oldType = address.Taproot
	}

	rate := sp.selection.FeeRate
	oldFee := rate.FeeForWeightRoundUp(fees.OutputWeight(oldType))
	newFee := rate.FeeForWeightRoundUp(fees.OutputWeight(address.Taproot))
	value := btcutil.Amount(change.Value)
	if newFee > oldFee {
		value -= newFee - oldFee
	}

	tmpl := *sp.template
	tmpl.Change = fn.Some(wire.NewTxOut(int64(value), pkScript))

	authored, err := e.assembler.Assemble(&tmpl)
	if err != nil {
		return err
	}

	if err := sp.state.transition(
		StateEnhanced, StateUTXOsSelected,
	); err != nil {

		return err
	}

	sp.template = &tmpl
	sp.authored = authored
	sp.tapTree = fn.Some(tree)

	log.Debugf("Spend %x change committed to %d tap leaves", sp.ID[:4],
		len(tree.Leaves()))

	return nil
}

// Sign signs every input of a funded spend with keys and verifies the
// result.
func (e *Engine) Sign(sp *Spend, keys assembler.KeySource,
	opts *assembler.SignOptions) error {

	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := sp.state.require(
		StateUTXOsSelected, StateEnhanced,
	); err != nil {

		return err
	}

	if err := assembler.Sign(sp.authored, keys, opts); err != nil {
		return err
	}

	return sp.state.transition(
		StateSigned, StateUTXOsSelected, StateEnhanced,
	)
}

// Broadcast relays a signed spend. On success the transaction is recorded
// as broadcast, the leases and node locks are released and the spent
// outputs leave the pool. When the relay outcome is unknown the
// transaction is recorded as pending, the locks stay and the spend remains
// signed so the caller can check and retry. The inputs also leave the pool
// then, so they cannot be selected again once their leases expire. Only a
// Refresh that finds them unspent brings them back. The engine never
// retries by itself.
func (e *Engine) Broadcast(ctx context.Context, sp *Spend) (chainhash.Hash,
	error) {

	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := sp.state.require(StateSigned); err != nil {
		return chainhash.Hash{}, err
	}

	tx := sp.authored.Tx
	log.Debugf("Relaying spend %x: %v", sp.ID[:4],
		newLogClosure(func() string {
			return spew.Sdump(tx)
		}))

	txid, err := e.src.Broadcast(ctx, tx)
	switch {
	case chain.IsStatusUnknown(err):
		log.Warnf("Relay of %v has unknown outcome, keeping locks",
			tx.TxHash())

		e.pool.Remove(sp.outPoints()...)

		if rerr := e.record(ctx, sp, store.StatusPending); rerr != nil {
			log.Errorf("Unable to record pending tx %v: %v",
				tx.TxHash(), rerr)
		}

		return chainhash.Hash{}, err

	case err != nil:
		return chainhash.Hash{}, fmt.Errorf("broadcast: %w", err)
	}

	if err := sp.state.transition(StateFinal, StateSigned); err != nil {
		return chainhash.Hash{}, err
	}
	sp.relayedTxid = fn.Some(*txid)

	ops := sp.outPoints()
	e.releaseLocked(sp, true)
	e.pool.Remove(ops...)

	log.Infof("Relayed spend %x as %v", sp.ID[:4], txid)

	if err := e.record(ctx, sp, store.StatusBroadcast); err != nil {
		return *txid, fmt.Errorf("record tx %v: %w", txid, err)
	}

	return *txid, nil
}

// record stores the transaction of sp with status, or moves an existing
// record to it. The caller holds sp.mu.
func (e *Engine) record(ctx context.Context, sp *Spend,
	status store.Status) error {

	if sp.recorded.IsSome() {
		txid := sp.authored.Tx.TxHash()
		err := e.store.UpdateTxStatus(ctx, txid, status)
		if err != nil {
			return err
		}
		sp.recorded = fn.Some(status)

		return nil
	}

	rec, err := store.NewTxRecord(
		e.walletID, sp.authored.Tx, status, e.clock.Now(),
	)
	if err != nil {
		return err
	}
	if err := e.store.PutTx(ctx, rec); err != nil {
		return err
	}
	sp.recorded = fn.Some(status)

	return nil
}

// Abort abandons a spend that is not final and releases its leases and
// node locks. A transaction already recorded as pending is marked
// abandoned.
func (e *Engine) Abort(ctx context.Context, sp *Spend) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := sp.state.abort(); err != nil {
		return err
	}

	var errs []error
	ops := sp.outPoints()
	if len(ops) > 0 {
		if err := e.src.LockUnspent(ctx, ops, false); err != nil {
			errs = append(errs, fmt.Errorf("unlock in node: %w",
				err))
		}
		if err := e.pool.Release(ctx, sp.ID, ops); err != nil {
			errs = append(errs, err)
		}
		sp.leases = nil
	}

	if sp.recorded.IsSome() {
		err := e.record(ctx, sp, store.StatusAbandoned)
		if err != nil {
			errs = append(errs, fmt.Errorf("record: %w", err))
		}
	}

	log.Infof("Aborted spend %x, released %d outputs", sp.ID[:4], len(ops))

	return errors.Join(errs...)
}

// NewCoinJoinRound starts a CoinJoin round mixing amount at rate under the
// engine's dust, participant and coordinator fee policy. The coordinator
// fee is only charged when coordinator is set.
func (e *Engine) NewCoinJoinRound(rate btcunit.SatPerVByte,
	amount btcutil.Amount,
	coordinator fn.Option[btcutil.Address]) *privacy.Round {

	builder := privacy.NewBuilder(privacy.Config{
		MinParticipants:    e.cfg.MinParticipants,
		DustLimit:          e.cfg.DustLimit,
		FeeRate:            rate,
		CoordinatorAddress: coordinator,
	})

	return privacy.NewRound(builder, amount, e.cfg.CoordinatorFee)
}
