// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxopool holds the spendable outputs of a wallet and the leases
// that keep concurrent spends from selecting the same output.
package utxopool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
)

// ErrUnknownOutput is returned when a reservation names an output that is
// not in the pool.
var ErrUnknownOutput = errors.New("output not in pool")

// PickFunc chooses outputs from the currently unlocked ones.
type PickFunc func(available []coinselect.Utxo) ([]wire.OutPoint, error)

// Pool is the set of known outputs keyed by outpoint. A refresh replaces the
// whole set at once, so readers always see one consistent snapshot.
type Pool struct {
	locks LockTable
	clock clock.Clock

	mu        sync.RWMutex
	utxos     map[wire.OutPoint]coinselect.Utxo
	updatedAt time.Time

	// selectMtx serializes select-then-lock sequences so two reservations
	// never pick from the same view.
	selectMtx sync.Mutex
}

// New returns an empty pool guarded by locks.
func New(locks LockTable, clk clock.Clock) *Pool {
	return &Pool{
		locks: locks,
		clock: clk,
		utxos: make(map[wire.OutPoint]coinselect.Utxo),
	}
}

// Locks returns the lock table guarding the pool.
func (p *Pool) Locks() LockTable {
	return p.locks
}

// Replace installs a new snapshot. Duplicate outpoints keep the last entry.
func (p *Pool) Replace(utxos []coinselect.Utxo) {
	next := make(map[wire.OutPoint]coinselect.Utxo, len(utxos))
	for _, u := range utxos {
		next[u.OutPoint] = u
	}

	p.mu.Lock()
	p.utxos = next
	p.updatedAt = p.clock.Now()
	p.mu.Unlock()

	log.Debugf("Pool refreshed with %d outputs", len(next))
}

// Remove drops outputs from the current snapshot, typically because a
// transaction spending them was relayed.
func (p *Pool) Remove(ops ...wire.OutPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, op := range ops {
		delete(p.utxos, op)
	}
}

// Snapshot returns every output ordered by outpoint.
func (p *Pool) Snapshot() []coinselect.Utxo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	utxos := make([]coinselect.Utxo, 0, len(p.utxos))
	for _, u := range p.utxos {
		utxos = append(utxos, u)
	}
	slices.SortFunc(utxos, func(a, b coinselect.Utxo) int {
		return coinselect.CompareOutPoints(a.OutPoint, b.OutPoint)
	})

	return utxos
}

// Get returns the output at op.
func (p *Pool) Get(op wire.OutPoint) (coinselect.Utxo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	u, ok := p.utxos[op]

	return u, ok
}

// Len returns the number of outputs in the pool.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.utxos)
}

// UpdatedAt returns the time of the last refresh.
func (p *Pool) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.updatedAt
}

// Available returns the outputs not leased to anyone, ordered by outpoint.
func (p *Pool) Available(ctx context.Context) ([]coinselect.Utxo, error) {
	locked, err := p.locks.ListLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locked outputs: %w", err)
	}

	leased := make(map[wire.OutPoint]struct{}, len(locked))
	for _, l := range locked {
		leased[l.Outpoint] = struct{}{}
	}

	snapshot := p.Snapshot()
	available := snapshot[:0]
	for _, u := range snapshot {
		if _, ok := leased[u.OutPoint]; ok {
			continue
		}
		available = append(available, u)
	}

	return available, nil
}

// Reserve runs pick over the available outputs and leases every picked
// output to id. Either all picked outputs end up leased or none do.
func (p *Pool) Reserve(ctx context.Context, id wtxmgr.LockID,
	duration time.Duration, pick PickFunc) ([]wtxmgr.LockedOutput, error) {

	p.selectMtx.Lock()
	defer p.selectMtx.Unlock()

	available, err := p.Available(ctx)
	if err != nil {
		return nil, err
	}

	ops, err := pick(available)
	if err != nil {
		return nil, err
	}

	leases := make([]wtxmgr.LockedOutput, 0, len(ops))
	for _, op := range ops {
		if _, ok := p.Get(op); !ok {
			err = fmt.Errorf("%w: %v", ErrUnknownOutput, op)
			break
		}

		var expiry time.Time
		expiry, err = p.locks.Lock(ctx, id, op, duration)
		if err != nil {
			err = fmt.Errorf("lock %v: %w", op, err)
			break
		}

		leases = append(leases, wtxmgr.LockedOutput{
			Outpoint:   op,
			LockID:     id,
			Expiration: expiry,
		})
	}

	if err != nil {
		// Roll back with a fresh context, the caller's may be the
		// reason we failed.
		for _, l := range leases {
			uerr := p.locks.Unlock(context.Background(), id, l.Outpoint)
			if uerr != nil {
				log.Warnf("Unable to roll back lock on %v: %v",
					l.Outpoint, uerr)
			}
		}

		return nil, err
	}

	log.Debugf("Reserved %d outputs until %v", len(leases),
		leaseExpiry(leases))

	return leases, nil
}

// Release unlocks every outpoint held by id. All outpoints are attempted
// and the errors joined.
func (p *Pool) Release(ctx context.Context, id wtxmgr.LockID,
	ops []wire.OutPoint) error {

	var errs []error
	for _, op := range ops {
		if err := p.locks.Unlock(ctx, id, op); err != nil {
			errs = append(errs, fmt.Errorf("unlock %v: %w", op, err))
		}
	}

	return errors.Join(errs...)
}

// leaseExpiry returns the earliest expiry among leases.
func leaseExpiry(leases []wtxmgr.LockedOutput) time.Time {
	var earliest time.Time
	for i, l := range leases {
		if i == 0 || l.Expiration.Before(earliest) {
			earliest = l.Expiration
		}
	}

	return earliest
}
