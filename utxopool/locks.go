// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxopool

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrUTXOAlreadyLocked is returned when an output is locked to a
	// different ID whose lease has not expired.
	ErrUTXOAlreadyLocked = errors.New("utxo already locked")

	// ErrUnlockNotAllowed is returned when an output is unlocked with an
	// ID other than the one that locked it.
	ErrUnlockNotAllowed = errors.New("utxo unlock not allowed")

	// ErrInvalidLockDuration is returned for a lease that is not
	// positive.
	ErrInvalidLockDuration = errors.New("lock duration must be positive")
)

// LockTable leases outputs to IDs. Every call is atomic. A lease held by
// the same ID can be extended, a lease held by another ID blocks until it
// expires.
type LockTable interface {
	// Lock leases op to id for duration and returns the expiry.
	Lock(ctx context.Context, id wtxmgr.LockID, op wire.OutPoint,
		duration time.Duration) (time.Time, error)

	// Unlock releases the lease on op held by id. Releasing an output
	// that is not locked is a no-op.
	Unlock(ctx context.Context, id wtxmgr.LockID, op wire.OutPoint) error

	// ListLocked returns the unexpired leases.
	ListLocked(ctx context.Context) ([]wtxmgr.LockedOutput, error)

	// DeleteExpired removes expired leases and returns how many were
	// removed.
	DeleteExpired(ctx context.Context) (int, error)
}

// MemLockTable is an in-memory LockTable.
type MemLockTable struct {
	clock clock.Clock

	mu    sync.Mutex
	locks map[wire.OutPoint]wtxmgr.LockedOutput
}

// A compile-time assertion to ensure MemLockTable implements LockTable.
var _ LockTable = (*MemLockTable)(nil)

// NewMemLockTable returns an empty in-memory lock table.
func NewMemLockTable(clk clock.Clock) *MemLockTable {
	return &MemLockTable{
		clock: clk,
		locks: make(map[wire.OutPoint]wtxmgr.LockedOutput),
	}
}

// Lock leases op to id for duration.
func (m *MemLockTable) Lock(ctx context.Context, id wtxmgr.LockID,
	op wire.OutPoint, duration time.Duration) (time.Time, error) {

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if duration <= 0 {
		return time.Time{}, ErrInvalidLockDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if lock, ok := m.locks[op]; ok && now.Before(lock.Expiration) &&
		lock.LockID != id {

		return time.Time{}, ErrUTXOAlreadyLocked
	}

	expiry := now.Add(duration)
	m.locks[op] = wtxmgr.LockedOutput{
		Outpoint:   op,
		LockID:     id,
		Expiration: expiry,
	}

	return expiry, nil
}

// Unlock releases the lease on op held by id.
func (m *MemLockTable) Unlock(ctx context.Context, id wtxmgr.LockID,
	op wire.OutPoint) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[op]
	if !ok || !m.clock.Now().Before(lock.Expiration) {
		return nil
	}

	if lock.LockID != id {
		return ErrUnlockNotAllowed
	}

	delete(m.locks, op)

	return nil
}

// ListLocked returns the unexpired leases ordered by outpoint.
func (m *MemLockTable) ListLocked(
	ctx context.Context) ([]wtxmgr.LockedOutput, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	locked := make([]wtxmgr.LockedOutput, 0, len(m.locks))
	for _, lock := range m.locks {
		if now.Before(lock.Expiration) {
			locked = append(locked, lock)
		}
	}
	sortLocks(locked)

	return locked, nil
}

// DeleteExpired removes expired leases.
func (m *MemLockTable) DeleteExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for op, lock := range m.locks {
		if !now.Before(lock.Expiration) {
			delete(m.locks, op)
			removed++
		}
	}

	return removed, nil
}

// sortLocks orders leases by outpoint.
func sortLocks(locks []wtxmgr.LockedOutput) {
	slices.SortFunc(locks, func(a, b wtxmgr.LockedOutput) int {
		return coinselect.CompareOutPoints(a.Outpoint, b.Outpoint)
	})
}
