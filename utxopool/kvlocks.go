// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxopool

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// outPointSize is the size of a serialized outpoint key.
	outPointSize = chainhash.HashSize + 4

	// lockValueSize is the size of a serialized lease: the lock ID
	// followed by the expiry in unix nanoseconds.
	lockValueSize = len(wtxmgr.LockID{}) + 8
)

var (
	// lockBucketKey is the top level bucket holding leased outputs.
	lockBucketKey = []byte("utxo-locks")

	// ErrCorruptLock is returned when a stored lease cannot be decoded.
	ErrCorruptLock = errors.New("corrupt lock record")
)

// KVLockTable is a LockTable persisted in a walletdb bucket. Each call runs
// in its own database transaction.
type KVLockTable struct {
	db    walletdb.DB
	clock clock.Clock
}

// A compile-time assertion to ensure KVLockTable implements LockTable.
var _ LockTable = (*KVLockTable)(nil)

// NewKVLockTable creates the lock bucket if needed and returns a lock table
// backed by db.
func NewKVLockTable(db walletdb.DB, clk clock.Clock) (*KVLockTable, error) {
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(lockBucketKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create lock bucket: %w", err)
	}

	return &KVLockTable{db: db, clock: clk}, nil
}

// Lock leases op to id for duration.
func (k *KVLockTable) Lock(ctx context.Context, id wtxmgr.LockID,
	op wire.OutPoint, duration time.Duration) (time.Time, error) {

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	if duration <= 0 {
		return time.Time{}, ErrInvalidLockDuration
	}

	var expiry time.Time
	err := walletdb.Update(k.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(lockBucketKey)
		key := outPointKey(op)

		now := k.clock.Now()
		if v := bucket.Get(key); v != nil {
			lockID, exp, err := decodeLock(v)
			if err != nil {
				return err
			}

			if now.Before(exp) && lockID != id {
				return ErrUTXOAlreadyLocked
			}
		}

		expiry = now.Add(duration)

		return bucket.Put(key, encodeLock(id, expiry))
	})
	if err != nil {
		return time.Time{}, err
	}

	return expiry, nil
}

// Unlock releases the lease on op held by id.
func (k *KVLockTable) Unlock(ctx context.Context, id wtxmgr.LockID,
	op wire.OutPoint) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(k.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(lockBucketKey)
		key := outPointKey(op)

		v := bucket.Get(key)
		if v == nil {
			return nil
		}

		lockID, exp, err := decodeLock(v)
		if err != nil {
			return err
		}

		// An expired lease is as good as no lease.
		if !k.clock.Now().Before(exp) {
			return nil
		}

		if lockID != id {
			return ErrUnlockNotAllowed
		}

		return bucket.Delete(key)
	})
}

// ListLocked returns the unexpired leases ordered by outpoint.
func (k *KVLockTable) ListLocked(
	ctx context.Context) ([]wtxmgr.LockedOutput, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var locked []wtxmgr.LockedOutput
	err := walletdb.View(k.db, func(tx walletdb.ReadTx) error {
		now := k.clock.Now()

		bucket := tx.ReadBucket(lockBucketKey)
		return bucket.ForEach(func(key, v []byte) error {
			op, err := decodeOutPointKey(key)
			if err != nil {
				return err
			}

			lockID, exp, err := decodeLock(v)
			if err != nil {
				return err
			}

			if !now.Before(exp) {
				return nil
			}

			locked = append(locked, wtxmgr.LockedOutput{
				Outpoint:   op,
				LockID:     lockID,
				Expiration: exp,
			})

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortLocks(locked)

	return locked, nil
}

// DeleteExpired removes expired leases.
func (k *KVLockTable) DeleteExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var removed int
	err := walletdb.Update(k.db, func(tx walletdb.ReadWriteTx) error {
		now := k.clock.Now()
		bucket := tx.ReadWriteBucket(lockBucketKey)

		// Collect first, the bucket must not be modified while it is
		// iterated.
		var expired [][]byte
		err := bucket.ForEach(func(key, v []byte) error {
			_, exp, err := decodeLock(v)
			if err != nil {
				return err
			}

			if !now.Before(exp) {
				expired = append(expired, append([]byte(nil), key...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		removed = len(expired)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return removed, nil
}

// outPointKey serializes an outpoint as txid || little endian index.
func outPointKey(op wire.OutPoint) []byte {
	key := make([]byte, outPointSize)
	copy(key, op.Hash[:])
	binary.LittleEndian.PutUint32(key[chainhash.HashSize:], op.Index)

	return key
}

// decodeOutPointKey reverses outPointKey.
func decodeOutPointKey(key []byte) (wire.OutPoint, error) {
	if len(key) != outPointSize {
		return wire.OutPoint{}, fmt.Errorf("%w: key length %d",
			ErrCorruptLock, len(key))
	}

	var op wire.OutPoint
	copy(op.Hash[:], key[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(key[chainhash.HashSize:])

	return op, nil
}

// encodeLock serializes a lease value.
func encodeLock(id wtxmgr.LockID, expiry time.Time) []byte {
	v := make([]byte, lockValueSize)
	copy(v, id[:])
	binary.BigEndian.PutUint64(v[len(id):], uint64(expiry.UnixNano()))

	return v
}

// decodeLock reverses encodeLock.
func decodeLock(v []byte) (wtxmgr.LockID, time.Time, error) {
	var id wtxmgr.LockID
	if len(v) != lockValueSize {
		return id, time.Time{}, fmt.Errorf("%w: value length %d",
			ErrCorruptLock, len(v))
	}

	copy(id[:], v)
	nanos := int64(binary.BigEndian.Uint64(v[len(id):]))

	return id, time.Unix(0, nanos), nil
}
