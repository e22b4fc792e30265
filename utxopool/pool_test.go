package utxopool

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1_700_000_000, 0)

// testOutPoint returns a distinct outpoint for i.
func testOutPoint(i byte) wire.OutPoint {
	return wire.OutPoint{
		Hash:  chainhash.Hash{i},
		Index: uint32(i),
	}
}

// testUtxo returns a spendable native segwit output.
func testUtxo(i byte, value btcutil.Amount) coinselect.Utxo {
	return coinselect.Utxo{
		OutPoint:      testOutPoint(i),
		Type:          address.NativeSegwit,
		Value:         value,
		Confirmations: 6,
		Spendable:     true,
		Solvable:      true,
	}
}

// newKVLockTable opens a lock table over a fresh bbolt database.
func newKVLockTable(t *testing.T, clk clock.Clock) *KVLockTable {
	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "locks.db"), true,
		10*time.Second, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	table, err := NewKVLockTable(db, clk)
	require.NoError(t, err)

	return table
}

// lockTableKinds names the lock table implementations under test.
var lockTableKinds = []string{"mem", "kv"}

// newLockTable returns a lock table of the given kind driven by clk.
func newLockTable(t *testing.T, kind string, clk clock.Clock) LockTable {
	t.Helper()

	if kind == "kv" {
		return newKVLockTable(t, clk)
	}

	return NewMemLockTable(clk)
}

// TestLockTableSemantics checks lease ownership, idempotence and expiry for
// both lock table implementations.
func TestLockTableSemantics(t *testing.T) {
	t.Parallel()

	for _, name := range lockTableKinds {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// Arrange.
			clk := clock.NewTestClock(testTime)
			table := newLockTable(t, name, clk)
			ctx := context.Background()

			alice := wtxmgr.LockID{1}
			bob := wtxmgr.LockID{2}
			op := testOutPoint(1)

			// Act and assert: first lease.
			expiry, err := table.Lock(ctx, alice, op, time.Minute)
			require.NoError(t, err)
			require.True(t, expiry.Equal(testTime.Add(time.Minute)))

			// Same ID again extends the lease.
			clk.SetTime(testTime.Add(30 * time.Second))
			expiry, err = table.Lock(ctx, alice, op, time.Minute)
			require.NoError(t, err)
			require.True(t, expiry.Equal(
				testTime.Add(90*time.Second),
			))

			// A second caller is refused.
			_, err = table.Lock(ctx, bob, op, time.Minute)
			require.ErrorIs(t, err, ErrUTXOAlreadyLocked)

			err = table.Unlock(ctx, bob, op)
			require.ErrorIs(t, err, ErrUnlockNotAllowed)

			locked, err := table.ListLocked(ctx)
			require.NoError(t, err)
			require.Len(t, locked, 1)
			require.Equal(t, alice, locked[0].LockID)
			require.Equal(t, op, locked[0].Outpoint)

			// After expiry the output is free for anyone.
			clk.SetTime(testTime.Add(2 * time.Minute))
			locked, err = table.ListLocked(ctx)
			require.NoError(t, err)
			require.Empty(t, locked)

			_, err = table.Lock(ctx, bob, op, time.Minute)
			require.NoError(t, err)

			// Unlocking by the owner releases, twice is a no-op.
			require.NoError(t, table.Unlock(ctx, bob, op))
			require.NoError(t, table.Unlock(ctx, bob, op))

			_, err = table.Lock(ctx, alice, op, 0)
			require.ErrorIs(t, err, ErrInvalidLockDuration)
		})
	}
}

// TestLockTableDeleteExpired checks that only expired leases are removed.
func TestLockTableDeleteExpired(t *testing.T) {
	t.Parallel()

	for _, name := range lockTableKinds {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			clk := clock.NewTestClock(testTime)
			table := newLockTable(t, name, clk)
			ctx := context.Background()
			id := wtxmgr.LockID{9}

			_, err := table.Lock(ctx, id, testOutPoint(1), time.Minute)
			require.NoError(t, err)
			_, err = table.Lock(ctx, id, testOutPoint(2), time.Hour)
			require.NoError(t, err)
			_, err = table.Lock(ctx, id, testOutPoint(3), time.Minute)
			require.NoError(t, err)

			clk.SetTime(testTime.Add(10 * time.Minute))
			n, err := table.DeleteExpired(ctx)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			locked, err := table.ListLocked(ctx)
			require.NoError(t, err)
			require.Len(t, locked, 1)
			require.Equal(t, testOutPoint(2), locked[0].Outpoint)

			n, err = table.DeleteExpired(ctx)
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}
}

// TestLockTableConcurrentLock checks that exactly one of many concurrent
// callers wins an output.
func TestLockTableConcurrentLock(t *testing.T) {
	t.Parallel()

	for _, name := range lockTableKinds {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			table := newLockTable(
				t, name, clock.NewTestClock(testTime),
			)
			op := testOutPoint(5)

			const callers = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				winners  int
				conflict int
			)
			for i := range callers {
				wg.Add(1)
				go func(id byte) {
					defer wg.Done()

					_, err := table.Lock(
						context.Background(),
						wtxmgr.LockID{id}, op, time.Minute,
					)

					mu.Lock()
					defer mu.Unlock()

					switch {
					case err == nil:
						winners++
					case errors.Is(err, ErrUTXOAlreadyLocked):
						conflict++
					}
				}(byte(i + 1))
			}
			wg.Wait()

			require.Equal(t, 1, winners)
			require.Equal(t, callers-1, conflict)
		})
	}
}

// TestKVLockTablePersists checks that leases survive reopening the table on
// the same database.
func TestKVLockTablePersists(t *testing.T) {
	t.Parallel()

	clk := clock.NewTestClock(testTime)
	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "locks.db"), true,
		10*time.Second, false,
	)
	require.NoError(t, err)
	defer db.Close()

	first, err := NewKVLockTable(db, clk)
	require.NoError(t, err)

	_, err = first.Lock(
		context.Background(), wtxmgr.LockID{1}, testOutPoint(7),
		time.Minute,
	)
	require.NoError(t, err)

	second, err := NewKVLockTable(db, clk)
	require.NoError(t, err)

	locked, err := second.ListLocked(context.Background())
	require.NoError(t, err)
	require.Len(t, locked, 1)
	require.Equal(t, testOutPoint(7), locked[0].Outpoint)
	require.True(t, locked[0].Expiration.Equal(testTime.Add(time.Minute)))
}

// TestPoolReserve checks that reservations skip leased outputs and roll
// back on failure.
func TestPoolReserve(t *testing.T) {
	t.Parallel()

	// Arrange.
	ctx := context.Background()
	clk := clock.NewTestClock(testTime)
	pool := New(NewMemLockTable(clk), clk)
	pool.Replace([]coinselect.Utxo{
		testUtxo(1, 10_000), testUtxo(2, 20_000), testUtxo(3, 30_000),
	})
	require.Equal(t, 3, pool.Len())
	require.True(t, pool.UpdatedAt().Equal(testTime))

	pickAll := func(available []coinselect.Utxo) ([]wire.OutPoint,
		error) {

		ops := make([]wire.OutPoint, 0, len(available))
		for _, u := range available {
			ops = append(ops, u.OutPoint)
		}

		return ops, nil
	}

	// Act: the first spend takes two outputs.
	alice := wtxmgr.LockID{1}
	leases, err := pool.Reserve(ctx, alice, time.Minute,
		func([]coinselect.Utxo) ([]wire.OutPoint, error) {
			return []wire.OutPoint{
				testOutPoint(1), testOutPoint(3),
			}, nil
		},
	)
	require.NoError(t, err)
	require.Len(t, leases, 2)

	// Assert: a second spend only sees the third.
	bob := wtxmgr.LockID{2}
	var seen []coinselect.Utxo
	leases, err = pool.Reserve(ctx, bob, time.Minute,
		func(available []coinselect.Utxo) ([]wire.OutPoint, error) {
			seen = available
			return pickAll(available)
		},
	)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Len(t, seen, 1)
	require.Equal(t, testOutPoint(2), seen[0].OutPoint)

	// Unknown outputs fail and nothing stays locked.
	require.NoError(t, pool.Release(ctx, bob, []wire.OutPoint{
		testOutPoint(2),
	}))
	carol := wtxmgr.LockID{3}
	_, err = pool.Reserve(ctx, carol, time.Minute,
		func([]coinselect.Utxo) ([]wire.OutPoint, error) {
			return []wire.OutPoint{
				testOutPoint(2), testOutPoint(99),
			}, nil
		},
	)
	require.ErrorIs(t, err, ErrUnknownOutput)

	available, err := pool.Available(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	require.Equal(t, testOutPoint(2), available[0].OutPoint)

	// A pick error is passed through untouched.
	errPick := errors.New("pick failed")
	_, err = pool.Reserve(ctx, carol, time.Minute,
		func([]coinselect.Utxo) ([]wire.OutPoint, error) {
			return nil, errPick
		},
	)
	require.ErrorIs(t, err, errPick)

	// Releasing with the wrong ID reports every failure.
	err = pool.Release(ctx, bob, []wire.OutPoint{
		testOutPoint(1), testOutPoint(3),
	})
	require.ErrorIs(t, err, ErrUnlockNotAllowed)
	require.NoError(t, pool.Release(ctx, alice, []wire.OutPoint{
		testOutPoint(1), testOutPoint(3),
	}))
}

// TestPoolReplace checks that a refresh swaps the snapshot wholesale.
func TestPoolReplace(t *testing.T) {
	t.Parallel()

	clk := clock.NewTestClock(testTime)
	pool := New(NewMemLockTable(clk), clk)

	pool.Replace([]coinselect.Utxo{testUtxo(3, 3), testUtxo(1, 1)})
	snapshot := pool.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, testOutPoint(1), snapshot[0].OutPoint)

	pool.Replace([]coinselect.Utxo{testUtxo(2, 2)})
	_, ok := pool.Get(testOutPoint(1))
	require.False(t, ok)

	u, ok := pool.Get(testOutPoint(2))
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(2), u.Value)

	pool.Remove(testOutPoint(2), testOutPoint(8))
	require.Zero(t, pool.Len())
}

// TestSweeper checks that a tick removes expired leases.
func TestSweeper(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewTestClock(testTime)
	table := NewMemLockTable(clk)

	_, err := table.Lock(ctx, wtxmgr.LockID{1}, testOutPoint(1), time.Minute)
	require.NoError(t, err)

	force := ticker.NewForce(time.Hour)
	sweeper := NewSweeper(table, force)
	sweeper.Start()
	defer sweeper.Stop()

	clk.SetTime(testTime.Add(time.Hour))
	force.Force <- clk.Now()

	select {
	case n := <-sweeper.Swept():
		require.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}

	// A second tick finds nothing.
	force.Force <- clk.Now()
	select {
	case n := <-sweeper.Swept():
		require.Zero(t, n)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run")
	}
}
