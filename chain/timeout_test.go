package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestWithTimeoutDeadline checks that a call running past its deadline is
// reported as unknown status.
func TestWithTimeoutDeadline(t *testing.T) {
	t.Parallel()

	// Arrange: the source blocks until its context ends.
	src := &mockSource{}
	src.On("ListUnspent", mock.Anything, mock.Anything).Run(
		func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		},
	).Return(nil, context.DeadlineExceeded)

	// Act.
	_, err := WithTimeout(src, 10*time.Millisecond).ListUnspent(
		context.Background(), testAddr(t),
	)

	// Assert.
	require.ErrorIs(t, err, ErrStatusUnknown)
	require.True(t, IsStatusUnknown(err))

	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	require.Equal(t, "listunspent", chainErr.Op)
}

// TestWithTimeoutPassThrough checks results and plain failures.
func TestWithTimeoutPassThrough(t *testing.T) {
	t.Parallel()

	src := &mockSource{}
	op := wire.OutPoint{Index: 7}
	errNode := errors.New("node down")

	src.On("GetUTXO", mock.Anything, op).Return(
		&coinselect.Utxo{OutPoint: op, Value: 1_000}, nil,
	)
	src.On("ListLockedUnspent", mock.Anything).Return(nil, errNode)
	src.On("LockUnspent", mock.Anything, []wire.OutPoint{op}, true).
		Return(nil)

	wrapped := WithTimeout(src, time.Second)
	ctx := context.Background()

	utxo, err := wrapped.GetUTXO(ctx, op)
	require.NoError(t, err)
	require.Equal(t, op, utxo.OutPoint)

	_, err = wrapped.ListLockedUnspent(ctx)
	require.ErrorIs(t, err, errNode)
	require.False(t, IsStatusUnknown(err))

	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	require.Equal(t, "listlockunspent", chainErr.Op)

	require.NoError(t, wrapped.LockUnspent(ctx, []wire.OutPoint{op}, true))

	src.AssertExpectations(t)
}

// TestWithTimeoutDeadlineAppliesPerCall checks that the deadline is fresh
// for every call.
func TestWithTimeoutDeadlineAppliesPerCall(t *testing.T) {
	t.Parallel()

	src := &mockSource{}
	var deadlines []time.Time
	src.On("ListLockedUnspent", mock.Anything).Run(
		func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			deadlines = append(deadlines, deadline)
		},
	).Return([]wire.OutPoint{}, nil)

	wrapped := WithTimeout(src, time.Minute)
	for range 2 {
		_, err := wrapped.ListLockedUnspent(context.Background())
		require.NoError(t, err)
	}

	require.Len(t, deadlines, 2)
	require.False(t, deadlines[1].Before(deadlines[0]))
}
