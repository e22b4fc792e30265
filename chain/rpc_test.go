package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/address"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testTxid = strings.Repeat("ab", 32)

	// testPkScript is a P2WPKH script over an all-zero key hash.
	testPkScript = "0014" + strings.Repeat("00", 20)
)

// testAddr returns the address of testPkScript on regtest.
func testAddr(t *testing.T) btcutil.Address {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	return addr
}

// TestRPCSourceListUnspent checks the mapping of listunspent results.
func TestRPCSourceListUnspent(t *testing.T) {
	t.Parallel()

	// Arrange.
	client := &mockNodeClient{}
	src := newRPCSource(client, &chaincfg.RegressionNetParams)
	addr := testAddr(t)

	client.On(
		"ListUnspentMinMaxAddresses", 1, maxConfirmations,
		[]btcutil.Address{addr},
	).Return([]btcjson.ListUnspentResult{{
		TxID:          testTxid,
		Vout:          3,
		Address:       addr.EncodeAddress(),
		ScriptPubKey:  testPkScript,
		Amount:        0.0003,
		Confirmations: 6,
		Spendable:     true,
	}, {
		TxID:          testTxid,
		Vout:          4,
		ScriptPubKey:  "51",
		Amount:        0.00001,
		Confirmations: 1,
	}}, nil)

	// Act.
	utxos, err := src.ListUnspent(context.Background(), addr)

	// Assert.
	require.NoError(t, err)
	require.Len(t, utxos, 2)

	hash, err := chainhash.NewHashFromStr(testTxid)
	require.NoError(t, err)

	first := utxos[0]
	require.Equal(t, wire.OutPoint{Hash: *hash, Index: 3}, first.OutPoint)
	require.Equal(t, btcutil.Amount(30_000), first.Value)
	require.Equal(t, address.NativeSegwit, first.Type)
	require.Equal(t, int64(6), first.Confirmations)
	require.True(t, first.Eligible())
	require.Equal(t, testPkScript, hex.EncodeToString(first.PkScript))

	// A script of unknown type is listed but never eligible.
	require.False(t, utxos[1].Solvable)
	require.False(t, utxos[1].Eligible())

	client.AssertExpectations(t)
}

// TestRPCSourceListUnspentBadData checks that undecodable node data is an
// invalid response.
func TestRPCSourceListUnspentBadData(t *testing.T) {
	t.Parallel()

	client := &mockNodeClient{}
	src := newRPCSource(client, &chaincfg.RegressionNetParams)

	client.On(
		"ListUnspentMinMaxAddresses", mock.Anything, mock.Anything,
		mock.Anything,
	).Return([]btcjson.ListUnspentResult{{
		TxID:         "zz",
		ScriptPubKey: testPkScript,
	}}, nil)

	_, err := src.ListUnspent(context.Background(), testAddr(t))
	require.ErrorIs(t, err, ErrInvalidResponse)

	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	require.Equal(t, "listunspent", chainErr.Op)
}

// TestRPCSourceGetUTXO checks gettxout for unspent and spent outputs.
func TestRPCSourceGetUTXO(t *testing.T) {
	t.Parallel()

	client := &mockNodeClient{}
	src := newRPCSource(client, &chaincfg.RegressionNetParams)

	hash, err := chainhash.NewHashFromStr(testTxid)
	require.NoError(t, err)
	unspent := wire.OutPoint{Hash: *hash, Index: 0}
	spent := wire.OutPoint{Hash: *hash, Index: 1}

	client.On("GetTxOut", &unspent.Hash, uint32(0), true).Return(
		&btcjson.GetTxOutResult{
			Confirmations: 2,
			Value:         0.5,
			ScriptPubKey: btcjson.ScriptPubKeyResult{
				Hex: testPkScript,
			},
		}, nil,
	)
	client.On("GetTxOut", &spent.Hash, uint32(1), true).Return(nil, nil)

	utxo, err := src.GetUTXO(context.Background(), unspent)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(50_000_000), utxo.Value)
	require.Equal(t, testAddr(t).EncodeAddress(), utxo.Address)
	require.Equal(t, address.NativeSegwit, utxo.Type)

	_, err = src.GetUTXO(context.Background(), spent)
	require.ErrorIs(t, err, ErrOutputSpent)
}

// TestRPCSourceLockUnspent checks that locking maps onto the node's unlock
// flag.
func TestRPCSourceLockUnspent(t *testing.T) {
	t.Parallel()

	client := &mockNodeClient{}
	src := newRPCSource(client, &chaincfg.RegressionNetParams)

	ops := []wire.OutPoint{{Index: 1}, {Index: 2}}
	client.On("LockUnspent", false, mock.MatchedBy(
		func(ptrs []*wire.OutPoint) bool {
			return len(ptrs) == 2 && *ptrs[0] == ops[0] &&
				*ptrs[1] == ops[1]
		},
	)).Return(nil).Once()
	client.On("LockUnspent", true, mock.Anything).Return(nil).Once()
	client.On("ListLockUnspent").Return([]*wire.OutPoint{&ops[1]}, nil)

	ctx := context.Background()
	require.NoError(t, src.LockUnspent(ctx, ops, true))
	require.NoError(t, src.LockUnspent(ctx, ops[:1], false))

	locked, err := src.ListLockedUnspent(ctx)
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{ops[1]}, locked)

	client.AssertExpectations(t)
}

// TestRPCSourceBroadcast checks broadcast success, rejection and a call
// that outlives its context.
func TestRPCSourceBroadcast(t *testing.T) {
	t.Parallel()

	client := &mockNodeClient{}
	src := newRPCSource(client, &chaincfg.RegressionNetParams)

	accepted := wire.NewMsgTx(2)
	rejected := wire.NewMsgTx(1)
	stalled := wire.NewMsgTx(3)

	txid := accepted.TxHash()
	errRejected := errors.New("bad-txns-inputs-missingorspent")
	release := make(chan time.Time)
	defer close(release)

	client.On("SendRawTransaction", accepted, false).Return(&txid, nil)
	client.On("SendRawTransaction", rejected, false).Return(
		nil, errRejected,
	)
	client.On("SendRawTransaction", stalled, false).WaitUntil(release).
		Return(nil, errRejected)

	got, err := src.Broadcast(context.Background(), accepted)
	require.NoError(t, err)
	require.Equal(t, txid, *got)

	_, err = src.Broadcast(context.Background(), rejected)
	require.ErrorIs(t, err, errRejected)
	require.False(t, IsStatusUnknown(err))

	// Through the timeout decorator a stalled broadcast is unknown.
	_, err = WithTimeout(src, 20*time.Millisecond).Broadcast(
		context.Background(), stalled,
	)
	require.True(t, IsStatusUnknown(err))

	var chainErr *Error
	require.ErrorAs(t, err, &chainErr)
	require.Equal(t, "sendrawtransaction", chainErr.Op)
}
