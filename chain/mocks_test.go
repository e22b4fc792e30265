package chain

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/stretchr/testify/mock"
)

// mockNodeClient is a mock implementation of the nodeClient interface.
type mockNodeClient struct {
	mock.Mock
}

// Compile time assert the implementation.
var _ nodeClient = (*mockNodeClient)(nil)

func (m *mockNodeClient) ListUnspentMinMaxAddresses(minConf, maxConf int,
	addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error) {

	args := m.Called(minConf, maxConf, addrs)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.([]btcjson.ListUnspentResult), args.Error(1)
}

func (m *mockNodeClient) GetTxOut(txHash *chainhash.Hash, index uint32,
	mempool bool) (*btcjson.GetTxOutResult, error) {

	args := m.Called(txHash, index, mempool)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*btcjson.GetTxOutResult), args.Error(1)
}

func (m *mockNodeClient) LockUnspent(unlock bool,
	ops []*wire.OutPoint) error {

	args := m.Called(unlock, ops)
	return args.Error(0)
}

func (m *mockNodeClient) ListLockUnspent() ([]*wire.OutPoint, error) {
	args := m.Called()

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.([]*wire.OutPoint), args.Error(1)
}

func (m *mockNodeClient) SendRawTransaction(tx *wire.MsgTx,
	allowHighFees bool) (*chainhash.Hash, error) {

	args := m.Called(tx, allowHighFees)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*chainhash.Hash), args.Error(1)
}

// mockSource is a mock implementation of the Source interface.
type mockSource struct {
	mock.Mock
}

// Compile time assert the implementation.
var _ Source = (*mockSource)(nil)

func (m *mockSource) ListUnspent(ctx context.Context,
	addr btcutil.Address) ([]coinselect.Utxo, error) {

	args := m.Called(ctx, addr)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.([]coinselect.Utxo), args.Error(1)
}

func (m *mockSource) GetUTXO(ctx context.Context,
	op wire.OutPoint) (*coinselect.Utxo, error) {

	args := m.Called(ctx, op)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*coinselect.Utxo), args.Error(1)
}

func (m *mockSource) LockUnspent(ctx context.Context, ops []wire.OutPoint,
	lock bool) error {

	args := m.Called(ctx, ops, lock)
	return args.Error(0)
}

func (m *mockSource) ListLockedUnspent(
	ctx context.Context) ([]wire.OutPoint, error) {

	args := m.Called(ctx)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.([]wire.OutPoint), args.Error(1)
}

func (m *mockSource) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (*chainhash.Hash, error) {

	args := m.Called(ctx, tx)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*chainhash.Hash), args.Error(1)
}
