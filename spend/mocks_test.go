package spend

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcspend/chain"
	"github.com/btcsuite/btcspend/coinselect"
	"github.com/btcsuite/btcspend/store"
	"github.com/stretchr/testify/mock"
)

// mockSource is a mock implementation of the chain.Source interface.
type mockSource struct {
	mock.Mock
}

// Compile time assert the implementation.
var _ chain.Source = (*mockSource)(nil)

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

// mockStore is a mock implementation of the store.Store interface.
type mockStore struct {
	mock.Mock
}

// Compile time assert the implementation.
var _ store.Store = (*mockStore)(nil)

func (m *mockStore) PutWallet(ctx context.Context,
	w *store.WalletRecord) error {

	args := m.Called(ctx, w)
	return args.Error(0)
}

func (m *mockStore) GetWallet(ctx context.Context,
	id string) (*store.WalletRecord, error) {

	args := m.Called(ctx, id)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.(*store.WalletRecord), args.Error(1)
}

func (m *mockStore) ListWallets(
	ctx context.Context) ([]*store.WalletRecord, error) {

	args := m.Called(ctx)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.([]*store.WalletRecord), args.Error(1)
}

func (m *mockStore) PutTx(ctx context.Context, tx *store.TxRecord) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockStore) UpdateTxStatus(ctx context.Context, txid chainhash.Hash,
	status store.Status) error {

	args := m.Called(ctx, txid, status)
	return args.Error(0)
}

func (m *mockStore) ListTxs(ctx context.Context,
	walletID string) ([]*store.TxRecord, error) {

	args := m.Called(ctx, walletID)

	res := args.Get(0)
	if res == nil {
		return nil, args.Error(1)
	}

	return res.([]*store.TxRecord), args.Error(1)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
