// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// rootBucketKey is the top level bucket of the store.
	rootBucketKey = []byte("btcspend-store")

	// walletsBucketKey holds wallet records keyed by wallet ID.
	walletsBucketKey = []byte("wallets")

	// txsBucketKey holds transaction records keyed by txid.
	txsBucketKey = []byte("txs")
)

// TLV types of a stored wallet record.
const (
	walletIDType       tlv.Type = 0
	walletNameType     tlv.Type = 1
	walletAddressType  tlv.Type = 2
	walletSealedType   tlv.Type = 3
	walletMetadataType tlv.Type = 4
)

// TLV types of a stored transaction record.
const (
	txWalletIDType  tlv.Type = 0
	txTimestampType tlv.Type = 1
	txRawType       tlv.Type = 2
	txStatusType    tlv.Type = 3
)

// KVStore is a Store over a walletdb database with TLV encoded values.
type KVStore struct {
	db walletdb.DB
}

// A compile-time assertion to ensure KVStore implements Store.
var _ Store = (*KVStore)(nil)

// NewKVStore creates the store buckets if needed. The store takes ownership
// of db and closes it on Close.
func NewKVStore(db walletdb.DB) (*KVStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		root, err := tx.CreateTopLevelBucket(rootBucketKey)
		if err != nil {
			return err
		}

		if _, err := root.CreateBucketIfNotExists(
			walletsBucketKey,
		); err != nil {
			return err
		}

		_, err = root.CreateBucketIfNotExists(txsBucketKey)

		return err
	})
	if err != nil {
		return nil, newError(ErrDatabase, "create store buckets", err)
	}

	return &KVStore{db: db}, nil
}

// PutWallet inserts or replaces a wallet record.
func (k *KVStore) PutWallet(ctx context.Context, w *WalletRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.Validate(); err != nil {
		return err
	}

	value, err := encodeWallet(w)
	if err != nil {
		return newError(ErrCorruptData, "encode wallet", err)
	}

	return k.update(func(root walletdb.ReadWriteBucket) error {
		return root.NestedReadWriteBucket(walletsBucketKey).Put(
			[]byte(w.ID), value,
		)
	})
}

// GetWallet returns the wallet with the given ID.
func (k *KVStore) GetWallet(ctx context.Context,
	id string) (*WalletRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var w *WalletRecord
	err := k.view(func(root walletdb.ReadBucket) error {
		v := root.NestedReadBucket(walletsBucketKey).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, id)
		}

		var err error
		w, err = decodeWallet(v)

		return err
	})
	if err != nil {
		return nil, err
	}

	return w, nil
}

// ListWallets returns all wallets ordered by ID.
func (k *KVStore) ListWallets(ctx context.Context) ([]*WalletRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var wallets []*WalletRecord
	err := k.view(func(root walletdb.ReadBucket) error {
		bucket := root.NestedReadBucket(walletsBucketKey)

		// Keys are iterated in byte order, which is ID order.
		return bucket.ForEach(func(_, v []byte) error {
			w, err := decodeWallet(v)
			if err != nil {
				return err
			}

			wallets = append(wallets, w)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return wallets, nil
}

// PutTx inserts or replaces a transaction record.
func (k *KVStore) PutTx(ctx context.Context, rec *TxRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	value, err := encodeTx(rec)
	if err != nil {
		return newError(ErrCorruptData, "encode tx", err)
	}

	return k.update(func(root walletdb.ReadWriteBucket) error {
		wallets := root.NestedReadWriteBucket(walletsBucketKey)
		if wallets.Get([]byte(rec.WalletID)) == nil {
			return fmt.Errorf("%w: %s", ErrWalletNotFound,
				rec.WalletID)
		}

		return root.NestedReadWriteBucket(txsBucketKey).Put(
			rec.Txid[:], value,
		)
	})
}

// UpdateTxStatus moves a transaction to status.
func (k *KVStore) UpdateTxStatus(ctx context.Context, txid chainhash.Hash,
	status Status) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return k.update(func(root walletdb.ReadWriteBucket) error {
		txs := root.NestedReadWriteBucket(txsBucketKey)

		v := txs.Get(txid[:])
		if v == nil {
			return fmt.Errorf("%w: %v", ErrTxNotFound, txid)
		}

		rec, err := decodeTx(txid, v)
		if err != nil {
			return err
		}

		if rec.Status == status {
			return nil
		}
		if !rec.Status.CanTransition(status) {
			return fmt.Errorf("%w: %v -> %v",
				ErrInvalidStatusTransition, rec.Status, status)
		}

		rec.Status = status
		value, err := encodeTx(rec)
		if err != nil {
			return newError(ErrCorruptData, "encode tx", err)
		}

		return txs.Put(txid[:], value)
	})
}

// ListTxs returns the transactions of a wallet.
func (k *KVStore) ListTxs(ctx context.Context,
	walletID string) ([]*TxRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var txs []*TxRecord
	err := k.view(func(root walletdb.ReadBucket) error {
		bucket := root.NestedReadBucket(txsBucketKey)

		return bucket.ForEach(func(key, v []byte) error {
			txid, err := chainhash.NewHash(key)
			if err != nil {
				return newError(ErrCorruptData, "txid key", err)
			}

			rec, err := decodeTx(*txid, v)
			if err != nil {
				return err
			}

			if rec.WalletID == walletID {
				txs = append(txs, rec)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortTxs(txs)

	return txs, nil
}

// Close closes the underlying database.
func (k *KVStore) Close() error {
	return k.db.Close()
}

// update runs f in a read-write transaction on the root bucket.
func (k *KVStore) update(f func(walletdb.ReadWriteBucket) error) error {
	return walletdb.Update(k.db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(rootBucketKey))
	})
}

// view runs f in a read-only transaction on the root bucket.
func (k *KVStore) view(f func(walletdb.ReadBucket) error) error {
	return walletdb.View(k.db, func(tx walletdb.ReadTx) error {
		return f(tx.ReadBucket(rootBucketKey))
	})
}

// sortTxs orders transactions by timestamp and then txid.
func sortTxs(txs []*TxRecord) {
	slices.SortFunc(txs, func(a, b *TxRecord) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}

		return bytes.Compare(a.Txid[:], b.Txid[:])
	})
}

// encodeWallet serializes a wallet record as a TLV stream.
func encodeWallet(w *WalletRecord) ([]byte, error) {
	id := []byte(w.ID)
	name := []byte(w.Name)
	addr := []byte(w.Address)
	sealed := w.EncryptedPrivateData

	meta, err := encodeMetadata(w.Metadata)
	if err != nil {
		return nil, err
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(walletIDType, &id),
		tlv.MakePrimitiveRecord(walletNameType, &name),
		tlv.MakePrimitiveRecord(walletAddressType, &addr),
		tlv.MakePrimitiveRecord(walletSealedType, &sealed),
		tlv.MakePrimitiveRecord(walletMetadataType, &meta),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeWallet reverses encodeWallet.
func decodeWallet(v []byte) (*WalletRecord, error) {
	var id, name, addr, sealed, meta []byte

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(walletIDType, &id),
		tlv.MakePrimitiveRecord(walletNameType, &name),
		tlv.MakePrimitiveRecord(walletAddressType, &addr),
		tlv.MakePrimitiveRecord(walletSealedType, &sealed),
		tlv.MakePrimitiveRecord(walletMetadataType, &meta),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, newError(ErrCorruptData, "decode wallet", err)
	}

	metadata, err := decodeMetadata(meta)
	if err != nil {
		return nil, newError(ErrCorruptData, "decode metadata", err)
	}

	return &WalletRecord{
		ID:                   string(id),
		Name:                 string(name),
		Address:              string(addr),
		EncryptedPrivateData: sealed,
		Metadata:             metadata,
	}, nil
}

// encodeTx serializes a transaction record as a TLV stream. The
// transaction itself is stored as raw bytes.
func encodeTx(rec *TxRecord) ([]byte, error) {
	walletID := []byte(rec.WalletID)
	ts := uint64(rec.Timestamp.UnixNano())
	status := uint8(rec.Status)

	raw, err := hex.DecodeString(rec.Hex)
	if err != nil {
		return nil, err
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(txWalletIDType, &walletID),
		tlv.MakePrimitiveRecord(txTimestampType, &ts),
		tlv.MakePrimitiveRecord(txRawType, &raw),
		tlv.MakePrimitiveRecord(txStatusType, &status),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeTx reverses encodeTx.
func decodeTx(txid chainhash.Hash, v []byte) (*TxRecord, error) {
	var (
		walletID, raw []byte
		ts            uint64
		status        uint8
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(txWalletIDType, &walletID),
		tlv.MakePrimitiveRecord(txTimestampType, &ts),
		tlv.MakePrimitiveRecord(txRawType, &raw),
		tlv.MakePrimitiveRecord(txStatusType, &status),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, newError(ErrCorruptData, "decode tx", err)
	}

	return &TxRecord{
		Txid:      txid,
		WalletID:  string(walletID),
		Timestamp: time.Unix(0, int64(ts)),
		Hex:       hex.EncodeToString(raw),
		Status:    Status(status),
	}, nil
}

// encodeMetadata serializes metadata as a count followed by length prefixed
// keys and values, sorted by key.
func encodeMetadata(meta map[string]string) ([]byte, error) {
	var (
		buf     bytes.Buffer
		scratch [8]byte
	)

	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	err := tlv.WriteVarInt(&buf, uint64(len(keys)), &scratch)
	if err != nil {
		return nil, err
	}

	for _, key := range keys {
		for _, s := range []string{key, meta[key]} {
			err := tlv.WriteVarInt(&buf, uint64(len(s)), &scratch)
			if err != nil {
				return nil, err
			}

			if _, err := buf.WriteString(s); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// decodeMetadata reverses encodeMetadata. An empty map decodes as nil.
func decodeMetadata(b []byte) (map[string]string, error) {
	var scratch [8]byte
	r := bytes.NewReader(b)

	count, err := tlv.ReadVarInt(r, &scratch)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if count > uint64(len(b)) {
		return nil, fmt.Errorf("metadata count %d too large", count)
	}

	readString := func() (string, error) {
		n, err := tlv.ReadVarInt(r, &scratch)
		if err != nil {
			return "", err
		}
		if n > uint64(r.Len()) {
			return "", io.ErrUnexpectedEOF
		}

		var sb strings.Builder
		if _, err := io.CopyN(&sb, r, int64(n)); err != nil {
			return "", err
		}

		return sb.String(), nil
	}

	meta := make(map[string]string, count)
	for range count {
		key, err := readString()
		if err != nil {
			return nil, err
		}

		value, err := readString()
		if err != nil {
			return nil, err
		}

		meta[key] = value
	}

	return meta, nil
}
