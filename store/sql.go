// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	// Register the "pgx" and "sqlite" database/sql drivers.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Backend names a SQL database engine.
type Backend uint8

const (
	// BackendSQLite is an embedded sqlite database.
	BackendSQLite Backend = iota

	// BackendPostgres is a postgres server.
	BackendPostgres
)

// String returns the name of the backend.
func (b Backend) String() string {
	if b == BackendPostgres {
		return "postgres"
	}

	return "sqlite"
}

// sqliteDSNOptions are applied to every sqlite database opened by
// OpenSQLite.
const sqliteDSNOptions = "_pragma=foreign_keys=on&" +
	"_pragma=journal_mode=WAL&_txlock=immediate&" +
	"_pragma=busy_timeout=5000"

// SQLStore is a Store over a SQL database.
type SQLStore struct {
	db      *sql.DB
	backend Backend
}

// A compile-time assertion to ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// NewSQLiteStore creates a store over an already migrated sqlite database.
// Foreign keys must be enabled on db.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLStore{db: db, backend: BackendSQLite}, nil
}

// NewPostgresStore creates a store over an already migrated postgres
// database.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLStore{db: db, backend: BackendPostgres}, nil
}

// OpenSQLite opens or creates the sqlite database at path and migrates it.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path+"?"+sqliteDSNOptions)
	if err != nil {
		return nil, newError(ErrDatabase, "open sqlite", err)
	}

	if err := ApplySQLiteMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewSQLiteStore(db)
}

// OpenPostgres connects to the postgres database at dsn and migrates it.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, newError(ErrDatabase, "open postgres", err)
	}

	if err := ApplyPostgresMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewPostgresStore(db)
}

// Backend returns the database engine of the store.
func (s *SQLStore) Backend() Backend {
	return s.backend
}

// rebind rewrites the $N placeholders of query for the backend.
func (s *SQLStore) rebind(query string) string {
	if s.backend == BackendSQLite {
		return strings.ReplaceAll(query, "$", "?")
	}

	return query
}

// PutWallet inserts or replaces a wallet record and its metadata.
func (s *SQLStore) PutWallet(ctx context.Context, w *WalletRecord) error {
	if err := w.Validate(); err != nil {
		return err
	}

	return s.execInTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO wallets (
				id, name, address, encrypted_private_data
			) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				address = excluded.address,
				encrypted_private_data =
					excluded.encrypted_private_data`),
			w.ID, w.Name, w.Address, w.EncryptedPrivateData,
		)
		if err != nil {
			return fmt.Errorf("upsert wallet: %w", err)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			DELETE FROM wallet_metadata WHERE wallet_id = $1`),
			w.ID,
		)
		if err != nil {
			return fmt.Errorf("clear metadata: %w", err)
		}

		for key, value := range w.Metadata {
			_, err := tx.ExecContext(ctx, s.rebind(`
				INSERT INTO wallet_metadata (
					wallet_id, meta_key, meta_value
				) VALUES ($1, $2, $3)`),
				w.ID, key, value,
			)
			if err != nil {
				return fmt.Errorf("insert metadata %q: %w",
					key, err)
			}
		}

		return nil
	})
}

// GetWallet returns the wallet with the given ID.
func (s *SQLStore) GetWallet(ctx context.Context,
	id string) (*WalletRecord, error) {

	var w *WalletRecord
	err := s.execInTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`
			SELECT id, name, address, encrypted_private_data
			FROM wallets WHERE id = $1`), id,
		)

		w = &WalletRecord{}
		err := row.Scan(
			&w.ID, &w.Name, &w.Address, &w.EncryptedPrivateData,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get wallet: %w", err)
		}

		w.Metadata, err = s.loadMetadata(ctx, tx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return w, nil
}

// ListWallets returns all wallets ordered by ID.
func (s *SQLStore) ListWallets(ctx context.Context) ([]*WalletRecord, error) {
	var wallets []*WalletRecord
	err := s.execInTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, name, address, encrypted_private_data
			FROM wallets ORDER BY id`,
		)
		if err != nil {
			return fmt.Errorf("list wallets: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			w := &WalletRecord{}
			err := rows.Scan(
				&w.ID, &w.Name, &w.Address,
				&w.EncryptedPrivateData,
			)
			if err != nil {
				return fmt.Errorf("scan wallet: %w", err)
			}

			wallets = append(wallets, w)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// Metadata is loaded once the wallet rows are drained, some
		// drivers do not allow interleaved queries on one tx.
		for _, w := range wallets {
			w.Metadata, err = s.loadMetadata(ctx, tx, w.ID)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return wallets, nil
}

// loadMetadata reads the metadata of a wallet. No rows yields nil.
func (s *SQLStore) loadMetadata(ctx context.Context, tx *sql.Tx,
	id string) (map[string]string, error) {

	rows, err := tx.QueryContext(ctx, s.rebind(`
		SELECT meta_key, meta_value FROM wallet_metadata
		WHERE wallet_id = $1`), id,
	)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	defer rows.Close()

	var meta map[string]string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}

		if meta == nil {
			meta = make(map[string]string)
		}
		meta[key] = value
	}

	return meta, rows.Err()
}

// PutTx inserts or replaces a transaction record.
func (s *SQLStore) PutTx(ctx context.Context, rec *TxRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	// Validate already checked that the hex decodes.
	raw, err := hex.DecodeString(rec.Hex)
	if err != nil {
		return err
	}

	return s.execInTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO transactions (
				txid, wallet_id, created_at_ns, raw_tx, status
			) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (txid) DO UPDATE SET
				wallet_id = excluded.wallet_id,
				created_at_ns = excluded.created_at_ns,
				raw_tx = excluded.raw_tx,
				status = excluded.status`),
			rec.Txid[:], rec.WalletID, rec.Timestamp.UnixNano(),
			raw, int16(rec.Status),
		)
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s", ErrWalletNotFound,
				rec.WalletID)
		}
		if err != nil {
			return fmt.Errorf("upsert tx: %w", err)
		}

		return nil
	})
}

// UpdateTxStatus moves a transaction to status.
func (s *SQLStore) UpdateTxStatus(ctx context.Context, txid chainhash.Hash,
	status Status) error {

	return s.execInTx(ctx, func(tx *sql.Tx) error {
		var current int16
		err := tx.QueryRowContext(ctx, s.rebind(`
			SELECT status FROM transactions WHERE txid = $1`),
			txid[:],
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %v", ErrTxNotFound, txid)
		}
		if err != nil {
			return fmt.Errorf("get tx status: %w", err)
		}

		from := Status(current)
		if from == status {
			return nil
		}
		if !from.CanTransition(status) {
			return fmt.Errorf("%w: %v -> %v",
				ErrInvalidStatusTransition, from, status)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE transactions SET status = $1 WHERE txid = $2`),
			int16(status), txid[:],
		)
		if err != nil {
			return fmt.Errorf("update tx status: %w", err)
		}

		return nil
	})
}

// ListTxs returns the transactions of a wallet.
func (s *SQLStore) ListTxs(ctx context.Context,
	walletID string) ([]*TxRecord, error) {

	var txs []*TxRecord
	err := s.execInTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, s.rebind(`
			SELECT txid, created_at_ns, raw_tx, status
			FROM transactions WHERE wallet_id = $1
			ORDER BY created_at_ns, txid`), walletID,
		)
		if err != nil {
			return fmt.Errorf("list txs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				txidBytes, raw []byte
				createdAt      int64
				status         int16
			)
			err := rows.Scan(&txidBytes, &createdAt, &raw, &status)
			if err != nil {
				return fmt.Errorf("scan tx: %w", err)
			}

			txid, err := chainhash.NewHash(txidBytes)
			if err != nil {
				return newError(ErrCorruptData, "txid", err)
			}

			txs = append(txs, &TxRecord{
				Txid:      *txid,
				WalletID:  walletID,
				Timestamp: time.Unix(0, createdAt),
				Hex:       hex.EncodeToString(raw),
				Status:    Status(status),
			})
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return txs, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// execInTx runs f in a database transaction. The transaction is committed
// when f succeeds and rolled back otherwise.
func (s *SQLStore) execInTx(ctx context.Context,
	f func(*sql.Tx) error) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newError(ErrDatabase, "begin tx", err)
	}

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("Unable to roll back tx: %v", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return newError(ErrDatabase, "commit tx", err)
	}

	return nil
}
